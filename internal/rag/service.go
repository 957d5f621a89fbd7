package rag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/developer-mesh/docs-expert/internal/config"
	"github.com/developer-mesh/docs-expert/internal/embedding"
	"github.com/developer-mesh/docs-expert/internal/generation"
	"github.com/developer-mesh/docs-expert/internal/loader"
	"github.com/developer-mesh/docs-expert/internal/metrics"
	"github.com/developer-mesh/docs-expert/internal/models"
	"github.com/developer-mesh/docs-expert/internal/processor"
	"github.com/developer-mesh/docs-expert/internal/vectorstore"
	"github.com/developer-mesh/docs-expert/pkg/observability"
)

const defaultSearchLimit = 5

// Dependencies are the collaborators of a Service. Chunker and Loader are
// built from the configuration when nil. Suggester defaults to a breaker-free
// view of Generator when it is a *generation.Guarded, else to Generator.
type Dependencies struct {
	Store     vectorstore.Store
	Embedder  embedding.Client
	Generator generation.Client
	Suggester generation.Client
	Chunker   *processor.RecursiveChunker
	Loader    *loader.Loader
	Metrics   *metrics.Metrics
	Logger    observability.Logger
}

// IngestStatus describes the most recent successful ingestion
type IngestStatus struct {
	Result      models.IngestResult
	CompletedAt time.Time
}

// Service owns the ingestion and query pipelines
type Service struct {
	cfg         *config.Config
	store       vectorstore.Store
	embedder    embedding.Client
	chunker     *processor.RecursiveChunker
	loader      *loader.Loader
	retriever   *Retriever
	synthesizer *AnswerSynthesizer
	sessions    *SessionManager
	metrics     *metrics.Metrics
	logger      observability.Logger

	// ingestMu keeps a refresh from overlapping an ingest
	ingestMu sync.Mutex

	mu         sync.RWMutex
	lastIngest *IngestStatus
}

// NewService wires a service from its dependencies
func NewService(cfg *config.Config, deps Dependencies) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if deps.Store == nil || deps.Embedder == nil || deps.Generator == nil {
		return nil, errors.New("store, embedder and generator are required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = observability.NewNoopLogger()
	}

	chunker := deps.Chunker
	if chunker == nil {
		var err error
		chunker, err = processor.NewRecursiveChunker(cfg.Processing.ChunkSize, cfg.Processing.ChunkOverlap)
		if err != nil {
			return nil, fmt.Errorf("failed to create chunker: %w", err)
		}
	}

	docLoader := deps.Loader
	if docLoader == nil {
		docLoader = loader.NewLoader(logger)
	}

	suggester := deps.Suggester
	if suggester == nil {
		suggester = deps.Generator
		if guarded, ok := deps.Generator.(*generation.Guarded); ok {
			suggester = guarded.BestEffort(cfg.Generation.SuggestionTimeout)
		}
	}

	return &Service{
		cfg:         cfg,
		store:       deps.Store,
		embedder:    deps.Embedder,
		chunker:     chunker,
		loader:      docLoader,
		retriever:   NewRetriever(deps.Embedder, deps.Store),
		synthesizer: NewAnswerSynthesizer(deps.Generator, suggester, cfg.Knowledge.ProductName, cfg.Retrieval.ContextBudget),
		sessions:    NewSessionManager(cfg.Session.MaxSessions, cfg.Session.TTL, cfg.Session.HistoryWindow),
		metrics:     deps.Metrics,
		logger:      logger.WithPrefix("rag"),
	}, nil
}

// Init prepares the similarity store
func (s *Service) Init(ctx context.Context) error {
	if err := s.store.EnsureReady(ctx); err != nil {
		if errors.Is(err, models.ErrInitialization) {
			return err
		}
		return models.InitializationError("ensure store ready", err)
	}

	if count, err := s.store.Count(ctx); err == nil {
		s.metrics.SetStoredChunks(count)
		s.logger.Info("Similarity store ready", map[string]interface{}{
			"stored_chunks": count,
		})
	}
	return nil
}

// Ready reports whether the store is reachable
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Close releases the store
func (s *Service) Close() error {
	return s.store.Close()
}

// LastIngest returns the most recent successful ingestion, if any
func (s *Service) LastIngest() (IngestStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastIngest == nil {
		return IngestStatus{}, false
	}
	return *s.lastIngest, true
}

// Refresh re-ingests the configured documentation root
func (s *Service) Refresh(ctx context.Context) (*models.IngestResult, error) {
	return s.Ingest(ctx, s.cfg.Knowledge.DocsPath)
}

// Ingest loads, chunks, embeds and stores every document under root.
// Documents are processed one at a time; a failed document aborts the run
// but earlier documents stay stored.
func (s *Service) Ingest(ctx context.Context, root string) (result *models.IngestResult, err error) {
	ctx, span := observability.StartSpan(ctx, "ingest", attribute.String("rag.root", root))
	defer func() {
		observability.EndSpan(span, err)
	}()

	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	done := s.metrics.IngestionStarted()
	defer done()

	start := time.Now()
	result = &models.IngestResult{}
	defer func() {
		s.metrics.RecordIngestionMetrics(int64(result.Documents), int64(result.Skipped), int64(result.Chunks), result.Pruned, time.Since(start), err)
	}()

	s.logger.Info("Starting ingestion", map[string]interface{}{
		"root": root,
	})

	loaded, err := s.loader.Load(ctx, root)
	if err != nil {
		return result, err
	}
	result.Skipped = len(loaded.Failures)

	seen := make([]string, 0, len(loaded.Documents))
	for _, doc := range loaded.Documents {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, models.IngestionError("ingest", ctxErr)
		}

		chunks, err := s.chunker.Chunk(doc)
		if err != nil {
			return result, models.IngestionError("chunk "+doc.Path, err)
		}
		if len(chunks) == 0 {
			// Drop whatever an earlier version of the document left behind
			removed, err := s.store.DeleteSources(ctx, []string{doc.Path})
			if err != nil {
				if errors.Is(err, models.ErrIngestion) {
					return result, err
				}
				return result, models.IngestionError("clear "+doc.Path, err)
			}
			s.logger.Debug("Document has no content, skipping", map[string]interface{}{
				"source":         doc.Path,
				"removed_chunks": removed,
			})
			continue
		}

		if err := s.embedChunks(ctx, chunks); err != nil {
			return result, models.IngestionError("embed "+doc.Path, err)
		}
		if err := s.store.Upsert(ctx, chunks); err != nil {
			if errors.Is(err, models.ErrIngestion) {
				return result, err
			}
			return result, models.IngestionError("store "+doc.Path, err)
		}

		seen = append(seen, doc.Path)
		result.Documents++
		result.Chunks += len(chunks)
	}

	if s.cfg.Knowledge.PruneMissing {
		pruned, err := s.store.PruneSources(ctx, seen)
		if err != nil {
			return result, models.IngestionError("prune", err)
		}
		result.Pruned = pruned
	}

	if count, err := s.store.Count(ctx); err == nil {
		s.metrics.SetStoredChunks(count)
	}
	span.SetAttributes(observability.ChunkCountKey.Int(result.Chunks))

	s.mu.Lock()
	s.lastIngest = &IngestStatus{Result: *result, CompletedAt: time.Now().UTC()}
	s.mu.Unlock()

	s.logger.Info("Ingestion completed", map[string]interface{}{
		"root":      root,
		"documents": result.Documents,
		"chunks":    result.Chunks,
		"skipped":   result.Skipped,
		"pruned":    result.Pruned,
		"duration":  time.Since(start).String(),
	})
	return result, nil
}

func (s *Service) embedChunks(ctx context.Context, chunks []*models.Chunk) error {
	batchSize := s.cfg.Embedding.BatchSize
	if batchSize <= 0 {
		batchSize = len(chunks)
	}

	for startIdx := 0; startIdx < len(chunks); startIdx += batchSize {
		end := startIdx + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[startIdx:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}

		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(batch))
		}
		for i, c := range batch {
			c.Embedding = vectors[i]
		}
	}
	return nil
}

// Answer retrieves the top chunks for question and synthesizes an answer
func (s *Service) Answer(ctx context.Context, question, conversation string) (answer *models.AnswerResult, err error) {
	ctx, span := observability.StartSpan(ctx, "answer")
	start := time.Now()
	defer func() {
		s.metrics.RecordRequest("answer", time.Since(start), errorKind(err))
		observability.EndSpan(span, err)
	}()

	return s.answer(ctx, question, conversation)
}

func (s *Service) answer(ctx context.Context, question, conversation string) (*models.AnswerResult, error) {
	results, err := s.retriever.Retrieve(ctx, question, s.cfg.Retrieval.TopK)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordSearchResults(len(results))

	return s.synthesizer.Synthesize(ctx, question, conversation, results)
}

// Chat answers message within a session. Follow-up suggestions are best effort.
func (s *Service) Chat(ctx context.Context, message string, history []models.Message, sessionID string) (reply *models.ChatResult, err error) {
	ctx, span := observability.StartSpan(ctx, "chat")
	start := time.Now()
	defer func() {
		s.metrics.RecordRequest("chat", time.Since(start), errorKind(err))
		observability.EndSpan(span, err)
	}()

	id := s.sessions.Resolve(sessionID)
	conversation := s.sessions.Context(s.sessions.History(id, history))

	answer, err := s.answer(ctx, message, conversation)
	if err != nil {
		return nil, err
	}

	suggestCtx := ctx
	if timeout := s.cfg.Generation.SuggestionTimeout; timeout > 0 {
		var cancel context.CancelFunc
		suggestCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	suggestions, ok := s.synthesizer.Suggest(suggestCtx, message, answer.Answer)
	if !ok {
		s.logger.Debug("Using default follow-up suggestions", map[string]interface{}{
			"session_id": id,
		})
	}

	s.sessions.Append(id,
		models.Message{Role: models.RoleUser, Content: message},
		models.Message{Role: models.RoleAssistant, Content: answer.Answer},
	)
	s.metrics.SetActiveSessions(s.sessions.Len())

	return &models.ChatResult{
		Message:     answer.Answer,
		SessionID:   id,
		Sources:     answer.Sources,
		Suggestions: suggestions,
	}, nil
}

// Search returns the raw nearest chunks for query
func (s *Service) Search(ctx context.Context, query string, limit int) (out []models.SearchResult, err error) {
	ctx, span := observability.StartSpan(ctx, "search")
	start := time.Now()
	defer func() {
		s.metrics.RecordRequest("search", time.Since(start), errorKind(err))
		observability.EndSpan(span, err)
	}()

	limit = s.clampLimit(limit)
	results, err := s.retriever.Retrieve(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordSearchResults(len(results))
	span.SetAttributes(observability.ResultCountKey.Int(len(results)))

	out = make([]models.SearchResult, 0, len(results))
	for _, r := range results {
		if r.Chunk == nil {
			continue
		}
		out = append(out, models.SearchResult{
			Content:        r.Chunk.Content,
			Metadata:       r.Chunk.Metadata,
			RelevanceScore: r.Score,
		})
	}
	return out, nil
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		return defaultSearchLimit
	}
	maxLimit := s.cfg.Retrieval.MaxSearchLimit
	if maxLimit > 0 && limit > maxLimit {
		return maxLimit
	}
	return limit
}

// errorKind labels err for metrics
func errorKind(err error) string {
	if err == nil {
		return ""
	}
	var merr *models.Error
	if errors.As(err, &merr) {
		return merr.Kind.String()
	}
	return "unknown"
}
