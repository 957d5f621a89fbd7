package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/developer-mesh/docs-expert/internal/config"
	"github.com/developer-mesh/docs-expert/internal/models"
	"github.com/developer-mesh/docs-expert/pkg/observability"
)

// PgStore keeps chunks in a pgvector table
type PgStore struct {
	db         *sqlx.DB
	table      string
	indexBase  string
	dimensions int
	ivfLists   int
	timeout    time.Duration
	logger     observability.Logger

	// writeMu serializes upserts and prunes; readers never take it
	writeMu sync.Mutex

	lock        sync.RWMutex
	initialized bool
}

type chunkRow struct {
	ID         uuid.UUID `db:"id"`
	Content    string    `db:"content"`
	Metadata   []byte    `db:"metadata"`
	Similarity float64   `db:"similarity"`
}

// NewPgStore creates a store over an open connection pool
func NewPgStore(db *sqlx.DB, cfg config.DatabaseConfig, logger observability.Logger) *PgStore {
	if logger == nil {
		logger = observability.NewStandardLogger("vectorstore")
	}
	return &PgStore{
		db:         db,
		table:      pq.QuoteIdentifier(cfg.Table),
		indexBase:  cfg.Table,
		dimensions: cfg.Dimensions,
		ivfLists:   cfg.IVFLists,
		timeout:    cfg.QueryTimeout,
		logger:     logger.WithPrefix("pgvector"),
	}
}

// withTimeout bounds one database call by the configured query timeout
func (s *PgStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// EnsureReady creates the extension, table and indexes when missing
func (s *PgStore) EnsureReady(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.initialized {
		return nil
	}

	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.table, s.dimensions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d)`,
			pq.QuoteIdentifier(s.indexBase+"_embedding_idx"), s.table, s.ivfLists),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s ((metadata->>'source'))`,
			pq.QuoteIdentifier(s.indexBase+"_source_idx"), s.table),
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return models.InitializationError("ensure_ready", fmt.Errorf("failed to prepare schema: %w", err))
		}
	}

	var extExists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_extension WHERE extname = 'vector'
		)
	`).Scan(&extExists)
	if err != nil {
		return models.InitializationError("ensure_ready", fmt.Errorf("failed to check if pgvector extension exists: %w", err))
	}
	if !extExists {
		return models.InitializationError("ensure_ready", fmt.Errorf("pgvector extension is not installed"))
	}

	s.initialized = true
	s.logger.Info("Vector store initialized", map[string]interface{}{
		"table":      s.indexBase,
		"dimensions": s.dimensions,
	})
	return nil
}

func (s *PgStore) ready() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.initialized
}

// Upsert deletes the stored chunks of every source in the batch and writes
// the batch, in one transaction
func (s *PgStore) Upsert(ctx context.Context, chunks []*models.Chunk) error {
	if !s.ready() {
		return models.IngestionError("upsert", ErrNotReady)
	}
	if len(chunks) == 0 {
		return nil
	}

	for _, c := range chunks {
		if len(c.Embedding) != s.dimensions {
			return models.IngestionError("upsert", fmt.Errorf("chunk %s of %s has %d dimensions, expected %d",
				c.ID, c.Source, len(c.Embedding), s.dimensions))
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE metadata->>'source' = ANY($1)`, s.table)
	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (id, content, embedding, metadata, created_at, updated_at)
		VALUES ($1, $2, $3::vector, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()`, s.table)

	err := s.Transaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, deleteQuery, pq.Array(orderedSources(chunks))); err != nil {
			return fmt.Errorf("failed to delete previous chunks: %w", err)
		}

		for _, c := range chunks {
			metadataJSON, err := json.Marshal(chunkMetadata(c))
			if err != nil {
				return fmt.Errorf("failed to marshal metadata: %w", err)
			}
			if _, err := tx.ExecContext(ctx, insertQuery, c.ID, c.Content, formatVector(c.Embedding), metadataJSON); err != nil {
				return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return models.IngestionError("upsert", err)
	}

	s.logger.Debug("Upserted chunks", map[string]interface{}{
		"chunks":  len(chunks),
		"sources": len(orderedSources(chunks)),
	})
	return nil
}

// Query returns the k nearest chunks by cosine distance
func (s *PgStore) Query(ctx context.Context, embedding []float32, k int) ([]models.SimilarityResult, error) {
	if !s.ready() {
		return nil, models.RetrievalError("query", ErrNotReady)
	}
	if k <= 0 {
		return []models.SimilarityResult{}, nil
	}
	if len(embedding) != s.dimensions {
		return nil, models.RetrievalError("query", fmt.Errorf("query has %d dimensions, expected %d", len(embedding), s.dimensions))
	}

	query := fmt.Sprintf(`
		SELECT id, content, metadata, 1 - (embedding <=> $1::vector) AS similarity
		FROM %s
		ORDER BY embedding <=> $1::vector
		LIMIT $2`, s.table)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rows []chunkRow
	if err := s.db.SelectContext(ctx, &rows, query, formatVector(embedding), k); err != nil {
		return nil, models.RetrievalError("query", fmt.Errorf("failed to search chunks: %w", err))
	}

	results := make([]models.SimilarityResult, 0, len(rows))
	for _, row := range rows {
		chunk, err := row.toChunk()
		if err != nil {
			return nil, models.RetrievalError("query", err)
		}
		results = append(results, models.SimilarityResult{
			Chunk: chunk,
			Score: clampScore(row.Similarity),
		})
	}
	return results, nil
}

// PruneSources deletes chunks of sources outside keep. An empty keep list is
// treated as "nothing known" and deletes nothing.
func (s *PgStore) PruneSources(ctx context.Context, keep []string) (int64, error) {
	if !s.ready() {
		return 0, models.IngestionError("prune", ErrNotReady)
	}
	if len(keep) == 0 {
		return 0, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE NOT (COALESCE(metadata->>'source', '') = ANY($1))`, s.table)
	res, err := s.db.ExecContext(ctx, query, pq.Array(keep))
	if err != nil {
		return 0, models.IngestionError("prune", fmt.Errorf("failed to prune sources: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, models.IngestionError("prune", fmt.Errorf("failed to read pruned count: %w", err))
	}

	if n > 0 {
		s.logger.Info("Pruned chunks of removed documents", map[string]interface{}{
			"chunks": n,
		})
	}
	return n, nil
}

// DeleteSources deletes every chunk of sources
func (s *PgStore) DeleteSources(ctx context.Context, sources []string) (int64, error) {
	if !s.ready() {
		return 0, models.IngestionError("delete", ErrNotReady)
	}
	if len(sources) == 0 {
		return 0, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE metadata->>'source' = ANY($1)`, s.table)
	res, err := s.db.ExecContext(ctx, query, pq.Array(sources))
	if err != nil {
		return 0, models.IngestionError("delete", fmt.Errorf("failed to delete sources: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, models.IngestionError("delete", fmt.Errorf("failed to read deleted count: %w", err))
	}
	return n, nil
}

// Count returns the number of stored chunks
func (s *PgStore) Count(ctx context.Context) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int64
	if err := s.db.GetContext(ctx, &n, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// Ping checks the connection pool
func (s *PgStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Transaction runs fn in a transaction, rolling back on error
func (s *PgStore) Transaction(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back transaction", map[string]interface{}{
				"error": rbErr.Error(),
			})
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (s *PgStore) Close() error {
	return s.db.Close()
}

func (r chunkRow) toChunk() (*models.Chunk, error) {
	meta := make(map[string]interface{})
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata of chunk %s: %w", r.ID, err)
		}
	}

	chunk := &models.Chunk{
		ID:       r.ID,
		Content:  r.Content,
		Metadata: meta,
	}
	if src, ok := meta[models.MetaSource].(string); ok {
		chunk.Source = src
	}
	if idx, ok := meta[models.MetaChunkIndex].(float64); ok {
		chunk.Index = int(idx)
	}
	return chunk, nil
}
