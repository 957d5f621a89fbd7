package rag

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/docs-expert/internal/config"
	"github.com/developer-mesh/docs-expert/internal/generation"
	"github.com/developer-mesh/docs-expert/internal/loader"
	"github.com/developer-mesh/docs-expert/internal/models"
	"github.com/developer-mesh/docs-expert/internal/resilience"
	"github.com/developer-mesh/docs-expert/internal/vectorstore"
	"github.com/developer-mesh/docs-expert/pkg/observability"
)

// hashEmbedder maps each word to a bucket so texts sharing words score high
type hashEmbedder struct {
	mu        sync.Mutex
	dims      int
	calls     int
	failAfter int
}

func (h *hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := h.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (h *hashEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	h.mu.Lock()
	h.calls++
	calls := h.calls
	h.mu.Unlock()

	if h.failAfter > 0 && calls > h.failAfter {
		return nil, errors.New("embedding provider unavailable")
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, h.dims)
		words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, w := range words {
			f := fnv.New32a()
			_, _ = f.Write([]byte(strings.TrimSuffix(w, "s")))
			vec[f.Sum32()%uint32(h.dims)]++
		}
		if len(words) == 0 {
			vec[0] = 1
		}
		out[i] = vec
	}
	return out, nil
}

func (h *hashEmbedder) Model() string   { return "hash" }
func (h *hashEmbedder) Dimensions() int { return h.dims }

// scriptedGenerator answers prompts and follow-up requests separately
type scriptedGenerator struct {
	mu          sync.Mutex
	prompts     []string
	answer      string
	answerErr   error
	suggestions string
	suggestErr  error
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)

	if strings.HasPrefix(prompt, "Based on this Q&A") {
		return g.suggestions, g.suggestErr
	}
	return g.answer, g.answerErr
}

func (g *scriptedGenerator) answerPrompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, p := range g.prompts {
		if !strings.HasPrefix(p, "Based on this Q&A") {
			out = append(out, p)
		}
	}
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		Embedding:  config.EmbeddingConfig{BatchSize: 16},
		Generation: config.GenerationConfig{SuggestionTimeout: time.Second},
		Processing: config.ProcessingConfig{ChunkSize: 1000, ChunkOverlap: 200},
		Retrieval:  config.RetrievalConfig{TopK: 5, ContextBudget: 8000, MaxSearchLimit: 50},
		Session:    config.SessionConfig{MaxSessions: 100, TTL: time.Minute, HistoryWindow: 5},
		Knowledge:  config.KnowledgeConfig{DocsPath: ".", ProductName: "Quartz"},
	}
}

func testCorpus() fstest.MapFS {
	return fstest.MapFS{
		"plugins/custom.md": &fstest.MapFile{Data: []byte(`---
title: Custom Plugins
tags: plugins, advanced
---
# Custom Plugins

To create a custom plugin, export a transformer or an emitter.
A transformer plugin rewrites the markdown syntax tree.
An emitter plugin writes output files for each page.
`)},
		"hosting/deploy.md": &fstest.MapFile{Data: []byte(`# Hosting

Deploy the generated site to GitHub Pages by setting the base URL and using the workflow.
`)},
		"misc/notes.md": &fstest.MapFile{Data: []byte(`# Notes

Miscellaneous notes about the theme colors and fonts.
`)},
		".obsidian/config.md": &fstest.MapFile{Data: []byte("# hidden")},
	}
}

type fixture struct {
	svc       *Service
	store     *vectorstore.MemoryStore
	embedder  *hashEmbedder
	generator *scriptedGenerator
	corpus    fstest.MapFS
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()

	corpus := testCorpus()
	f := &fixture{
		store:    vectorstore.NewMemoryStore(),
		embedder: &hashEmbedder{dims: 64},
		generator: &scriptedGenerator{
			answer:      "Export a QuartzTransformerPlugin with a name and a visitor.",
			suggestions: "1. How do I register the plugin?\n2. What is an emitter?\n3. Can plugins add pages?",
		},
		corpus: corpus,
	}

	logger := observability.NewNoopLogger()
	svc, err := NewService(cfg, Dependencies{
		Store:     f.store,
		Embedder:  f.embedder,
		Generator: f.generator,
		Loader:    loader.NewLoaderFS(corpus, logger),
		Logger:    logger,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(nil, Dependencies{})
	assert.Error(t, err)

	_, err = NewService(testConfig(), Dependencies{Store: vectorstore.NewMemoryStore()})
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Processing.ChunkOverlap = cfg.Processing.ChunkSize
	_, err = NewService(cfg, Dependencies{
		Store:     vectorstore.NewMemoryStore(),
		Embedder:  &hashEmbedder{dims: 8},
		Generator: &scriptedGenerator{},
	})
	assert.Error(t, err)
}

func TestService_EndToEndPluginQuestion(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	require.NoError(t, f.svc.Init(ctx))

	result, err := f.svc.Ingest(ctx, ".")
	require.NoError(t, err)
	assert.Equal(t, 3, result.Documents)
	assert.GreaterOrEqual(t, result.Chunks, 3)

	status, ok := f.svc.LastIngest()
	require.True(t, ok)
	assert.Equal(t, result.Chunks, status.Result.Chunks)

	answer, err := f.svc.Answer(ctx, "How do I create a custom plugin?", "")
	require.NoError(t, err)
	assert.Contains(t, answer.Sources, "plugins/custom.md")
	assert.Equal(t, f.generator.answer, answer.Answer)
	assert.GreaterOrEqual(t, answer.Confidence, 0.0)
	assert.LessOrEqual(t, answer.Confidence, 1.0)
	assert.Greater(t, answer.ContextUsage, 0.0)
	assert.LessOrEqual(t, answer.ContextUsage, 1.0)
	assert.InDelta(t, 0.95, answer.Consistency, 1e-9)

	prompts := f.generator.answerPrompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "You are the Quartz Expert Agent")
	assert.Contains(t, prompts[0], "User Question: How do I create a custom plugin?")
	assert.Contains(t, prompts[0], "\n\n---\n\n")
	assert.Contains(t, prompts[0], "emitter plugin")
	assert.NotContains(t, prompts[0], "Conversation so far")

	// Hidden directories are never indexed
	for _, src := range answer.Sources {
		assert.False(t, strings.HasPrefix(src, "."), src)
	}
}

func TestService_SearchRanksMatchingDocumentFirst(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	require.NoError(t, f.svc.Init(ctx))
	_, err := f.svc.Ingest(ctx, ".")
	require.NoError(t, err)

	results, err := f.svc.Search(ctx, "transformer emitter plugin", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "plugins/custom.md", results[0].Metadata[models.MetaSource])
	assert.Equal(t, "Custom Plugins", results[0].Metadata[models.MetaTitle])
	assert.Equal(t, "plugins", results[0].Metadata[models.MetaCategory])

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].RelevanceScore, results[i].RelevanceScore)
	}
}

func TestService_ExactChunkTextRanksFirst(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	require.NoError(t, f.svc.Init(ctx))
	_, err := f.svc.Ingest(ctx, ".")
	require.NoError(t, err)

	all, err := f.svc.Search(ctx, "hosting", 50)
	require.NoError(t, err)
	var target string
	for _, r := range all {
		if r.Metadata[models.MetaSource] == "hosting/deploy.md" {
			target = r.Content
		}
	}
	require.NotEmpty(t, target)

	results, err := f.svc.Search(ctx, target, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, target, results[0].Content)
	assert.GreaterOrEqual(t, results[0].RelevanceScore, 0.9)
}

type recordingStore struct {
	*vectorstore.MemoryStore
	mu    sync.Mutex
	lastK int
}

func (r *recordingStore) Query(ctx context.Context, embedding []float32, k int) ([]models.SimilarityResult, error) {
	r.mu.Lock()
	r.lastK = k
	r.mu.Unlock()
	return r.MemoryStore.Query(ctx, embedding, k)
}

func TestService_SearchLimitClamp(t *testing.T) {
	store := &recordingStore{MemoryStore: vectorstore.NewMemoryStore()}
	svc, err := NewService(testConfig(), Dependencies{
		Store:     store,
		Embedder:  &hashEmbedder{dims: 16},
		Generator: &scriptedGenerator{},
	})
	require.NoError(t, err)
	require.NoError(t, svc.Init(context.Background()))

	tests := []struct {
		limit int
		want  int
	}{
		{limit: 0, want: 5},
		{limit: -3, want: 5},
		{limit: 7, want: 7},
		{limit: 50, want: 50},
		{limit: 500, want: 50},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("limit %d", tt.limit), func(t *testing.T) {
			results, err := svc.Search(context.Background(), "anything", tt.limit)
			require.NoError(t, err)
			assert.Empty(t, results)
			assert.Equal(t, tt.want, store.lastK)
		})
	}
}

func TestService_EmptyStoreFallback(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.svc.Init(context.Background()))

	answer, err := f.svc.Answer(context.Background(), "What is Quartz?", "")
	require.NoError(t, err)
	assert.Equal(t, FallbackAnswer, answer.Answer)
	assert.Empty(t, answer.Sources)
	assert.NotNil(t, answer.Sources)
	assert.InDelta(t, 0.1, answer.Confidence, 1e-9)
	assert.Zero(t, answer.ContextUsage)
	assert.InDelta(t, 1.0, answer.Consistency, 1e-9)
	assert.Empty(t, f.generator.answerPrompts())
}

func TestService_AnswerBeforeInit(t *testing.T) {
	f := newFixture(t, testConfig())

	_, err := f.svc.Answer(context.Background(), "What is Quartz?", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrRetrieval))
}

func TestService_RetrievalErrorOnEmbeddingFailure(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.svc.Init(context.Background()))

	// every call is past the allowance
	failing := &hashEmbedder{dims: 64, failAfter: 1, calls: 1}
	svc, err := NewService(testConfig(), Dependencies{
		Store:     f.store,
		Embedder:  failing,
		Generator: f.generator,
	})
	require.NoError(t, err)

	_, err = svc.Answer(context.Background(), "What is Quartz?", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrRetrieval))
}

func TestService_GenerationFailure(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	require.NoError(t, f.svc.Init(ctx))
	_, err := f.svc.Ingest(ctx, ".")
	require.NoError(t, err)

	f.generator.answerErr = errors.New("model overloaded")

	_, err = f.svc.Answer(ctx, "How do I create a custom plugin?", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrGeneration))
	assert.Contains(t, err.Error(), "model overloaded")
	assert.Len(t, f.generator.answerPrompts(), 1)
}

func TestService_ChatSessionContinuity(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	require.NoError(t, f.svc.Init(ctx))
	_, err := f.svc.Ingest(ctx, ".")
	require.NoError(t, err)

	first, err := f.svc.Chat(ctx, "Hello", nil, "")
	require.NoError(t, err)
	require.NotEmpty(t, first.SessionID)
	_, err = uuid.Parse(first.SessionID)
	assert.NoError(t, err)
	assert.Equal(t, []string{
		"How do I register the plugin?",
		"What is an emitter?",
		"Can plugins add pages?",
	}, first.Suggestions)

	history := make([]models.Message, 0, 8)
	for i := 0; i < 8; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		history = append(history, models.Message{Role: role, Content: fmt.Sprintf("turn %d", i)})
	}

	second, err := f.svc.Chat(ctx, "Tell me more", history, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, f.generator.answer, second.Message)

	prompts := f.generator.answerPrompts()
	require.Len(t, prompts, 2)
	last := prompts[1]
	assert.Contains(t, last, "Conversation so far:")
	for i := 0; i < 3; i++ {
		assert.NotContains(t, last, fmt.Sprintf("turn %d", i))
	}
	for i := 3; i < 8; i++ {
		assert.Contains(t, last, fmt.Sprintf("turn %d", i))
	}
	assert.Contains(t, last, "assistant: turn 7")

	// Without caller history the stored window is used
	third, err := f.svc.Chat(ctx, "And then?", nil, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, third.SessionID)

	prompts = f.generator.answerPrompts()
	require.Len(t, prompts, 3)
	assert.Contains(t, prompts[2], "user: Tell me more")
	assert.Contains(t, prompts[2], "assistant: "+f.generator.answer)
}

func TestService_ChatSuggestionFallback(t *testing.T) {
	tests := []struct {
		name        string
		suggestions string
		suggestErr  error
	}{
		{name: "generation error", suggestErr: errors.New("timeout")},
		{name: "blank output", suggestions: "\n  \n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testConfig())
			ctx := context.Background()
			require.NoError(t, f.svc.Init(ctx))
			_, err := f.svc.Ingest(ctx, ".")
			require.NoError(t, err)

			f.generator.suggestions = tt.suggestions
			f.generator.suggestErr = tt.suggestErr

			reply, err := f.svc.Chat(ctx, "How do I create a custom plugin?", nil, "fixed-session")
			require.NoError(t, err)
			assert.Equal(t, "fixed-session", reply.SessionID)
			assert.Equal(t, DefaultSuggestions, reply.Suggestions)
			assert.Contains(t, reply.Sources, "plugins/custom.md")
		})
	}
}

// stallingGenerator answers at once but holds follow-up requests until the
// caller gives up
type stallingGenerator struct {
	answer string
}

func (g *stallingGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.HasPrefix(prompt, "Based on this Q&A") {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return g.answer, nil
}

func TestService_SuggestionTimeoutsKeepBreakerClosed(t *testing.T) {
	cfg := testConfig()
	cfg.Generation.SuggestionTimeout = 20 * time.Millisecond

	logger := observability.NewNoopLogger()
	breaker := resilience.NewCircuitBreaker("generation-stub", resilience.CircuitBreakerConfig{
		ConsecutiveFailures: 5,
		Timeout:             time.Minute,
	}, logger)
	guarded := generation.NewGuarded(&stallingGenerator{answer: "Use a transformer."}, "stub", time.Second, breaker, nil)

	store := vectorstore.NewMemoryStore()
	svc, err := NewService(cfg, Dependencies{
		Store:     store,
		Embedder:  &hashEmbedder{dims: 64},
		Generator: guarded,
		Loader:    loader.NewLoaderFS(testCorpus(), logger),
		Logger:    logger,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, svc.Init(ctx))

	// The empty store answers without the model, so only suggestions reach it
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := svc.Chat(ctx, "How do I create a custom plugin?", nil, "")
			assert.NoError(t, err)
			if reply != nil {
				assert.Equal(t, DefaultSuggestions, reply.Suggestions)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, "closed", breaker.State())

	_, err = svc.Ingest(ctx, ".")
	require.NoError(t, err)

	answer, err := svc.Answer(ctx, "How do I create a custom plugin?", "")
	require.NoError(t, err)
	assert.Equal(t, "Use a transformer.", answer.Answer)
}

func TestService_ChatPropagatesGenerationError(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	require.NoError(t, f.svc.Init(ctx))
	_, err := f.svc.Ingest(ctx, ".")
	require.NoError(t, err)

	f.generator.answerErr = errors.New("boom")
	_, err = f.svc.Chat(ctx, "Hello", nil, "")
	assert.True(t, errors.Is(err, models.ErrGeneration))
}

func TestService_ReingestReplacesDocuments(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	require.NoError(t, f.svc.Init(ctx))

	first, err := f.svc.Ingest(ctx, ".")
	require.NoError(t, err)
	count, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(first.Chunks), count)

	_, err = f.svc.Refresh(ctx)
	require.NoError(t, err)
	again, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, count, again)
}

func TestService_EmptiedDocumentDropsStaleChunks(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	require.NoError(t, f.svc.Init(ctx))

	_, err := f.svc.Ingest(ctx, ".")
	require.NoError(t, err)
	before, err := f.store.Count(ctx)
	require.NoError(t, err)

	f.corpus["misc/notes.md"] = &fstest.MapFile{Data: []byte("---\ntitle: Notes\n---\n\n   \n")}

	result, err := f.svc.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Documents)
	assert.Zero(t, result.Pruned)

	after, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, before-1, after)

	results, err := f.svc.Search(ctx, "theme colors fonts", 50)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "misc/notes.md", r.Metadata[models.MetaSource])
	}
}

func TestService_PruneMissingDocuments(t *testing.T) {
	cfg := testConfig()
	cfg.Knowledge.PruneMissing = true
	f := newFixture(t, cfg)
	ctx := context.Background()
	require.NoError(t, f.svc.Init(ctx))

	_, err := f.svc.Ingest(ctx, ".")
	require.NoError(t, err)

	delete(f.corpus, "misc/notes.md")

	result, err := f.svc.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Documents)
	assert.Equal(t, int64(1), result.Pruned)

	results, err := f.svc.Search(ctx, "theme colors fonts", 50)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "misc/notes.md", r.Metadata[models.MetaSource])
	}
}

func TestService_IngestEmbeddingFailureKeepsEarlierDocuments(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	require.NoError(t, f.svc.Init(ctx))
	f.embedder.failAfter = 1

	_, err := f.svc.Ingest(ctx, ".")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrIngestion))

	count, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Greater(t, count, int64(0))

	_, ok := f.svc.LastIngest()
	assert.False(t, ok)
}

func TestService_IngestMissingRoot(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.svc.Init(context.Background()))

	_, err := f.svc.Ingest(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrIngestion))
}

func TestService_InitFailure(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	require.NoError(t, store.Close())

	svc, err := NewService(testConfig(), Dependencies{
		Store:     store,
		Embedder:  &hashEmbedder{dims: 8},
		Generator: &scriptedGenerator{},
	})
	require.NoError(t, err)

	err = svc.Init(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInitialization))
}

func TestService_ConcurrentQueriesDuringIngest(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	require.NoError(t, f.svc.Init(ctx))
	_, err := f.svc.Ingest(ctx, ".")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, err := f.svc.Refresh(ctx)
				assert.NoError(t, err)
				return
			}
			_, err := f.svc.Answer(ctx, "How do I deploy?", "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
}
