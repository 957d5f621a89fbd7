package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/developer-mesh/docs-expert/internal/models"
)

// MemoryStore is an in-process Store using brute-force cosine similarity
type MemoryStore struct {
	mu      sync.RWMutex
	ready   bool
	closed  bool
	chunks  map[string][]*models.Chunk
	sources []string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chunks: make(map[string][]*models.Chunk)}
}

// EnsureReady marks the store usable
func (m *MemoryStore) EnsureReady(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return models.InitializationError("ensure_ready", fmt.Errorf("store is closed"))
	}
	m.ready = true
	return nil
}

// Upsert replaces the chunks of every source present in the batch
func (m *MemoryStore) Upsert(_ context.Context, chunks []*models.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ready {
		return models.IngestionError("upsert", ErrNotReady)
	}

	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return models.IngestionError("upsert", fmt.Errorf("chunk %s of %s has no embedding", c.ID, c.Source))
		}
	}

	replaced := make(map[string]bool)
	for _, c := range chunks {
		if !replaced[c.Source] {
			replaced[c.Source] = true
			if _, exists := m.chunks[c.Source]; !exists {
				m.sources = append(m.sources, c.Source)
			}
			m.chunks[c.Source] = nil
		}
		stored := *c
		stored.Metadata = chunkMetadata(c)
		m.chunks[c.Source] = append(m.chunks[c.Source], &stored)
	}
	return nil
}

// Query scores every stored chunk against embedding
func (m *MemoryStore) Query(_ context.Context, embedding []float32, k int) ([]models.SimilarityResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.ready {
		return nil, models.RetrievalError("query", ErrNotReady)
	}

	results := []models.SimilarityResult{}
	if k <= 0 {
		return results, nil
	}

	for _, source := range m.sources {
		for _, c := range m.chunks[source] {
			results = append(results, models.SimilarityResult{
				Chunk: c,
				Score: clampScore(cosineSimilarity(embedding, c.Embedding)),
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// PruneSources drops sources outside keep; an empty keep list is a no-op
func (m *MemoryStore) PruneSources(_ context.Context, keep []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ready {
		return 0, models.IngestionError("prune", ErrNotReady)
	}
	if len(keep) == 0 {
		return 0, nil
	}

	wanted := make(map[string]bool, len(keep))
	for _, k := range keep {
		wanted[k] = true
	}

	var pruned int64
	remaining := m.sources[:0]
	for _, source := range m.sources {
		if wanted[source] {
			remaining = append(remaining, source)
			continue
		}
		pruned += int64(len(m.chunks[source]))
		delete(m.chunks, source)
	}
	m.sources = remaining
	return pruned, nil
}

// DeleteSources drops the chunks of sources
func (m *MemoryStore) DeleteSources(_ context.Context, sources []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ready {
		return 0, models.IngestionError("delete", ErrNotReady)
	}
	if len(sources) == 0 {
		return 0, nil
	}

	doomed := make(map[string]bool, len(sources))
	for _, source := range sources {
		doomed[source] = true
	}

	var deleted int64
	remaining := m.sources[:0]
	for _, source := range m.sources {
		if !doomed[source] {
			remaining = append(remaining, source)
			continue
		}
		deleted += int64(len(m.chunks[source]))
		delete(m.chunks, source)
	}
	m.sources = remaining
	return deleted, nil
}

// Count returns the number of stored chunks
func (m *MemoryStore) Count(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, cs := range m.chunks {
		n += int64(len(cs))
	}
	return n, nil
}

// Ping reports whether the store is open
func (m *MemoryStore) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// Close discards all chunks
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.ready = false
	m.chunks = make(map[string][]*models.Chunk)
	m.sources = nil
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
