// Package vectorstore persists embedded chunks and answers nearest-neighbour queries
package vectorstore

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/developer-mesh/docs-expert/internal/models"
)

// ErrNotReady is returned when the store is used before EnsureReady succeeded
var ErrNotReady = errors.New("vector store is not initialized")

// Store is the chunk persistence contract used by the RAG service
type Store interface {
	// EnsureReady prepares the backend; it is safe to call repeatedly
	EnsureReady(ctx context.Context) error

	// Upsert replaces every stored chunk of each source present in chunks
	Upsert(ctx context.Context, chunks []*models.Chunk) error

	// Query returns up to k chunks ordered by descending similarity
	Query(ctx context.Context, embedding []float32, k int) ([]models.SimilarityResult, error)

	// PruneSources deletes chunks whose source is not in keep
	PruneSources(ctx context.Context, keep []string) (int64, error)

	// DeleteSources deletes every chunk of the given sources
	DeleteSources(ctx context.Context, sources []string) (int64, error)

	Count(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// formatVector renders an embedding in pgvector text form: [0.1,0.2,...]
func formatVector(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// chunkMetadata returns the metadata persisted with a chunk; source and
// chunk_index always reflect the chunk itself
func chunkMetadata(c *models.Chunk) map[string]interface{} {
	meta := make(map[string]interface{}, len(c.Metadata)+2)
	for k, v := range c.Metadata {
		meta[k] = v
	}
	meta[models.MetaSource] = c.Source
	meta[models.MetaChunkIndex] = c.Index
	return meta
}

// orderedSources lists the distinct sources of chunks in first-seen order
func orderedSources(chunks []*models.Chunk) []string {
	seen := make(map[string]bool)
	var sources []string
	for _, c := range chunks {
		if !seen[c.Source] {
			seen[c.Source] = true
			sources = append(sources, c.Source)
		}
	}
	return sources
}
