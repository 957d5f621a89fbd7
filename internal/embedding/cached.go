package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/developer-mesh/docs-expert/internal/cache"
	"github.com/developer-mesh/docs-expert/internal/metrics"
	"github.com/developer-mesh/docs-expert/pkg/observability"
)

// Cached serves repeated texts from a cache. Cache failures are logged and
// fall through to the provider.
type Cached struct {
	next    Client
	cache   cache.Cache
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  observability.Logger
}

// NewCached wraps next with c
func NewCached(next Client, c cache.Cache, ttl time.Duration, m *metrics.Metrics, logger observability.Logger) *Cached {
	return &Cached{
		next:    next,
		cache:   c,
		ttl:     ttl,
		metrics: m,
		logger:  logger.WithPrefix("emb-cache"),
	}
}

// Model returns the wrapped model name
func (c *Cached) Model() string {
	return c.next.Model()
}

// Dimensions returns the wrapped vector size
func (c *Cached) Dimensions() int {
	return c.next.Dimensions()
}

// Embed returns the cached vector for text or generates it
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.lookup(ctx, text); ok {
		return v, nil
	}

	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(ctx, text, v)
	return v, nil
}

// EmbedBatch only sends cache misses to the provider
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		if v, ok := c.lookup(ctx, text); ok {
			out[i] = v
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := c.next.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, v := range vectors {
		out[missingIdx[j]] = v
		c.store(ctx, missing[j], v)
	}
	return out, nil
}

func (c *Cached) key(text string) string {
	return cache.ContentKey("emb", c.next.Model()+"\x00"+text)
}

func (c *Cached) lookup(ctx context.Context, text string) ([]float32, bool) {
	data, err := c.cache.Get(ctx, c.key(text))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn("Embedding cache lookup failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
		c.metrics.RecordCacheLookup(false)
		return nil, false
	}

	var v []float32
	if err := json.Unmarshal(data, &v); err != nil || len(v) != c.next.Dimensions() {
		c.logger.Warn("Discarding invalid cached embedding", map[string]interface{}{
			"length": len(v),
		})
		c.metrics.RecordCacheLookup(false)
		return nil, false
	}

	c.metrics.RecordCacheLookup(true)
	return v, true
}

func (c *Cached) store(ctx context.Context, text string, v []float32) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, c.key(text), data, c.ttl); err != nil {
		c.logger.Warn("Embedding cache store failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
