package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/developer-mesh/docs-expert/internal/metrics"
	"github.com/developer-mesh/docs-expert/internal/resilience"
)

// Guarded bounds every provider call with a deadline, a rate limiter and a
// circuit breaker. Calls are never retried.
type Guarded struct {
	next     Client
	provider string
	timeout  time.Duration
	limiter  *resilience.RateLimiter
	breaker  *resilience.CircuitBreaker
	metrics  *metrics.Metrics
}

// NewGuarded wraps next; limiter, breaker and m may be nil
func NewGuarded(next Client, provider string, timeout time.Duration, limiter *resilience.RateLimiter, breaker *resilience.CircuitBreaker, m *metrics.Metrics) *Guarded {
	return &Guarded{
		next:     next,
		provider: provider,
		timeout:  timeout,
		limiter:  limiter,
		breaker:  breaker,
		metrics:  m,
	}
}

// Model returns the wrapped model name
func (g *Guarded) Model() string {
	return g.next.Model()
}

// Dimensions returns the wrapped vector size
func (g *Guarded) Dimensions() int {
	return g.next.Dimensions()
}

// Embed generates one embedding
func (g *Guarded) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := g.call(ctx, "embed", 1, func(ctx context.Context) error {
		v, err := g.next.Embed(ctx, text)
		out = v
		return err
	})
	return out, err
}

// EmbedBatch generates embeddings for texts
func (g *Guarded) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	var out [][]float32
	err := g.call(ctx, "embed_batch", len(texts), func(ctx context.Context) error {
		v, err := g.next.EmbedBatch(ctx, texts)
		out = v
		return err
	})
	return out, err
}

func (g *Guarded) call(ctx context.Context, operation string, count int, fn func(ctx context.Context) error) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", resilience.ErrRateLimitExceeded, err)
		}
	}

	start := time.Now()
	var err error
	if g.breaker != nil {
		err = g.breaker.Execute(ctx, fn)
	} else {
		err = fn(ctx)
	}

	g.metrics.RecordAPICall(g.provider, operation, err)
	if err == nil {
		g.metrics.RecordEmbedding(count, time.Since(start))
	}
	return err
}
