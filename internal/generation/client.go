// Package generation produces text completions from hosted language models
package generation

import (
	"context"
	"time"

	"github.com/developer-mesh/docs-expert/internal/metrics"
	"github.com/developer-mesh/docs-expert/internal/resilience"
)

// Client generates a completion for a single prompt
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Options carries sampling settings shared by providers
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Guarded bounds every generation with a deadline and a circuit breaker.
// Calls are never retried.
type Guarded struct {
	next      Client
	provider  string
	operation string
	timeout   time.Duration
	breaker   *resilience.CircuitBreaker
	metrics   *metrics.Metrics
}

// NewGuarded wraps next; breaker and m may be nil
func NewGuarded(next Client, provider string, timeout time.Duration, breaker *resilience.CircuitBreaker, m *metrics.Metrics) *Guarded {
	return &Guarded{
		next:      next,
		provider:  provider,
		operation: "generate",
		timeout:   timeout,
		breaker:   breaker,
		metrics:   m,
	}
}

// BestEffort returns a client sharing the provider but not the breaker, so
// its failures never open the circuit for primary generations
func (g *Guarded) BestEffort(timeout time.Duration) *Guarded {
	return &Guarded{
		next:      g.next,
		provider:  g.provider,
		operation: "suggest",
		timeout:   timeout,
		metrics:   g.metrics,
	}
}

// Generate runs one completion
func (g *Guarded) Generate(ctx context.Context, prompt string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	var out string
	fn := func(ctx context.Context) error {
		text, err := g.next.Generate(ctx, prompt)
		out = text
		return err
	}

	var err error
	if g.breaker != nil {
		err = g.breaker.Execute(ctx, fn)
	} else {
		err = fn(ctx)
	}

	g.metrics.RecordAPICall(g.provider, g.operation, err)
	if err != nil {
		return "", err
	}
	return out, nil
}
