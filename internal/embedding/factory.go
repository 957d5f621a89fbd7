package embedding

import (
	"context"
	"fmt"

	"github.com/developer-mesh/docs-expert/internal/cache"
	"github.com/developer-mesh/docs-expert/internal/config"
	"github.com/developer-mesh/docs-expert/internal/metrics"
	"github.com/developer-mesh/docs-expert/internal/resilience"
	"github.com/developer-mesh/docs-expert/pkg/observability"
)

// New builds the configured provider wrapped in the guard and, when c is not
// nil, the cache. dimensions is the vector size the store expects.
func New(ctx context.Context, cfg config.EmbeddingConfig, dimensions int, c cache.Cache, m *metrics.Metrics, logger observability.Logger) (Client, error) {
	var provider Client
	switch cfg.Provider {
	case "openai":
		p, err := NewOpenAIProvider(OpenAIConfig{
			APIKey:     cfg.APIKey,
			Endpoint:   cfg.Endpoint,
			Model:      cfg.Model,
			Dimensions: dimensions,
		})
		if err != nil {
			return nil, err
		}
		provider = p
	case "bedrock":
		client, err := NewBedrockClient(ctx, cfg.Region)
		if err != nil {
			return nil, err
		}
		provider = NewBedrockProvider(client, cfg.Model, dimensions)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}

	breaker := resilience.NewCircuitBreaker("embedding-"+cfg.Provider, resilience.CircuitBreakerConfig{
		MaxRequests:         cfg.CircuitBreaker.MaxRequests,
		Interval:            cfg.CircuitBreaker.Interval,
		Timeout:             cfg.CircuitBreaker.Timeout,
		ConsecutiveFailures: cfg.CircuitBreaker.ConsecutiveFailures,
	}, logger)
	limiter := resilience.NewRateLimiter(resilience.PerMinute(cfg.RateLimitRPM), logger)

	var client Client = NewGuarded(provider, cfg.Provider, cfg.RequestTimeout, limiter, breaker, m)
	if c != nil {
		client = NewCached(client, c, 0, m, logger)
	}

	logger.Info("Embedding client ready", map[string]interface{}{
		"provider":   cfg.Provider,
		"model":      client.Model(),
		"dimensions": client.Dimensions(),
		"cached":     c != nil,
	})
	return client, nil
}
