package generation

import (
	"context"
	"fmt"

	"github.com/developer-mesh/docs-expert/internal/config"
	"github.com/developer-mesh/docs-expert/internal/embedding"
	"github.com/developer-mesh/docs-expert/internal/metrics"
	"github.com/developer-mesh/docs-expert/internal/resilience"
	"github.com/developer-mesh/docs-expert/pkg/observability"
)

// New builds the configured generator wrapped in a deadline and breaker
func New(ctx context.Context, cfg config.GenerationConfig, m *metrics.Metrics, logger observability.Logger) (*Guarded, error) {
	options := Options{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}

	var provider Client
	switch cfg.Provider {
	case "openai":
		c, err := NewOpenAIClient(cfg.APIKey, cfg.Endpoint, options, nil)
		if err != nil {
			return nil, err
		}
		provider = c
	case "bedrock":
		runtime, err := embedding.NewBedrockClient(ctx, cfg.Region)
		if err != nil {
			return nil, err
		}
		provider = NewBedrockClient(runtime, options)
	default:
		return nil, fmt.Errorf("unsupported generation provider: %s", cfg.Provider)
	}

	breaker := resilience.NewCircuitBreaker("generation-"+cfg.Provider, resilience.CircuitBreakerConfig{
		MaxRequests:         cfg.CircuitBreaker.MaxRequests,
		Interval:            cfg.CircuitBreaker.Interval,
		Timeout:             cfg.CircuitBreaker.Timeout,
		ConsecutiveFailures: cfg.CircuitBreaker.ConsecutiveFailures,
	}, logger)

	logger.Info("Generation client ready", map[string]interface{}{
		"provider":    cfg.Provider,
		"model":       cfg.Model,
		"temperature": cfg.Temperature,
	})
	return NewGuarded(provider, cfg.Provider, cfg.RequestTimeout, breaker, m), nil
}
