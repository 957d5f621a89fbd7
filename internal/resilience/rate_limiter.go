package resilience

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/developer-mesh/docs-expert/pkg/observability"
)

// ErrRateLimitExceeded is returned when rate limit is exceeded
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// RateLimiterConfig configures rate limiter behavior
type RateLimiterConfig struct {
	// RequestsPerSecond is the sustained request rate; zero disables limiting
	RequestsPerSecond float64

	// BurstSize is the maximum burst size
	BurstSize int
}

// RateLimiter manages request rate limiting
type RateLimiter struct {
	limiter *rate.Limiter
	logger  observability.Logger
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config RateLimiterConfig, logger observability.Logger) *RateLimiter {
	limit := rate.Limit(config.RequestsPerSecond)
	if config.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := config.BurstSize
	if burst <= 0 {
		burst = 1
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.WithPrefix("rate-limiter"),
	}
}

// PerMinute builds a limiter config from a requests-per-minute budget
func PerMinute(rpm int) RateLimiterConfig {
	if rpm <= 0 {
		return RateLimiterConfig{}
	}
	burst := rpm / 60
	if burst < 1 {
		burst = 1
	}
	return RateLimiterConfig{
		RequestsPerSecond: float64(rpm) / 60,
		BurstSize:         burst,
	}
}

// Allow checks if a request is allowed under rate limits
func (rl *RateLimiter) Allow() bool {
	return rl.limiter.Allow()
}

// Wait blocks until a request is allowed (with context)
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

// Middleware rejects requests over the limit with 429
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.limiter.Allow() {
			rl.logger.Debug("Rate limit exceeded", map[string]interface{}{
				"path":   c.FullPath(),
				"client": c.ClientIP(),
			})
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": ErrRateLimitExceeded.Error(),
			})
			return
		}
		c.Next()
	}
}
