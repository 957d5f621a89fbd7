package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/developer-mesh/docs-expert/internal/config"
	"github.com/developer-mesh/docs-expert/pkg/observability"
)

// RedisCache implements caching using Redis
type RedisCache struct {
	client     *redis.Client
	keyPrefix  string
	defaultTTL time.Duration
	logger     observability.Logger

	hits   int64
	misses int64
}

// NewRedisClient opens a client for the configured Redis and checks it responds
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Address,
		Password:    cfg.Password,
		DB:          cfg.Database,
		DialTimeout: cfg.DialTimeout,
		PoolSize:    cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}
	return client, nil
}

// NewRedisCache creates a new Redis cache
func NewRedisCache(client *redis.Client, keyPrefix string, defaultTTL time.Duration, logger observability.Logger) *RedisCache {
	return &RedisCache{
		client:     client,
		keyPrefix:  keyPrefix,
		defaultTTL: defaultTTL,
		logger:     logger.WithPrefix("redis-cache"),
	}
}

// Get retrieves a value from the cache
func (rc *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := rc.client.Get(ctx, rc.makeKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		atomic.AddInt64(&rc.misses, 1)
		return nil, ErrCacheMiss
	}
	if err != nil {
		rc.logger.Error("Cache get error", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return nil, fmt.Errorf("cache get error: %w", err)
	}

	atomic.AddInt64(&rc.hits, 1)
	return val, nil
}

// Set stores a value in the cache; a zero ttl uses the default
func (rc *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = rc.defaultTTL
	}

	if err := rc.client.Set(ctx, rc.makeKey(key), value, ttl).Err(); err != nil {
		rc.logger.Error("Cache set error", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return fmt.Errorf("cache set error: %w", err)
	}
	return nil
}

// Stats returns cache statistics
func (rc *RedisCache) Stats() map[string]interface{} {
	hits := atomic.LoadInt64(&rc.hits)
	misses := atomic.LoadInt64(&rc.misses)
	total := hits + misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return map[string]interface{}{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": hitRate,
	}
}

// Close closes the underlying client
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

func (rc *RedisCache) makeKey(key string) string {
	return rc.keyPrefix + key
}
