// Package cache provides embedding caches backed by Redis or process memory
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var (
	// ErrCacheMiss is returned when a cache key is not found
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheInvalid is returned when cached data is invalid
	ErrCacheInvalid = errors.New("invalid cached data")
)

// Cache stores opaque values by key
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// ContentKey hashes content into a stable cache key
func ContentKey(namespace, content string) string {
	hash := sha256.Sum256([]byte(content))
	return namespace + ":" + hex.EncodeToString(hash[:])
}
