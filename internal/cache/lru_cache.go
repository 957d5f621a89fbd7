package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUCache is a bounded in-process cache. Entries never expire; the ttl
// argument is accepted for interface compatibility.
type LRUCache struct {
	entries *lru.Cache[string, []byte]
}

// NewLRUCache creates an in-process cache holding at most size entries
func NewLRUCache(size int) (*LRUCache, error) {
	entries, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{entries: entries}, nil
}

// Get retrieves a value from the cache
func (c *LRUCache) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := c.entries.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return v, nil
}

// Set stores a value in the cache
func (c *LRUCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.entries.Add(key, value)
	return nil
}

// Len returns the number of cached entries
func (c *LRUCache) Len() int {
	return c.entries.Len()
}

// Close drops all entries
func (c *LRUCache) Close() error {
	c.entries.Purge()
	return nil
}
