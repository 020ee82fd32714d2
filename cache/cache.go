// Package cache keeps recent deps.dev and OSV responses in process.
package cache

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache is a size-bounded in-process byte cache.
type Cache struct {
	c   *ristretto.Cache[string, []byte]
	ttl time.Duration
}

// New creates a ristretto-backed cache. maxCostBytes bounds the total size
// of cached values; ttl applies to every entry (zero means no expiry).
func New(maxCostBytes int64, ttl time.Duration) (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCostBytes / 100 * 10, // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c, ttl: ttl}, nil
}

// Get retrieves a value. A nil *Cache always misses.
func (c *Cache) Get(key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	return c.c.Get(key)
}

// Set stores a value. Writes are buffered; call Wait to make them visible
// before a read in the same goroutine.
func (c *Cache) Set(key string, value []byte) {
	if c == nil {
		return
	}
	c.c.SetWithTTL(key, value, int64(len(value)), c.ttl)
}

// Wait blocks until buffered writes are applied.
func (c *Cache) Wait() {
	if c == nil {
		return
	}
	c.c.Wait()
}

// Delete removes a value.
func (c *Cache) Delete(key string) {
	if c == nil {
		return
	}
	c.c.Del(key)
}

// Close shuts down the cache and releases resources.
func (c *Cache) Close() {
	if c == nil {
		return
	}
	c.c.Close()
}
