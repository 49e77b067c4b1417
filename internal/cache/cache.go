// Package cache provides a TTL cache with explicit invalidation, injected
// where reads would otherwise hit the store on every request.
package cache

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Invalidator drops cached entries after a write.
type Invalidator interface {
	Invalidate(key string)
	InvalidateAll()
}

// Cache is a size-bounded TTL cache. Concurrent loads of the same missing
// key share one call to the loader. A load that overlaps an invalidation
// is returned to its callers but not cached.
type Cache[V any] struct {
	lru   *expirable.LRU[string, V]
	group singleflight.Group
	ttl   time.Duration
	// bumped by every invalidation
	gen atomic.Uint64
}

// New creates a cache holding at most size entries for ttl each.
func New[V any](size int, ttl time.Duration) *Cache[V] {
	if size <= 0 {
		size = 128
	}
	return &Cache[V]{
		lru: expirable.NewLRU[string, V](size, nil, ttl),
		ttl: ttl,
	}
}

// TTL returns the configured entry lifetime.
func (c *Cache[V]) TTL() time.Duration { return c.ttl }

// Get returns a cached value.
func (c *Cache[V]) Get(key string) (V, bool) {
	return c.lru.Get(key)
}

// Set stores a value.
func (c *Cache[V]) Set(key string, v V) {
	c.lru.Add(key, v)
}

// Invalidate removes one key.
func (c *Cache[V]) Invalidate(key string) {
	c.gen.Add(1)
	c.lru.Remove(key)
}

// InvalidateAll empties the cache.
func (c *Cache[V]) InvalidateAll() {
	c.gen.Add(1)
	c.lru.Purge()
}

// GetOrLoad returns the cached value or calls load once and caches its
// result. Errors are not cached.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}
	gen := c.gen.Load()
	// Callers arriving after an invalidation start a new load.
	flight := key + "@" + strconv.FormatUint(gen, 10)
	res, err, _ := c.group.Do(flight, func() (interface{}, error) {
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		if c.gen.Load() == gen {
			c.lru.Add(key, v)
		}
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}
