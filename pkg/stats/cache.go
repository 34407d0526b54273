package stats

import (
	"fmt"
	"sync"
	"time"
)

// DefaultCacheCapacity bounds the cache. This is a burst absorber for a
// handful of request shapes, not a general-purpose cache.
const DefaultCacheCapacity = 16

// Cache is a small TTL-bucketed memoization cache. Results are keyed by the
// caller's key plus a coarse time bucket, so two reads inside the same TTL
// window return the identical value even if the underlying data changed.
type Cache[V any] struct {
	mu       sync.Mutex
	entries  map[string]cacheEntry[V]
	order    []string
	capacity int

	now func() time.Time
}

type cacheEntry[V any] struct {
	value      V
	computedAt time.Time
}

// NewCache creates a cache bounded to capacity entries. A non-positive
// capacity uses DefaultCacheCapacity.
func NewCache[V any](capacity int) *Cache[V] {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &Cache[V]{
		entries:  make(map[string]cacheEntry[V]),
		capacity: capacity,
		now:      time.Now,
	}
}

// GetOrCompute returns the memoized value for key if it was computed within
// the last ttl; otherwise it invokes compute, stores the result under the
// current time bucket, and returns it. Keys must incorporate every
// request-varying parameter so differently-shaped results never collide.
//
// Compute errors are not cached.
func (c *Cache[V]) GetOrCompute(key string, ttl time.Duration, compute func() (V, error)) (V, error) {
	now := c.now()
	bucket := now.UnixNano() / int64(ttl)
	bucketKey := fmt.Sprintf("%s@%d", key, bucket)

	c.mu.Lock()
	if entry, ok := c.entries[bucketKey]; ok && now.Sub(entry.computedAt) < ttl {
		c.mu.Unlock()
		return entry.value, nil
	}
	c.mu.Unlock()

	// Compute outside the lock: backend reads may take milliseconds and must
	// not block concurrent cache hits. Racing computes for the same bucket
	// are harmless; last writer wins.
	value, err := compute()
	if err != nil {
		var zero V
		return zero, err
	}

	c.mu.Lock()
	if _, exists := c.entries[bucketKey]; !exists {
		c.order = append(c.order, bucketKey)
	}
	c.entries[bucketKey] = cacheEntry[V]{value: value, computedAt: now}
	for len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.mu.Unlock()

	return value, nil
}

// Len returns the number of cached entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
