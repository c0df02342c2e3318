package providermgr

import (
	"sync"
	"time"
)

// Cache is an optional read-through cache keyed by a caller-supplied
// getCacheKey(op), TTL'd, bypassed for streaming operations (spec §4.3).
// Grounded on src/chainadapter/metrics/metrics.go's in-memory
// mutex-guarded map pattern, generalized to a generic TTL cache.
type Cache struct {
	mu    sync.Mutex
	ttl   time.Duration
	clock func() time.Time
	items map[string]cacheItem
}

type cacheItem struct {
	value   any
	expires time.Time
}

// NewCache constructs a Cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, clock: time.Now, items: make(map[string]cacheItem)}
}

// Get returns the cached value for key if present and unexpired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[key]
	if !ok || c.clock().After(item.expires) {
		return nil, false
	}
	return item.value, true
}

// Set stores value under key with the cache's configured TTL.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = cacheItem{value: value, expires: c.clock().Add(c.ttl)}
}

// ExecuteCached runs ExecuteWithFailover through cache, keyed by cacheKey.
// Pass an empty cacheKey to bypass the cache entirely (streaming callers do
// this, per spec §4.3: "bypassed for streaming operations").
func ExecuteCached[T any](m *Manager, cache *Cache, cacheKey string, op func() (T, error)) (T, error) {
	var zero T
	if cache == nil || cacheKey == "" {
		return op()
	}
	if v, ok := cache.Get(cacheKey); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}
	result, err := op()
	if err != nil {
		return zero, err
	}
	cache.Set(cacheKey, result)
	return result, nil
}
