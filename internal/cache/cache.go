package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Cache stores encoded query results. Get returns the value if present and not expired;
// Set stores a value for ttl. Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// InMemoryCache implements Cache using a map with TTL-based expiration.
// Expired entries are removed on access.
type InMemoryCache struct {
	mu    sync.Mutex
	data  map[string]cacheEntry
	clock clockwork.Clock
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return NewInMemoryCacheWithClock(clockwork.NewRealClock())
}

// NewInMemoryCacheWithClock creates an in-memory cache driven by clock.
func NewInMemoryCacheWithClock(clock clockwork.Clock) *InMemoryCache {
	return &InMemoryCache{
		data:  make(map[string]cacheEntry),
		clock: clock,
	}
}

// Get returns (value, true, nil) on hit and (nil, false, nil) on miss or expiry.
func (c *InMemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	if c.clock.Now().After(entry.expiresAt) {
		delete(c.data, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set stores value under key until ttl elapses.
func (c *InMemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: c.clock.Now().Add(ttl),
	}
	return nil
}

// Len returns the number of entries, including expired ones not yet evicted.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
