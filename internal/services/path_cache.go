package services

import (
	"context"
	"sync"
	"time"
)

// PathCache memoizes resolved storage paths (created folders, object
// prefixes). Entries can be dropped explicitly, and expire after a TTL.
type PathCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
	Invalidate(ctx context.Context, key string)
	Clear(ctx context.Context)
}

// MemoryPathCache is a thread-safe in-memory PathCache
type MemoryPathCache struct {
	mu    sync.RWMutex
	items map[string]*pathCacheItem
	ttl   time.Duration
	now   func() time.Time
	stop  chan struct{}
	once  sync.Once
}

type pathCacheItem struct {
	value     string
	expiresAt time.Time
}

// NewMemoryPathCache creates a cache whose entries live for ttl
func NewMemoryPathCache(ttl time.Duration) *MemoryPathCache {
	cache := &MemoryPathCache{
		items: make(map[string]*pathCacheItem),
		ttl:   ttl,
		now:   time.Now,
		stop:  make(chan struct{}),
	}

	go cache.cleanupExpired(5 * time.Minute)

	return cache
}

// Get returns a cached value if it exists and hasn't expired
func (c *MemoryPathCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.items[key]
	if !exists || c.now().After(item.expiresAt) {
		return "", false
	}
	return item.value, true
}

// Set stores a value with the cache TTL
func (c *MemoryPathCache) Set(_ context.Context, key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = &pathCacheItem{
		value:     value,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Invalidate removes a cached entry
func (c *MemoryPathCache) Invalidate(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}

// Clear removes all cached entries
func (c *MemoryPathCache) Clear(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*pathCacheItem)
}

// Size returns the number of cached entries, expired or not
func (c *MemoryPathCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

// Close stops the background cleanup
func (c *MemoryPathCache) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *MemoryPathCache) cleanupExpired(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *MemoryPathCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, item := range c.items {
		if now.After(item.expiresAt) {
			delete(c.items, key)
		}
	}
}
