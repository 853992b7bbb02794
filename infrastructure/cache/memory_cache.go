// Package cache provides the read-model-boundary cache implementation:
// an in-memory store with LRU eviction, per-item TTL, and prefix-based
// invalidation for projection updates.
package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryCache is a thread-safe in-memory cache with LRU eviction and TTL.
// Suitable for single-instance deployments; a distributed deployment would
// swap in a shared cache behind the same port.
type MemoryCache struct {
	mu       sync.Mutex
	items    map[string]*cacheItem
	lruList  *list.List
	maxItems int

	hits      int64
	misses    int64
	evictions int64

	logger *zap.Logger
}

type cacheItem struct {
	key        string
	value      []byte
	expiry     time.Time
	lruElement *list.Element
}

// NewMemoryCache creates a cache bounded to maxItems entries
func NewMemoryCache(maxItems int, logger *zap.Logger) *MemoryCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxItems <= 0 {
		maxItems = 10000
	}

	return &MemoryCache{
		items:    make(map[string]*cacheItem),
		lruList:  list.New(),
		maxItems: maxItems,
		logger:   logger,
	}
}

// Get retrieves a value, reporting whether it was present and unexpired
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false, nil
	}
	if time.Now().After(item.expiry) {
		c.removeLocked(item)
		c.misses++
		return nil, false, nil
	}

	c.lruList.MoveToFront(item.lruElement)
	c.hits++

	value := make([]byte, len(item.value))
	copy(value, item.value)
	return value, true, nil
}

// Set stores a value with the given TTL, evicting the least recently used
// entry when the cache is full.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)

	if existing, ok := c.items[key]; ok {
		existing.value = stored
		existing.expiry = time.Now().Add(ttl)
		c.lruList.MoveToFront(existing.lruElement)
		return nil
	}

	for len(c.items) >= c.maxItems {
		oldest := c.lruList.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*cacheItem))
		c.evictions++
	}

	item := &cacheItem{
		key:    key,
		value:  stored,
		expiry: time.Now().Add(ttl),
	}
	item.lruElement = c.lruList.PushFront(item)
	c.items[key] = item
	return nil
}

// Delete removes a single key
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if item, ok := c.items[key]; ok {
		c.removeLocked(item)
	}
	return nil
}

// InvalidatePrefix removes every key with the given prefix. Projections use
// this to drop all derived entries for an aggregate in one call.
func (c *MemoryCache) InvalidatePrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var removed int
	for key, item := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.removeLocked(item)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug("invalidated cache prefix",
			zap.String("prefix", prefix),
			zap.Int("removed", removed))
	}
	return nil
}

// Stats reports hit, miss, and eviction counters
func (c *MemoryCache) Stats() (hits, misses, evictions int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evictions
}

func (c *MemoryCache) removeLocked(item *cacheItem) {
	c.lruList.Remove(item.lruElement)
	delete(c.items, item.key)
}
