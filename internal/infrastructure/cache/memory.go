package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryCache is an in-memory cache with LRU eviction and per-item TTL.
// It backs the "memory" provider for single-instance deployments and
// implements the same contract as the Redis facade, minus pub/sub.
type MemoryCache struct {
	mu          sync.RWMutex
	items       map[string]*memoryItem
	lruList     *list.List
	maxItems    int
	currentSize int64

	hits      int64
	misses    int64
	evictions int64

	cleanupStop chan struct{}
	cleanupOnce sync.Once

	logger *zap.Logger
}

type memoryItem struct {
	key        string
	value      []byte
	size       int64
	expiry     time.Time // zero means no expiration
	lruElement *list.Element
}

// NewMemoryCache creates an in-memory cache holding at most maxItems entries.
func NewMemoryCache(maxItems int, logger *zap.Logger) *MemoryCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxItems <= 0 {
		maxItems = 10000
	}

	return &MemoryCache{
		items:       make(map[string]*memoryItem),
		lruList:     list.New(),
		maxItems:    maxItems,
		cleanupStop: make(chan struct{}),
		logger:      logger,
	}
}

// Get retrieves the raw bytes stored under key.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[key]
	if !exists || item.expired(time.Now()) {
		if exists {
			c.removeItem(item)
		}
		c.misses++
		return nil, false, nil
	}

	c.lruList.MoveToFront(item.lruElement)
	c.hits++

	// Copy so callers cannot mutate the stored value.
	value := make([]byte, len(item.value))
	copy(value, item.value)
	return value, true, nil
}

// GetObject retrieves and deserializes the value stored under key into dest.
func (c *MemoryCache) GetObject(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, found, err := c.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores value under key. A ttl <= 0 stores the entry without expiration.
func (c *MemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := Marshal(value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, data, ttl)
	return nil
}

// SetIfAbsent stores value only when key has no live entry.
func (c *MemoryCache) SetIfAbsent(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	data, err := Marshal(value)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if item, exists := c.items[key]; exists {
		if !item.expired(time.Now()) {
			return false, nil
		}
		c.removeItem(item)
	}

	c.setLocked(key, data, ttl)
	return true, nil
}

// MGet retrieves multiple keys; a missing key yields a nil slot at its index.
func (c *MemoryCache) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	values := make([][]byte, len(keys))
	for i, key := range keys {
		data, found, _ := c.Get(ctx, key)
		if found {
			values[i] = data
		}
	}
	return values, nil
}

// Delete removes the given keys. An empty key list is a no-op.
func (c *MemoryCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		if item, exists := c.items[key]; exists {
			c.removeItem(item)
		}
	}
	return nil
}

// Scan returns all live keys matching pattern.
func (c *MemoryCache) Scan(ctx context.Context, pattern string, pageSize int64) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	var keys []string
	for key, item := range c.items {
		if item.expired(now) {
			continue
		}
		if matchPattern(key, pattern) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// DeleteByPattern removes every key matching pattern and returns the count.
func (c *MemoryCache) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	toDelete := make([]*memoryItem, 0)
	for key, item := range c.items {
		if matchPattern(key, pattern) {
			toDelete = append(toDelete, item)
		}
	}
	for _, item := range toDelete {
		c.removeItem(item)
	}

	c.logger.Debug("cleared cache entries",
		zap.String("pattern", pattern),
		zap.Int("count", len(toDelete)))
	return int64(len(toDelete)), nil
}

// Warm invokes the loader and stores all returned entries with the warm
// TTL. A loader or encoding failure aborts the warm before any write.
func (c *MemoryCache) Warm(ctx context.Context, load Loader) (int, error) {
	entries, err := load(ctx)
	if err != nil {
		return 0, fmt.Errorf("cache warm loader failed: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	encoded := make(map[string][]byte, len(entries))
	for key, value := range entries {
		data, err := Marshal(value)
		if err != nil {
			return 0, fmt.Errorf("cache warm: encoding %q: %w", key, err)
		}
		encoded[key] = data
	}

	c.mu.Lock()
	for key, data := range encoded {
		c.setLocked(key, data, defaultWarmTTL)
	}
	c.mu.Unlock()

	c.logger.Info("cache warmed",
		zap.Int("entries", len(encoded)),
		zap.Duration("ttl", defaultWarmTTL))
	return len(encoded), nil
}

// setLocked inserts an entry, evicting from the LRU tail to stay within
// maxItems. Must be called with the lock held.
func (c *MemoryCache) setLocked(key string, data []byte, ttl time.Duration) {
	if existing, exists := c.items[key]; exists {
		c.removeItem(existing)
	}

	for len(c.items) >= c.maxItems && c.lruList.Len() > 0 {
		oldest := c.lruList.Back()
		if oldest == nil {
			break
		}
		c.removeItem(oldest.Value.(*memoryItem))
		c.evictions++
	}

	item := &memoryItem{
		key:   key,
		value: make([]byte, len(data)),
		size:  int64(len(key) + len(data)),
	}
	copy(item.value, data)
	if ttl > 0 {
		item.expiry = time.Now().Add(ttl)
	}

	item.lruElement = c.lruList.PushFront(item)
	c.items[key] = item
	c.currentSize += item.size
}

// removeItem unlinks an item. Must be called with the lock held.
func (c *MemoryCache) removeItem(item *memoryItem) {
	if item.lruElement != nil {
		c.lruList.Remove(item.lruElement)
	}
	delete(c.items, item.key)
	c.currentSize -= item.size
}

func (i *memoryItem) expired(now time.Time) bool {
	return !i.expiry.IsZero() && now.After(i.expiry)
}

// MemoryStats is a point-in-time snapshot of in-memory cache counters.
type MemoryStats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Items     int     `json:"items"`
	Size      int64   `json:"size"`
	HitRate   float64 `json:"hit_rate"`
}

// Stats returns current counters.
func (c *MemoryCache) Stats() MemoryStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hitRate := float64(0)
	if total := c.hits + c.misses; total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return MemoryStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Items:     len(c.items),
		Size:      c.currentSize,
		HitRate:   hitRate,
	}
}

// Ping reports readiness. The in-memory store is always reachable; the
// method exists for parity with the Redis facade so health checks can
// treat both providers the same way.
func (c *MemoryCache) Ping(ctx context.Context) error {
	return ctx.Err()
}

// StartCleanup launches a background sweep of expired items.
func (c *MemoryCache) StartCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.cleanupExpired()
			case <-c.cleanupStop:
				return
			}
		}
	}()
}

// Close stops the cleanup sweep.
func (c *MemoryCache) Close() error {
	c.cleanupOnce.Do(func() {
		close(c.cleanupStop)
	})
	return nil
}

func (c *MemoryCache) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	toRemove := make([]*memoryItem, 0)
	for _, item := range c.items {
		if item.expired(now) {
			toRemove = append(toRemove, item)
		}
	}
	for _, item := range toRemove {
		c.removeItem(item)
	}

	if len(toRemove) > 0 {
		c.logger.Debug("removed expired cache items",
			zap.Int("count", len(toRemove)))
	}
}

// matchPattern implements the wildcard subset used by cache key patterns:
// a bare "*", a "*suffix", a "prefix*", or an exact match.
func matchPattern(str, pattern string) bool {
	if pattern == "*" {
		return true
	}

	if len(pattern) > 0 && pattern[0] == '*' {
		suffix := pattern[1:]
		return len(str) >= len(suffix) && str[len(str)-len(suffix):] == suffix
	}

	if len(pattern) > 0 && pattern[len(pattern)-1] == '*' {
		prefix := pattern[:len(pattern)-1]
		return len(str) >= len(prefix) && str[:len(prefix)] == prefix
	}

	return str == pattern
}
