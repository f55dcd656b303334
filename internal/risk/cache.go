package risk

import (
	"sync"
	"time"
)

type cacheEntry struct {
	result  Result
	expires time.Time
}

// Cache holds results until their TTL passes. Expired entries are ignored
// on read and removed by Sweep.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// Get returns the cached result for key when it is still fresh at now.
func (c *Cache) Get(key string, now time.Time) (Result, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !now.Before(entry.expires) {
		return Result{}, false
	}
	return entry.result, true
}

// Set stores result for key until expires, replacing any previous entry.
func (c *Cache) Set(key string, result Result, expires time.Time) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{result: result, expires: expires}
	c.mu.Unlock()
}

// Delete drops key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Sweep removes entries expired at now and returns how many were dropped.
func (c *Cache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if !now.Before(entry.expires) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
