package cache

import (
	"strings"
	"sync"
	"time"

	"keyfs/internal/storage"
)

// AttrCache caches backend attributes by storage key with TTL-based
// expiration.
//
// Thread-safe: Uses RWMutex for concurrent access.
type AttrCache struct {
	mu      sync.RWMutex
	entries map[string]*attrEntry
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	hits   int64
	misses int64
}

type attrEntry struct {
	attrs   storage.Attributes
	expires time.Time
}

// NewAttrCache creates a new attribute cache.
// ttl: Time-to-live for cached entries (use 0 for no expiration)
// maxSize: Maximum number of entries (use 0 for unlimited)
func NewAttrCache(ttl time.Duration, maxSize int) *AttrCache {
	return &AttrCache{
		entries: make(map[string]*attrEntry, 256),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get retrieves cached attributes for a key.
// Misses when absent, expired, or caching is disabled (KEYFS_CACHE=0).
func (c *AttrCache) Get(key string) (storage.Attributes, bool) {
	if Disabled {
		return storage.Attributes{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || (c.ttl > 0 && c.now().After(entry.expires)) {
		c.misses++
		return storage.Attributes{}, false
	}
	c.hits++
	return entry.attrs, true
}

// Set stores attributes for a key. No-op if caching is disabled.
func (c *AttrCache) Set(key string, attrs storage.Attributes) {
	if Disabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		// At capacity: only refresh existing entries.
		if _, exists := c.entries[key]; !exists {
			return
		}
	}

	expires := time.Time{}
	if c.ttl > 0 {
		expires = c.now().Add(c.ttl)
	}
	c.entries[key] = &attrEntry{attrs: attrs, expires: expires}
}

// Invalidate clears all entries from the cache.
func (c *AttrCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) > 0 {
		c.entries = make(map[string]*attrEntry, 256)
	}
}

// InvalidatePath removes a specific key from the cache.
func (c *AttrCache) InvalidatePath(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

// InvalidatePrefix removes all keys with the given prefix.
func (c *AttrCache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

// Size returns the current number of entries in the cache.
func (c *AttrCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// AttrCacheStats is a snapshot of cache counters.
type AttrCacheStats struct {
	Size    int
	MaxSize int
	TTL     time.Duration
	Hits    int64
	Misses  int64
}

// Stats returns current cache statistics.
func (c *AttrCache) Stats() AttrCacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return AttrCacheStats{
		Size:    len(c.entries),
		MaxSize: c.maxSize,
		TTL:     c.ttl,
		Hits:    c.hits,
		Misses:  c.misses,
	}
}
