package audit

import (
	"context"
	"net/url"
	"sync"
	"time"
)

// CacheKey identifies what a dedup cache entry suppresses.
type CacheKey struct {
	Scope  string
	Action Action
	Target string
}

// Path joins the key's parts with ':' for use in external key spaces. Each part
// is query-escaped so a ':' inside a part cannot collide with the separator.
func (k CacheKey) Path() string {
	return url.QueryEscape(k.Scope) + ":" + url.QueryEscape(string(k.Action)) + ":" + url.QueryEscape(k.Target)
}

// Cache remembers the timestamp of the last record matched per key.
type Cache interface {
	// Last returns the cached timestamp for key and whether one exists.
	Last(ctx context.Context, key CacheKey) (time.Time, bool, error)
	Store(ctx context.Context, key CacheKey, createdAt time.Time) error
}

// MemoryCache is an in-process Cache. It grows without bound unless the owner
// calls Prune or Reset.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[CacheKey]time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[CacheKey]time.Time)}
}

func (c *MemoryCache) Last(_ context.Context, key CacheKey) (time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.entries[key]
	return t, ok, nil
}

func (c *MemoryCache) Store(_ context.Context, key CacheKey, createdAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[CacheKey]time.Time)
	}
	c.entries[key] = createdAt
	return nil
}

// Prune drops entries whose record is older than before and returns how many
// were removed.
func (c *MemoryCache) Prune(before time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, t := range c.entries {
		if t.Before(before) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Reset empties the cache.
func (c *MemoryCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
