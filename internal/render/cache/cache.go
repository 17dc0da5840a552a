// Package cache memoizes completed captures for a freshness window.
package cache

import (
	"sync"
	"time"

	"github.com/pagelens/pagelens/internal/render"
)

type entry struct {
	bytes       []byte
	contentType string
	expiresAt   time.Time
}

// Cache is a TTL-bounded map keyed by request fingerprint. There is no
// background sweeper; expired entries are dropped on access and Len runs a
// full sweep before counting.
type Cache struct {
	ttl   time.Duration
	clock render.Clock

	mu      sync.Mutex
	entries map[string]entry
}

// New constructs a Cache. With a non-positive ttl entries expire
// immediately, which effectively disables reuse.
func New(ttl time.Duration, clock render.Clock) *Cache {
	return &Cache{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]entry),
	}
}

// Get returns the cached bytes and content type when the entry is still
// fresh. An expired entry is evicted as a side effect.
func (c *Cache) Get(key string) ([]byte, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, "", false
	}
	if !c.clock.Now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, "", false
	}
	return e.bytes, e.contentType, true
}

// Set stores the value with now+ttl as expiry, replacing any prior entry.
func (c *Cache) Set(key string, bytes []byte, contentType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{
		bytes:       bytes,
		contentType: contentType,
		expiresAt:   c.clock.Now().Add(c.ttl),
	}
}

// Len sweeps expired entries and reports the live count. Observability
// only; eviction correctness never depends on it.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
		}
	}
	return len(c.entries)
}

// Clear drops everything unconditionally.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Stats reports the live entry count and configured TTL.
func (c *Cache) Stats() render.CacheStats {
	return render.CacheStats{
		LiveEntryCount: c.Len(),
		TTLSeconds:     c.ttl.Seconds(),
	}
}
