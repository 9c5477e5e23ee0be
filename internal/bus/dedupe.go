package bus

import (
	"sync"
	"time"
)

// Deduper rejects re-deliveries of the same inbound message id within a
// TTL window. The single-process implementation below can be swapped for
// a shared external store without changing callers.
type Deduper interface {
	// IsDuplicate atomically checks and marks a key. Under concurrent
	// delivery of the same key, exactly one caller observes false.
	IsDuplicate(key string) bool
}

// DedupeCache is an in-memory TTL dedupe set.
// Entries are evicted lazily on lookup and by a stale-prune pass when
// the entry cap is reached, bounding growth under webhook retry storms.
// Safe for concurrent use.
type DedupeCache struct {
	mu      sync.Mutex
	entries map[string]time.Time // key → expiry
	ttl     time.Duration
	max     int

	now func() time.Time // test hook
}

// NewDedupeCache creates a dedupe cache with the given TTL and entry cap.
func NewDedupeCache(ttl time.Duration, max int) *DedupeCache {
	if max <= 0 {
		max = 5000
	}
	return &DedupeCache{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		max:     max,
		now:     time.Now,
	}
}

// IsDuplicate returns true if the key was seen within the TTL window,
// and marks it seen otherwise. Check-and-insert is atomic under the lock.
func (c *DedupeCache) IsDuplicate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if expiry, ok := c.entries[key]; ok {
		if now.Before(expiry) {
			return true
		}
		// Expired entry: fall through and re-arm below.
	}

	if len(c.entries) >= c.max {
		c.pruneLocked(now)
		// Hard eviction if still at cap (map iteration order is fine here).
		for len(c.entries) >= c.max {
			for k := range c.entries {
				delete(c.entries, k)
				break
			}
		}
	}

	c.entries[key] = now.Add(c.ttl)
	return false
}

// Len reports the number of tracked entries (expired ones included until pruned).
func (c *DedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *DedupeCache) pruneLocked(now time.Time) {
	for k, expiry := range c.entries {
		if !now.Before(expiry) {
			delete(c.entries, k)
		}
	}
}
