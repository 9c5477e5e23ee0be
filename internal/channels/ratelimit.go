package channels

import (
	"sync"
	"time"
)

const (
	// maxTrackedKeys caps tracked rate-limit keys so rotating sender ids
	// cannot exhaust memory.
	maxTrackedKeys = 4096

	// rateLimitWindow is the sliding window for per-sender counting.
	rateLimitWindow = 60 * time.Second

	// rateLimitMaxHits is the max inbound webhook messages per sender
	// within a window. Generous for humans, tight for loops.
	rateLimitMaxHits = 30
)

type rateLimitEntry struct {
	windowStart time.Time
	count       int
}

// WebhookRateLimiter bounds per-sender inbound message rates at the
// webhook surface, before any message reaches the dedup cache or the
// batching queue. Safe for concurrent use.
type WebhookRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateLimitEntry
}

// NewWebhookRateLimiter creates a bounded webhook rate limiter.
func NewWebhookRateLimiter() *WebhookRateLimiter {
	return &WebhookRateLimiter{entries: make(map[string]*rateLimitEntry)}
}

// Allow reports whether the sender is within rate limits. Stale entries
// are pruned lazily; a hard cap evicts when pruning is not enough.
func (r *WebhookRateLimiter) Allow(sender string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	if len(r.entries) >= maxTrackedKeys {
		for k, e := range r.entries {
			if now.Sub(e.windowStart) >= rateLimitWindow {
				delete(r.entries, k)
			}
		}
		for len(r.entries) >= maxTrackedKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[sender]
	if !ok || now.Sub(e.windowStart) >= rateLimitWindow {
		r.entries[sender] = &rateLimitEntry{windowStart: now, count: 1}
		return true
	}

	e.count++
	return e.count <= rateLimitMaxHits
}
