// Package idem provides the idempotency cache behind orders.place. The first
// request for a key runs its mutation and the encoded result is cached; every
// later request with the same key gets the identical bytes back. Concurrent
// requests for one key are collapsed so the mutation runs exactly once.
package idem

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a completed result stays replayable.
const DefaultTTL = 300 * time.Second

// Cache runs a mutation at most once per key within the TTL.
type Cache interface {
	// Do returns the result for key, running fn only if no result exists
	// yet. The second return is true when the result came from the cache.
	Do(ctx context.Context, key string, fn func() ([]byte, error)) ([]byte, bool, error)
	Close() error
}

type memEntry struct {
	done    chan struct{}
	payload []byte
	err     error
	expires time.Time
}

// MemoryCache is the in-process implementation. In-flight keys are
// represented by an entry whose done channel is still open; followers block
// on it instead of re-running the mutation.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	ttl     time.Duration
}

// NewMemoryCache creates a memory cache with the given result TTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{entries: make(map[string]*memEntry), ttl: ttl}
}

// Do implements Cache.
func (c *MemoryCache) Do(ctx context.Context, key string, fn func() ([]byte, error)) ([]byte, bool, error) {
	c.mu.Lock()
	now := time.Now()
	for k, e := range c.entries {
		if !e.expires.IsZero() && now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		select {
		case <-e.done:
			return e.payload, true, e.err
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
	e := &memEntry{done: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	e.payload, e.err = fn()

	c.mu.Lock()
	if e.err != nil {
		// Failures are not cached; the next attempt retries the mutation.
		delete(c.entries, key)
	} else {
		e.expires = time.Now().Add(c.ttl)
	}
	c.mu.Unlock()
	close(e.done)

	return e.payload, false, e.err
}

// Close implements Cache.
func (c *MemoryCache) Close() error { return nil }
