// Package cache provides the content-addressed, TTL-based result cache that
// short-circuits duplicate engine requests.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// entry is one stored value with its expiry bookkeeping.
type entry struct {
	value    any
	storedAt time.Time
	ttl      time.Duration
}

// ResultCache stores request results keyed by a deterministic fingerprint of
// the request inputs. Reads at or past storedAt+ttl behave as misses; expired
// entries are pruned lazily.
type ResultCache struct {
	mu      sync.Mutex
	entries map[string]entry
	maxSize int
}

// Options configures the cache.
type Options struct {
	// MaxSize bounds the number of live entries. Zero means unbounded.
	MaxSize int
}

// New creates an empty result cache.
func New(opts Options) *ResultCache {
	maxSize := opts.MaxSize
	if maxSize < 0 {
		maxSize = 0
	}
	return &ResultCache{
		entries: make(map[string]entry),
		maxSize: maxSize,
	}
}

// Key derives the cache key for an operation and its semantically relevant
// arguments. Two logically identical requests always map to the same key;
// distinct requests collide only with sha256 probability.
func Key(operation string, args ...any) string {
	h := sha256.New()
	h.Write([]byte(operation))
	for _, arg := range args {
		h.Write([]byte{0}) // argument separator
		// encoding/json sorts map keys, so marshalling is deterministic
		// for any given argument value.
		b, err := json.Marshal(arg)
		if err != nil {
			b = []byte(fmt.Sprintf("%v", arg))
		}
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached value for key, or a miss if absent or expired.
func (c *ResultCache) Get(key string) (any, bool) {
	return c.GetAt(key, time.Now())
}

// GetAt checks the cache with an explicit clock (for testing).
func (c *ResultCache) GetAt(key string, now time.Time) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	// A read at exactly storedAt+ttl is already stale.
	if !now.Before(e.storedAt.Add(e.ttl)) {
		delete(c.entries, key)
		return nil, false
	}

	return e.value, true
}

// Set stores value under key with the given ttl. A non-positive ttl stores
// nothing: the entry would be born expired.
func (c *ResultCache) Set(key string, value any, ttl time.Duration) {
	c.SetAt(key, value, ttl, time.Now())
}

// SetAt stores a value with an explicit clock (for testing).
func (c *ResultCache) SetAt(key string, value any, ttl time.Duration, now time.Time) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry{value: value, storedAt: now, ttl: ttl}
	c.prune(now)
}

// prune drops expired entries, then evicts oldest entries over MaxSize.
func (c *ResultCache) prune(now time.Time) {
	for key, e := range c.entries {
		if !now.Before(e.storedAt.Add(e.ttl)) {
			delete(c.entries, key)
		}
	}

	if c.maxSize <= 0 {
		return
	}

	for len(c.entries) > c.maxSize {
		var oldestKey string
		var oldestAt time.Time
		first := true
		for key, e := range c.entries {
			if first || e.storedAt.Before(oldestAt) {
				oldestKey = key
				oldestAt = e.storedAt
				first = false
			}
		}
		if oldestKey == "" {
			break
		}
		delete(c.entries, oldestKey)
	}
}

// Invalidate removes one entry.
func (c *ResultCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes all entries.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Size returns the current number of entries, expired ones included until the
// next read or write touches them.
func (c *ResultCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
