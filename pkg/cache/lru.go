// Package cache provides a size-bounded LRU with optional TTL and a
// fingerprint hasher for building cache keys from request contents.
package cache

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRU is a thread-safe least recently used cache. Entries older than the TTL
// are reported as misses and dropped on access. A zero TTL disables expiry.
type LRU[K comparable, V any] struct {
	cache *lru.Cache[K, entry[V]]
	ttl   time.Duration
	now   func() time.Time

	hits    atomic.Uint64
	misses  atomic.Uint64
	evicted atomic.Uint64
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Evicted uint64  `json:"evicted"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hit_rate"`
}

// New creates a cache holding at most size entries.
func New[K comparable, V any](size int, ttl time.Duration) (*LRU[K, V], error) {
	inner, err := lru.New[K, entry[V]](size)
	if err != nil {
		return nil, err
	}
	return &LRU[K, V]{cache: inner, ttl: ttl, now: time.Now}, nil
}

func (c *LRU[K, V]) Get(key K) (V, bool) {
	e, ok := c.cache.Get(key)
	if ok && c.ttl > 0 && c.now().After(e.expiresAt) {
		c.cache.Remove(key)
		ok = false
	}
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	c.hits.Add(1)
	return e.value, true
}

func (c *LRU[K, V]) Set(key K, value V) {
	e := entry[V]{value: value}
	if c.ttl > 0 {
		e.expiresAt = c.now().Add(c.ttl)
	}
	if c.cache.Add(key, e) {
		c.evicted.Add(1)
	}
}

func (c *LRU[K, V]) Delete(key K) {
	c.cache.Remove(key)
}

func (c *LRU[K, V]) Len() int {
	return c.cache.Len()
}

// Keys returns the keys from oldest to newest.
func (c *LRU[K, V]) Keys() []K {
	return c.cache.Keys()
}

// Purge removes every entry.
func (c *LRU[K, V]) Purge() {
	c.cache.Purge()
}

func (c *LRU[K, V]) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	s := Stats{Hits: hits, Misses: misses, Evicted: c.evicted.Load(), Size: c.cache.Len()}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}

// CleanupExpired drops every expired entry and returns how many it removed.
func (c *LRU[K, V]) CleanupExpired() int {
	if c.ttl == 0 {
		return 0
	}
	now := c.now()
	removed := 0
	for _, key := range c.cache.Keys() {
		if e, ok := c.cache.Peek(key); ok && now.After(e.expiresAt) {
			c.cache.Remove(key)
			removed++
		}
	}
	return removed
}
