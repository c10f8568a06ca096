// Package cache provides a bounded, thread-safe in-memory cache keyed by
// video ID. When the cache is full, inserting a new key evicts the single
// entry with the oldest insertion timestamp.
package cache

import (
	"sync"
	"time"
)

// DefaultCapacity bounds the cache when no explicit capacity is given.
const DefaultCapacity = 50

type entry[V any] struct {
	value      V
	insertedAt time.Time
}

// Option is a functional option for configuring a Cache.
type Option[V any] func(*Cache[V])

// WithNow overrides the clock used for insertion timestamps.
func WithNow[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) {
		if now != nil {
			c.now = now
		}
	}
}

// Cache is a bounded map from string keys to values of type V. All
// operations hold one mutex; eviction scans for the oldest entry in O(n).
type Cache[V any] struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]entry[V]
	now      func() time.Time
}

// New returns a Cache holding at most capacity entries. A capacity of zero
// or less falls back to DefaultCapacity.
func New[V any](capacity int, opts ...Option[V]) *Cache[V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache[V]{
		capacity: capacity,
		entries:  make(map[string]entry[V], capacity),
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the value stored under key, if present. Lookups do not
// refresh the entry's insertion timestamp.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores value under key. Overwriting an existing key refreshes its
// insertion timestamp and never evicts; inserting a new key into a full
// cache first evicts the oldest entry.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOldest()
	}
	c.entries[key] = entry[V]{value: value, insertedAt: c.now()}
}

// Len returns the number of entries currently stored.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOldest removes the entry with the smallest insertion timestamp.
// Caller must hold c.mu.
func (c *Cache[V]) evictOldest() {
	var (
		oldestKey string
		oldestAt  time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.insertedAt.Before(oldestAt) {
			oldestKey, oldestAt, found = k, e.insertedAt, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}
