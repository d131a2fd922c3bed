// Package dupcache implements the fixed-capacity, insertion-ordered
// duplicate cache of spec.md §4.6: an {key -> value} map that evicts
// its oldest entry once full.
package dupcache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// Cache is a fixed-capacity ordered map with FIFO eviction, per
// spec.md §4.6. The zero value is not usable; construct with New.
//
// golang-lru v0.5.4's Cache.Add reports whether an insert triggered
// an eviction, not whether the key was newly inserted — the opposite
// of what Add needs to return here — so Cache tracks key presence
// itself in a side set rather than trusting the library's bool.
type Cache struct {
	mu       sync.Mutex
	inner    *lru.Cache
	present  map[interface{}]struct{}
	onEvict  func(key interface{})
	removing bool // true while an explicit Remove's delegate call is in flight.
}

// New constructs a Cache holding at most capacity entries.
// onEvicted, if non-nil, fires synchronously whenever an insertion
// evicts the oldest entry. It does not fire for an explicit Remove,
// matching spec.md §4.6's "evicts the oldest" wording: golang-lru's
// removeElement invokes its onEvict callback for any removal path,
// explicit Remove included, so Cache suppresses the forwarded call
// while servicing Remove.
func New(capacity int, onEvicted func(key interface{})) *Cache {
	c := &Cache{present: make(map[interface{}]struct{}), onEvict: onEvicted}
	c.inner, _ = lru.NewWithEvict(capacity, func(key, _ interface{}) {
		delete(c.present, key)
		if !c.removing && c.onEvict != nil {
			c.onEvict(key)
		}
	})
	return c
}

// Add records key -> value, replacing any prior entry for key and
// moving it to the front of the FIFO order; if the cache was already
// full, the oldest entry is evicted first, firing onEvicted. Add
// returns true iff key was not already present.
func (c *Cache) Add(key, value interface{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, existed := c.present[key]
	c.present[key] = struct{}{}
	c.inner.Add(key, value)
	return !existed
}

// Get returns key's value and whether it is present.
func (c *Cache) Get(key interface{}) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Peek(key)
}

// IsDuplicate reports whether key is already present, without
// affecting its recency.
func (c *Cache) IsDuplicate(key interface{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Contains(key)
}

// Remove deletes key, firing no eviction callback (onEvicted fires
// only for capacity-driven eviction, per spec.md §4.6).
func (c *Cache) Remove(key interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.present, key)
	c.removing = true
	c.inner.Remove(key)
	c.removing = false
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Len()
}
