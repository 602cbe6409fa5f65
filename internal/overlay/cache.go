package overlay

import (
	"sync"
	"time"
)

// pointerEntry is one cached far pointer with its expiry.
type pointerEntry struct {
	handle    *NodeHandle
	expiresAt time.Time
}

// PointerCache holds the long-range ("far") pointers a node has learned
// from passing lookup traffic. Entries expire after a TTL and may also be
// removed explicitly when a peer is reported dead; both are how the cache
// goes stale between observations, which is exactly what the false-negative
// protocol corrects for during a lookup.
type PointerCache struct {
	mu      sync.RWMutex
	entries map[string]*pointerEntry // keyed by handle address
	ttl     time.Duration
}

// NewPointerCache creates a cache whose entries live for ttl.
func NewPointerCache(ttl time.Duration) *PointerCache {
	return &PointerCache{
		entries: make(map[string]*pointerEntry),
		ttl:     ttl,
	}
}

// Learn records a handle, refreshing its lifetime if already present.
func (c *PointerCache) Learn(h *NodeHandle) {
	if h.IsNil() {
		return
	}

	c.mu.Lock()
	c.entries[h.Address()] = &pointerEntry{
		handle:    h.Copy(),
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// LearnAll records every handle in the slice.
func (c *PointerCache) LearnAll(handles []*NodeHandle) {
	for _, h := range handles {
		c.Learn(h)
	}
}

// Remove drops a handle from the cache. Returns true if it was present.
func (c *PointerCache) Remove(h *NodeHandle) bool {
	if h.IsNil() {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[h.Address()]; !ok {
		return false
	}
	delete(c.entries, h.Address())
	return true
}

// Handles returns all non-expired cached pointers.
func (c *PointerCache) Handles() []*NodeHandle {
	now := time.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*NodeHandle, 0, len(c.entries))
	for _, e := range c.entries {
		if now.After(e.expiresAt) {
			continue
		}
		out = append(out, e.handle.Copy())
	}
	return out
}

// Len returns the number of non-expired entries.
func (c *PointerCache) Len() int {
	now := time.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	count := 0
	for _, e := range c.entries {
		if !now.After(e.expiresAt) {
			count++
		}
	}
	return count
}

// Purge removes expired entries and returns how many were dropped.
func (c *PointerCache) Purge() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for addr, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, addr)
			dropped++
		}
	}
	return dropped
}
