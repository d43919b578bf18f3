package pipeline

import (
	"container/list"
	"sync"
	"time"
)

// DedupCache answers "have I seen this key recently?", bounded in both
// time and space.
//
// Contract:
//   - IsDuplicate sweeps expired entries, then checks membership; a miss
//     records the key and returns false.
//   - Expiration is lazy (on insertion attempts), not a background timer,
//     so staleness is bounded by one insertion cycle and the cache owns
//     no goroutines.
//   - Past maxEntries the oldest-inserted key is evicted. Entries are
//     rarely re-touched, so insertion order approximates LRU.
//
// The cache is advisory and in-memory only; it is cleared explicitly on
// gateway disconnect so a fresh session never has legitimate events
// suppressed by stale keys.
type DedupCache struct {
	mu         sync.Mutex
	seen       map[string]*cacheEntry
	order      *list.List // keys in insertion order, oldest at front
	window     time.Duration
	maxEntries int

	blocked uint64
	now     func() time.Time
}

type cacheEntry struct {
	at      time.Time
	element *list.Element
}

func NewDedupCache(window time.Duration, maxEntries int, now func() time.Time) *DedupCache {
	if window <= 0 {
		window = time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if now == nil {
		now = time.Now
	}
	return &DedupCache{
		seen:       make(map[string]*cacheEntry),
		order:      list.New(),
		window:     window,
		maxEntries: maxEntries,
		now:        now,
	}
}

// IsDuplicate reports whether key was already seen inside the window,
// recording it when not. Always succeeds; a miss means "not a duplicate".
func (c *DedupCache) IsDuplicate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweepLocked(now)

	if _, ok := c.seen[key]; ok {
		c.blocked++
		return true
	}

	if len(c.seen) >= c.maxEntries {
		c.evictOldestLocked()
	}
	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry{at: now, element: elem}
	return false
}

// sweepLocked drops entries older than the window. Entries are in
// insertion order, so it stops at the first young one.
func (c *DedupCache) sweepLocked(now time.Time) {
	for {
		front := c.order.Front()
		if front == nil {
			return
		}
		key, _ := front.Value.(string)
		entry := c.seen[key]
		if entry == nil {
			c.order.Remove(front)
			continue
		}
		if now.Sub(entry.at) < c.window {
			return
		}
		c.order.Remove(front)
		delete(c.seen, key)
	}
}

func (c *DedupCache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

// Len returns the number of tracked keys.
func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Blocked returns how many duplicates this cache has rejected since the
// last Clear.
func (c *DedupCache) Blocked() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocked
}

// Resize adjusts the window and capacity at runtime. Existing entries
// are kept; the new window applies from the next sweep, and excess
// entries are evicted oldest-first immediately.
func (c *DedupCache) Resize(window time.Duration, maxEntries int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if window > 0 {
		c.window = window
	}
	if maxEntries > 0 {
		c.maxEntries = maxEntries
		for len(c.seen) > c.maxEntries {
			c.evictOldestLocked()
		}
	}
}

// Clear drops all entries and resets counters.
func (c *DedupCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = make(map[string]*cacheEntry)
	c.order.Init()
	c.blocked = 0
}
