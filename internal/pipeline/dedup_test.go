package pipeline

import (
	"fmt"
	"testing"
	"time"
)

// fakeClock lets tests advance time manually.
type fakeClock struct{ at time.Time }

func (c *fakeClock) now() time.Time { return c.at }

func (c *fakeClock) advance(d time.Duration) { c.at = c.at.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{at: time.UnixMilli(1_700_000_000_000)}
}

func TestDedupCacheBlocksRepeats(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	c := NewDedupCache(time.Minute, 100, clock.now)

	if c.IsDuplicate("k") {
		t.Fatal("first sighting must not be a duplicate")
	}
	for i := 0; i < 5; i++ {
		if !c.IsDuplicate("k") {
			t.Fatalf("repeat %d slipped through", i)
		}
	}
	if got := c.Blocked(); got != 5 {
		t.Fatalf("Blocked = %d, want 5", got)
	}
}

func TestDedupCacheWindowExpiry(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	c := NewDedupCache(time.Minute, 100, clock.now)

	c.IsDuplicate("k")
	clock.advance(59 * time.Second)
	if !c.IsDuplicate("k") {
		t.Fatal("key inside the window must be a duplicate")
	}
	clock.advance(61 * time.Second)
	if c.IsDuplicate("k") {
		t.Fatal("expired key must not be a duplicate")
	}
}

func TestDedupCacheMaxEntries(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	c := NewDedupCache(time.Hour, 3, clock.now)

	for i := 0; i < 4; i++ {
		c.IsDuplicate(fmt.Sprintf("k%d", i))
	}
	if got := c.Len(); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}
	// k0 was the oldest and must have been evicted.
	if c.IsDuplicate("k0") {
		t.Fatal("evicted key still reported as duplicate")
	}
	if !c.IsDuplicate("k3") {
		t.Fatal("young key lost")
	}
}

func TestDedupCacheClear(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	c := NewDedupCache(time.Minute, 100, clock.now)

	c.IsDuplicate("k")
	c.IsDuplicate("k")
	c.Clear()

	if got := c.Len(); got != 0 {
		t.Fatalf("Len after Clear = %d, want 0", got)
	}
	if got := c.Blocked(); got != 0 {
		t.Fatalf("Blocked after Clear = %d, want 0", got)
	}
	if c.IsDuplicate("k") {
		t.Fatal("key must be fresh after Clear")
	}
}

func TestDedupCacheResize(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	c := NewDedupCache(time.Hour, 10, clock.now)

	for i := 0; i < 10; i++ {
		c.IsDuplicate(fmt.Sprintf("k%d", i))
	}
	c.Resize(time.Hour, 4)
	if got := c.Len(); got != 4 {
		t.Fatalf("Len after shrink = %d, want 4", got)
	}
	// Oldest keys are gone, newest survive.
	if c.IsDuplicate("k0") {
		t.Fatal("oldest key survived shrink")
	}
	if !c.IsDuplicate("k9") {
		t.Fatal("newest key lost in shrink")
	}
}
