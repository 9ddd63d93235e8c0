package testutil

import (
	"sync"
	"time"
)

// FakeClock is a manually advanced wall clock for lease and cache-expiry tests.
//
// Unlike clock.System, FakeClock only moves when Advance or Set is called,
// so TTL boundaries can be crossed deterministically.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// fakeEpoch is the default start time; any fixed instant works.
var fakeEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// NewFakeClock creates a clock starting at a fixed instant.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: fakeEpoch}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
// Negative durations are ignored: the clock never goes backwards.
func (c *FakeClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to t. Used to simulate drift between nodes.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Reset returns the clock to its starting instant.
func (c *FakeClock) Reset() {
	c.Set(fakeEpoch)
}
