package testutil

import (
	"sync"
	"time"
)

// Epoch is the first instant returned by a fresh DeterministicClock.
var Epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// DeterministicClock is a thread-safe wall clock for tests. Each call to Now
// advances by Step, so journal timestamps are reproducible and strictly
// increasing.
type DeterministicClock struct {
	mu   sync.Mutex
	now  time.Time
	Step time.Duration
}

// NewDeterministicClock creates a clock starting at Epoch with a one-second step.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{now: Epoch, Step: time.Second}
}

// Now returns the current instant and advances the clock.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.Step)
	return t
}

// Peek returns the next instant without advancing.
func (c *DeterministicClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Reset rewinds the clock to Epoch.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = Epoch
}
