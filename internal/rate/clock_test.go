package rate

import (
	"sync"
	"time"
)

// stepClock is a virtual clock that jumps forward whenever it is asked to
// wait. It lets schedules be replayed instantly and deterministically.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

// newStepClock creates a stepClock positioned at start.
func newStepClock(start time.Time) *stepClock {
	return &stepClock{now: start}
}

// Now returns the current virtual time.
func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After advances the virtual time by d and returns an already-fired channel.
func (c *stepClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// Advance moves the virtual time forward by d.
func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
