package rate

import "time"

// Clock is the timing source used by a Ticker.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock reads the wall clock.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time {
	return time.Now()
}

// After returns time.After(d).
func (RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
