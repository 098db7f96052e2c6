package rate

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// slotEpsilon absorbs floating point error when computing the slot count,
// so that 10 iterations/s over 1s yields exactly 10 slots.
const slotEpsilon = 1e-9

var (
	// ErrInvalidRate is returned when the rate is not a positive number.
	ErrInvalidRate = errors.New("rate must be > 0")

	// ErrInvalidTimeUnit is returned when the time unit is not positive.
	ErrInvalidTimeUnit = errors.New("time unit must be > 0")

	// ErrInvalidDuration is returned when the duration is not positive.
	ErrInvalidDuration = errors.New("duration must be > 0")

	// ErrTooFewSlots is returned when rate × duration / timeUnit is below one
	// iteration, so the schedule would never issue anything.
	ErrTooFewSlots = errors.New("rate × duration yields no iterations")

	// ErrTooManySlots is returned when the slot count does not fit in an int64.
	ErrTooManySlots = errors.New("rate × duration yields too many iterations")
)

// Slot is a scheduled point in time at which one iteration must start.
type Slot struct {
	// Scenario is the name of the scenario the slot belongs to.
	Scenario string `json:"scenario"`

	// Index is the zero-based position of the slot in its schedule.
	Index int64 `json:"index"`

	// Offset is the due time relative to the scenario start.
	Offset time.Duration `json:"offset"`
}

// Due returns the absolute time the slot is due for a run started at start.
func (s Slot) Due(start time.Time) time.Time {
	return start.Add(s.Offset)
}

// Schedule is an immutable constant-arrival-rate timetable.
//
// Slots are spaced at timeUnit/rate starting at offset zero. Offsets are
// derived from the slot index rather than accumulated, so rounding errors
// never build up over long runs.
type Schedule struct {
	rate     float64
	timeUnit time.Duration
	duration time.Duration
	total    int64
}

// SlotCount returns floor(rate × duration / timeUnit), the number of slots a
// schedule with these parameters issues. The count must be at least one and
// fit in an int64.
func SlotCount(rate float64, timeUnit, duration time.Duration) (int64, error) {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidRate, rate)
	}
	if timeUnit <= 0 {
		return 0, fmt.Errorf("%w: got %s", ErrInvalidTimeUnit, timeUnit)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%w: got %s", ErrInvalidDuration, duration)
	}

	n := math.Floor(rate*float64(duration)/float64(timeUnit) + slotEpsilon)
	if n >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: %v per %s over %s", ErrTooManySlots, rate, timeUnit, duration)
	}
	if n < 1 {
		return 0, fmt.Errorf("%w: %v per %s over %s", ErrTooFewSlots, rate, timeUnit, duration)
	}
	return int64(n), nil
}

// NewSchedule creates a schedule issuing rate iterations per timeUnit for
// duration.
func NewSchedule(rate float64, timeUnit, duration time.Duration) (*Schedule, error) {
	total, err := SlotCount(rate, timeUnit, duration)
	if err != nil {
		return nil, err
	}

	return &Schedule{
		rate:     rate,
		timeUnit: timeUnit,
		duration: duration,
		total:    total,
	}, nil
}

// Len returns the number of slots in the schedule.
func (s *Schedule) Len() int64 {
	return s.total
}

// Rate returns the configured iterations per time unit.
func (s *Schedule) Rate() float64 {
	return s.rate
}

// PerSecond returns the rate normalized to iterations per second.
func (s *Schedule) PerSecond() float64 {
	return s.rate * float64(time.Second) / float64(s.timeUnit)
}

// Duration returns the scheduled duration.
func (s *Schedule) Duration() time.Duration {
	return s.duration
}

// Interval returns the nominal spacing between two slots.
func (s *Schedule) Interval() time.Duration {
	return time.Duration(float64(s.timeUnit) / s.rate)
}

// Offset returns the offset of slot i from the schedule start.
func (s *Schedule) Offset(i int64) time.Duration {
	return time.Duration(float64(i) * float64(s.timeUnit) / s.rate)
}

// Iter returns a fresh cursor over the schedule. Cursors are independent,
// so a schedule can be replayed any number of times.
func (s *Schedule) Iter(scenario string) *Cursor {
	return &Cursor{schedule: s, scenario: scenario}
}

// Cursor lazily walks a Schedule in increasing offset order.
//
// A Cursor is not safe for concurrent use; it is owned by the single
// goroutine driving the scenario.
type Cursor struct {
	schedule *Schedule
	scenario string
	next     int64
}

// Next returns the next slot, or false once the schedule is exhausted.
func (c *Cursor) Next() (Slot, bool) {
	if c.next >= c.schedule.total {
		return Slot{}, false
	}

	slot := Slot{
		Scenario: c.scenario,
		Index:    c.next,
		Offset:   c.schedule.Offset(c.next),
	}
	c.next++
	return slot, true
}
