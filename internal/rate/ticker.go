package rate

import (
	"context"
	"sync/atomic"
	"time"
)

// Ticker replays a Schedule in real time.
//
// Each slot is emitted when start+offset is reached. The emit callback is
// expected to return quickly; if it does not, the following slots become
// overdue and are emitted back to back without being skipped or shifted.
type Ticker struct {
	scenario string
	schedule *Schedule
	clock    Clock

	startTime atomic.Int64 // unix nanos, 0 until Run starts
	emitted   atomic.Int64
	totalLag  atomic.Int64 // nanoseconds
	maxLag    atomic.Int64 // nanoseconds
}

// NewTicker creates a ticker for the given schedule. A nil clock means
// RealClock.
func NewTicker(scenario string, schedule *Schedule, clock Clock) *Ticker {
	if clock == nil {
		clock = RealClock{}
	}
	return &Ticker{
		scenario: scenario,
		schedule: schedule,
		clock:    clock,
	}
}

// Run emits every slot of the schedule in order and returns nil once the
// schedule is exhausted, or ctx.Err() if the context is cancelled first.
func (t *Ticker) Run(ctx context.Context, emit func(Slot)) error {
	start := t.clock.Now()
	t.startTime.Store(start.UnixNano())

	cursor := t.schedule.Iter(t.scenario)
	for {
		slot, ok := cursor.Next()
		if !ok {
			return nil
		}

		due := slot.Due(start)
		if wait := due.Sub(t.clock.Now()); wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.clock.After(wait):
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		if lag := t.clock.Now().Sub(due); lag > 0 {
			t.totalLag.Add(int64(lag))
			for {
				cur := t.maxLag.Load()
				if int64(lag) <= cur || t.maxLag.CompareAndSwap(cur, int64(lag)) {
					break
				}
			}
		}

		t.emitted.Add(1)
		emit(slot)
	}
}

// Progress returns the fraction of the schedule emitted so far (0.0 to 1.0).
func (t *Ticker) Progress() float64 {
	total := t.schedule.Len()
	if total == 0 {
		return 1.0
	}
	return float64(t.emitted.Load()) / float64(total)
}

// Stats returns statistics about the ticker's operation.
func (t *Ticker) Stats() TickerStats {
	var start time.Time
	if ns := t.startTime.Load(); ns != 0 {
		start = time.Unix(0, ns)
	}
	return TickerStats{
		StartTime: start,
		Scheduled: t.schedule.Len(),
		Emitted:   t.emitted.Load(),
		TotalLag:  time.Duration(t.totalLag.Load()),
		MaxLag:    time.Duration(t.maxLag.Load()),
	}
}

// TickerStats contains statistics about a ticker.
type TickerStats struct {
	StartTime time.Time     `json:"startTime"`
	Scheduled int64         `json:"scheduled"` // Slots in the schedule
	Emitted   int64         `json:"emitted"`   // Slots handed to the consumer
	TotalLag  time.Duration `json:"totalLag"`  // Sum of emission delays past due time
	MaxLag    time.Duration `json:"maxLag"`    // Worst single emission delay
}
