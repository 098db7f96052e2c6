// Package rate computes issue timestamps for constant-arrival-rate scenarios.
//
// A Schedule is the pure arithmetic: given a rate, a time unit and a
// duration it yields a finite, ordered sequence of slot offsets spaced
// exactly timeUnit/rate apart. A Ticker replays a Schedule against a Clock
// and hands each slot to a callback when it becomes due.
//
// # Constant Arrival Rate
//
// The Ticker never waits on its consumer. Timestamps are anchored to the
// start instant, so if a consumer is slow the next slot is simply overdue
// and emitted immediately rather than pushed back. Backpressure therefore
// shows up downstream (as dropped iterations in the worker pool), never as
// a drift in the arrival rate.
//
// # Basic Usage
//
//	sched, err := rate.NewSchedule(100, time.Second, 30*time.Second)
//	if err != nil {
//	    return err
//	}
//
//	ticker := rate.NewTicker("checkout", sched, rate.RealClock{})
//	err = ticker.Run(ctx, func(slot rate.Slot) {
//	    pool.Dispatch(slot)
//	})
package rate
