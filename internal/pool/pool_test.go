package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wesleyorama2/surgeload/internal/rate"
)

func slot(i int64) rate.Slot {
	return rate.Slot{Scenario: "test", Index: i}
}

func TestConfig_Normalize(t *testing.T) {
	tests := []struct {
		name string
		in   Config
		want Config
	}{
		{"defaults", Config{}, Config{PreAllocated: 1, Max: 1}},
		{"max raised to preallocated", Config{PreAllocated: 10, Max: 5}, Config{PreAllocated: 10, Max: 10}},
		{"unchanged", Config{PreAllocated: 500, Max: 1000}, Config{PreAllocated: 500, Max: 1000}},
		{"negative preallocated", Config{PreAllocated: -3, Max: 4}, Config{PreAllocated: 1, Max: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Normalize())
		})
	}
}

func TestPool_PreAllocatesWorkers(t *testing.T) {
	p := New(context.Background(), Config{Name: "pre", PreAllocated: 5, Max: 10}, func(context.Context, rate.Slot) error {
		return nil
	}, Hooks{}, zaptest.NewLogger(t))
	defer p.Close(time.Second)

	stats := p.Stats()
	assert.Equal(t, 5, stats.Workers)
	assert.Equal(t, 0, stats.Busy)
	assert.Equal(t, int64(0), stats.Completed)
	assert.True(t, stats.LastStart.IsZero())
}

func TestPool_DispatchRunsEverySlot(t *testing.T) {
	var ran atomic.Int64
	p := New(context.Background(), Config{PreAllocated: 4, Max: 8}, func(context.Context, rate.Slot) error {
		ran.Add(1)
		return nil
	}, Hooks{}, zaptest.NewLogger(t))

	accepted := 0
	for i := int64(0); i < 100; i++ {
		if p.Dispatch(slot(i)) {
			accepted++
		}
		// Give workers time to come back so nothing is dropped.
		time.Sleep(200 * time.Microsecond)
	}

	assert.Equal(t, 0, p.Close(time.Second))

	stats := p.Stats()
	assert.Equal(t, int64(accepted), ran.Load())
	assert.Equal(t, int64(100), stats.Dispatched+stats.Dropped)
	assert.Equal(t, int64(accepted), stats.Dispatched)
	assert.Equal(t, int64(accepted), stats.Completed)
	assert.LessOrEqual(t, stats.Workers, 8)
	assert.False(t, stats.LastStart.IsZero())
}

func TestPool_DropsWhenSaturated(t *testing.T) {
	release := make(chan struct{})
	var dropped []int64
	var mu sync.Mutex

	p := New(context.Background(), Config{PreAllocated: 1, Max: 2}, func(ctx context.Context, _ rate.Slot) error {
		<-release
		return nil
	}, Hooks{
		OnDrop: func(s rate.Slot) {
			mu.Lock()
			dropped = append(dropped, s.Index)
			mu.Unlock()
		},
	}, zaptest.NewLogger(t))

	assert.True(t, p.Dispatch(slot(0)))  // preallocated worker
	assert.True(t, p.Dispatch(slot(1)))  // spawned up to Max
	assert.False(t, p.Dispatch(slot(2))) // dropped, not queued
	assert.False(t, p.Dispatch(slot(3)))

	stats := p.Stats()
	assert.Equal(t, 2, stats.Workers)
	assert.Equal(t, 2, stats.Busy)
	assert.Equal(t, 2, stats.Peak)
	assert.Equal(t, int64(2), stats.Dropped)

	close(release)
	assert.Equal(t, 0, p.Close(time.Second))

	mu.Lock()
	assert.Equal(t, []int64{2, 3}, dropped)
	mu.Unlock()
}

func TestPool_WorkerReusedAfterCompletion(t *testing.T) {
	done := make(chan struct{}, 1)
	p := New(context.Background(), Config{PreAllocated: 1, Max: 1}, func(context.Context, rate.Slot) error {
		done <- struct{}{}
		return nil
	}, Hooks{}, zaptest.NewLogger(t))
	defer p.Close(time.Second)

	for i := int64(0); i < 200; i++ {
		require.True(t, p.Dispatch(slot(i)), "slot %d dropped", i)
		<-done
		// Once Busy reads zero the single worker must already be idle.
		require.Eventually(t, func() bool { return p.Stats().Busy == 0 }, time.Second, 50*time.Microsecond)
	}

	stats := p.Stats()
	assert.Equal(t, 1, stats.Workers)
	assert.Equal(t, int64(0), stats.Dropped)
	assert.Equal(t, int64(200), stats.Dispatched)
}

func TestPool_RecoversPanicsAndErrors(t *testing.T) {
	var errs []error
	var mu sync.Mutex

	p := New(context.Background(), Config{PreAllocated: 2, Max: 2}, func(_ context.Context, s rate.Slot) error {
		if s.Index == 0 {
			panic("boom")
		}
		return errors.New("request failed")
	}, Hooks{
		OnError: func(_ rate.Slot, err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		},
	}, zaptest.NewLogger(t))

	require.True(t, p.Dispatch(slot(0)))
	require.True(t, p.Dispatch(slot(1)))
	assert.Equal(t, 0, p.Close(time.Second))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, errs, 2)
	assert.Equal(t, int64(2), p.Stats().Failed)

	var sawPanic bool
	for _, err := range errs {
		if err.Error() != "request failed" {
			sawPanic = true
			assert.Contains(t, err.Error(), "panicked")
		}
	}
	assert.True(t, sawPanic)
}

func TestPool_CloseRejectsNewSlots(t *testing.T) {
	p := New(context.Background(), Config{PreAllocated: 1}, func(context.Context, rate.Slot) error {
		return nil
	}, Hooks{}, zaptest.NewLogger(t))

	assert.Equal(t, 0, p.Close(time.Second))
	assert.False(t, p.Dispatch(slot(0)))
	assert.Equal(t, int64(1), p.Stats().Dropped)

	// Second close is a no-op.
	assert.Equal(t, 0, p.Close(time.Second))
}

func TestPool_CloseCancelsStragglers(t *testing.T) {
	started := make(chan struct{})
	var cancelled atomic.Bool

	p := New(context.Background(), Config{PreAllocated: 1}, func(ctx context.Context, _ rate.Slot) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}, Hooks{}, zaptest.NewLogger(t))

	require.True(t, p.Dispatch(slot(0)))
	<-started

	start := time.Now()
	stragglers := p.Close(50 * time.Millisecond)

	assert.Equal(t, 1, stragglers)
	assert.True(t, cancelled.Load())
	assert.Less(t, time.Since(start), time.Second)
}

func TestPool_ParentCancellationDoesNotAbortWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan error, 1)

	p := New(ctx, Config{PreAllocated: 1}, func(wctx context.Context, _ rate.Slot) error {
		time.Sleep(20 * time.Millisecond)
		finished <- wctx.Err()
		return nil
	}, Hooks{}, zaptest.NewLogger(t))

	require.True(t, p.Dispatch(slot(0)))
	cancel()

	assert.Equal(t, 0, p.Close(time.Second))
	assert.NoError(t, <-finished)
}

func TestWorkerState_Transitions(t *testing.T) {
	w := newWorker(0)
	assert.Equal(t, WorkerIdle, w.State())

	require.True(t, w.begin())
	assert.Equal(t, WorkerRunning, w.State())
	assert.False(t, w.begin(), "a running worker cannot take a second slot")

	w.requestStop()
	assert.Equal(t, WorkerStopping, w.State())
	assert.False(t, w.finish())
	assert.Equal(t, WorkerStopped, w.State())
	assert.Equal(t, int64(1), w.Iterations())
	assert.Equal(t, "stopped", w.State().String())
}
