package rate

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchedule_Validation(t *testing.T) {
	tests := []struct {
		name     string
		rate     float64
		timeUnit time.Duration
		duration time.Duration
		wantErr  error
	}{
		{"valid", 10, time.Second, time.Second, nil},
		{"zero rate", 0, time.Second, time.Second, ErrInvalidRate},
		{"negative rate", -5, time.Second, time.Second, ErrInvalidRate},
		{"zero time unit", 10, 0, time.Second, ErrInvalidTimeUnit},
		{"zero duration", 10, time.Second, 0, ErrInvalidDuration},
		{"negative duration", 10, time.Second, -time.Second, ErrInvalidDuration},
		{"half an iteration", 0.5, time.Second, time.Second, ErrTooFewSlots},
		{"sub-slot duration", 1, time.Second, 500 * time.Millisecond, ErrTooFewSlots},
		{"overflowing slot count", 1e20, time.Second, time.Minute, ErrTooManySlots},
		{"exactly one iteration", 1, time.Minute, time.Minute, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSchedule(tt.rate, tt.timeUnit, tt.duration)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, s)
		})
	}
}

func TestSlotCount(t *testing.T) {
	n, err := SlotCount(10000, time.Second, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(600000), n)

	_, err = SlotCount(0.5, time.Second, time.Second)
	assert.ErrorIs(t, err, ErrTooFewSlots)

	_, err = SlotCount(math.MaxFloat64, time.Second, time.Second)
	assert.ErrorIs(t, err, ErrTooManySlots)
}

func TestSchedule_Len(t *testing.T) {
	tests := []struct {
		name     string
		rate     float64
		timeUnit time.Duration
		duration time.Duration
		want     int64
	}{
		{"10 per second for 1s", 10, time.Second, time.Second, 10},
		{"10k per second for 60s", 10000, time.Second, time.Minute, 600000},
		{"fractional rate", 2.5, time.Second, 2 * time.Second, 5},
		{"per minute time unit", 30, time.Minute, time.Minute, 30},
		{"partial last interval is dropped", 3, time.Second, 1500 * time.Millisecond, 4},
		{"awkward float rate", 0.1, time.Second, 30 * time.Second, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSchedule(tt.rate, tt.timeUnit, tt.duration)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Len())
		})
	}
}

func TestSchedule_OffsetsAreEvenlySpaced(t *testing.T) {
	s, err := NewSchedule(10, time.Second, time.Second)
	require.NoError(t, err)

	assert.Equal(t, 100*time.Millisecond, s.Interval())
	assert.InDelta(t, 10.0, s.PerSecond(), 1e-9)

	cursor := s.Iter("pricing")
	var offsets []time.Duration
	for {
		slot, ok := cursor.Next()
		if !ok {
			break
		}
		assert.Equal(t, "pricing", slot.Scenario)
		assert.Equal(t, int64(len(offsets)), slot.Index)
		offsets = append(offsets, slot.Offset)
	}

	require.Len(t, offsets, 10)
	for i, off := range offsets {
		assert.Equal(t, time.Duration(i)*100*time.Millisecond, off)
		assert.Less(t, off, s.Duration())
	}
}

func TestCursor_Independent(t *testing.T) {
	s, err := NewSchedule(4, time.Second, time.Second)
	require.NoError(t, err)

	a := s.Iter("a")
	b := s.Iter("b")

	_, _ = a.Next()
	_, _ = a.Next()

	slot, ok := b.Next()
	require.True(t, ok)
	assert.Equal(t, int64(0), slot.Index)
	assert.Equal(t, "b", slot.Scenario)

	slot, ok = a.Next()
	require.True(t, ok)
	assert.Equal(t, int64(2), slot.Index)

	_, _ = a.Next()
	_, ok = a.Next()
	assert.False(t, ok, "cursor is exhausted after Len slots")
}

func TestTicker_EmitsEverySlotInOrder(t *testing.T) {
	s, err := NewSchedule(100, time.Second, 2*time.Second)
	require.NoError(t, err)

	clock := newStepClock(time.Unix(0, 0))
	ticker := NewTicker("pricing", s, clock)

	var got []Slot
	err = ticker.Run(context.Background(), func(slot Slot) {
		got = append(got, slot)
	})
	require.NoError(t, err)

	require.Len(t, got, 200)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Offset, got[i-1].Offset, "slots must be strictly increasing")
	}

	stats := ticker.Stats()
	assert.Equal(t, int64(200), stats.Emitted)
	assert.Equal(t, int64(200), stats.Scheduled)
	assert.Equal(t, 1.0, ticker.Progress())
}

func TestTicker_SlowConsumerDoesNotShiftTimestamps(t *testing.T) {
	s, err := NewSchedule(10, time.Second, time.Second)
	require.NoError(t, err)

	start := time.Unix(1000, 0)
	clock := newStepClock(start)
	ticker := NewTicker("slow", s, clock)

	var emittedAt []time.Time
	err = ticker.Run(context.Background(), func(slot Slot) {
		emittedAt = append(emittedAt, clock.Now())
		// Consumer takes 250ms per slot, far slower than the 100ms interval.
		clock.Advance(250 * time.Millisecond)
	})
	require.NoError(t, err)

	// Every slot is still emitted; lateness is reported rather than absorbed.
	require.Len(t, emittedAt, 10)
	stats := ticker.Stats()
	assert.Equal(t, int64(10), stats.Emitted)
	assert.Greater(t, stats.MaxLag, time.Duration(0))

	// Total elapsed matches consumer throughput, not a stretched schedule.
	assert.Equal(t, start, emittedAt[0])
	assert.Equal(t, start.Add(9*250*time.Millisecond), emittedAt[9])
}

func TestTicker_RespectsContext(t *testing.T) {
	s, err := NewSchedule(1, time.Second, time.Hour)
	require.NoError(t, err)

	ticker := NewTicker("cancel", s, RealClock{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	count := 0
	err = ticker.Run(ctx, func(Slot) { count++ })
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, count, "only the slot at offset zero is due")
	assert.Less(t, elapsed, time.Second)
}

func TestTicker_RealClockPacing(t *testing.T) {
	s, err := NewSchedule(50, time.Second, 200*time.Millisecond)
	require.NoError(t, err)

	ticker := NewTicker("real", s, nil)

	start := time.Now()
	count := 0
	err = ticker.Run(context.Background(), func(Slot) { count++ })
	require.NoError(t, err)

	elapsed := time.Since(start)
	assert.Equal(t, 10, count)
	// Last slot is due at 180ms.
	assert.GreaterOrEqual(t, elapsed, 170*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}
