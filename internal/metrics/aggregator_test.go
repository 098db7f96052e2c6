package metrics

import (
	"io"
	"math/rand"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(scenario string, d time.Duration) Sample {
	return Sample{
		Scenario:   scenario,
		Name:       "GET /price",
		Start:      time.Now(),
		Duration:   d,
		StatusCode: 200,
		Success:    true,
		Bytes:      64,
		Checks: []CheckOutcome{
			{Name: "status is 200", Passed: true},
			{Name: "latency < 100ms", Passed: d < 100*time.Millisecond},
		},
	}
}

func TestAggregator_RecordBasics(t *testing.T) {
	agg := NewAggregator()

	agg.Record(ok("pricing", 10*time.Millisecond))
	agg.Record(ok("pricing", 20*time.Millisecond))
	agg.Record(Sample{Scenario: "pricing", Duration: 2 * time.Second, Err: true, Checks: []CheckOutcome{{Name: "status is 200"}}})
	agg.RecordIssued("pricing")
	agg.RecordDropped("pricing")

	snap := agg.Snapshot()
	s, found := snap.Get("pricing")
	require.True(t, found)

	assert.Equal(t, int64(3), s.Requests)
	assert.Equal(t, int64(2), s.Successes)
	assert.Equal(t, int64(1), s.Errors)
	assert.Equal(t, int64(1), s.TransportErrors)
	assert.Equal(t, int64(1), s.HTTPFailures)
	assert.InDelta(t, 1.0/3.0, s.ErrorRate, 1e-9)
	assert.Equal(t, int64(1), s.Issued)
	assert.Equal(t, int64(1), s.Dropped)
	assert.Equal(t, int64(128), s.Bytes)
	assert.Equal(t, []int{0, 200}, s.StatusCodeList())

	require.Len(t, s.Checks, 2)
	assert.Equal(t, "status is 200", s.Checks[0].Name)
	assert.Equal(t, int64(2), s.Checks[0].Passes)
	assert.Equal(t, int64(1), s.Checks[0].Fails)
	assert.Equal(t, "latency < 100ms", s.Checks[1].Name)

	assert.Equal(t, int64(3), s.Latency.Count)
	assert.InDelta(t, float64(10*time.Millisecond), float64(s.Latency.Min), float64(50*time.Microsecond))
	assert.InDelta(t, float64(2*time.Second), float64(s.Latency.Max), float64(5*time.Millisecond))
}

func TestAggregator_ErrorRateEdges(t *testing.T) {
	t.Run("all successes", func(t *testing.T) {
		agg := NewAggregator()
		for i := 0; i < 50; i++ {
			agg.Record(ok("s", time.Millisecond))
		}
		s := agg.Snapshot().Scenarios["s"]
		assert.Equal(t, 0.0, s.ErrorRate)
		assert.Equal(t, 0.0, s.HTTPFailedRate)
	})

	t.Run("all timeouts", func(t *testing.T) {
		agg := NewAggregator()
		for i := 0; i < 50; i++ {
			agg.Record(Sample{Scenario: "s", Duration: 2 * time.Second, Err: true})
		}
		s := agg.Snapshot().Scenarios["s"]
		assert.Equal(t, 1.0, s.ErrorRate)
		assert.Equal(t, 1.0, s.HTTPFailedRate)
	})

	t.Run("empty series", func(t *testing.T) {
		agg := NewAggregator()
		agg.RecordIssued("s")
		s := agg.Snapshot().Scenarios["s"]
		assert.Equal(t, int64(0), s.Requests)
		assert.Equal(t, 0.0, s.ErrorRate)
		assert.Equal(t, time.Duration(0), s.Percentile(95))
	})
}

func TestAggregator_ConcurrentWritersLoseNothing(t *testing.T) {
	agg := NewAggregator()

	const writers = 32
	const perWriter = 500

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			scenario := "a"
			if w%2 == 1 {
				scenario = "b"
			}
			for i := 0; i < perWriter; i++ {
				agg.RecordIssued(scenario)
				agg.Record(ok(scenario, time.Duration(i+1)*time.Microsecond))
			}
		}(w)
	}

	// Snapshots taken mid-flight must never tear.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			snap := agg.Snapshot()
			for _, s := range snap.Scenarios {
				assert.Equal(t, s.Requests, s.Latency.Count)
			}
		}
	}()

	wg.Wait()
	<-done

	snap := agg.Snapshot()
	assert.Equal(t, int64(writers/2*perWriter), snap.Scenarios["a"].Requests)
	assert.Equal(t, int64(writers/2*perWriter), snap.Scenarios["b"].Requests)
	assert.Equal(t, int64(writers*perWriter), snap.Total.Requests)
	assert.Equal(t, int64(writers*perWriter), snap.Total.Issued)
	assert.Equal(t, int64(writers*perWriter), snap.Total.Latency.Count)
}

func TestSeries_PercentilesIgnoreInsertionOrder(t *testing.T) {
	values := make([]time.Duration, 1000)
	for i := range values {
		values[i] = time.Duration(i+1) * 137 * time.Microsecond
	}

	reference := NewAggregator()
	for _, v := range values {
		reference.Record(ok("p", v))
	}
	want := reference.Snapshot().Scenarios["p"]

	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 5; round++ {
		shuffled := append([]time.Duration(nil), values...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		agg := NewAggregator()
		for _, v := range shuffled {
			agg.Record(ok("p", v))
		}
		got := agg.Snapshot().Scenarios["p"]

		for _, q := range []float64{50, 90, 95, 99, 100} {
			assert.Equal(t, want.Percentile(q), got.Percentile(q), "q=%v round=%d", q, round)
		}
		assert.Equal(t, want.Latency, got.Latency)
	}
}

func TestSeries_MergeIsAssociative(t *testing.T) {
	build := func(name string, from, to int) *Series {
		s := NewSeries(name)
		for i := from; i < to; i++ {
			smp := ok(name, time.Duration(i)*time.Millisecond)
			if i%7 == 0 {
				smp.Success = false
				smp.StatusCode = 500
			}
			s.record(smp)
		}
		s.issued = int64(to - from)
		return s
	}

	// (a+b)+c
	left := build("x", 1, 100)
	left.Merge(build("x", 100, 250))
	left.Merge(build("x", 250, 400))

	// a+(b+c)
	bc := build("x", 100, 250)
	bc.Merge(build("x", 250, 400))
	right := build("x", 1, 100)
	right.Merge(bc)

	// all at once
	whole := build("x", 1, 400)

	ls, rs, ws := left.snapshotLocked(), right.snapshotLocked(), whole.snapshotLocked()

	for _, s := range []SeriesSnapshot{ls, rs} {
		assert.Equal(t, ws.Requests, s.Requests)
		assert.Equal(t, ws.Errors, s.Errors)
		assert.Equal(t, ws.Issued, s.Issued)
		assert.Equal(t, ws.StatusCodes, s.StatusCodes)
		assert.Equal(t, ws.Checks, s.Checks)
		assert.Equal(t, ws.Latency, s.Latency)
		assert.Equal(t, ws.Percentile(99), s.Percentile(99))
	}
}

func TestSeries_MergeSelfIsNoop(t *testing.T) {
	s := NewSeries("x")
	s.record(ok("x", time.Millisecond))
	s.Merge(s)
	s.Merge(nil)
	assert.Equal(t, int64(1), s.snapshotLocked().Requests)
}

func TestAggregator_Merge(t *testing.T) {
	a := NewAggregator()
	b := NewAggregator()
	a.Record(ok("pricing", time.Millisecond))
	b.Record(ok("pricing", 2*time.Millisecond))
	b.Record(ok("driver", 3*time.Millisecond))
	b.RecordDropped("driver")

	a.Merge(b)

	snap := a.Snapshot()
	assert.Equal(t, []string{"driver", "pricing"}, snap.Names())
	assert.Equal(t, int64(2), snap.Scenarios["pricing"].Requests)
	assert.Equal(t, int64(1), snap.Scenarios["driver"].Dropped)
	assert.Equal(t, int64(3), snap.Total.Requests)
}

func TestSnapshot_IsDetached(t *testing.T) {
	agg := NewAggregator()
	agg.Record(ok("p", 5*time.Millisecond))

	snap := agg.Snapshot()
	before := snap.Scenarios["p"].Percentile(50)

	for i := 0; i < 100; i++ {
		agg.Record(ok("p", time.Second))
	}

	assert.Equal(t, int64(1), snap.Scenarios["p"].Requests)
	assert.Equal(t, before, snap.Scenarios["p"].Percentile(50))
	assert.NotEmpty(t, snap.Scenarios["p"].Distribution)
}

func TestSeries_ClampsOutOfRangeValues(t *testing.T) {
	agg := NewAggregator()
	agg.Record(ok("c", 0))
	agg.Record(ok("c", 2*time.Hour))

	s := agg.Snapshot().Scenarios["c"]
	assert.Equal(t, int64(2), s.Latency.Count)
	assert.Equal(t, time.Microsecond, s.Latency.Min)
	assert.LessOrEqual(t, s.Latency.Max, time.Hour+time.Hour/100)
}

func TestPrometheusObserver_Exposition(t *testing.T) {
	obs := NewPrometheusObserver()
	agg := NewAggregator()
	agg.SetObserver(obs)

	agg.RecordIssued("pricing_load")
	agg.Record(ok("pricing_load", 15*time.Millisecond))
	agg.RecordDropped("pricing_load")

	srv := httptest.NewServer(obs.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)

	assert.True(t, strings.Contains(text, `surgeload_http_reqs_total{scenario="pricing_load",status="200"} 1`), text)
	assert.Contains(t, text, `surgeload_dropped_iterations_total{scenario="pricing_load"} 1`)
	assert.Contains(t, text, `surgeload_iterations_issued_total{scenario="pricing_load"} 1`)
	assert.Contains(t, text, `surgeload_checks_total{check="status is 200",result="pass",scenario="pricing_load"} 1`)
	assert.Contains(t, text, "surgeload_http_req_duration_seconds_bucket")
}

func TestCombine_MatchesTotal(t *testing.T) {
	agg := NewAggregator()
	for i := 1; i <= 50; i++ {
		agg.Record(ok("pricing", time.Duration(i)*time.Millisecond))
		agg.Record(ok("driver", time.Duration(i)*2*time.Millisecond))
	}
	agg.RecordDropped("driver")

	snap := agg.Snapshot()
	pricing, _ := snap.Get("pricing")
	driver, _ := snap.Get("driver")

	combined := Combine("tagged", pricing, driver)
	assert.Equal(t, "tagged", combined.Name)
	assert.Equal(t, snap.Total.Requests, combined.Requests)
	assert.Equal(t, snap.Total.Dropped, combined.Dropped)
	assert.Equal(t, snap.Total.Latency, combined.Latency)
	assert.Equal(t, snap.Total.Percentile(99), combined.Percentile(99))
	require.Len(t, combined.Checks, 2)
	assert.Equal(t, int64(100), combined.Checks[0].Passes)

	empty := Combine("none")
	assert.Equal(t, int64(0), empty.Requests)
	assert.Equal(t, time.Duration(0), empty.Percentile(95))
}
