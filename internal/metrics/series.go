package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Histogram bounds in microseconds: 1µs to 1 hour, 3 significant figures.
const (
	histogramMin     = 1
	histogramMax     = 3600000000
	histogramSigFigs = 3
)

func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(histogramMin, histogramMax, histogramSigFigs)
}

// Series holds the running statistics of one scenario.
//
// All fields are guarded by mu; a Record either lands entirely before or
// entirely after any Snapshot of the same series.
type Series struct {
	name string

	mu sync.Mutex

	// NOTE: HDR histogram RecordValue is NOT thread-safe, so we must hold mu.
	latency *hdrhistogram.Histogram

	requests        int64
	successes       int64
	httpFailures    int64
	transportErrors int64
	bytes           int64
	issued          int64
	dropped         int64

	statusCodes map[int]int64
	checks      map[string]*checkCounter
	checkOrder  []string

	firstStart time.Time
	lastEnd    time.Time
}

type checkCounter struct {
	passes int64
	fails  int64
}

// NewSeries creates an empty series.
func NewSeries(name string) *Series {
	return &Series{
		name:        name,
		latency:     newHistogram(),
		statusCodes: make(map[int]int64),
		checks:      make(map[string]*checkCounter),
	}
}

// Name returns the series name.
func (s *Series) Name() string {
	return s.name
}

func clampMicros(d time.Duration) int64 {
	v := d.Microseconds()
	if v < histogramMin {
		v = histogramMin
	}
	if v > histogramMax {
		v = histogramMax
	}
	return v
}

// record applies a sample. Caller must hold s.mu.
func (s *Series) record(sample Sample) {
	_ = s.latency.RecordValue(clampMicros(sample.Duration))

	s.requests++
	if sample.Success {
		s.successes++
	}
	if sample.HTTPFailed() {
		s.httpFailures++
	}
	if sample.Err {
		s.transportErrors++
	}
	s.bytes += sample.Bytes
	s.statusCodes[sample.StatusCode]++

	for _, c := range sample.Checks {
		cc := s.checkLocked(c.Name)
		if c.Passed {
			cc.passes++
		} else {
			cc.fails++
		}
	}

	if !sample.Start.IsZero() {
		if s.firstStart.IsZero() || sample.Start.Before(s.firstStart) {
			s.firstStart = sample.Start
		}
		if end := sample.Start.Add(sample.Duration); end.After(s.lastEnd) {
			s.lastEnd = end
		}
	}
}

func (s *Series) checkLocked(name string) *checkCounter {
	cc, ok := s.checks[name]
	if !ok {
		cc = &checkCounter{}
		s.checks[name] = cc
		s.checkOrder = append(s.checkOrder, name)
	}
	return cc
}

// Merge folds other into s. Merging is associative and commutative: every
// counter is a sum and histogram merging adds bucket counts.
func (s *Series) Merge(other *Series) {
	if other == nil || other == s {
		return
	}

	// Copy other under its own lock first so the two locks are never held
	// together.
	other.mu.Lock()
	src := other.cloneLocked(other.name)
	other.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.mergeLocked(src)
}

func (s *Series) mergeLocked(src *Series) {
	s.latency.Merge(src.latency)

	s.requests += src.requests
	s.successes += src.successes
	s.httpFailures += src.httpFailures
	s.transportErrors += src.transportErrors
	s.bytes += src.bytes
	s.issued += src.issued
	s.dropped += src.dropped

	for code, n := range src.statusCodes {
		s.statusCodes[code] += n
	}
	for _, name := range src.checkOrder {
		cc := s.checkLocked(name)
		cc.passes += src.checks[name].passes
		cc.fails += src.checks[name].fails
	}

	if !src.firstStart.IsZero() && (s.firstStart.IsZero() || src.firstStart.Before(s.firstStart)) {
		s.firstStart = src.firstStart
	}
	if src.lastEnd.After(s.lastEnd) {
		s.lastEnd = src.lastEnd
	}
}

// cloneLocked deep-copies the series. Caller must hold s.mu.
func (s *Series) cloneLocked(name string) *Series {
	c := NewSeries(name)
	c.mergeLocked(s)
	return c
}

// snapshotLocked builds an immutable view. Caller must hold s.mu.
func (s *Series) snapshotLocked() SeriesSnapshot {
	hist := hdrhistogram.Import(s.latency.Export())

	snap := SeriesSnapshot{
		Name:            s.name,
		Requests:        s.requests,
		Successes:       s.successes,
		Errors:          s.requests - s.successes,
		HTTPFailures:    s.httpFailures,
		TransportErrors: s.transportErrors,
		Bytes:           s.bytes,
		Issued:          s.issued,
		Dropped:         s.dropped,
		StatusCodes:     make(map[int]int64, len(s.statusCodes)),
		Latency:         latencyStats(hist),
		FirstStart:      s.firstStart,
		LastEnd:         s.lastEnd,
		hist:            hist,
	}

	if s.requests > 0 {
		snap.ErrorRate = float64(snap.Errors) / float64(s.requests)
		snap.HTTPFailedRate = float64(s.httpFailures) / float64(s.requests)
	}

	for code, n := range s.statusCodes {
		snap.StatusCodes[code] = n
	}

	for _, name := range s.checkOrder {
		cc := s.checks[name]
		snap.Checks = append(snap.Checks, CheckStats{
			Name:   name,
			Passes: cc.passes,
			Fails:  cc.fails,
		})
		snap.CheckPasses += cc.passes
		snap.CheckFails += cc.fails
	}

	for _, bar := range hist.Distribution() {
		if bar.Count == 0 {
			continue
		}
		snap.Distribution = append(snap.Distribution, Bucket{
			From:  time.Duration(bar.From) * time.Microsecond,
			To:    time.Duration(bar.To) * time.Microsecond,
			Count: bar.Count,
		})
	}

	return snap
}

// Combine merges snapshots into a new snapshot called name.
func Combine(name string, snaps ...SeriesSnapshot) SeriesSnapshot {
	s := NewSeries(name)
	for _, ss := range snaps {
		if ss.hist != nil {
			s.latency.Merge(ss.hist)
		}
		s.requests += ss.Requests
		s.successes += ss.Successes
		s.httpFailures += ss.HTTPFailures
		s.transportErrors += ss.TransportErrors
		s.bytes += ss.Bytes
		s.issued += ss.Issued
		s.dropped += ss.Dropped
		for code, n := range ss.StatusCodes {
			s.statusCodes[code] += n
		}
		for _, c := range ss.Checks {
			cc := s.checkLocked(c.Name)
			cc.passes += c.Passes
			cc.fails += c.Fails
		}
		if !ss.FirstStart.IsZero() && (s.firstStart.IsZero() || ss.FirstStart.Before(s.firstStart)) {
			s.firstStart = ss.FirstStart
		}
		if ss.LastEnd.After(s.lastEnd) {
			s.lastEnd = ss.LastEnd
		}
	}
	return s.snapshotLocked()
}

func latencyStats(hist *hdrhistogram.Histogram) LatencyStats {
	if hist.TotalCount() == 0 {
		return LatencyStats{}
	}
	return LatencyStats{
		Min:    time.Duration(hist.Min()) * time.Microsecond,
		Max:    time.Duration(hist.Max()) * time.Microsecond,
		Mean:   time.Duration(hist.Mean()) * time.Microsecond,
		StdDev: time.Duration(hist.StdDev()) * time.Microsecond,
		P50:    time.Duration(hist.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(hist.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(hist.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(hist.ValueAtQuantile(99)) * time.Microsecond,
		Count:  hist.TotalCount(),
	}
}

// SeriesSnapshot is an immutable view of a Series.
type SeriesSnapshot struct {
	Name            string        `json:"name"`
	Requests        int64         `json:"requests"`
	Successes       int64         `json:"successes"`
	Errors          int64         `json:"errors"`
	ErrorRate       float64       `json:"errorRate"`
	HTTPFailures    int64         `json:"httpFailures"`
	HTTPFailedRate  float64       `json:"httpFailedRate"`
	TransportErrors int64         `json:"transportErrors"`
	Bytes           int64         `json:"bytes"`
	Issued          int64         `json:"issued"`
	Dropped         int64         `json:"dropped"`
	CheckPasses     int64         `json:"checkPasses"`
	CheckFails      int64         `json:"checkFails"`
	Checks          []CheckStats  `json:"checks,omitempty"`
	StatusCodes     map[int]int64 `json:"statusCodes,omitempty"`
	Latency         LatencyStats  `json:"latency"`
	Distribution    []Bucket      `json:"distribution,omitempty"`
	FirstStart      time.Time     `json:"firstStart"`
	LastEnd         time.Time     `json:"lastEnd"`

	hist *hdrhistogram.Histogram
}

// Percentile returns the latency at quantile q (0-100). The result depends
// only on the multiset of recorded values.
func (s SeriesSnapshot) Percentile(q float64) time.Duration {
	if s.hist == nil || s.hist.TotalCount() == 0 {
		return 0
	}
	return time.Duration(s.hist.ValueAtQuantile(q)) * time.Microsecond
}

// CheckPassRate returns the fraction of passed check evaluations.
func (s SeriesSnapshot) CheckPassRate() float64 {
	total := s.CheckPasses + s.CheckFails
	if total == 0 {
		return 0
	}
	return float64(s.CheckPasses) / float64(total)
}

// Window returns the span between the first request start and the last
// request end.
func (s SeriesSnapshot) Window() time.Duration {
	if s.FirstStart.IsZero() || s.LastEnd.Before(s.FirstStart) {
		return 0
	}
	return s.LastEnd.Sub(s.FirstStart)
}

// StatusCodeList returns the observed status codes in ascending order.
func (s SeriesSnapshot) StatusCodeList() []int {
	codes := make([]int, 0, len(s.StatusCodes))
	for code := range s.StatusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	return codes
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// CheckStats counts outcomes of one named check.
type CheckStats struct {
	Name   string `json:"name"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

// Bucket is one non-empty bar of the latency distribution.
type Bucket struct {
	From  time.Duration `json:"from"`
	To    time.Duration `json:"to"`
	Count int64         `json:"count"`
}
