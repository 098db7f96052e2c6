package metrics

import (
	"sort"
	"sync"
	"time"
)

// TotalSeries is the name of the series merged across all scenarios.
const TotalSeries = "total"

// CheckOutcome is the result of one named check.
type CheckOutcome struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// Sample is one completed request as seen by the aggregator.
type Sample struct {
	Scenario   string
	Name       string
	Start      time.Time
	Duration   time.Duration
	StatusCode int
	Success    bool
	Err        bool
	Bytes      int64
	Checks     []CheckOutcome
}

// HTTPFailed reports whether the request failed at the HTTP level: a
// transport error, no status, or a status >= 400.
func (s Sample) HTTPFailed() bool {
	return s.Err || s.StatusCode == 0 || s.StatusCode >= 400
}

// Observer receives every event recorded by an Aggregator.
type Observer interface {
	ObserveSample(Sample)
	ObserveIssued(scenario string)
	ObserveDropped(scenario string)
}

// Aggregator collects per-scenario metrics for one run.
type Aggregator struct {
	mu       sync.RWMutex
	series   map[string]*Series
	observer Observer
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		series: make(map[string]*Series),
	}
}

// SetObserver installs an observer. It must be called before recording
// starts.
func (a *Aggregator) SetObserver(o Observer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observer = o
}

// Series returns the series for a scenario, creating it if needed.
func (a *Aggregator) Series(scenario string) *Series {
	a.mu.RLock()
	s, ok := a.series[scenario]
	a.mu.RUnlock()
	if ok {
		return s
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok = a.series[scenario]; ok {
		return s
	}
	s = NewSeries(scenario)
	a.series[scenario] = s
	return s
}

func (a *Aggregator) getObserver() Observer {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.observer
}

// Record adds a completed request. It is safe for concurrent use.
func (a *Aggregator) Record(sample Sample) {
	s := a.Series(sample.Scenario)
	s.mu.Lock()
	s.record(sample)
	s.mu.Unlock()

	if o := a.getObserver(); o != nil {
		o.ObserveSample(sample)
	}
}

// RecordIssued counts one slot emitted by the scheduler.
func (a *Aggregator) RecordIssued(scenario string) {
	s := a.Series(scenario)
	s.mu.Lock()
	s.issued++
	s.mu.Unlock()

	if o := a.getObserver(); o != nil {
		o.ObserveIssued(scenario)
	}
}

// RecordDropped counts one slot that found no free worker.
func (a *Aggregator) RecordDropped(scenario string) {
	s := a.Series(scenario)
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()

	if o := a.getObserver(); o != nil {
		o.ObserveDropped(scenario)
	}
}

// Merge folds every series of other into a.
func (a *Aggregator) Merge(other *Aggregator) {
	if other == nil || other == a {
		return
	}

	other.mu.RLock()
	src := make([]*Series, 0, len(other.series))
	for _, s := range other.series {
		src = append(src, s)
	}
	other.mu.RUnlock()

	for _, s := range src {
		a.Series(s.Name()).Merge(s)
	}
}

// Snapshot returns an immutable deep copy of all series.
//
// Every Record that returned before Snapshot was called is included.
func (a *Aggregator) Snapshot() *Snapshot {
	a.mu.RLock()
	names := make([]string, 0, len(a.series))
	for name := range a.series {
		names = append(names, name)
	}
	a.mu.RUnlock()
	sort.Strings(names)

	snap := &Snapshot{
		Timestamp: time.Now(),
		Scenarios: make(map[string]SeriesSnapshot, len(names)),
	}

	total := NewSeries(TotalSeries)
	for _, name := range names {
		s := a.Series(name)

		s.mu.Lock()
		snap.Scenarios[name] = s.snapshotLocked()
		total.mergeLocked(s)
		s.mu.Unlock()
	}

	total.mu.Lock()
	snap.Total = total.snapshotLocked()
	total.mu.Unlock()

	return snap
}

// Snapshot is a point-in-time copy of an Aggregator.
type Snapshot struct {
	Timestamp time.Time                 `json:"timestamp"`
	Scenarios map[string]SeriesSnapshot `json:"scenarios"`
	Total     SeriesSnapshot            `json:"total"`
}

// Names returns the scenario names in sorted order.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.Scenarios))
	for name := range s.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the snapshot of one scenario, or the merged total for
// TotalSeries.
func (s *Snapshot) Get(name string) (SeriesSnapshot, bool) {
	if name == TotalSeries || name == "" {
		return s.Total, true
	}
	ss, ok := s.Scenarios[name]
	return ss, ok
}
