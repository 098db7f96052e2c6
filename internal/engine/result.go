package engine

import (
	"time"

	"github.com/wesleyorama2/surgeload/internal/metrics"
	"github.com/wesleyorama2/surgeload/internal/pool"
	"github.com/wesleyorama2/surgeload/internal/rate"
)

// Result contains the complete results of a run.
type Result struct {
	// Run metadata
	RunID     string        `json:"runId"`
	Name      string        `json:"name"`
	BaseURL   string        `json:"baseUrl"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	// Per-scenario results, sorted by name
	Scenarios []ScenarioResult `json:"scenarios"`

	// Aggregated metrics across all scenarios
	Total metrics.SeriesSnapshot `json:"total"`

	// Threshold evaluation
	Passed     bool              `json:"passed"`
	Thresholds []ThresholdResult `json:"thresholds,omitempty"`

	// Interrupted is set when the run was cancelled before every slot was
	// issued.
	Interrupted bool `json:"interrupted"`
}

// Scenario returns the result of the named scenario.
func (r *Result) Scenario(name string) (ScenarioResult, bool) {
	for _, s := range r.Scenarios {
		if s.Name == name {
			return s, true
		}
	}
	return ScenarioResult{}, false
}

// Elapsed returns the run duration in seconds, never zero.
func (r *Result) Elapsed() float64 {
	secs := r.Duration.Seconds()
	if secs <= 0 {
		return 1
	}
	return secs
}

// FailedThresholds returns the thresholds that did not pass.
func (r *Result) FailedThresholds() []ThresholdResult {
	var out []ThresholdResult
	for _, t := range r.Thresholds {
		if !t.Passed {
			out = append(out, t)
		}
	}
	return out
}

// ScenarioResult contains the results of one scenario.
type ScenarioResult struct {
	Name            string            `json:"name"`
	Exec            string            `json:"exec"`
	Request         string            `json:"request"`
	Rate            float64           `json:"ratePerSecond"`
	Duration        time.Duration     `json:"duration"`
	Scheduled       int64             `json:"scheduled"`
	PreAllocatedVUs int               `json:"preAllocatedVUs"`
	MaxVUs          int               `json:"maxVUs"`
	Tags            map[string]string `json:"tags,omitempty"`

	Metrics    metrics.SeriesSnapshot `json:"metrics"`
	Pool       pool.Stats             `json:"pool"`
	Ticker     rate.TickerStats       `json:"ticker"`
	Stragglers int                    `json:"stragglers"`
}

// Throughput returns completed requests per second over the scenario
// duration.
func (s ScenarioResult) Throughput() float64 {
	secs := s.Duration.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.Metrics.Requests) / secs
}

// ThresholdResult contains the result of a threshold evaluation.
type ThresholdResult struct {
	Metric     string  `json:"metric"`
	Key        string  `json:"key"`
	Expression string  `json:"expression"`
	Passed     bool    `json:"passed"`
	Actual     float64 `json:"actual"`
	Value      string  `json:"value"`
	Message    string  `json:"message,omitempty"`
}
