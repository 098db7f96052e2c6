package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/wesleyorama2/surgeload/internal/engine"
	"github.com/wesleyorama2/surgeload/internal/metrics"
)

// FormatVersion is bumped whenever the JSON layout changes incompatibly.
const FormatVersion = 1

// Document is the machine-readable run summary. Latencies are in
// milliseconds.
type Document struct {
	Version     int                      `json:"version"`
	GeneratedAt time.Time                `json:"generatedAt"`
	RunID       string                   `json:"runId"`
	Name        string                   `json:"name"`
	BaseURL     string                   `json:"baseUrl"`
	StartTime   time.Time                `json:"startTime"`
	EndTime     time.Time                `json:"endTime"`
	DurationSec float64                  `json:"durationSeconds"`
	Passed      bool                     `json:"passed"`
	Interrupted bool                     `json:"interrupted"`
	Thresholds  []engine.ThresholdResult `json:"thresholds"`
	Scenarios   []ScenarioDoc            `json:"scenarios"`
	Total       MetricsDoc               `json:"total"`
}

// ScenarioDoc describes one scenario and its metrics.
type ScenarioDoc struct {
	Name            string            `json:"name"`
	Exec            string            `json:"exec"`
	Request         string            `json:"request"`
	RatePerSecond   float64           `json:"ratePerSecond"`
	DurationSec     float64           `json:"durationSeconds"`
	Scheduled       int64             `json:"scheduled"`
	PreAllocatedVUs int               `json:"preAllocatedVUs"`
	MaxVUs          int               `json:"maxVUs"`
	PeakVUs         int               `json:"peakVUs"`
	MaxLagMs        float64           `json:"maxLagMs"`
	Stragglers      int               `json:"stragglers"`
	Tags            map[string]string `json:"tags,omitempty"`
	Metrics         MetricsDoc        `json:"metrics"`
}

// MetricsDoc holds the raw counters and latency series of one scenario or
// of the whole run.
type MetricsDoc struct {
	Requests        int64                `json:"requests"`
	RequestsPerSec  float64              `json:"requestsPerSecond"`
	Issued          int64                `json:"issued"`
	Dropped         int64                `json:"dropped"`
	Successes       int64                `json:"successes"`
	Errors          int64                `json:"errors"`
	ErrorRate       float64              `json:"errorRate"`
	HTTPFailures    int64                `json:"httpFailures"`
	HTTPFailedRate  float64              `json:"httpFailedRate"`
	TransportErrors int64                `json:"transportErrors"`
	Bytes           int64                `json:"bytes"`
	StatusCodes     map[string]int64     `json:"statusCodes"`
	Checks          []metrics.CheckStats `json:"checks"`
	CheckPassRate   float64              `json:"checkPassRate"`
	Latency         LatencyDoc           `json:"latencyMs"`
	Distribution    []BucketDoc          `json:"distribution"`
}

// LatencyDoc holds latency statistics in milliseconds.
type LatencyDoc struct {
	Count  int64   `json:"count"`
	Min    float64 `json:"min"`
	Mean   float64 `json:"avg"`
	StdDev float64 `json:"stdDev"`
	P50    float64 `json:"p50"`
	P90    float64 `json:"p90"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
	Max    float64 `json:"max"`
}

// BucketDoc is one histogram bar in milliseconds.
type BucketDoc struct {
	FromMs float64 `json:"fromMs"`
	ToMs   float64 `json:"toMs"`
	Count  int64   `json:"count"`
}

// NewDocument converts a result into its JSON representation.
func NewDocument(res *engine.Result) *Document {
	doc := &Document{
		Version:     FormatVersion,
		GeneratedAt: time.Now().UTC(),
		RunID:       res.RunID,
		Name:        res.Name,
		BaseURL:     res.BaseURL,
		StartTime:   res.StartTime,
		EndTime:     res.EndTime,
		DurationSec: res.Duration.Seconds(),
		Passed:      res.Passed,
		Interrupted: res.Interrupted,
		Thresholds:  res.Thresholds,
		Scenarios:   make([]ScenarioDoc, 0, len(res.Scenarios)),
		Total:       metricsDoc(res.Total, res.Duration),
	}
	if doc.Thresholds == nil {
		doc.Thresholds = []engine.ThresholdResult{}
	}

	for _, sc := range res.Scenarios {
		doc.Scenarios = append(doc.Scenarios, ScenarioDoc{
			Name:            sc.Name,
			Exec:            sc.Exec,
			Request:         sc.Request,
			RatePerSecond:   sc.Rate,
			DurationSec:     sc.Duration.Seconds(),
			Scheduled:       sc.Scheduled,
			PreAllocatedVUs: sc.PreAllocatedVUs,
			MaxVUs:          sc.MaxVUs,
			PeakVUs:         sc.Pool.Peak,
			MaxLagMs:        millis(sc.Ticker.MaxLag),
			Stragglers:      sc.Stragglers,
			Tags:            sc.Tags,
			Metrics:         metricsDoc(sc.Metrics, sc.Duration),
		})
	}

	return doc
}

func metricsDoc(m metrics.SeriesSnapshot, d time.Duration) MetricsDoc {
	doc := MetricsDoc{
		Requests:        m.Requests,
		Issued:          m.Issued,
		Dropped:         m.Dropped,
		Successes:       m.Successes,
		Errors:          m.Errors,
		ErrorRate:       m.ErrorRate,
		HTTPFailures:    m.HTTPFailures,
		HTTPFailedRate:  m.HTTPFailedRate,
		TransportErrors: m.TransportErrors,
		Bytes:           m.Bytes,
		StatusCodes:     make(map[string]int64, len(m.StatusCodes)),
		Checks:          m.Checks,
		CheckPassRate:   m.CheckPassRate(),
		Latency: LatencyDoc{
			Count:  m.Latency.Count,
			Min:    millis(m.Latency.Min),
			Mean:   millis(m.Latency.Mean),
			StdDev: millis(m.Latency.StdDev),
			P50:    millis(m.Latency.P50),
			P90:    millis(m.Latency.P90),
			P95:    millis(m.Latency.P95),
			P99:    millis(m.Latency.P99),
			Max:    millis(m.Latency.Max),
		},
		Distribution: make([]BucketDoc, 0, len(m.Distribution)),
	}
	if secs := d.Seconds(); secs > 0 {
		doc.RequestsPerSec = float64(m.Requests) / secs
	}
	if doc.Checks == nil {
		doc.Checks = []metrics.CheckStats{}
	}
	for code, n := range m.StatusCodes {
		doc.StatusCodes[strconv.Itoa(code)] = n
	}
	for _, b := range m.Distribution {
		doc.Distribution = append(doc.Distribution, BucketDoc{
			FromMs: millis(b.From),
			ToMs:   millis(b.To),
			Count:  b.Count,
		})
	}
	return doc
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// EncodeJSON writes the indented JSON document to w.
func EncodeJSON(w io.Writer, res *engine.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(NewDocument(res))
}

// WriteJSON writes the JSON document to path, creating parent directories.
func WriteJSON(path string, res *engine.Result) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create results file: %w", err)
	}

	if err := EncodeJSON(f, res); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write results: %w", err)
	}
	return f.Close()
}
