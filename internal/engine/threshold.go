package engine

import (
	"fmt"
	"strconv"

	"github.com/wesleyorama2/surgeload/internal/config"
	"github.com/wesleyorama2/surgeload/internal/metrics"
)

// EvaluateThresholds checks every threshold against res.
//
// Thresholds without tags apply to the total series. A scenario tag selects
// that scenario; any other tag selects the scenarios whose tags match.
func EvaluateThresholds(thresholds []*config.Threshold, res *Result) []ThresholdResult {
	out := make([]ThresholdResult, 0, len(thresholds))
	for _, t := range thresholds {
		out = append(out, evaluateThreshold(t, res))
	}
	return out
}

func evaluateThreshold(t *config.Threshold, res *Result) ThresholdResult {
	tr := ThresholdResult{
		Metric:     t.Metric,
		Key:        t.Key,
		Expression: t.Expression,
	}

	series, elapsed, ok := selectSeries(t, res)
	if !ok {
		tr.Message = "no scenario matches " + t.Key
		return tr
	}

	actual, ok := thresholdValue(t, series, elapsed)
	if !ok {
		tr.Message = fmt.Sprintf("no data for %s", t.Key)
		return tr
	}

	tr.Actual = actual
	tr.Value = formatActual(t, actual)
	tr.Passed = t.Compare(actual)
	if !tr.Passed {
		tr.Message = fmt.Sprintf("%s: %s is %s", t.Key, t.Expression, tr.Value)
	}
	return tr
}

func selectSeries(t *config.Threshold, res *Result) (metrics.SeriesSnapshot, float64, bool) {
	if len(t.Tags) == 0 {
		return res.Total, res.Elapsed(), true
	}

	var (
		matched []metrics.SeriesSnapshot
		elapsed float64
	)
	for _, s := range res.Scenarios {
		if !matchesTags(t.Tags, s) {
			continue
		}
		matched = append(matched, s.Metrics)
		if secs := s.Duration.Seconds(); secs > elapsed {
			elapsed = secs
		}
	}
	if len(matched) == 0 {
		return metrics.SeriesSnapshot{}, 0, false
	}
	if elapsed <= 0 {
		elapsed = res.Elapsed()
	}
	if len(matched) == 1 {
		return matched[0], elapsed, true
	}
	return metrics.Combine(t.Key, matched...), elapsed, true
}

func matchesTags(tags map[string]string, s ScenarioResult) bool {
	for k, v := range tags {
		if k == "scenario" {
			if s.Name != v {
				return false
			}
			continue
		}
		if s.Tags[k] != v {
			return false
		}
	}
	return true
}

// thresholdValue extracts the aggregated value. Latencies are in
// milliseconds.
func thresholdValue(t *config.Threshold, s metrics.SeriesSnapshot, elapsed float64) (float64, bool) {
	switch t.Metric {
	case config.MetricHTTPReqDuration:
		if s.Latency.Count == 0 {
			return 0, false
		}
		switch t.Aggregation {
		case config.AggPercentile:
			return ms(s.Percentile(t.Percentile).Seconds()), true
		case config.AggAvg:
			return ms(s.Latency.Mean.Seconds()), true
		case config.AggMin:
			return ms(s.Latency.Min.Seconds()), true
		case config.AggMax:
			return ms(s.Latency.Max.Seconds()), true
		case config.AggMed:
			return ms(s.Latency.P50.Seconds()), true
		}

	case config.MetricHTTPReqFailed:
		return s.HTTPFailedRate, s.Requests > 0
	case config.MetricErrors:
		return s.ErrorRate, s.Requests > 0
	case config.MetricChecks:
		return s.CheckPassRate(), s.CheckPasses+s.CheckFails > 0

	case config.MetricHTTPReqs, config.MetricIterations:
		return countOrRate(t, s.Requests, elapsed), true
	case config.MetricDroppedIterations:
		return countOrRate(t, s.Dropped, elapsed), true
	}
	return 0, false
}

func countOrRate(t *config.Threshold, n int64, elapsed float64) float64 {
	if t.Aggregation == config.AggRate {
		if elapsed <= 0 {
			return 0
		}
		return float64(n) / elapsed
	}
	return float64(n)
}

func ms(seconds float64) float64 {
	return seconds * 1000
}

func formatActual(t *config.Threshold, v float64) string {
	switch {
	case t.IsDuration():
		return strconv.FormatFloat(v, 'f', 2, 64) + "ms"
	case t.Aggregation == config.AggCount:
		return strconv.FormatFloat(v, 'f', 0, 64)
	case t.Aggregation == config.AggRate && (t.Metric == config.MetricHTTPReqs || t.Metric == config.MetricIterations || t.Metric == config.MetricDroppedIterations):
		return strconv.FormatFloat(v, 'f', 2, 64) + "/s"
	default:
		return strconv.FormatFloat(v*100, 'f', 2, 64) + "%"
	}
}
