package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Metrics thresholds can be defined on.
const (
	MetricHTTPReqDuration   = "http_req_duration"
	MetricHTTPReqFailed     = "http_req_failed"
	MetricErrors            = "errors"
	MetricChecks            = "checks"
	MetricHTTPReqs          = "http_reqs"
	MetricIterations        = "iterations"
	MetricDroppedIterations = "dropped_iterations"
)

// Aggregations used in threshold expressions.
const (
	AggPercentile = "p"
	AggAvg        = "avg"
	AggMin        = "min"
	AggMax        = "max"
	AggMed        = "med"
	AggRate       = "rate"
	AggCount      = "count"
)

var metricAggregations = map[string][]string{
	MetricHTTPReqDuration:   {AggPercentile, AggAvg, AggMin, AggMax, AggMed},
	MetricHTTPReqFailed:     {AggRate},
	MetricErrors:            {AggRate},
	MetricChecks:            {AggRate},
	MetricHTTPReqs:          {AggCount, AggRate},
	MetricIterations:        {AggCount, AggRate},
	MetricDroppedIterations: {AggCount, AggRate},
}

var (
	keyPattern  = regexp.MustCompile(`^\s*([a-z_]+)\s*(?:\{([^}]*)\})?\s*$`)
	exprPattern = regexp.MustCompile(`^\s*(p\(\s*[0-9.]+\s*\)|p[0-9.]+|avg|min|max|med|rate|count)\s*(<=|>=|==|!=|<|>)\s*(\S+)\s*$`)
)

// Threshold is a parsed pass/fail criterion.
type Threshold struct {
	// Key is the metric key as written, e.g. http_req_duration{scenario:pricing_load}
	Key string `json:"key"`

	// Metric is the metric name without tags
	Metric string `json:"metric"`

	// Tags select a subset of the metric, e.g. scenario
	Tags map[string]string `json:"tags,omitempty"`

	// Expression is the condition as written, e.g. p(95)<100
	Expression string `json:"expression"`

	Aggregation string  `json:"aggregation"`
	Percentile  float64 `json:"percentile,omitempty"`
	Operator    string  `json:"operator"`

	// Value is the bound. Duration bounds are in milliseconds.
	Value float64 `json:"value"`
}

// IsDuration reports whether the threshold compares latencies.
func (t *Threshold) IsDuration() bool {
	return t.Metric == MetricHTTPReqDuration
}

// Scenario returns the scenario tag, or "" for the whole run.
func (t *Threshold) Scenario() string {
	return t.Tags["scenario"]
}

// String renders the threshold as "key: expression".
func (t *Threshold) String() string {
	return t.Key + ": " + t.Expression
}

// Compare applies the operator to actual.
func (t *Threshold) Compare(actual float64) bool {
	switch t.Operator {
	case "<":
		return actual < t.Value
	case "<=":
		return actual <= t.Value
	case ">":
		return actual > t.Value
	case ">=":
		return actual >= t.Value
	case "==":
		return actual == t.Value
	case "!=":
		return actual != t.Value
	default:
		return false
	}
}

// ParseThreshold parses a metric key and one expression.
func ParseThreshold(key, expr string) (*Threshold, error) {
	km := keyPattern.FindStringSubmatch(key)
	if km == nil {
		return nil, fmt.Errorf("invalid threshold key %q", key)
	}

	t := &Threshold{
		Key:        strings.TrimSpace(key),
		Metric:     km[1],
		Expression: strings.TrimSpace(expr),
	}

	allowed, ok := metricAggregations[t.Metric]
	if !ok {
		return nil, fmt.Errorf("unknown metric %q", t.Metric)
	}

	if km[2] != "" {
		tags, err := parseTags(km[2])
		if err != nil {
			return nil, fmt.Errorf("threshold key %q: %w", key, err)
		}
		t.Tags = tags
	}

	em := exprPattern.FindStringSubmatch(expr)
	if em == nil {
		return nil, fmt.Errorf("invalid threshold expression %q (expected e.g. 'p(95)<100' or 'rate<0.01')", expr)
	}

	agg := em[1]
	if strings.HasPrefix(agg, "p") && agg != "p" {
		pct := strings.Trim(strings.TrimPrefix(agg, "p"), "() ")
		q, err := strconv.ParseFloat(pct, 64)
		if err != nil || q < 0 || q > 100 {
			return nil, fmt.Errorf("invalid percentile in %q", expr)
		}
		t.Aggregation = AggPercentile
		t.Percentile = q
	} else {
		t.Aggregation = agg
	}

	if !contains(allowed, t.Aggregation) {
		return nil, fmt.Errorf("aggregation %q is not supported for %s (use %s)", agg, t.Metric, strings.Join(allowed, ", "))
	}

	t.Operator = em[2]

	value, err := parseThresholdValue(em[3], t.IsDuration() && t.Aggregation != AggRate)
	if err != nil {
		return nil, fmt.Errorf("threshold %q: %w", expr, err)
	}
	t.Value = value

	return t, nil
}

// ParseThresholds parses every threshold of a config, sorted by key then
// declaration order.
func ParseThresholds(thresholds map[string][]string) ([]*Threshold, error) {
	var out []*Threshold
	for _, k := range sortedKeys(thresholds) {
		for _, expr := range thresholds[k] {
			t, err := ParseThreshold(k, expr)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
	}
	return out, nil
}

// SplitThresholdFlag splits "key=expr" or "key: expr" as given on the
// command line.
func SplitThresholdFlag(s string) (key, expr string, err error) {
	// Keys never contain '=' but tag selectors contain ':'. An '=' that is
	// part of an operator is not a separator.
	if i := strings.Index(s, "="); i > 0 && !strings.ContainsRune("<>!=", rune(s[i-1])) {
		return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:]), nil
	}
	if i := strings.Index(s, ": "); i > 0 {
		return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+2:]), nil
	}
	return "", "", fmt.Errorf("invalid threshold %q (expected metric=expression)", s)
}

func parseTags(s string) (map[string]string, error) {
	tags := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 || strings.TrimSpace(kv[0]) == "" {
			return nil, fmt.Errorf("invalid tag selector %q", part)
		}
		tags[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return tags, nil
}

// parseThresholdValue parses a bound. Duration bounds accept units
// ("250ms", "2s"); bare numbers are milliseconds.
func parseThresholdValue(s string, duration bool) (float64, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	if !duration {
		if strings.HasSuffix(s, "%") {
			v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
			if err == nil {
				return v / 100, nil
			}
		}
		return 0, fmt.Errorf("invalid value %q", s)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return float64(d) / float64(time.Millisecond), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
