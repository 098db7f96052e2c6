// Package config provides configuration parsing and validation for load
// test runs.
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ExecutorConstantArrivalRate is the only supported executor type.
const ExecutorConstantArrivalRate = "constant-arrival-rate"

// Defaults applied by ApplyDefaults.
const (
	DefaultBaseURL      = "http://localhost"
	DefaultTimeout      = 2 * time.Second
	DefaultGracefulStop = 30 * time.Second
	DefaultTimeUnit     = time.Second
	DefaultOutput       = "load-test-results.json"
)

// TestConfig is the root configuration for a load test.
//
// Example YAML:
//
//	name: surge-pricing
//	settings:
//	  baseUrl: http://localhost:8080
//	  timeout: 2s
//	scenarios:
//	  pricing_load:
//	    executor: constant-arrival-rate
//	    rate: 10000
//	    duration: 60s
//	    preAllocatedVUs: 500
//	    maxVUs: 1000
//	    exec: pricing
//	thresholds:
//	  "http_req_duration{scenario:pricing_load}": ["p(95)<100"]
//	  errors: ["rate<0.01"]
type TestConfig struct {
	// Name of the test (for reporting)
	Name string `json:"name" yaml:"name"`

	// Settings contains global settings for all scenarios
	Settings GlobalSettings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Scenarios defines the load profiles to run concurrently
	Scenarios map[string]*ScenarioConfig `json:"scenarios" yaml:"scenarios"`

	// Thresholds map a metric key (with optional tag selector) to pass/fail
	// expressions
	Thresholds map[string][]string `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// GlobalSettings contains global HTTP and execution settings.
type GlobalSettings struct {
	// BaseURL is prepended to built-in endpoints and relative request URLs
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Timeout is the default per-request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// GracefulStop is the default time in-flight requests get after a
	// scenario's duration has elapsed
	GracefulStop Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// MaxConnectionsPerHost limits connections per host (0 = unlimited)
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// Headers are default headers applied to generic requests
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Output is the JSON results file path
	Output string `json:"output,omitempty" yaml:"output,omitempty"`
}

// ScenarioConfig defines a single load profile.
type ScenarioConfig struct {
	// Executor specifies the load generation strategy
	Executor string `json:"executor" yaml:"executor"`

	// Rate is iterations per TimeUnit
	Rate float64 `json:"rate" yaml:"rate"`

	// TimeUnit is the period Rate is expressed over (default 1s)
	TimeUnit Duration `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`

	// Duration is how long slots are issued for
	Duration Duration `json:"duration" yaml:"duration"`

	// PreAllocatedVUs is the number of workers created up front
	PreAllocatedVUs int `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`

	// MaxVUs is the maximum number of workers
	MaxVUs int `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// Exec names the request each iteration performs: pricing,
	// driver-location or request
	Exec string `json:"exec" yaml:"exec"`

	// Timeout overrides the global per-request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// GracefulStop overrides the global graceful stop
	GracefulStop Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// Tags are custom tags for this scenario's metrics
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Request describes the call for exec "request"
	Request *RequestConfig `json:"request,omitempty" yaml:"request,omitempty"`
}

// RequestConfig defines a generic HTTP request.
type RequestConfig struct {
	// Name for this request (used in reports)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Method is the HTTP method (GET, POST, ...)
	Method string `json:"method" yaml:"method"`

	// URL is absolute, or a path relative to the base URL
	URL string `json:"url" yaml:"url"`

	// Headers are request-specific headers
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Body is sent verbatim
	Body string `json:"body,omitempty" yaml:"body,omitempty"`

	// Checks validate the response, in order
	Checks []CheckConfig `json:"checks,omitempty" yaml:"checks,omitempty"`
}

// Check types accepted in CheckConfig.Type.
const (
	CheckStatus  = "status"
	CheckField   = "field"
	CheckEquals  = "equals"
	CheckLatency = "latency"
	CheckSchema  = "schema"
)

// CheckConfig declares one named check.
type CheckConfig struct {
	// Name overrides the generated check name
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Type is one of status, field, equals, latency, schema
	Type string `json:"type" yaml:"type"`

	// Status is the expected status code (type status)
	Status int `json:"status,omitempty" yaml:"status,omitempty"`

	// Path is a JSONPath or gjson path (types field, equals)
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Value is the expected string form (type equals)
	Value string `json:"value,omitempty" yaml:"value,omitempty"`

	// Below is the latency bound (type latency)
	Below Duration `json:"below,omitempty" yaml:"below,omitempty"`

	// Schema is an inline JSON schema (type schema)
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML
// strings ("30s") or bare numbers of seconds.
type Duration time.Duration

// GetDuration returns the duration or a default if zero.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*d = 0
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	dur, err := ParseDurationString(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(dur)
	return nil
}

// ParseDurationString parses a duration string with support for common
// formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as a number: "30" or "1.5"
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}
