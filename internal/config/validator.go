package config

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/wesleyorama2/surgeload/internal/rate"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

var knownExecs = map[string]bool{
	"pricing":         true,
	"driver-location": true,
	"request":         true,
}

// Validate validates the entire test configuration.
//
// Returns nil if valid, or a *ValidationErrors containing every problem.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	if len(c.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}

	for _, name := range c.ScenarioNames() {
		validateScenario(name, c.Scenarios[name], errs)
	}

	validateSettings(&c.Settings, errs)

	for _, key := range sortedKeys(c.Thresholds) {
		exprs := c.Thresholds[key]
		if len(exprs) == 0 {
			errs.Add("thresholds."+key, "at least one expression is required")
		}
		for i, expr := range exprs {
			t, err := ParseThreshold(key, expr)
			if err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", key, i), err.Error())
				continue
			}
			if s := t.Scenario(); s != "" {
				if _, ok := c.Scenarios[s]; !ok {
					errs.Add(fmt.Sprintf("thresholds.%s[%d]", key, i), fmt.Sprintf("unknown scenario %q in tag selector", s))
				}
			}
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateScenario(name string, sc *ScenarioConfig, errs *ValidationErrors) {
	prefix := fmt.Sprintf("scenarios.%s", name)

	if sc == nil {
		errs.Add(prefix, "scenario is empty")
		return
	}

	if sc.Executor != ExecutorConstantArrivalRate {
		errs.Add(prefix+".executor", fmt.Sprintf("unsupported executor type: %q (only %s)", sc.Executor, ExecutorConstantArrivalRate))
	}
	if sc.Rate <= 0 {
		errs.Add(prefix+".rate", "rate must be greater than 0")
	}
	if sc.TimeUnit <= 0 {
		errs.Add(prefix+".timeUnit", "timeUnit must be greater than 0")
	}
	if sc.Duration <= 0 {
		errs.Add(prefix+".duration", "duration must be greater than 0")
	}
	if sc.Rate > 0 && sc.TimeUnit > 0 && sc.Duration > 0 {
		if _, err := rate.SlotCount(sc.Rate, time.Duration(sc.TimeUnit), time.Duration(sc.Duration)); err != nil {
			errs.Add(prefix+".rate", err.Error())
		}
	}
	if sc.PreAllocatedVUs < 0 {
		errs.Add(prefix+".preAllocatedVUs", "preAllocatedVUs cannot be negative")
	}
	if sc.MaxVUs < 0 {
		errs.Add(prefix+".maxVUs", "maxVUs cannot be negative")
	}
	if sc.Timeout < 0 {
		errs.Add(prefix+".timeout", "timeout cannot be negative")
	}
	if sc.GracefulStop < 0 {
		errs.Add(prefix+".gracefulStop", "gracefulStop cannot be negative")
	}

	switch {
	case sc.Exec == "":
		errs.Add(prefix+".exec", "exec is required (pricing, driver-location or request)")
	case !knownExecs[sc.Exec]:
		errs.Add(prefix+".exec", fmt.Sprintf("unknown exec %q", sc.Exec))
	case sc.Exec == "request":
		validateRequest(prefix+".request", sc.Request, errs)
	}
}

func validateRequest(prefix string, req *RequestConfig, errs *ValidationErrors) {
	if req == nil {
		errs.Add(prefix, "request is required for exec \"request\"")
		return
	}
	if req.URL == "" {
		errs.Add(prefix+".url", "url is required")
	}
	switch strings.ToUpper(req.Method) {
	case "", http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead, http.MethodOptions:
	default:
		errs.Add(prefix+".method", fmt.Sprintf("unsupported method %q", req.Method))
	}

	for i, c := range req.Checks {
		field := fmt.Sprintf("%s.checks[%d]", prefix, i)
		switch c.Type {
		case CheckStatus:
			if c.Status < 100 || c.Status > 599 {
				errs.Add(field+".status", "status must be a valid HTTP status code")
			}
		case CheckField:
			if c.Path == "" {
				errs.Add(field+".path", "path is required")
			}
		case CheckEquals:
			if c.Path == "" {
				errs.Add(field+".path", "path is required")
			}
		case CheckLatency:
			if c.Below <= 0 {
				errs.Add(field+".below", "below must be greater than 0")
			}
		case CheckSchema:
			if strings.TrimSpace(c.Schema) == "" {
				errs.Add(field+".schema", "schema is required")
			}
		default:
			errs.Add(field+".type", fmt.Sprintf("unknown check type %q", c.Type))
		}
	}
}

func validateSettings(s *GlobalSettings, errs *ValidationErrors) {
	if s.BaseURL != "" {
		u, err := url.Parse(s.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs.Add("settings.baseUrl", fmt.Sprintf("invalid base URL %q", s.BaseURL))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs.Add("settings.baseUrl", fmt.Sprintf("unsupported scheme %q", u.Scheme))
		}
	}
	if s.Timeout < 0 {
		errs.Add("settings.timeout", "timeout cannot be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "cannot be negative")
	}
	if s.MaxConnectionsPerHost < 0 {
		errs.Add("settings.maxConnectionsPerHost", "cannot be negative")
	}
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
