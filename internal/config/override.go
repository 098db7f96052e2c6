package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Override holds command line overrides. Zero values leave the config
// unchanged.
type Override struct {
	BaseURL      string
	Duration     time.Duration
	Rates        map[string]float64
	VUs          int
	MaxVUs       int
	Timeout      time.Duration
	GracefulStop time.Duration
	Output       string

	// Thresholds replace the configured ones for the same key
	Thresholds map[string][]string

	// Scenarios restricts the run to the named scenarios
	Scenarios []string
}

// ParseRateFlag parses "name=value". A bare value applies to every
// scenario and is returned under the name "*".
func ParseRateFlag(s string) (string, float64, error) {
	name, raw := "*", s
	if i := strings.Index(s, "="); i >= 0 {
		name, raw = strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:])
		if name == "" {
			return "", 0, fmt.Errorf("invalid rate %q: missing scenario name", s)
		}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid rate %q: %w", s, err)
	}
	return name, v, nil
}

// Apply applies the overrides to c. Unknown scenario names in Rates or
// Scenarios are reported as validation errors.
func (o *Override) Apply(c *TestConfig) error {
	errs := &ValidationErrors{}

	if len(o.Scenarios) > 0 {
		keep := make(map[string]*ScenarioConfig, len(o.Scenarios))
		for _, name := range o.Scenarios {
			sc, ok := c.Scenarios[name]
			if !ok {
				errs.Add("scenario", fmt.Sprintf("unknown scenario %q", name))
				continue
			}
			keep[name] = sc
		}
		c.Scenarios = keep
	}

	if o.BaseURL != "" {
		c.Settings.BaseURL = o.BaseURL
	}
	if o.Output != "" {
		c.Settings.Output = o.Output
	}
	if o.Timeout > 0 {
		c.Settings.Timeout = Duration(o.Timeout)
	}
	if o.GracefulStop > 0 {
		c.Settings.GracefulStop = Duration(o.GracefulStop)
	}

	for name, sc := range c.Scenarios {
		if sc == nil {
			continue
		}
		if o.Duration > 0 {
			sc.Duration = Duration(o.Duration)
		}
		if o.VUs > 0 {
			sc.PreAllocatedVUs = o.VUs
		}
		if o.MaxVUs > 0 {
			sc.MaxVUs = o.MaxVUs
		}
		if o.Timeout > 0 {
			sc.Timeout = Duration(o.Timeout)
		}
		if o.GracefulStop > 0 {
			sc.GracefulStop = Duration(o.GracefulStop)
		}
		if r, ok := o.Rates["*"]; ok {
			sc.Rate = r
		}
		if r, ok := o.Rates[name]; ok {
			sc.Rate = r
		}
	}

	for name := range o.Rates {
		if name == "*" {
			continue
		}
		if _, ok := c.Scenarios[name]; !ok {
			errs.Add("rate", fmt.Sprintf("unknown scenario %q", name))
		}
	}

	if len(o.Thresholds) > 0 && c.Thresholds == nil {
		c.Thresholds = make(map[string][]string)
	}
	for key, exprs := range o.Thresholds {
		c.Thresholds[key] = exprs
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
