package executor

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wesleyorama2/surgeload/internal/config"
)

// Options carry the run-wide dependencies of an executor.
type Options struct {
	BaseURL  string
	Client   *http.Client
	Recorder Recorder
	Headers  map[string]string
}

// FromConfig builds the executor for one scenario.
func FromConfig(scenario string, sc *config.ScenarioConfig, opts Options) (*HTTPExecutor, error) {
	e := &HTTPExecutor{
		Scenario: scenario,
		Client:   opts.Client,
		Timeout:  sc.Timeout.GetDuration(DefaultTimeout),
		Recorder: opts.Recorder,
	}

	switch sc.Exec {
	case ExecPricing:
		e.Label = "GET /price"
		e.Build = PricingRequest(opts.BaseURL)
		e.Decode = DecodePrice
		e.Checks = PricingChecks()

	case ExecDriverLocation:
		e.Label = "POST /driver/location"
		e.Build = DriverLocationRequest(opts.BaseURL)
		e.Decode = DecodeDriverAck
		e.Checks = DriverLocationChecks()

	case ExecRequest:
		if sc.Request == nil {
			return nil, fmt.Errorf("scenario %s: exec %q needs a request", scenario, sc.Exec)
		}
		req := sc.Request
		method := strings.ToUpper(req.Method)
		if method == "" {
			method = http.MethodGet
		}
		e.Label = req.Name
		if e.Label == "" {
			e.Label = method + " " + req.URL
		}
		e.Build = StaticRequest(opts.BaseURL, method, req.URL, mergeHeaders(opts.Headers, req.Headers), req.Body)

		checks, err := BuildChecks(req.Checks)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", scenario, err)
		}
		e.Checks = checks

	default:
		return nil, fmt.Errorf("scenario %s: unknown exec %q", scenario, sc.Exec)
	}

	return e, nil
}

// StaticRequest returns a builder that always produces the same request.
// Relative URLs are resolved against baseURL.
func StaticRequest(baseURL, method, rawURL string, headers map[string]string, body string) RequestBuilder {
	target := rawURL
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		target = strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(rawURL, "/")
	}

	header := make(http.Header, len(headers))
	for k, v := range headers {
		header.Set(k, v)
	}
	var data []byte
	if body != "" {
		data = []byte(body)
	}

	return func() (*Request, error) {
		return &Request{
			Method: method,
			URL:    target,
			Header: header.Clone(),
			Body:   data,
		}, nil
	}
}

// BuildChecks converts declarative checks.
func BuildChecks(cfgs []config.CheckConfig) ([]Check, error) {
	checks := make([]Check, 0, len(cfgs))
	for i, c := range cfgs {
		var check Check
		switch c.Type {
		case config.CheckStatus:
			check = StatusIs(c.Status)
		case config.CheckField:
			check = FieldPresent(c.Path)
		case config.CheckEquals:
			check = FieldEquals(c.Path, c.Value)
		case config.CheckLatency:
			check = LatencyBelow(time.Duration(c.Below))
		case config.CheckSchema:
			sc, err := MatchesSchema(c.Name, c.Schema)
			if err != nil {
				return nil, fmt.Errorf("check %d: %w", i, err)
			}
			check = sc
		default:
			return nil, fmt.Errorf("check %d: unknown type %q", i, c.Type)
		}
		if c.Name != "" && check.Name() != c.Name {
			check = renamed{Check: check, name: c.Name}
		}
		checks = append(checks, check)
	}
	return checks, nil
}

type renamed struct {
	Check
	name string
}

func (r renamed) Name() string { return r.name }

func mergeHeaders(base, override map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
