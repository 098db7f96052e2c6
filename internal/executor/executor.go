// Package executor performs one HTTP request per scheduled slot, evaluates
// named checks against the response and records the outcome.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wesleyorama2/surgeload/internal/metrics"
)

// Executor performs one iteration of a scenario.
type Executor interface {
	// Name identifies the request in reports, e.g. "GET /price".
	Name() string

	// Execute performs the request. It never panics and never returns an
	// error: failures are reported in the result.
	Execute(ctx context.Context) *RequestResult
}

// Recorder receives every completed request. *metrics.Aggregator
// implements it.
type Recorder interface {
	Record(metrics.Sample)
}

// Request is a fully built HTTP request description.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// RequestBuilder produces the request for one iteration. Builders may
// randomize parameters on every call.
type RequestBuilder func() (*Request, error)

// Decoder turns a response body into a typed value exposed to checks via
// Response.Typed.
type Decoder func(body []byte) (any, error)

// Response is what checks are evaluated against.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
	Err        error

	// Typed is the decoded body, or nil if no decoder is set or decoding
	// failed.
	Typed any
}

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// RequestResult is the outcome of one executed slot.
type RequestResult struct {
	Scenario   string        `json:"scenario"`
	Name       string        `json:"name"`
	Start      time.Time     `json:"start"`
	Duration   time.Duration `json:"duration"`
	StatusCode int           `json:"statusCode"`
	Checks     []CheckResult `json:"checks,omitempty"`
	Success    bool          `json:"success"`
	Error      bool          `json:"error"`
	ErrorText  string        `json:"errorText,omitempty"`
	Bytes      int64         `json:"bytes"`
}

// Sample converts the result for the metrics aggregator.
func (r *RequestResult) Sample() metrics.Sample {
	checks := make([]metrics.CheckOutcome, len(r.Checks))
	for i, c := range r.Checks {
		checks[i] = metrics.CheckOutcome{Name: c.Name, Passed: c.Passed}
	}
	return metrics.Sample{
		Scenario:   r.Scenario,
		Name:       r.Name,
		Start:      r.Start,
		Duration:   r.Duration,
		StatusCode: r.StatusCode,
		Success:    r.Success,
		Err:        r.Error,
		Bytes:      r.Bytes,
		Checks:     checks,
	}
}

// HTTPExecutor executes requests produced by a RequestBuilder.
type HTTPExecutor struct {
	Scenario string
	Label    string
	Client   *http.Client
	Build    RequestBuilder
	Decode   Decoder
	Checks   []Check
	Timeout  time.Duration
	Recorder Recorder
}

// Name implements Executor.
func (e *HTTPExecutor) Name() string {
	return e.Label
}

// Execute implements Executor.
func (e *HTTPExecutor) Execute(ctx context.Context) (result *RequestResult) {
	result = &RequestResult{
		Scenario: e.Scenario,
		Name:     e.Label,
		Start:    time.Now(),
	}

	defer func() {
		if r := recover(); r != nil {
			result.Error = true
			result.Success = false
			result.ErrorText = fmt.Sprintf("panic: %v", r)
		}
		if e.Recorder != nil {
			e.Recorder.Record(result.Sample())
		}
	}()

	resp := e.do(ctx, result.Start)
	result.Duration = resp.Duration
	result.StatusCode = resp.StatusCode
	result.Bytes = int64(len(resp.Body))
	if resp.Err != nil {
		result.Error = true
		result.ErrorText = resp.Err.Error()
	}

	passed := true
	result.Checks = make([]CheckResult, 0, len(e.Checks))
	for _, c := range e.Checks {
		ok := c.Evaluate(resp)
		result.Checks = append(result.Checks, CheckResult{Name: c.Name(), Passed: ok})
		passed = passed && ok
	}
	result.Success = passed && !result.Error

	return result
}

func (e *HTTPExecutor) do(ctx context.Context, start time.Time) *Response {
	resp := &Response{}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	built, err := e.Build()
	if err != nil {
		resp.Err = fmt.Errorf("failed to build request: %w", err)
		resp.Duration = time.Since(start)
		return resp
	}

	var body io.Reader
	if len(built.Body) > 0 {
		body = bytes.NewReader(built.Body)
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, built.Method, built.URL, body)
	if err != nil {
		resp.Err = fmt.Errorf("failed to build request: %w", err)
		resp.Duration = time.Since(start)
		return resp
	}
	for key, values := range built.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		resp.Duration = time.Since(start)
		resp.Err = classify(err, timeout)
		return resp
	}
	defer httpResp.Body.Close()

	resp.StatusCode = httpResp.StatusCode
	resp.Header = httpResp.Header

	data, err := io.ReadAll(httpResp.Body)
	resp.Duration = time.Since(start)
	resp.Body = data
	if err != nil {
		resp.Err = fmt.Errorf("failed to read response body: %w", classify(err, timeout))
		return resp
	}

	if e.Decode != nil && len(data) > 0 {
		if typed, err := e.Decode(data); err == nil {
			resp.Typed = typed
		}
	}

	return resp
}

// ErrTimeout marks requests that exceeded the per-request timeout.
var ErrTimeout = errors.New("request timeout")

func classify(err error, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
	return err
}
