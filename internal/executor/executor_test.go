package executor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/surgeload/internal/config"
	"github.com/wesleyorama2/surgeload/internal/metrics"
)

type captureRecorder struct {
	mu      sync.Mutex
	samples []metrics.Sample
}

func (c *captureRecorder) Record(s metrics.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, s)
}

func (c *captureRecorder) all() []metrics.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]metrics.Sample(nil), c.samples...)
}

func priceHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/price", r.URL.Path)
		lat, err := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
		assert.NoError(t, err)
		lng, err := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
		assert.NoError(t, err)
		assert.True(t, lat >= 37.7 && lat <= 37.8, "lat %v", lat)
		assert.True(t, lng >= -122.5 && lng <= -122.4, "lng %v", lng)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"baseFare":10.0,"surgeMultiplier":1.5,"finalPrice":15.0,"geofenceId":"sf_1"}`))
	}
}

func TestHTTPExecutor_PricingSuccess(t *testing.T) {
	srv := httptest.NewServer(priceHandler(t))
	defer srv.Close()

	rec := &captureRecorder{}
	e, err := FromConfig("pricing_load", &config.ScenarioConfig{Exec: ExecPricing}, Options{
		BaseURL:  srv.URL,
		Client:   srv.Client(),
		Recorder: rec,
	})
	require.NoError(t, err)
	assert.Equal(t, "GET /price", e.Name())

	res := e.Execute(context.Background())

	assert.Equal(t, "pricing_load", res.Scenario)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, res.Success, "checks: %+v", res.Checks)
	assert.False(t, res.Error)
	assert.Greater(t, res.Bytes, int64(0))
	assert.False(t, res.Start.IsZero())

	names := make([]string, len(res.Checks))
	for i, c := range res.Checks {
		names[i] = c.Name
		assert.True(t, c.Passed, c.Name)
	}
	assert.Equal(t, []string{"status is 200", "has baseFare", "has surgeMultiplier", "has finalPrice", "latency < 100ms"}, names)

	samples := rec.all()
	require.Len(t, samples, 1)
	assert.True(t, samples[0].Success)
	assert.Len(t, samples[0].Checks, 5)
}

func TestHTTPExecutor_MissingFieldFailsCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"baseFare":10.0,"surgeMultiplier":1.0}`))
	}))
	defer srv.Close()

	e, err := FromConfig("pricing_load", &config.ScenarioConfig{Exec: ExecPricing}, Options{BaseURL: srv.URL, Client: srv.Client()})
	require.NoError(t, err)

	res := e.Execute(context.Background())
	assert.False(t, res.Success)
	assert.False(t, res.Error, "a failed check is not a transport error")

	byName := make(map[string]bool)
	for _, c := range res.Checks {
		byName[c.Name] = c.Passed
	}
	assert.True(t, byName["has baseFare"])
	assert.False(t, byName["has finalPrice"])
}

func TestHTTPExecutor_ZeroValuedFieldIsPresent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"baseFare":0,"surgeMultiplier":0,"finalPrice":0}`))
	}))
	defer srv.Close()

	e, err := FromConfig("p", &config.ScenarioConfig{Exec: ExecPricing}, Options{BaseURL: srv.URL, Client: srv.Client()})
	require.NoError(t, err)
	assert.True(t, e.Execute(context.Background()).Success)
}

func TestHTTPExecutor_DriverLocation(t *testing.T) {
	var got DriverLocation
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/driver/location", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"accepted"}`))
	}))
	defer srv.Close()

	e, err := FromConfig("driver_updates", &config.ScenarioConfig{Exec: ExecDriverLocation}, Options{BaseURL: srv.URL + "/", Client: srv.Client()})
	require.NoError(t, err)

	res := e.Execute(context.Background())
	assert.True(t, res.Success, "checks: %+v", res.Checks)
	assert.Equal(t, http.StatusAccepted, res.StatusCode)
	require.Len(t, res.Checks, 2)
	assert.Equal(t, "has accepted status", res.Checks[1].Name)

	assert.Regexp(t, `^driver_\d{1,4}$`, got.DriverID)
	assert.InDelta(t, 37.75, got.Lat, 0.05)
	assert.InDelta(t, -122.45, got.Lng, 0.05)
	assert.InDelta(t, time.Now().UnixMilli(), got.Timestamp, float64(5*time.Second/time.Millisecond))
}

func TestHTTPExecutor_TimeoutIsFailedResult(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	rec := &captureRecorder{}
	e, err := FromConfig("pricing_load", &config.ScenarioConfig{Exec: ExecPricing, Timeout: config.Duration(50 * time.Millisecond)}, Options{
		BaseURL:  srv.URL,
		Client:   srv.Client(),
		Recorder: rec,
	})
	require.NoError(t, err)

	start := time.Now()
	res := e.Execute(context.Background())

	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, res.Error)
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.StatusCode)
	assert.Contains(t, res.ErrorText, "request timeout")
	assert.GreaterOrEqual(t, res.Duration, 50*time.Millisecond)

	samples := rec.all()
	require.Len(t, samples, 1)
	assert.True(t, samples[0].HTTPFailed())
}

func TestHTTPExecutor_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	e, err := FromConfig("p", &config.ScenarioConfig{Exec: ExecPricing}, Options{BaseURL: url})
	require.NoError(t, err)

	res := e.Execute(context.Background())
	assert.True(t, res.Error)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.ErrorText)
}

func TestHTTPExecutor_BuilderErrorAndPanic(t *testing.T) {
	rec := &captureRecorder{}

	e := &HTTPExecutor{
		Scenario: "x",
		Label:    "broken",
		Build:    func() (*Request, error) { return nil, errors.New("no coordinates") },
		Recorder: rec,
	}
	res := e.Execute(context.Background())
	assert.True(t, res.Error)
	assert.Contains(t, res.ErrorText, "no coordinates")

	e = &HTTPExecutor{
		Scenario: "x",
		Label:    "panicky",
		Build:    func() (*Request, error) { panic("bad builder") },
		Recorder: rec,
	}
	res = e.Execute(context.Background())
	assert.True(t, res.Error)
	assert.Contains(t, res.ErrorText, "bad builder")

	assert.Len(t, rec.all(), 2, "every execution is recorded, even failures")
}

func TestFromConfig_GenericRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders", r.URL.Path)
		assert.Equal(t, "abc", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "yes", r.Header.Get("X-Global"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"qty":2}`, string(body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":7,"state":"open","items":[{"sku":"a"}]}`))
	}))
	defer srv.Close()

	sc := &config.ScenarioConfig{
		Exec: ExecRequest,
		Request: &config.RequestConfig{
			Method:  "post",
			URL:     "/orders",
			Headers: map[string]string{"X-Api-Key": "abc"},
			Body:    `{"qty":2}`,
			Checks: []config.CheckConfig{
				{Type: config.CheckStatus, Status: 201},
				{Type: config.CheckField, Path: "$.items[0].sku"},
				{Type: config.CheckEquals, Path: "state", Value: "open"},
				{Type: config.CheckLatency, Below: config.Duration(time.Second), Name: "fast enough"},
				{Type: config.CheckSchema, Schema: `{"type":"object","required":["id"],"properties":{"id":{"type":"integer"}}}`},
			},
		},
	}

	e, err := FromConfig("orders", sc, Options{
		BaseURL: srv.URL,
		Client:  srv.Client(),
		Headers: map[string]string{"X-Global": "yes"},
	})
	require.NoError(t, err)
	assert.Equal(t, "POST /orders", e.Name())

	res := e.Execute(context.Background())
	require.Len(t, res.Checks, 5)
	assert.True(t, res.Success, "checks: %+v", res.Checks)
	assert.Equal(t, "status is 201", res.Checks[0].Name)
	assert.Equal(t, "has items[0].sku", res.Checks[1].Name)
	assert.Equal(t, "state is open", res.Checks[2].Name)
	assert.Equal(t, "fast enough", res.Checks[3].Name)
	assert.Equal(t, "matches schema", res.Checks[4].Name)
}

func TestFromConfig_Errors(t *testing.T) {
	_, err := FromConfig("x", &config.ScenarioConfig{Exec: "teleport"}, Options{})
	assert.Error(t, err)

	_, err = FromConfig("x", &config.ScenarioConfig{Exec: ExecRequest}, Options{})
	assert.Error(t, err)

	_, err = FromConfig("x", &config.ScenarioConfig{
		Exec: ExecRequest,
		Request: &config.RequestConfig{URL: "/", Checks: []config.CheckConfig{
			{Type: config.CheckSchema, Schema: `{"type": 12}`},
		}},
	}, Options{})
	assert.Error(t, err)
}
