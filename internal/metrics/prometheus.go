package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusObserver mirrors recorded samples into prometheus collectors on
// a private registry, so a run can be scraped while it is in progress.
type PrometheusObserver struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	checks      *prometheus.CounterVec
	issued      *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	transportEr *prometheus.CounterVec
}

// NewPrometheusObserver registers the surgeload collectors on a new registry.
func NewPrometheusObserver() *PrometheusObserver {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &PrometheusObserver{
		registry: reg,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surgeload_http_reqs_total",
				Help: "Completed requests by scenario and status code",
			},
			[]string{"scenario", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "surgeload_http_req_duration_seconds",
				Help:    "Request duration by scenario",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"scenario"},
		),
		checks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surgeload_checks_total",
				Help: "Check evaluations by scenario, check and outcome",
			},
			[]string{"scenario", "check", "result"},
		),
		issued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surgeload_iterations_issued_total",
				Help: "Slots emitted by the scheduler",
			},
			[]string{"scenario"},
		),
		dropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surgeload_dropped_iterations_total",
				Help: "Slots dropped because no worker was free",
			},
			[]string{"scenario"},
		),
		transportEr: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surgeload_transport_errors_total",
				Help: "Requests that failed before a response was read",
			},
			[]string{"scenario"},
		),
	}
}

// ObserveSample implements Observer.
func (p *PrometheusObserver) ObserveSample(s Sample) {
	p.requests.WithLabelValues(s.Scenario, strconv.Itoa(s.StatusCode)).Inc()
	p.duration.WithLabelValues(s.Scenario).Observe(s.Duration.Seconds())
	if s.Err {
		p.transportEr.WithLabelValues(s.Scenario).Inc()
	}
	for _, c := range s.Checks {
		result := "pass"
		if !c.Passed {
			result = "fail"
		}
		p.checks.WithLabelValues(s.Scenario, c.Name, result).Inc()
	}
}

// ObserveIssued implements Observer.
func (p *PrometheusObserver) ObserveIssued(scenario string) {
	p.issued.WithLabelValues(scenario).Inc()
}

// ObserveDropped implements Observer.
func (p *PrometheusObserver) ObserveDropped(scenario string) {
	p.dropped.WithLabelValues(scenario).Inc()
}

// Registry returns the private registry.
func (p *PrometheusObserver) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the prometheus exposition format.
func (p *PrometheusObserver) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
