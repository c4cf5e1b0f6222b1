// ABOUTME: Prometheus collectors for inbound Slack traffic, jobs, and vendor calls
// ABOUTME: A nil *Metrics is valid and records nothing

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "slack_pulse"

// Outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics holds every collector the service exports.
type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	jobs          *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	vendorCalls   *prometheus.CounterVec
	vendorLatency *prometheus.HistogramVec
	breakerOpen   *prometheus.GaugeVec
}

// New registers the collectors on a fresh registry alongside the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slack_requests_total",
			Help:      "Inbound Slack payloads by kind and HTTP status.",
		}, []string{"kind", "status"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Finished job attempts by job name and outcome.",
		}, []string{"name", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job attempt duration.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"name"}),
		vendorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vendor_calls_total",
			Help:      "Calls to Slack, the LLM, and blob storage.",
		}, []string{"service", "op", "outcome"}),
		vendorLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vendor_call_duration_seconds",
			Help:      "Vendor call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "op"}),
		breakerOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_open",
			Help:      "1 while a vendor circuit breaker is open.",
		}, []string{"service"}),
	}
	reg.MustRegister(m.requests, m.jobs, m.jobDuration, m.vendorCalls, m.vendorLatency, m.breakerOpen)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Request counts one inbound Slack payload.
func (m *Metrics) Request(kind string, status int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(kind, http.StatusText(status)).Inc()
}

// Job records one finished job attempt.
func (m *Metrics) Job(name string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(name, outcome(err)).Inc()
	m.jobDuration.WithLabelValues(name).Observe(d.Seconds())
}

// Vendor records one outbound call.
func (m *Metrics) Vendor(service, op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.vendorCalls.WithLabelValues(service, op, outcome(err)).Inc()
	m.vendorLatency.WithLabelValues(service, op).Observe(d.Seconds())
}

// BreakerOpen sets the breaker gauge for service.
func (m *Metrics) BreakerOpen(service string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.breakerOpen.WithLabelValues(service).Set(v)
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}
