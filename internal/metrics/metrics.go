// Package metrics exposes Prometheus counters for the training pipeline and
// the HTTP API. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kbindex"

// Job outcomes reported by the dispatcher
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	OutcomeReleased  = "released"
	OutcomeLeaseLost = "lease_lost"
)

type Metrics struct {
	registry *prometheus.Registry

	jobs         *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	pauses       prometheus.Counter
	drained      *prometheus.CounterVec
	drainErrors  *prometheus.CounterVec
	tokens       *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New builds the collectors on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "training",
				Name:      "jobs_total",
				Help:      "Training jobs handled by the dispatcher, by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),

		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "training",
				Name:      "job_duration_seconds",
				Help:      "Time spent processing one training job",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"mode"},
		),

		pauses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "training",
				Name:      "dispatcher_pauses_total",
				Help:      "Times the dispatcher paused after resource exhaustion",
			},
		),

		drained: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "poller",
				Name:      "items_total",
				Help:      "Items moved by background pollers",
			},
			[]string{"poller"},
		),

		drainErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "poller",
				Name:      "errors_total",
				Help:      "Failed background poller passes",
			},
			[]string{"poller"},
		),

		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "usage",
				Name:      "tokens_total",
				Help:      "Model tokens billed, by model and source",
			},
			[]string{"model", "source"},
		),

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests served, by route and status",
			},
			[]string{"method", "route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobs,
		m.jobDuration,
		m.pauses,
		m.drained,
		m.drainErrors,
		m.tokens,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) JobFinished(mode, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(mode, outcome).Inc()
	m.jobDuration.WithLabelValues(mode).Observe(took.Seconds())
}

func (m *Metrics) DispatcherPaused() {
	if m == nil {
		return
	}
	m.pauses.Inc()
}

// PollerPass records one Drainer pass; failed passes only bump the error count.
func (m *Metrics) PollerPass(poller string, moved int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.drainErrors.WithLabelValues(poller).Inc()
		return
	}
	if moved > 0 {
		m.drained.WithLabelValues(poller).Add(float64(moved))
	}
}

func (m *Metrics) TokensBilled(model, source string, tokens int) {
	if m == nil || tokens <= 0 {
		return
	}
	m.tokens.WithLabelValues(model, source).Add(float64(tokens))
}

// HTTPRequest records one served request. route is the chi pattern, never the
// raw path, to keep label cardinality bounded.
func (m *Metrics) HTTPRequest(method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(took.Seconds())
}
