// Package metrics exposes ledger and HTTP counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements core.Observer. Each instance owns its registry so tests can
// create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	commandsCommitted *prometheus.CounterVec
	commandsRejected  *prometheus.CounterVec
	commandsRetried   *prometheus.CounterVec
	atomicDuration    *prometheus.HistogramVec
	httpRequests      *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		commandsCommitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowdistributor",
			Subsystem: "ledger",
			Name:      "commands_committed_total",
			Help:      "Ledger commands committed, by operation.",
		}, []string{"op"}),
		commandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowdistributor",
			Subsystem: "ledger",
			Name:      "commands_rejected_total",
			Help:      "Ledger commands rejected, by operation and error code.",
		}, []string{"op", "code"}),
		commandsRetried: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowdistributor",
			Subsystem: "ledger",
			Name:      "commands_retried_total",
			Help:      "Atomic units re-run after losing a concurrent update.",
		}, []string{"op"}),
		atomicDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowdistributor",
			Subsystem: "ledger",
			Name:      "atomic_duration_seconds",
			Help:      "Duration of one atomic unit attempt.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"op"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowdistributor",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests, by method and status code.",
		}, []string{"method", "status"}),
	}
}

func (m *Metrics) CommandCommitted(op string) {
	m.commandsCommitted.WithLabelValues(op).Inc()
}

func (m *Metrics) CommandRejected(op, code string) {
	m.commandsRejected.WithLabelValues(op, code).Inc()
}

func (m *Metrics) CommandRetried(op string) {
	m.commandsRetried.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveAtomic(op string, d time.Duration) {
	m.atomicDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveHTTP counts one served request.
func (m *Metrics) ObserveHTTP(method, status string) {
	m.httpRequests.WithLabelValues(method, status).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (used by tests).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
