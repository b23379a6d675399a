// Package metrics exposes Prometheus collectors for the gateway and the scheduler.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "unlock_gateway"

// Metrics holds every collector the service registers.
type Metrics struct {
	registry *prometheus.Registry

	socketsActive     prometheus.Gauge
	connections       *prometheus.CounterVec
	deliveries        *prometheus.CounterVec
	subscriptions     *prometheus.CounterVec
	jobRuns           *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	jobSkips          *prometheus.CounterVec
	busHandlerLatency *prometheus.HistogramVec
}

// New creates collectors on a fresh registry, together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		socketsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sockets_active",
			Help:      "Authenticated sockets currently registered.",
		}),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "WebSocket connection attempts by result.",
		}, []string{"result"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Per-socket pushes by event kind and result.",
		}, []string{"kind", "result"}),
		subscriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_total",
			Help:      "Subscribe requests by result.",
		}, []string{"result"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by job and result.",
		}, []string{"job", "result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Scheduled job run duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		jobSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_skips_total",
			Help:      "Ticks skipped because the previous run was still executing.",
		}, []string{"job"}),
		busHandlerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_handler_duration_seconds",
			Help:      "Internal event bus handler latency.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"event_type", "result"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.socketsActive,
		m.connections,
		m.deliveries,
		m.subscriptions,
		m.jobRuns,
		m.jobDuration,
		m.jobSkips,
		m.busHandlerLatency,
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ─────────────────────────────────────────────────────────────────────────────
// Gateway
// ─────────────────────────────────────────────────────────────────────────────

// SocketConnected records a successful authentication.
func (m *Metrics) SocketConnected() {
	if m == nil {
		return
	}
	m.connections.WithLabelValues("accepted").Inc()
	m.socketsActive.Inc()
}

// SocketRejected records a failed authentication.
func (m *Metrics) SocketRejected() {
	if m == nil {
		return
	}
	m.connections.WithLabelValues("rejected").Inc()
}

// SocketDisconnected records the removal of a registered socket.
func (m *Metrics) SocketDisconnected() {
	if m == nil {
		return
	}
	m.socketsActive.Dec()
}

// Delivery records one per-socket push.
func (m *Metrics) Delivery(kind string, ok bool) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(kind, result(ok)).Inc()
}

// Subscription records a subscribe decision.
func (m *Metrics) Subscription(allowed bool) {
	if m == nil {
		return
	}
	if allowed {
		m.subscriptions.WithLabelValues("allowed").Inc()
		return
	}
	m.subscriptions.WithLabelValues("denied").Inc()
}

// ─────────────────────────────────────────────────────────────────────────────
// Scheduler and event bus
// ─────────────────────────────────────────────────────────────────────────────

// JobRun records a finished job run.
func (m *Metrics) JobRun(job string, d time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, result(ok)).Inc()
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

// JobSkipped records a skipped tick.
func (m *Metrics) JobSkipped(job string) {
	if m == nil {
		return
	}
	m.jobSkips.WithLabelValues(job).Inc()
}

// EventHandled records an internal bus handler execution.
func (m *Metrics) EventHandled(eventType string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.busHandlerLatency.WithLabelValues(eventType, result(err == nil)).Observe(d.Seconds())
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
