// Package metrics holds the Prometheus collectors shared by the broker
// client, the workers and the HTTP layer.
package metrics

import (
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stockchat"

// Outcome labels.
const (
	OutcomeOK        = "ok"
	OutcomeMalformed = "malformed"
	OutcomeFailed    = "failed"
	OutcomePanic     = "panic"
	OutcomeRetried   = "retried"
	OutcomeDropped   = "dropped"
	OutcomeSkipped   = "skipped"
	OutcomeNotFound  = "not_found"
	OutcomeError     = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	published       *prometheus.CounterVec
	consumed        *prometheus.CounterVec
	reconnects      prometheus.Counter
	quoteLookups    *prometheus.CounterVec
	quotesHandled   *prometheus.CounterVec
	workerRestarts  *prometheus.CounterVec
	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	wsConnections   prometheus.Gauge
	goroutines      prometheus.GaugeFunc
}

// New registers every collector on a fresh registry so tests and separate
// processes never collide on the global default.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "published_total",
			Help:      "Messages published to the exchange, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "consumed_total",
			Help:      "Messages delivered to subscription handlers, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "connects_total",
			Help:      "Broker connections established.",
		}),
		quoteLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bot",
			Name:      "quote_lookups_total",
			Help:      "Quote source lookups, by outcome.",
		}, []string{"outcome"}),
		quotesHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bot",
			Name:      "quotes_handled_total",
			Help:      "Quote responses persisted and broadcast, by outcome.",
		}, []string{"outcome"}),
		workerRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "restarts_total",
			Help:      "Supervised worker restarts.",
		}, []string{"worker"}),
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests, by method, route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
		goroutines: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines",
			Help:      "Number of goroutines.",
		}, func() float64 { return float64(runtime.NumGoroutine()) }),
	}

	reg.MustRegister(
		m.published,
		m.consumed,
		m.reconnects,
		m.quoteLookups,
		m.quotesHandled,
		m.workerRestarts,
		m.requestCount,
		m.requestDuration,
		m.wsConnections,
		m.goroutines,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// The methods below are nil-safe so components can run without metrics.

func (m *Metrics) Published(kind, outcome string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Consumed(kind, outcome string) {
	if m == nil {
		return
	}
	m.consumed.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Connected() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) QuoteLookup(outcome string) {
	if m == nil {
		return
	}
	m.quoteLookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) QuoteHandled(outcome string) {
	if m == nil {
		return
	}
	m.quotesHandled.WithLabelValues(outcome).Inc()
}

func (m *Metrics) WorkerRestarted(worker string) {
	if m == nil {
		return
	}
	m.workerRestarts.WithLabelValues(worker).Inc()
}

func (m *Metrics) ObserveRequest(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(method, route, statusClass(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(seconds)
}

func (m *Metrics) WebsocketOpened() {
	if m == nil {
		return
	}
	m.wsConnections.Inc()
}

func (m *Metrics) WebsocketClosed() {
	if m == nil {
		return
	}
	m.wsConnections.Dec()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
