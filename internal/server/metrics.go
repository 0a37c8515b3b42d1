// ABOUTME: Prometheus instrumentation for the REST service
// ABOUTME: Per-server registry with protocol counters and an HTTP latency histogram

package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics owns its registry so that several servers (tests) can coexist in one process.
type metrics struct {
	registry *prometheus.Registry

	registrations   *prometheus.CounterVec
	heartbeats      prometheus.Counter
	historyBatches  *prometheus.CounterVec
	historyItems    *prometheus.CounterVec
	attempts        prometheus.Counter
	logins          *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ytwatch_registrations_total",
			Help: "Device registration requests by result.",
		}, []string{"result"}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ytwatch_heartbeats_total",
			Help: "Accepted device heartbeats.",
		}),
		historyBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ytwatch_history_batches_total",
			Help: "Watch history batches by result.",
		}, []string{"result"}),
		historyItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ytwatch_history_items_total",
			Help: "Watch history items in accepted batches, split into inserted and duplicate.",
		}, []string{"result"}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ytwatch_block_attempts_total",
			Help: "Block attempts reported by devices.",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ytwatch_logins_total",
			Help: "Management login attempts by result.",
		}, []string{"result"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ytwatch_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ytwatch_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.registrations,
		m.heartbeats,
		m.historyBatches,
		m.historyItems,
		m.attempts,
		m.logins,
		m.requests,
		m.requestDuration,
	)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) observeRequest(method, route string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
