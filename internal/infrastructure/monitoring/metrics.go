package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the subsystem.
type Metrics struct {
	// HTTP bridge metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Adblock metrics
	BlockedTotal  prometheus.Counter
	ListDomains   prometheus.Gauge
	ListRefreshes *prometheus.CounterVec

	// Challenge solver metrics
	SolvesTotal   *prometheus.CounterVec
	SolveDuration prometheus.Histogram

	// Managed process metrics
	ProcessStarts *prometheus.CounterVec
	ProcessAlive  *prometheus.GaugeVec

	// Tor metrics
	TorBootstrap prometheus.Gauge

	// WebSocket metrics
	WSConnections prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a metrics collector registered on a private registry.
// Returns the collector and the registry to expose on /metrics.
func NewMetrics() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iats_http_requests_total",
				Help: "Total number of bridge HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "iats_http_request_duration_seconds",
				Help:    "Bridge HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
			},
			[]string{"method", "path"},
		),
		BlockedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "iats_adblock_blocked_total",
				Help: "Total number of blocked requests",
			},
		),
		ListDomains: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "iats_adblock_list_domains",
				Help: "Number of domains in the active blocklist",
			},
		),
		ListRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iats_adblock_list_refreshes_total",
				Help: "Filter list refresh attempts by result",
			},
			[]string{"result"},
		),
		SolvesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iats_solver_solves_total",
				Help: "Challenge solve attempts by outcome",
			},
			[]string{"outcome"},
		),
		SolveDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "iats_solver_solve_duration_seconds",
				Help:    "Challenge solve duration in seconds",
				Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 35, 60},
			},
		),
		ProcessStarts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iats_process_starts_total",
				Help: "Managed process start attempts by name and result",
			},
			[]string{"name", "result"},
		),
		ProcessAlive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "iats_process_alive",
				Help: "Whether a managed process is currently running",
			},
			[]string{"name"},
		),
		TorBootstrap: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "iats_tor_bootstrap_percent",
				Help: "Tor bootstrap progress (0-100)",
			},
		),
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "iats_ws_connections",
				Help: "Active WebSocket event-stream connections",
			},
		),
		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "iats_uptime_seconds",
				Help: "Backend uptime in seconds",
			},
		),
	}

	return m, reg
}

// RecordHTTPRequest records a bridge request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSolve records a challenge solve outcome.
func (m *Metrics) RecordSolve(outcome string, duration time.Duration) {
	m.SolvesTotal.WithLabelValues(outcome).Inc()
	m.SolveDuration.Observe(duration.Seconds())
}

// UpdateUptime refreshes the uptime gauge.
func (m *Metrics) UpdateUptime() {
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}
