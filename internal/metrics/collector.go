package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector handles metrics collection for the whitelist and its servers
type Collector struct {
	registry *prometheus.Registry

	// Whitelist metrics
	entries             prometheus.Gauge
	mutationsTotal      *prometheus.CounterVec
	checksTotal         *prometheus.CounterVec
	persistenceFailures *prometheus.CounterVec
	commandsTotal       *prometheus.CounterVec

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	activeConnections   prometheus.Gauge
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	collector := &Collector{
		registry: registry,
		entries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "whitelist_entries",
				Help: "Current number of whitelisted addresses",
			},
		),
		mutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whitelist_mutations_total",
				Help: "Whitelist mutations by operation and result",
			},
			[]string{"op", "result"},
		),
		checksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whitelist_checks_total",
				Help: "Membership checks on the accept path by family and result",
			},
			[]string{"family", "result"},
		),
		persistenceFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whitelist_persistence_failures_total",
				Help: "Failed loads and saves of the persisted whitelist",
			},
			[]string{"op"},
		),
		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whitelist_console_commands_total",
				Help: "Operator console commands executed",
			},
			[]string{"command"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whitelistd_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "whitelistd_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		activeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "whitelistd_active_connections",
				Help: "Current number of admitted connections",
			},
		),
	}

	// Register metrics
	registry.MustRegister(
		collector.entries,
		collector.mutationsTotal,
		collector.checksTotal,
		collector.persistenceFailures,
		collector.commandsTotal,
		collector.httpRequestsTotal,
		collector.httpRequestDuration,
		collector.activeConnections,
	)

	return collector
}

// Registry exposes the underlying registry, mainly for tests
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ServeHTTP implements http.Handler for metrics endpoint
func (c *Collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

// SetEntries sets the whitelist size gauge
func (c *Collector) SetEntries(n int) {
	c.entries.Set(float64(n))
}

// RecordMutation records an add/remove/clear outcome
func (c *Collector) RecordMutation(op string, changed bool) {
	result := "unchanged"
	if changed {
		result = "changed"
	}
	c.mutationsTotal.WithLabelValues(op, result).Inc()
}

// RecordCheck records a membership decision
func (c *Collector) RecordCheck(family string, allowed bool) {
	c.Checks(family, allowed).Inc()
}

// Checks returns the membership check counter for one family and result
func (c *Collector) Checks(family string, allowed bool) prometheus.Counter {
	result := "denied"
	if allowed {
		result = "allowed"
	}
	return c.checksTotal.WithLabelValues(family, result)
}

// RecordPersistenceFailure counts a failed load or save
func (c *Collector) RecordPersistenceFailure(op string) {
	c.persistenceFailures.WithLabelValues(op).Inc()
}

// RecordCommand counts an executed console command
func (c *Collector) RecordCommand(name string) {
	c.commandsTotal.WithLabelValues(name).Inc()
}

// RecordRequest records an HTTP request
func (c *Collector) RecordRequest(method, path string, status int, duration float64) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// ConnectionOpened and ConnectionClosed track admitted connections
func (c *Collector) ConnectionOpened() {
	c.activeConnections.Inc()
}

func (c *Collector) ConnectionClosed() {
	c.activeConnections.Dec()
}
