// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Reader metrics
	StreamReads       *prometheus.CounterVec
	MilestoneFetches  prometheus.Counter
	ReadErrors        *prometheus.CounterVec
	CacheFallbacks    prometheus.Counter

	// Registry metrics
	RefreshesTotal     *prometheus.CounterVec
	InterpolationTicks prometheus.Counter
	VisibleStreams     prometheus.Gauge
	ScanChunks         prometheus.Counter
	ScanCursorBlock    prometheus.Gauge

	// Mutation metrics
	MutationsTotal   *prometheus.CounterVec
	MutationDuration *prometheus.HistogramVec

	// Transport metrics
	RPCCallLatency   *prometheus.HistogramVec
	WSMessageLatency prometheus.Histogram

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulRefresh prometheus.Gauge
	UptimeSeconds         prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "strapt_sync"
	}

	return &Metrics{
		// Reader metrics
		StreamReads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "stream_reads_total",
			Help:      "Total number of stream reads by result source",
		}, []string{"source"}),
		MilestoneFetches: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "milestone_fetches_total",
			Help:      "Total number of milestone fetches",
		}),
		ReadErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "read_errors_total",
			Help:      "Total number of unrecovered read failures by kind",
		}, []string{"kind"}),
		CacheFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "stale_cache_fallbacks_total",
			Help:      "Total number of reads served from stale cache after remote failure",
		}),

		// Registry metrics
		RefreshesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "refreshes_total",
			Help:      "Total number of registry refreshes by kind and status",
		}, []string{"kind", "status"}),
		InterpolationTicks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "interpolation_ticks_total",
			Help:      "Total number of local interpolation ticks",
		}),
		VisibleStreams: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "visible_streams",
			Help:      "Current number of visible streams",
		}),
		ScanChunks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "scan_chunks_total",
			Help:      "Total number of creation-log block chunks scanned",
		}),
		ScanCursorBlock: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "scan_cursor_block",
			Help:      "Highest block covered by the discovery cursor",
		}),

		// Mutation metrics
		MutationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mutator",
			Name:      "mutations_total",
			Help:      "Total number of mutations by method and status",
		}, []string{"method", "status"}),
		MutationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "mutator",
			Name:      "mutation_duration_seconds",
			Help:      "Simulate-submit-confirm duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"method"}),

		// Transport metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rpc_call_latency_seconds",
			Help:      "Ledger RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		WSMessageLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "ws_message_latency_seconds",
			Help:      "WebSocket message processing latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulRefresh: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_refresh_timestamp",
			Help:      "Unix timestamp of last successful registry refresh",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordStreamRead increments the stream reads counter for a result source
// (cache, remote, stale_fallback).
func RecordStreamRead(source string) {
	DefaultMetrics.StreamReads.WithLabelValues(source).Inc()
}

// RecordMilestoneFetch increments the milestone fetch counter.
func RecordMilestoneFetch() {
	DefaultMetrics.MilestoneFetches.Inc()
}

// RecordReadError records an unrecovered read failure.
func RecordReadError(kind string) {
	DefaultMetrics.ReadErrors.WithLabelValues(kind).Inc()
}

// RecordCacheFallback increments the stale-cache fallback counter.
func RecordCacheFallback() {
	DefaultMetrics.CacheFallbacks.Inc()
}

// RecordRefresh records a registry refresh outcome.
func RecordRefresh(kind, status string) {
	DefaultMetrics.RefreshesTotal.WithLabelValues(kind, status).Inc()
}

// RecordInterpolationTick increments the interpolation tick counter.
func RecordInterpolationTick() {
	DefaultMetrics.InterpolationTicks.Inc()
}

// UpdateVisibleStreams updates the visible stream gauge.
func UpdateVisibleStreams(n int) {
	DefaultMetrics.VisibleStreams.Set(float64(n))
}

// RecordScanChunk records one scanned discovery chunk and the cursor block.
func RecordScanChunk(block int64) {
	DefaultMetrics.ScanChunks.Inc()
	DefaultMetrics.ScanCursorBlock.Set(float64(block))
}

// RecordMutation records a mutation outcome and duration.
func RecordMutation(method, status string, seconds float64) {
	DefaultMetrics.MutationsTotal.WithLabelValues(method, status).Inc()
	DefaultMetrics.MutationDuration.WithLabelValues(method).Observe(seconds)
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
