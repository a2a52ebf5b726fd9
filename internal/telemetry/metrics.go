package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency across all routes.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "hubex",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

var TelemetryEventsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "hubex",
		Subsystem: "telemetry",
		Name:      "events_total",
		Help:      "Total number of telemetry events accepted.",
	},
)

var TelemetryRateLimitedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "hubex",
		Subsystem: "telemetry",
		Name:      "rate_limited_total",
		Help:      "Total number of telemetry events rejected by the per-device rate limit.",
	},
)

var WSConnections = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "hubex",
		Subsystem: "telemetry",
		Name:      "ws_connections",
		Help:      "Currently attached telemetry WebSocket clients.",
	},
)

var TasksPolledTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "hubex",
		Subsystem: "tasks",
		Name:      "polled_total",
		Help:      "Total number of task leases handed out by poll.",
	},
)

var PairingConfirmsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hubex",
		Subsystem: "pairing",
		Name:      "confirms_total",
		Help:      "Total number of pairing confirm attempts by outcome.",
	},
	[]string{"outcome"},
)

var VariableWritesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "hubex",
		Subsystem: "variables",
		Name:      "writes_total",
		Help:      "Total number of successful variable value writes.",
	},
)

var EffectsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hubex",
		Subsystem: "effects",
		Name:      "processed_total",
		Help:      "Total number of effect executions by terminal status.",
	},
	[]string{"status"},
)

var SnapshotCacheHitsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "hubex",
		Subsystem: "variables",
		Name:      "snapshot_cache_hits_total",
		Help:      "Total number of effective-snapshot reads served from the in-process cache.",
	},
)

// All returns all Hubex-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		TelemetryEventsTotal,
		TelemetryRateLimitedTotal,
		WSConnections,
		TasksPolledTotal,
		PairingConfirmsTotal,
		VariableWritesTotal,
		EffectsProcessedTotal,
		SnapshotCacheHitsTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTPRequestDuration metric, and any additional collectors.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
