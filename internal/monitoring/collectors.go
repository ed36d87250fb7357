package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type collectors struct {
	cacheOperations       *prometheus.CounterVec
	cacheBackendErrors    *prometheus.CounterVec
	cacheEntries          prometheus.Gauge
	cacheExpired          prometheus.Counter
	cacheBatchSize        *prometheus.HistogramVec
	authAttempts          *prometheus.CounterVec
	rateLimited           prometheus.Counter
	apiLatency            *prometheus.HistogramVec
	realtimeConnections   prometheus.Gauge
	realtimeBroadcasts    *prometheus.CounterVec
	realtimeFailures      *prometheus.CounterVec
	realtimeSubscriptions *prometheus.CounterVec
	maintenanceRuns       *prometheus.CounterVec
	maintenanceDuration   *prometheus.HistogramVec
	maintenanceLastRun    *prometheus.GaugeVec
}

func newCollectors(namespace string) *collectors {
	buckets := prometheus.DefBuckets
	batchBuckets := []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}

	return &collectors{
		cacheOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_operations_total",
				Help:      "Cache operations grouped by operation and result",
			},
			[]string{"operation", "result"},
		),
		cacheBackendErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_backend_errors_total",
				Help:      "Backend failures hidden behind a miss or a failed write",
			},
			[]string{"backend", "operation"},
		),
		cacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_entries",
				Help:      "Entries held by the in-process cache, including expired entries not yet purged",
			},
		),
		cacheExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_expired_total",
				Help:      "Expired entries purged by sweeps",
			},
		),
		cacheBatchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cache_batch_keys",
				Help:      "Number of keys per bulk operation",
				Buckets:   batchBuckets,
			},
			[]string{"operation"},
		),
		authAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_attempts_total",
				Help:      "API authentication attempts by method and result",
			},
			[]string{"method", "result"},
		),
		rateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_requests_total",
				Help:      "Requests rejected by the rate limiter",
			},
		),
		apiLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_latency_seconds",
				Help:      "API endpoint latency",
				Buckets:   buckets,
			},
			[]string{"method", "path", "status"},
		),
		realtimeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "realtime_connections",
				Help:      "Active realtime websocket connections",
			},
		),
		realtimeBroadcasts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_broadcasts_total",
				Help:      "Messages broadcast across realtime streams",
			},
			[]string{"stream"},
		),
		realtimeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_failures_total",
				Help:      "Realtime broadcast or subscription failures",
			},
			[]string{"stream", "type"},
		),
		realtimeSubscriptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_subscriptions_total",
				Help:      "Realtime subscribe/unsubscribe events",
			},
			[]string{"stream", "action"},
		),
		maintenanceRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "maintenance_runs_total",
				Help:      "Maintenance job executions",
			},
			[]string{"job", "result"},
		),
		maintenanceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "maintenance_duration_seconds",
				Help:      "Maintenance job duration",
				Buckets:   buckets,
			},
			[]string{"job"},
		),
		maintenanceLastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "maintenance_last_success_timestamp",
				Help:      "Timestamp of the last successful maintenance run (seconds since epoch)",
			},
			[]string{"job"},
		),
	}
}

func (c *collectors) all() []prometheus.Collector {
	return []prometheus.Collector{
		c.cacheOperations,
		c.cacheBackendErrors,
		c.cacheEntries,
		c.cacheExpired,
		c.cacheBatchSize,
		c.authAttempts,
		c.rateLimited,
		c.apiLatency,
		c.realtimeConnections,
		c.realtimeBroadcasts,
		c.realtimeFailures,
		c.realtimeSubscriptions,
		c.maintenanceRuns,
		c.maintenanceDuration,
		c.maintenanceLastRun,
	}
}

// observeDuration records a duration in seconds on the supplied histogram observer.
func observeDuration(observer prometheus.Observer, d time.Duration) {
	if observer == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	observer.Observe(d.Seconds())
}
