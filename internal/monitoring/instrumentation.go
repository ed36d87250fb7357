package monitoring

import (
	"strings"
	"time"
)

// Results recorded for cache operations.
const (
	ResultHit      = "hit"
	ResultMiss     = "miss"
	ResultOK       = "ok"
	ResultFailed   = "failed"
	ResultConflict = "conflict"
	ResultInvalid  = "invalid"
)

// RecordCacheOperation counts a cache operation outcome.
func RecordCacheOperation(operation, result string) {
	module := ensureModule()
	if module == nil {
		return
	}
	op := normalizeLabel(operation)
	res := normalizeLabel(result)
	module.metrics.cacheOperations.WithLabelValues(op, res).Inc()
	module.stats.recordCacheOperation(op, res)
}

// RecordBackendError counts a failure the cache contract converted into a
// miss or a failed write.
func RecordBackendError(backend, operation, message string) {
	module := ensureModule()
	if module == nil {
		return
	}
	backend = normalizeLabel(backend)
	operation = normalizeLabel(operation)
	module.metrics.cacheBackendErrors.WithLabelValues(backend, operation).Inc()
	module.stats.recordBackendError(FailureRecord{
		Stream:   backend,
		Type:     operation,
		Message:  strings.TrimSpace(message),
		Occurred: time.Now(),
	})
}

// SetCacheEntries publishes the current entry count.
func SetCacheEntries(n int) {
	module := ensureModule()
	if module == nil {
		return
	}
	if n < 0 {
		n = 0
	}
	module.metrics.cacheEntries.Set(float64(n))
	module.stats.cacheEntries.Store(int64(n))
}

// RecordExpired counts entries purged after their TTL elapsed.
func RecordExpired(n int) {
	module := ensureModule()
	if module == nil || n <= 0 {
		return
	}
	module.metrics.cacheExpired.Add(float64(n))
	module.stats.cacheExpired.Add(uint64(n))
}

// ObserveBatchSize records how many keys a bulk operation touched.
func ObserveBatchSize(operation string, keys int) {
	module := ensureModule()
	if module == nil {
		return
	}
	if keys < 0 {
		keys = 0
	}
	module.metrics.cacheBatchSize.WithLabelValues(normalizeLabel(operation)).Observe(float64(keys))
}

// RecordAuthAttempt increments the auth attempt counter.
func RecordAuthAttempt(method, result string) {
	module := ensureModule()
	if module == nil {
		return
	}
	label := normalizeLabel(result)
	module.metrics.authAttempts.WithLabelValues(normalizeLabel(method), label).Inc()
	module.stats.recordAuth(label)
}

// RecordRateLimited counts a request rejected by the rate limiter.
func RecordRateLimited() {
	module := ensureModule()
	if module == nil {
		return
	}
	module.metrics.rateLimited.Inc()
	module.stats.rateLimited.Add(1)
}

// ObserveAPILatency captures the HTTP request latency for the supplied route.
func ObserveAPILatency(method, path, status string, duration time.Duration) {
	module := ensureModule()
	if module == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "UNKNOWN"
	}
	path = sanitizePath(path)
	if path == "" {
		path = "unknown"
	}
	status = strings.TrimSpace(status)
	if status == "" {
		status = "unknown"
	}
	module.metrics.apiLatency.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordRealtimeConnection adjusts the websocket connection gauge.
func RecordRealtimeConnection(delta int64) {
	module := ensureModule()
	if module == nil {
		return
	}
	if delta == 0 {
		return
	}
	module.metrics.realtimeConnections.Add(float64(delta))
	module.stats.recordRealtimeConnection(delta)
	if module.stats.realtimeConnections.Load() < 0 {
		module.stats.realtimeConnections.Store(0)
		module.metrics.realtimeConnections.Set(0)
	}
}

// RecordRealtimeSubscription tracks subscribe/unsubscribe events.
func RecordRealtimeSubscription(stream, action string) {
	module := ensureModule()
	if module == nil {
		return
	}
	stream = normalizePath(stream)
	action = normalizeLabel(action)
	module.metrics.realtimeSubscriptions.WithLabelValues(stream, action).Inc()
}

// RecordRealtimeBroadcast increments broadcast counters per stream.
func RecordRealtimeBroadcast(stream string) {
	module := ensureModule()
	if module == nil {
		return
	}
	stream = normalizePath(stream)
	module.metrics.realtimeBroadcasts.WithLabelValues(stream).Inc()
	module.stats.realtimeBroadcasts.Add(1)
}

// RecordRealtimeFailure snapshots a realtime failure occurrence.
func RecordRealtimeFailure(stream, failureType, message string) {
	module := ensureModule()
	if module == nil {
		return
	}
	stream = normalizePath(stream)
	failureType = normalizeLabel(failureType)
	module.metrics.realtimeFailures.WithLabelValues(stream, failureType).Inc()
	module.stats.recordRealtimeFailure(FailureRecord{
		Stream:   stream,
		Type:     failureType,
		Message:  strings.TrimSpace(message),
		Occurred: time.Now(),
	})
}

// RecordMaintenanceRun records the completion of a maintenance job.
func RecordMaintenanceRun(job, result, message string, duration time.Duration) {
	module := ensureModule()
	if module == nil {
		return
	}
	jobID := normalizeLabel(job)
	result = normalizeLabel(result)
	module.metrics.maintenanceRuns.WithLabelValues(jobID, result).Inc()
	observeDuration(module.metrics.maintenanceDuration.WithLabelValues(jobID), duration)
	if result == "success" {
		module.metrics.maintenanceLastRun.WithLabelValues(jobID).Set(float64(time.Now().Unix()))
	}
	module.stats.maintenanceEntry(jobID).record(result, strings.TrimSpace(message), duration)
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "unknown"
	}
	return value
}

func sanitizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "/" {
		return "root"
	}
	return normalizePath(path)
}

func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.Trim(path, "/")
	path = strings.ReplaceAll(path, " ", "_")
	if path == "" {
		return "root"
	}
	return path
}
