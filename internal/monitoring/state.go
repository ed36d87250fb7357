package monitoring

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type statStore struct {
	started time.Time

	cacheHits          atomic.Uint64
	cacheMisses        atomic.Uint64
	cacheEntries       atomic.Int64
	cacheExpired       atomic.Uint64
	backendErrors      atomic.Uint64
	backendLastFailure atomic.Value // *FailureRecord
	operations         sync.Map     // string -> *operationStats

	authSuccess atomic.Uint64
	authFailure atomic.Uint64
	rateLimited atomic.Uint64

	realtimeConnections atomic.Int64
	realtimeBroadcasts  atomic.Uint64
	realtimeFailures    atomic.Uint64
	realtimeLastFailure atomic.Value // *FailureRecord

	maintenance sync.Map // string -> *maintenanceStats
}

func newStatStore() *statStore {
	store := &statStore{started: time.Now()}
	store.backendLastFailure.Store((*FailureRecord)(nil))
	store.realtimeLastFailure.Store((*FailureRecord)(nil))
	return store
}

func (s *statStore) summary() Summary {
	lastRealtime, _ := s.realtimeLastFailure.Load().(*FailureRecord)
	lastBackend, _ := s.backendLastFailure.Load().(*FailureRecord)

	hits := s.cacheHits.Load()
	misses := s.cacheMisses.Load()
	var ratio float64
	if hits+misses > 0 {
		ratio = float64(hits) / float64(hits+misses)
	}

	return Summary{
		GeneratedAt:   time.Now(),
		UptimeSeconds: time.Since(s.started).Seconds(),
		Cache: CacheSummary{
			Hits:             hits,
			Misses:           misses,
			HitRatio:         ratio,
			Entries:          s.cacheEntries.Load(),
			Expired:          s.cacheExpired.Load(),
			BackendErrors:    s.backendErrors.Load(),
			LastBackendError: lastBackend,
			Operations:       s.cloneOperations(),
		},
		Auth: AuthSummary{
			Success:     s.authSuccess.Load(),
			Failure:     s.authFailure.Load(),
			RateLimited: s.rateLimited.Load(),
		},
		Realtime: RealtimeSummary{
			ActiveConnections: s.realtimeConnections.Load(),
			Broadcasts:        s.realtimeBroadcasts.Load(),
			Failures:          s.realtimeFailures.Load(),
			LastFailure:       lastRealtime,
		},
		Maintenance: MaintenanceSummary{
			Jobs: s.cloneMaintenance(),
		},
	}
}

func (s *statStore) recordCacheOperation(operation, result string) {
	switch result {
	case ResultHit:
		s.cacheHits.Add(1)
	case ResultMiss:
		s.cacheMisses.Add(1)
	}
	s.operationEntry(operation).record(result)
}

func (s *statStore) recordBackendError(record FailureRecord) {
	s.backendErrors.Add(1)
	cloned := record
	s.backendLastFailure.Store(&cloned)
}

func (s *statStore) recordAuth(result string) {
	if result == "success" {
		s.authSuccess.Add(1)
		return
	}
	s.authFailure.Add(1)
}

func (s *statStore) recordRealtimeConnection(delta int64) {
	if s.realtimeConnections.Add(delta) < 0 {
		s.realtimeConnections.Store(0)
	}
}

func (s *statStore) recordRealtimeFailure(record FailureRecord) {
	s.realtimeFailures.Add(1)
	cloned := record
	s.realtimeLastFailure.Store(&cloned)
}

func (s *statStore) operationEntry(operation string) *operationStats {
	if value, ok := s.operations.Load(operation); ok {
		return value.(*operationStats)
	}
	actual, _ := s.operations.LoadOrStore(operation, &operationStats{results: map[string]uint64{}})
	return actual.(*operationStats)
}

func (s *statStore) cloneOperations() []OperationSummary {
	out := []OperationSummary{}
	s.operations.Range(func(key, value any) bool {
		out = append(out, value.(*operationStats).snapshot(key.(string)))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}

func (s *statStore) maintenanceEntry(job string) *maintenanceStats {
	if value, ok := s.maintenance.Load(job); ok {
		return value.(*maintenanceStats)
	}
	actual, _ := s.maintenance.LoadOrStore(job, &maintenanceStats{})
	return actual.(*maintenanceStats)
}

func (s *statStore) cloneMaintenance() []MaintenanceJobSummary {
	summaries := []MaintenanceJobSummary{}
	s.maintenance.Range(func(key, value any) bool {
		summaries = append(summaries, value.(*maintenanceStats).snapshot(key.(string)))
		return true
	})
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Job < summaries[j].Job })
	return summaries
}

type operationStats struct {
	mu      sync.Mutex
	total   uint64
	results map[string]uint64
}

func (o *operationStats) record(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.total++
	o.results[result]++
}

func (o *operationStats) snapshot(operation string) OperationSummary {
	o.mu.Lock()
	defer o.mu.Unlock()
	results := make(map[string]uint64, len(o.results))
	for k, v := range o.results {
		results[k] = v
	}
	return OperationSummary{Operation: operation, Total: o.total, Results: results}
}

type maintenanceStats struct {
	lastStatus           atomic.Value // string
	lastError            atomic.Value // string
	lastRun              atomic.Int64 // unix nano
	lastDuration         atomic.Int64 // nanoseconds
	consecutiveFailures  atomic.Uint64
	totalRuns            atomic.Uint64
	lastSuccessfulRun    atomic.Int64
	consecutiveSuccesses atomic.Uint64
}

func (m *maintenanceStats) snapshot(job string) MaintenanceJobSummary {
	status, _ := m.lastStatus.Load().(string)
	errMsg, _ := m.lastError.Load().(string)

	summary := MaintenanceJobSummary{
		Job:                 job,
		LastStatus:          status,
		LastDuration:        time.Duration(m.lastDuration.Load()),
		LastError:           errMsg,
		ConsecutiveFailures: m.consecutiveFailures.Load(),
		ConsecutiveSuccess:  m.consecutiveSuccesses.Load(),
		TotalRuns:           m.totalRuns.Load(),
	}
	if ts := m.lastRun.Load(); ts > 0 {
		summary.LastRunAt = time.Unix(0, ts)
	}
	if ts := m.lastSuccessfulRun.Load(); ts > 0 {
		summary.LastSuccessAt = time.Unix(0, ts)
	}
	return summary
}

func (m *maintenanceStats) record(result, message string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	now := time.Now()
	m.lastStatus.Store(result)
	m.lastError.Store(message)
	m.lastRun.Store(now.UnixNano())
	m.lastDuration.Store(int64(duration))
	m.totalRuns.Add(1)

	if result == "success" {
		m.consecutiveFailures.Store(0)
		m.consecutiveSuccesses.Add(1)
		m.lastSuccessfulRun.Store(now.UnixNano())
		return
	}
	m.consecutiveFailures.Add(1)
	m.consecutiveSuccesses.Store(0)
}
