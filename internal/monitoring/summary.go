package monitoring

import "time"

// Summary surfaces aggregated monitoring data for operators.
type Summary struct {
	GeneratedAt   time.Time          `json:"generated_at"`
	UptimeSeconds float64            `json:"uptime_seconds"`
	Backend       string             `json:"backend,omitempty"`
	Cache         CacheSummary       `json:"cache"`
	Auth          AuthSummary        `json:"auth"`
	Realtime      RealtimeSummary    `json:"realtime"`
	Maintenance   MaintenanceSummary `json:"maintenance"`
}

type CacheSummary struct {
	Hits             uint64             `json:"hits"`
	Misses           uint64             `json:"misses"`
	HitRatio         float64            `json:"hit_ratio"`
	Entries          int64              `json:"entries"`
	Expired          uint64             `json:"expired"`
	BackendErrors    uint64             `json:"backend_errors"`
	LastBackendError *FailureRecord     `json:"last_backend_error,omitempty"`
	Operations       []OperationSummary `json:"operations"`
}

type OperationSummary struct {
	Operation string            `json:"operation"`
	Total     uint64            `json:"total"`
	Results   map[string]uint64 `json:"results"`
}

type AuthSummary struct {
	Success     uint64 `json:"success"`
	Failure     uint64 `json:"failure"`
	RateLimited uint64 `json:"rate_limited"`
}

type FailureRecord struct {
	Stream   string    `json:"stream"`
	Type     string    `json:"type"`
	Message  string    `json:"message"`
	Occurred time.Time `json:"occurred_at"`
}

type RealtimeSummary struct {
	ActiveConnections int64          `json:"active_connections"`
	Broadcasts        uint64         `json:"broadcasts"`
	Failures          uint64         `json:"failures"`
	LastFailure       *FailureRecord `json:"last_failure,omitempty"`
}

type MaintenanceSummary struct {
	Jobs []MaintenanceJobSummary `json:"jobs"`
}

type MaintenanceJobSummary struct {
	Job                 string        `json:"job"`
	LastStatus          string        `json:"last_status"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastDuration        time.Duration `json:"last_duration"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
	ConsecutiveSuccess  uint64        `json:"consecutive_success"`
	LastSuccessAt       time.Time     `json:"last_success_at"`
	TotalRuns           uint64        `json:"total_runs"`
}

// Snapshot returns a point-in-time summary from the current module when configured.
func Snapshot() Summary {
	if module := ensureModule(); module != nil {
		return module.Summary()
	}
	return Summary{GeneratedAt: time.Now()}
}
