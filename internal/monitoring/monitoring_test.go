package monitoring_test

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/simplecache/internal/monitoring"
	"github.com/charlesng35/simplecache/internal/monitoring/checks"
)

func setupModule(t *testing.T) *monitoring.Module {
	t.Helper()

	mod, err := monitoring.NewModule(monitoring.Options{DisableGoCollector: true, DisableProcessCollector: true})
	require.NoError(t, err)
	monitoring.SetModule(mod)
	return mod
}

func TestSummaryAggregatesCacheMetrics(t *testing.T) {
	mod := setupModule(t)

	monitoring.RecordCacheOperation("get", monitoring.ResultHit)
	monitoring.RecordCacheOperation("get", monitoring.ResultHit)
	monitoring.RecordCacheOperation("get", monitoring.ResultMiss)
	monitoring.RecordCacheOperation("increment", monitoring.ResultConflict)
	monitoring.RecordBackendError("redis", "get", "connection reset")
	monitoring.SetCacheEntries(42)
	monitoring.RecordExpired(3)
	monitoring.RecordAuthAttempt("jwt", "success")
	monitoring.RecordAuthAttempt("api_key", "failure")
	monitoring.RecordRateLimited()
	monitoring.RecordRealtimeConnection(1)
	monitoring.RecordRealtimeBroadcast("cache.keys")
	monitoring.RecordMaintenanceRun("cache_sweep", "success", "", time.Second)

	summary := mod.Summary()
	require.EqualValues(t, 2, summary.Cache.Hits)
	require.EqualValues(t, 1, summary.Cache.Misses)
	require.InDelta(t, 2.0/3.0, summary.Cache.HitRatio, 0.0001)
	require.EqualValues(t, 42, summary.Cache.Entries)
	require.EqualValues(t, 3, summary.Cache.Expired)
	require.EqualValues(t, 1, summary.Cache.BackendErrors)
	require.NotNil(t, summary.Cache.LastBackendError)
	require.Equal(t, "connection reset", summary.Cache.LastBackendError.Message)

	require.Len(t, summary.Cache.Operations, 2)
	require.Equal(t, "get", summary.Cache.Operations[0].Operation)
	require.EqualValues(t, 3, summary.Cache.Operations[0].Total)
	require.EqualValues(t, 1, summary.Cache.Operations[1].Results[monitoring.ResultConflict])

	require.EqualValues(t, 1, summary.Auth.Success)
	require.EqualValues(t, 1, summary.Auth.Failure)
	require.EqualValues(t, 1, summary.Auth.RateLimited)
	require.EqualValues(t, 1, summary.Realtime.ActiveConnections)
	require.EqualValues(t, 1, summary.Realtime.Broadcasts)
	require.Len(t, summary.Maintenance.Jobs, 1)
	require.False(t, summary.Maintenance.Jobs[0].LastSuccessAt.IsZero())
}

func TestMetricsHandlerExposesCollectors(t *testing.T) {
	mod := setupModule(t)
	monitoring.RecordCacheOperation("set", monitoring.ResultOK)

	rec := httptest.NewRecorder()
	mod.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), `simplecache_cache_operations_total{operation="set",result="ok"} 1`))
}

func TestHealthManagerEvaluate(t *testing.T) {
	manager := monitoring.NewHealthManager()
	manager.RegisterReadiness(monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))
	manager.RegisterReadiness(monitoring.NewCheck("cache", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "connection refused"}
	}))
	manager.RegisterReadiness(monitoring.NewCheck("", nil))

	report := manager.EvaluateReadiness(context.Background())
	require.False(t, report.Success)
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Len(t, report.Checks, 2)
	require.Equal(t, "cache", report.Checks[1].Component)

	live := manager.EvaluateLiveness(context.Background())
	require.True(t, live.Success)
	require.Empty(t, live.Checks)
}

func TestHealthManagerRecoversPanickingCheck(t *testing.T) {
	manager := monitoring.NewHealthManager()
	manager.RegisterLiveness(monitoring.NewCheck("boom", func(ctx context.Context) monitoring.ProbeResult {
		panic("exploded")
	}))

	report := manager.EvaluateLiveness(context.Background())
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Equal(t, "boom", report.Checks[0].Component)
	require.Equal(t, "exploded", report.Checks[0].Details)
}

func TestMergeReportsDegraded(t *testing.T) {
	live := monitoring.HealthReport{Checks: []monitoring.ProbeResult{{Component: "a", Status: monitoring.StatusUp}}}
	ready := monitoring.HealthReport{Checks: []monitoring.ProbeResult{{Component: "b", Status: monitoring.StatusDegraded}}}

	merged := monitoring.MergeReports(live, ready)
	require.False(t, merged.Success)
	require.Equal(t, monitoring.StatusDegraded, merged.Status)
	require.Len(t, merged.Checks, 2)
}

func TestResultFromError(t *testing.T) {
	require.Equal(t, monitoring.StatusUp, monitoring.ResultFromError("x", nil, 0).Status)
	require.Equal(t, monitoring.StatusDown, monitoring.ResultFromError("x", errors.New("boom"), 0).Status)
	require.Equal(t, monitoring.StatusDegraded, monitoring.ResultFromError("x", context.DeadlineExceeded, 0).Status)
}

func TestMaintenanceCheck(t *testing.T) {
	setupModule(t)

	result := checks.Maintenance(0).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)

	monitoring.RecordMaintenanceRun("cache_sweep", "success", "", time.Second)
	monitoring.RecordMaintenanceRun("database_sweep", "failure", "timeout", time.Second)

	result = checks.Maintenance(0).Run(context.Background())
	require.Equal(t, monitoring.StatusDown, result.Status)
	require.Contains(t, result.Details, "database_sweep")
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestBackendCheck(t *testing.T) {
	ok := pingerFunc(func(context.Context) error { return nil })
	failing := pingerFunc(func(context.Context) error { return errors.New("refused") })

	require.Equal(t, monitoring.StatusUp, checks.Backend("redis", ok, false, 0).Run(context.Background()).Status)
	require.Equal(t, monitoring.StatusDown, checks.Backend("redis", failing, false, 0).Run(context.Background()).Status)
	require.Equal(t, monitoring.StatusDegraded, checks.Backend("redis", ok, true, 0).Run(context.Background()).Status)
	require.Equal(t, monitoring.StatusDown, checks.Backend("redis", nil, false, 0).Run(context.Background()).Status)
}

type connections int64

func (c connections) ActiveConnections() int64 { return int64(c) }

func TestRealtimeCheck(t *testing.T) {
	setupModule(t)

	require.Equal(t, monitoring.StatusUp, checks.Realtime(connections(2)).Run(context.Background()).Status)
	require.Equal(t, monitoring.StatusDegraded, checks.Realtime(nil).Run(context.Background()).Status)

	monitoring.RecordRealtimeFailure("cache.keys", "backpressure", "client too slow")
	require.Equal(t, monitoring.StatusDegraded, checks.Realtime(connections(2)).Run(context.Background()).Status)
}
