package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/charlesng35/simplecache/internal/monitoring"
)

// RealtimeObserver exposes the minimal state required to evaluate realtime health.
type RealtimeObserver interface {
	ActiveConnections() int64
}

// Realtime reports the key-event hub as degraded once broadcasts have been
// dropped.
func Realtime(observer RealtimeObserver) monitoring.Check {
	return monitoring.NewCheck("realtime", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if observer == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "realtime hub unavailable"}
		}

		snapshot := monitoring.Snapshot()
		result := monitoring.ProbeResult{
			Status:   monitoring.StatusUp,
			Details:  fmt.Sprintf("%d connections", observer.ActiveConnections()),
			Duration: time.Since(start),
		}
		if snapshot.Realtime.Failures > 0 {
			result.Status = monitoring.StatusDegraded
			result.Details = fmt.Sprintf("%d failures", snapshot.Realtime.Failures)
		}
		return result
	})
}
