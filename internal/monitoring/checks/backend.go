package checks

import (
	"context"
	"time"

	"github.com/charlesng35/simplecache/internal/monitoring"
)

const defaultBackendTimeout = 2 * time.Second

// Pinger is implemented by cache backends that hold a remote connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Backend probes the cache backend. A backend running on its in-process
// fallback reports degraded so operators notice the lost persistence.
func Backend(name string, pinger Pinger, fallback bool, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("cache", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if pinger == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "cache backend unavailable"}
		}
		if fallback {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  name + " unreachable at startup, serving from memory",
				Duration: time.Since(start),
			}
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultBackendTimeout))
		defer cancel()

		result := monitoring.ResultFromError("cache", pinger.Ping(probeCtx), time.Since(start))
		if result.Status == monitoring.StatusUp {
			result.Details = name
		}
		return result
	})
}
