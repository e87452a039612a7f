package checks

import (
	"context"
	"fmt"

	"github.com/charlesng35/liveclass/internal/monitoring"
)

// RealtimeObserver exposes the minimal state required to evaluate realtime health.
type RealtimeObserver interface {
	ActiveConnections() int64
}

// Realtime reports the notification hub as degraded when it is missing or has dropped deliveries.
func Realtime(observer RealtimeObserver) monitoring.Check {
	return monitoring.NewCheck("realtime", func(ctx context.Context) monitoring.ProbeResult {
		if observer == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "realtime hub unavailable"}
		}

		snapshot := monitoring.Snapshot()
		details := fmt.Sprintf("%d connections", observer.ActiveConnections())
		if snapshot.Realtime.Failures > 0 {
			return monitoring.ProbeResult{
				Status:  monitoring.StatusDegraded,
				Details: fmt.Sprintf("%s; %d failures", details, snapshot.Realtime.Failures),
			}
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: details}
	})
}
