package checks

import (
	"context"
	"strings"
	"time"

	"github.com/charlesng35/liveclass/internal/monitoring"
)

const defaultSweepMaxAge = 3 * time.Hour

// Scheduler reports degraded when a reconciliation sweep keeps failing or has not run within maxAge.
// Sweeps exist to repair session state, so a failing sweep degrades rather than takes the service down.
func Scheduler(maxAge time.Duration) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultSweepMaxAge
	}

	return monitoring.NewCheck("scheduler", func(ctx context.Context) monitoring.ProbeResult {
		summary := monitoring.Snapshot()
		if len(summary.Sweeps) == 0 {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "no sweeps recorded"}
		}

		now := time.Now()
		status := monitoring.StatusUp
		var problems []string
		for _, sweep := range summary.Sweeps {
			if sweep.ConsecutiveFailures >= 3 {
				status = monitoring.StatusDegraded
				problems = append(problems, sweep.Job+": "+sweep.LastError)
			}
			if !sweep.LastRunAt.IsZero() && now.Sub(sweep.LastRunAt) > maxAge {
				status = monitoring.StatusDegraded
				problems = append(problems, sweep.Job+": stale since "+sweep.LastRunAt.UTC().Format(time.RFC3339))
			}
		}

		return monitoring.ProbeResult{Status: status, Details: strings.Join(problems, "; ")}
	})
}
