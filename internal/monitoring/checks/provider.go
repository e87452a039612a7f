package checks

import (
	"context"
	"fmt"
	"strings"

	"github.com/charlesng35/liveclass/internal/monitoring"
)

// Providers degrades when the last call to an external room provider failed.
func Providers() monitoring.Check {
	return monitoring.NewCheck("providers", func(ctx context.Context) monitoring.ProbeResult {
		summary := monitoring.Snapshot()
		status := monitoring.StatusUp
		var problems []string
		for _, provider := range summary.Providers {
			if provider.LastStatus != "" && provider.LastStatus != "success" {
				status = monitoring.StatusDegraded
				problems = append(problems, fmt.Sprintf("%s: %s", provider.Provider, provider.LastError))
			}
		}
		return monitoring.ProbeResult{Status: status, Details: strings.Join(problems, "; ")}
	})
}
