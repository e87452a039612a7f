package monitoring

import "time"

// Summary surfaces aggregated runtime data for the monitoring endpoint.
type Summary struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Sessions    SessionSummary    `json:"sessions"`
	Whiteboards WhiteboardSummary `json:"whiteboards"`
	Realtime    RealtimeSummary   `json:"realtime"`
	Sweeps      []SweepSummary    `json:"sweeps"`
	Providers   []ProviderSummary `json:"providers"`
}

type SessionSummary struct {
	Active                 int64         `json:"active"`
	Completed              uint64        `json:"completed"`
	JoinsAccepted          uint64        `json:"joins_accepted"`
	JoinsRejected          uint64        `json:"joins_rejected"`
	AverageDurationSeconds float64       `json:"average_duration_seconds"`
	LastDuration           time.Duration `json:"last_duration"`
	LastEndedAt            time.Time     `json:"last_ended_at"`
}

type WhiteboardSummary struct {
	Open int64 `json:"open"`
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

type SweepSummary struct {
	Job                 string        `json:"job"`
	LastStatus          string        `json:"last_status"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastDuration        time.Duration `json:"last_duration"`
	LastItems           int64         `json:"last_items"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
	LastSuccessAt       time.Time     `json:"last_success_at"`
	TotalRuns           uint64        `json:"total_runs"`
	TotalItems          uint64        `json:"total_items"`
}

type ProviderSummary struct {
	Provider              string    `json:"provider"`
	Success               uint64    `json:"success"`
	Failure               uint64    `json:"failure"`
	LastStatus            string    `json:"last_status"`
	LastError             string    `json:"last_error,omitempty"`
	LastCompletedAt       time.Time `json:"last_completed_at"`
	AverageLatencySeconds float64   `json:"average_latency_seconds"`
}

// Snapshot returns a point-in-time summary from the current module when configured.
func Snapshot() Summary {
	if module := globalModule.Load(); module != nil {
		return module.Summary()
	}
	return Summary{GeneratedAt: time.Now()}
}
