package monitoring_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/liveclass/internal/monitoring"
	"github.com/charlesng35/liveclass/internal/monitoring/checks"
)

func setupModule(t *testing.T) *monitoring.Module {
	t.Helper()

	mod, err := monitoring.NewModule(monitoring.Options{DisableGoCollector: true, DisableProcessCollector: true})
	require.NoError(t, err)
	monitoring.SetModule(mod)
	return mod
}

func TestSummaryAggregatesMetrics(t *testing.T) {
	setupModule(t)

	monitoring.RecordSessionJoin("teacher", "success")
	monitoring.RecordSessionJoin("student", "not_joinable")
	monitoring.RecordSessionTransition("IN_PROGRESS")
	monitoring.RecordSessionTransition("IN_PROGRESS")
	monitoring.RecordSessionTransition("COMPLETED")
	monitoring.RecordSessionClosed(45 * time.Minute)
	monitoring.RecordWhiteboardOperation("open", "success")
	monitoring.RecordRealtimeConnection(1)
	monitoring.RecordRealtimeBroadcast("video.sessions")
	monitoring.RecordSweep("auto_end", "success", "", time.Second, 2)
	monitoring.RecordProviderCall("whiteboard", "create_room", "failure", "timeout", time.Second)

	summary := monitoring.Snapshot()
	require.Equal(t, uint64(1), summary.Sessions.JoinsAccepted)
	require.Equal(t, uint64(1), summary.Sessions.JoinsRejected)
	require.Equal(t, int64(1), summary.Sessions.Active)
	require.Equal(t, uint64(1), summary.Sessions.Completed)
	require.InDelta(t, 2700, summary.Sessions.AverageDurationSeconds, 0.01)
	require.Equal(t, int64(1), summary.Whiteboards.Open)
	require.Equal(t, int64(1), summary.Realtime.ActiveConnections)
	require.Len(t, summary.Sweeps, 1)
	require.Equal(t, int64(2), summary.Sweeps[0].LastItems)
	require.Len(t, summary.Providers, 1)
	require.Equal(t, uint64(1), summary.Providers[0].Failure)
}

func TestActiveSessionGaugeNeverNegative(t *testing.T) {
	setupModule(t)

	monitoring.RecordSessionTransition("COMPLETED")
	require.Equal(t, int64(0), monitoring.Snapshot().Sessions.Active)
}

func TestHandlerExposesDomainMetrics(t *testing.T) {
	mod := setupModule(t)
	monitoring.RecordSessionCreated("success")

	rec := httptest.NewRecorder()
	mod.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "liveclass_sessions_created_total"))
}

func TestHealthManagerEvaluate(t *testing.T) {
	manager := monitoring.NewHealthManager()
	manager.RegisterReadiness(monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))
	manager.RegisterReadiness(monitoring.NewCheck("provider", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "connection refused"}
	}))

	report := manager.EvaluateReadiness(context.Background())
	require.False(t, report.Success)
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Len(t, report.Checks, 2)
	require.Equal(t, "database", report.Checks[0].Component)
	require.Equal(t, "provider", report.Checks[1].Component)
}

func TestHealthCheckTimeoutAndPanic(t *testing.T) {
	manager := monitoring.NewHealthManager()
	slow := monitoring.NewCheck("slow", func(ctx context.Context) monitoring.ProbeResult {
		<-ctx.Done()
		return monitoring.ResultFromError("slow", ctx.Err(), 0)
	})
	slow.Timeout = 10 * time.Millisecond
	manager.RegisterLiveness(slow)
	manager.RegisterLiveness(monitoring.NewCheck("broken", func(context.Context) monitoring.ProbeResult {
		panic("boom")
	}))

	report := manager.EvaluateLiveness(context.Background())
	require.Equal(t, monitoring.StatusDegraded, report.Checks[0].Status)
	require.Equal(t, monitoring.StatusDown, report.Checks[1].Status)
	require.Equal(t, "boom", report.Checks[1].Details)
	require.Equal(t, monitoring.StatusDown, report.Status)
}

func TestResultFromError(t *testing.T) {
	require.Equal(t, monitoring.StatusUp, monitoring.ResultFromError("db", nil, 0).Status)
	require.Equal(t, monitoring.StatusDown, monitoring.ResultFromError("db", errors.New("down"), 0).Status)
	require.Equal(t, monitoring.StatusDegraded, monitoring.ResultFromError("db", context.DeadlineExceeded, 0).Status)
}

func TestSchedulerCheck(t *testing.T) {
	setupModule(t)

	monitoring.RecordSweep("reminders", "success", "", time.Second, 0)
	require.Equal(t, monitoring.StatusUp, checks.Scheduler(0).Run(context.Background()).Status)

	for i := 0; i < 3; i++ {
		monitoring.RecordSweep("auto_end", "failure", "database locked", time.Second, 0)
	}
	result := checks.Scheduler(0).Run(context.Background())
	require.Equal(t, monitoring.StatusDegraded, result.Status)
	require.Contains(t, result.Details, "auto_end")
}

func TestProvidersCheck(t *testing.T) {
	setupModule(t)

	monitoring.RecordProviderCall("rtc", "issue_credential", "success", "", time.Millisecond)
	require.Equal(t, monitoring.StatusUp, checks.Providers().Run(context.Background()).Status)

	monitoring.RecordProviderCall("whiteboard", "ban_room", "failure", "status 500", time.Millisecond)
	result := checks.Providers().Run(context.Background())
	require.Equal(t, monitoring.StatusDegraded, result.Status)
	require.Contains(t, result.Details, "whiteboard")
}
