package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ProbeStatus encodes the outcome of a health probe.
type ProbeStatus string

const (
	StatusUp       ProbeStatus = "up"
	StatusDown     ProbeStatus = "down"
	StatusDegraded ProbeStatus = "degraded"
)

const defaultCheckTimeout = 5 * time.Second

// ProbeResult captures a single dependency check outcome.
type ProbeResult struct {
	Component string        `json:"component"`
	Status    ProbeStatus   `json:"status"`
	Details   string        `json:"details,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// HealthReport aggregates probe results for a liveness or readiness evaluation.
type HealthReport struct {
	Success bool          `json:"success"`
	Status  ProbeStatus   `json:"status"`
	Checks  []ProbeResult `json:"checks"`
}

// Check is a single named dependency probe. Run receives a context bounded by Timeout.
type Check struct {
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) ProbeResult
}

// NewCheck constructs a health check with the default timeout.
func NewCheck(name string, fn func(ctx context.Context) ProbeResult) Check {
	if fn == nil {
		fn = func(context.Context) ProbeResult {
			return ProbeResult{Status: StatusDown, Details: "probe not implemented"}
		}
	}
	return Check{Name: name, Timeout: defaultCheckTimeout, Run: fn}
}

// HealthManager coordinates liveness and readiness probes.
type HealthManager struct {
	mu              sync.RWMutex
	livenessChecks  []Check
	readinessChecks []Check
}

// NewHealthManager constructs an empty health manager.
func NewHealthManager() *HealthManager {
	return &HealthManager{}
}

// RegisterLiveness appends a liveness probe.
func (m *HealthManager) RegisterLiveness(check Check) {
	if check.Name == "" {
		return
	}
	m.mu.Lock()
	m.livenessChecks = append(m.livenessChecks, check)
	m.mu.Unlock()
}

// RegisterReadiness appends a readiness probe.
func (m *HealthManager) RegisterReadiness(check Check) {
	if check.Name == "" {
		return
	}
	m.mu.Lock()
	m.readinessChecks = append(m.readinessChecks, check)
	m.mu.Unlock()
}

// EvaluateLiveness executes all configured liveness checks.
func (m *HealthManager) EvaluateLiveness(ctx context.Context) HealthReport {
	m.mu.RLock()
	checks := append([]Check(nil), m.livenessChecks...)
	m.mu.RUnlock()
	return evaluate(ctx, checks)
}

// EvaluateReadiness executes all configured readiness checks.
func (m *HealthManager) EvaluateReadiness(ctx context.Context) HealthReport {
	m.mu.RLock()
	checks := append([]Check(nil), m.readinessChecks...)
	m.mu.RUnlock()
	return evaluate(ctx, checks)
}

// evaluate runs checks concurrently; the report keeps registration order.
func evaluate(ctx context.Context, checks []Check) HealthReport {
	if ctx == nil {
		ctx = context.Background()
	}
	results := make([]ProbeResult, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(i int, check Check) {
			defer wg.Done()
			results[i] = runCheck(ctx, check)
		}(i, check)
	}
	wg.Wait()
	return aggregate(results)
}

func aggregate(results []ProbeResult) HealthReport {
	report := HealthReport{Success: true, Status: StatusUp, Checks: results}
	for _, result := range results {
		switch result.Status {
		case StatusDown:
			report.Success = false
			report.Status = StatusDown
		case StatusDegraded:
			report.Success = false
			if report.Status != StatusDown {
				report.Status = StatusDegraded
			}
		}
	}
	if report.Checks == nil {
		report.Checks = []ProbeResult{}
	}
	return report
}

func runCheck(ctx context.Context, check Check) (result ProbeResult) {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			result = ProbeResult{Status: StatusDown, Details: fmt.Sprint(rec)}
		}
		if result.Status == "" {
			result.Status = StatusDown
		}
		if result.Duration == 0 {
			result.Duration = time.Since(start)
		}
		result.Component = check.Name
	}()

	return check.Run(probeCtx)
}

// MergeReports combines liveness and readiness results to a single payload.
func MergeReports(live, ready HealthReport) HealthReport {
	checks := append([]ProbeResult(nil), live.Checks...)
	checks = append(checks, ready.Checks...)
	return aggregate(checks)
}

// ResultFromError converts an error into a ProbeResult. Timeouts degrade instead of failing.
func ResultFromError(component string, err error, duration time.Duration) ProbeResult {
	if duration < 0 {
		duration = 0
	}
	if err == nil {
		return ProbeResult{Component: component, Status: StatusUp, Duration: duration}
	}

	status := StatusDown
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		status = StatusDegraded
	}
	return ProbeResult{
		Component: component,
		Status:    status,
		Details:   err.Error(),
		Duration:  duration,
	}
}
