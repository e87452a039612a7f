package monitoring

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type statStore struct {
	joinSuccess atomic.Uint64
	joinDenied  atomic.Uint64

	activeSessions       atomic.Int64
	sessionTotalDuration atomic.Uint64 // nanoseconds
	sessionCount         atomic.Uint64
	sessionLastDuration  atomic.Int64
	sessionLastEndedAt   atomic.Int64

	openWhiteboards atomic.Int64

	realtimeConnections atomic.Int64
	realtimeBroadcasts  atomic.Uint64
	realtimeFailures    atomic.Uint64
	realtimeLastFailure atomic.Value // *FailureRecord

	sweeps    sync.Map // string -> *sweepStats
	providers sync.Map // string -> *providerStats
}

func newStatStore() *statStore {
	store := &statStore{}
	store.realtimeLastFailure.Store((*FailureRecord)(nil))
	return store
}

func (s *statStore) summary() Summary {
	lastFailure, _ := s.realtimeLastFailure.Load().(*FailureRecord)
	count := s.sessionCount.Load()
	var avgSeconds float64
	if count > 0 {
		avgSeconds = float64(s.sessionTotalDuration.Load()) / float64(count) / float64(time.Second)
	}

	sweeps := []SweepSummary{}
	s.sweeps.Range(func(key, value any) bool {
		sweeps = append(sweeps, value.(*sweepStats).snapshot(key.(string)))
		return true
	})
	sort.Slice(sweeps, func(i, j int) bool { return sweeps[i].Job < sweeps[j].Job })

	providers := []ProviderSummary{}
	s.providers.Range(func(key, value any) bool {
		providers = append(providers, value.(*providerStats).snapshot(key.(string)))
		return true
	})
	sort.Slice(providers, func(i, j int) bool { return providers[i].Provider < providers[j].Provider })

	return Summary{
		GeneratedAt: time.Now(),
		Sessions: SessionSummary{
			Active:                 s.activeSessions.Load(),
			Completed:              count,
			JoinsAccepted:          s.joinSuccess.Load(),
			JoinsRejected:          s.joinDenied.Load(),
			AverageDurationSeconds: avgSeconds,
			LastDuration:           time.Duration(s.sessionLastDuration.Load()),
			LastEndedAt:            time.Unix(0, s.sessionLastEndedAt.Load()),
		},
		Whiteboards: WhiteboardSummary{Open: s.openWhiteboards.Load()},
		Realtime: RealtimeSummary{
			ActiveConnections: s.realtimeConnections.Load(),
			Broadcasts:        s.realtimeBroadcasts.Load(),
			Failures:          s.realtimeFailures.Load(),
			LastFailure:       lastFailure,
		},
		Sweeps:    sweeps,
		Providers: providers,
	}
}

func (s *statStore) recordJoin(result string) {
	if result == "success" {
		s.joinSuccess.Add(1)
		return
	}
	s.joinDenied.Add(1)
}

func (s *statStore) adjustActiveSessions(delta int64) int64 {
	value := s.activeSessions.Add(delta)
	if value < 0 {
		s.activeSessions.Store(0)
	}
	return value
}

func (s *statStore) recordSessionDuration(d time.Duration) {
	s.sessionTotalDuration.Add(uint64(d))
	s.sessionCount.Add(1)
	s.sessionLastDuration.Store(int64(d))
	s.sessionLastEndedAt.Store(time.Now().UnixNano())
}

func (s *statStore) recordRealtimeFailure(record FailureRecord) {
	s.realtimeFailures.Add(1)
	cloned := record
	s.realtimeLastFailure.Store(&cloned)
}

func (s *statStore) sweepEntry(job string) *sweepStats {
	if value, ok := s.sweeps.Load(job); ok {
		return value.(*sweepStats)
	}
	actual, _ := s.sweeps.LoadOrStore(job, &sweepStats{})
	return actual.(*sweepStats)
}

func (s *statStore) providerEntry(provider string) *providerStats {
	if value, ok := s.providers.Load(provider); ok {
		return value.(*providerStats)
	}
	actual, _ := s.providers.LoadOrStore(provider, &providerStats{})
	return actual.(*providerStats)
}

type sweepStats struct {
	lastStatus          atomic.Value // string
	lastError           atomic.Value // string
	lastRun             atomic.Int64 // unix nano
	lastDuration        atomic.Int64
	lastItems           atomic.Int64
	lastSuccessfulRun   atomic.Int64
	consecutiveFailures atomic.Uint64
	totalRuns           atomic.Uint64
	totalItems          atomic.Uint64
}

func (m *sweepStats) record(result, message string, duration time.Duration, items int) {
	if duration < 0 {
		duration = 0
	}
	if items < 0 {
		items = 0
	}
	now := time.Now()
	m.lastStatus.Store(result)
	m.lastError.Store(message)
	m.lastRun.Store(now.UnixNano())
	m.lastDuration.Store(int64(duration))
	m.lastItems.Store(int64(items))
	m.totalRuns.Add(1)
	m.totalItems.Add(uint64(items))

	if result == "success" {
		m.consecutiveFailures.Store(0)
		m.lastSuccessfulRun.Store(now.UnixNano())
		return
	}
	m.consecutiveFailures.Add(1)
}

func (m *sweepStats) snapshot(job string) SweepSummary {
	status, _ := m.lastStatus.Load().(string)
	errMsg, _ := m.lastError.Load().(string)
	summary := SweepSummary{
		Job:                 job,
		LastStatus:          status,
		LastDuration:        time.Duration(m.lastDuration.Load()),
		LastItems:           m.lastItems.Load(),
		LastError:           errMsg,
		ConsecutiveFailures: m.consecutiveFailures.Load(),
		TotalRuns:           m.totalRuns.Load(),
		TotalItems:          m.totalItems.Load(),
	}
	if ns := m.lastRun.Load(); ns > 0 {
		summary.LastRunAt = time.Unix(0, ns)
	}
	if ns := m.lastSuccessfulRun.Load(); ns > 0 {
		summary.LastSuccessAt = time.Unix(0, ns)
	}
	return summary
}

type providerStats struct {
	success        atomic.Uint64
	failure        atomic.Uint64
	lastStatus     atomic.Value // string
	lastError      atomic.Value // string
	lastCompleted  atomic.Int64
	totalLatencyNs atomic.Uint64
}

func (p *providerStats) record(result, message string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	if result == "success" {
		p.success.Add(1)
	} else {
		p.failure.Add(1)
	}
	p.lastStatus.Store(result)
	p.lastError.Store(message)
	p.lastCompleted.Store(time.Now().UnixNano())
	p.totalLatencyNs.Add(uint64(duration))
}

func (p *providerStats) snapshot(provider string) ProviderSummary {
	status, _ := p.lastStatus.Load().(string)
	errMsg, _ := p.lastError.Load().(string)
	success := p.success.Load()
	failure := p.failure.Load()

	var avg float64
	if total := success + failure; total > 0 {
		avg = float64(p.totalLatencyNs.Load()) / float64(total) / float64(time.Second)
	}

	return ProviderSummary{
		Provider:              provider,
		Success:               success,
		Failure:               failure,
		LastStatus:            status,
		LastError:             errMsg,
		LastCompletedAt:       time.Unix(0, p.lastCompleted.Load()),
		AverageLatencySeconds: avg,
	}
}
