package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type collectors struct {
	sessionsCreated      *prometheus.CounterVec
	sessionJoins         *prometheus.CounterVec
	sessionTransitions   *prometheus.CounterVec
	activeSessions       prometheus.Gauge
	sessionDuration      prometheus.Histogram
	whiteboardOperations *prometheus.CounterVec
	openWhiteboards      prometheus.Gauge
	providerCalls        *prometheus.CounterVec
	providerLatency      *prometheus.HistogramVec
	sweepRuns            *prometheus.CounterVec
	sweepDuration        *prometheus.HistogramVec
	sweepItems           *prometheus.CounterVec
	sweepLastSuccess     *prometheus.GaugeVec
	notifications        *prometheus.CounterVec
	inboundEvents        *prometheus.CounterVec
	apiLatency           *prometheus.HistogramVec
	realtimeConnections  prometheus.Gauge
	realtimeBroadcasts   *prometheus.CounterVec
	realtimeFailures     *prometheus.CounterVec
}

func newCollectors(namespace string) *collectors {
	buckets := prometheus.DefBuckets
	// Class sessions run from a few minutes to a few hours.
	sessionBuckets := []float64{60, 300, 900, 1800, 2700, 3600, 5400, 7200, 10800}

	return &collectors{
		sessionsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_created_total",
				Help:      "Video session creation attempts by result",
			},
			[]string{"result"},
		),
		sessionJoins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_joins_total",
				Help:      "Join attempts grouped by participant role and result",
			},
			[]string{"role", "result"},
		),
		sessionTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_transitions_total",
				Help:      "Video session state transitions by target status",
			},
			[]string{"status"},
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Video sessions currently in progress",
			},
		),
		sessionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Actual duration of completed sessions",
				Buckets:   sessionBuckets,
			},
		),
		whiteboardOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "whiteboard_operations_total",
				Help:      "Whiteboard engine operations by result",
			},
			[]string{"operation", "result"},
		),
		openWhiteboards: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "open_whiteboards",
				Help:      "Whiteboard rooms currently open",
			},
		),
		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Calls to external room providers by result",
			},
			[]string{"provider", "operation", "result"},
		),
		providerLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_latency_seconds",
				Help:      "Latency of external room provider calls",
				Buckets:   buckets,
			},
			[]string{"provider", "operation"},
		),
		sweepRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_runs_total",
				Help:      "Reconciliation sweep executions",
			},
			[]string{"job", "result"},
		),
		sweepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sweep_duration_seconds",
				Help:      "Reconciliation sweep duration",
				Buckets:   buckets,
			},
			[]string{"job"},
		),
		sweepItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_items_total",
				Help:      "Entities changed by reconciliation sweeps",
			},
			[]string{"job"},
		),
		sweepLastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sweep_last_success_timestamp",
				Help:      "Timestamp of the last successful sweep (seconds since epoch)",
			},
			[]string{"job"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Notifications delivered to users by type",
			},
			[]string{"type"},
		),
		inboundEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inbound_events_total",
				Help:      "Inbound lifecycle events by type and result",
			},
			[]string{"type", "result"},
		),
		apiLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_latency_seconds",
				Help:      "API endpoint latency",
				Buckets:   buckets,
			},
			[]string{"method", "path", "status"},
		),
		realtimeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "realtime_connections",
				Help:      "Active realtime websocket connections",
			},
		),
		realtimeBroadcasts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_broadcasts_total",
				Help:      "Messages broadcast across realtime streams",
			},
			[]string{"stream"},
		),
		realtimeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_failures_total",
				Help:      "Realtime delivery failures",
			},
			[]string{"stream", "type"},
		),
	}
}

func (c *collectors) all() []prometheus.Collector {
	return []prometheus.Collector{
		c.sessionsCreated,
		c.sessionJoins,
		c.sessionTransitions,
		c.activeSessions,
		c.sessionDuration,
		c.whiteboardOperations,
		c.openWhiteboards,
		c.providerCalls,
		c.providerLatency,
		c.sweepRuns,
		c.sweepDuration,
		c.sweepItems,
		c.sweepLastSuccess,
		c.notifications,
		c.inboundEvents,
		c.apiLatency,
		c.realtimeConnections,
		c.realtimeBroadcasts,
		c.realtimeFailures,
	}
}

func observeDuration(observer prometheus.Observer, d time.Duration) {
	if observer == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	observer.Observe(d.Seconds())
}
