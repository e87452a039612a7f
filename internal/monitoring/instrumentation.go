package monitoring

import (
	"strings"
	"time"
)

// RecordSessionCreated counts a creation attempt.
func RecordSessionCreated(result string) {
	module := globalModule.Load()
	if module == nil {
		return
	}
	module.metrics.sessionsCreated.WithLabelValues(normalizeLabel(result)).Inc()
}

// RecordSessionJoin counts a join attempt for role.
func RecordSessionJoin(role, result string) {
	module := globalModule.Load()
	if module == nil {
		return
	}
	label := normalizeLabel(result)
	module.metrics.sessionJoins.WithLabelValues(normalizeLabel(role), label).Inc()
	module.stats.recordJoin(label)
}

// RecordSessionTransition counts a state machine move into status and keeps the
// in-progress gauge in step with it.
func RecordSessionTransition(status string) {
	module := globalModule.Load()
	if module == nil {
		return
	}
	status = strings.ToUpper(strings.TrimSpace(status))
	if status == "" {
		status = "UNKNOWN"
	}
	module.metrics.sessionTransitions.WithLabelValues(status).Inc()
	switch status {
	case "IN_PROGRESS":
		adjustActiveSessions(module, 1)
	case "COMPLETED":
		adjustActiveSessions(module, -1)
	}
}

func adjustActiveSessions(module *Module, delta int64) {
	module.metrics.activeSessions.Add(float64(delta))
	if module.stats.adjustActiveSessions(delta) < 0 {
		module.metrics.activeSessions.Set(0)
	}
}

// RecordSessionClosed records the actual duration of a completed session.
func RecordSessionClosed(duration time.Duration) {
	module := globalModule.Load()
	if module == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	observeDuration(module.metrics.sessionDuration, duration)
	module.stats.recordSessionDuration(duration)
}

// RecordWhiteboardOperation counts a whiteboard engine operation.
func RecordWhiteboardOperation(operation, result string) {
	module := globalModule.Load()
	if module == nil {
		return
	}
	op := normalizeLabel(operation)
	res := normalizeLabel(result)
	module.metrics.whiteboardOperations.WithLabelValues(op, res).Inc()
	if res != "success" {
		return
	}
	switch op {
	case "open":
		module.metrics.openWhiteboards.Inc()
		module.stats.openWhiteboards.Add(1)
	case "close":
		module.metrics.openWhiteboards.Dec()
		if module.stats.openWhiteboards.Add(-1) < 0 {
			module.stats.openWhiteboards.Store(0)
			module.metrics.openWhiteboards.Set(0)
		}
	}
}

// RecordProviderCall captures an external provider call and its latency.
func RecordProviderCall(provider, operation, result, message string, duration time.Duration) {
	module := globalModule.Load()
	if module == nil {
		return
	}
	name := normalizeLabel(provider)
	op := normalizeLabel(operation)
	res := normalizeLabel(result)
	module.metrics.providerCalls.WithLabelValues(name, op, res).Inc()
	observeDuration(module.metrics.providerLatency.WithLabelValues(name, op), duration)
	module.stats.providerEntry(name).record(res, strings.TrimSpace(message), duration)
}

// RecordSweep records one reconciliation sweep and how many entities it changed.
func RecordSweep(job, result, message string, duration time.Duration, items int) {
	module := globalModule.Load()
	if module == nil {
		return
	}
	jobID := normalizeLabel(job)
	result = normalizeLabel(result)
	module.metrics.sweepRuns.WithLabelValues(jobID, result).Inc()
	observeDuration(module.metrics.sweepDuration.WithLabelValues(jobID), duration)
	if items > 0 {
		module.metrics.sweepItems.WithLabelValues(jobID).Add(float64(items))
	}
	if result == "success" {
		module.metrics.sweepLastSuccess.WithLabelValues(jobID).Set(float64(time.Now().Unix()))
	}
	module.stats.sweepEntry(jobID).record(result, strings.TrimSpace(message), duration, items)
}

// RecordNotification counts a notification handed to the delivery channel.
func RecordNotification(kind string) {
	module := globalModule.Load()
	if module == nil {
		return
	}
	module.metrics.notifications.WithLabelValues(normalizeLabel(kind)).Inc()
}

// RecordInboundEvent counts a consumed lifecycle event.
func RecordInboundEvent(eventType, result string) {
	module := globalModule.Load()
	if module == nil {
		return
	}
	module.metrics.inboundEvents.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}

// ObserveAPILatency captures the HTTP request latency for the supplied route.
func ObserveAPILatency(method, path, status string, duration time.Duration) {
	module := globalModule.Load()
	if module == nil {
		return
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "UNKNOWN"
	}
	path = normalizePath(path)
	status = strings.TrimSpace(status)
	if status == "" {
		status = "unknown"
	}
	observeDuration(module.metrics.apiLatency.WithLabelValues(method, path, status), duration)
}

// RecordRealtimeConnection adjusts the websocket connection gauge.
func RecordRealtimeConnection(delta int64) {
	module := globalModule.Load()
	if module == nil || delta == 0 {
		return
	}
	module.metrics.realtimeConnections.Add(float64(delta))
	if module.stats.realtimeConnections.Add(delta) < 0 {
		module.stats.realtimeConnections.Store(0)
		module.metrics.realtimeConnections.Set(0)
	}
}

// RecordRealtimeBroadcast increments broadcast counters per stream.
func RecordRealtimeBroadcast(stream string) {
	module := globalModule.Load()
	if module == nil {
		return
	}
	module.metrics.realtimeBroadcasts.WithLabelValues(normalizePath(stream)).Inc()
	module.stats.realtimeBroadcasts.Add(1)
}

// RecordRealtimeFailure snapshots a realtime failure occurrence.
func RecordRealtimeFailure(stream, failureType, message string) {
	module := globalModule.Load()
	if module == nil {
		return
	}
	stream = normalizePath(stream)
	failureType = normalizeLabel(failureType)
	module.metrics.realtimeFailures.WithLabelValues(stream, failureType).Inc()
	module.stats.recordRealtimeFailure(FailureRecord{
		Stream:   stream,
		Type:     failureType,
		Message:  strings.TrimSpace(message),
		Occurred: time.Now(),
	})
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "unknown"
	}
	return value
}

func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.Trim(path, "/")
	path = strings.ReplaceAll(path, " ", "_")
	if path == "" {
		return "root"
	}
	return path
}
