package services

import (
	"context"
	"time"
)

// Notification types delivered to users.
const (
	NotificationSessionReminder = "SESSION_REMINDER"
	NotificationSessionStarting = "SESSION_STARTING"
	NotificationSessionStarted  = "SESSION_STARTED"
	NotificationSessionEnded    = "SESSION_ENDED"
	NotificationSessionError    = "SESSION_ERROR"
)

// Notification is a point-to-point or topic payload.
type Notification struct {
	Type           string         `json:"type"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	SessionID      string         `json:"session_id,omitempty"`
	ClassSessionID string         `json:"class_session_id,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Notifier delivers notifications to users and class-session topics.
type Notifier interface {
	NotifyUser(ctx context.Context, userID string, notification Notification) error
	BroadcastTopic(ctx context.Context, topic string, notification Notification) error
}

// Lifecycle event types published when a session changes state.
const (
	EventSessionCreated     = "SESSION_CREATED"
	EventSessionStarted     = "SESSION_STARTED"
	EventSessionEnded       = "SESSION_ENDED"
	EventSessionCancelled   = "SESSION_CANCELLED"
	EventSessionNoShow      = "SESSION_NO_SHOW"
	EventParticipantJoined  = "PARTICIPANT_JOINED"
	EventRecordingAvailable = "RECORDING_AVAILABLE"
)

// LifecycleEvent describes a video session state change for other services. Field names
// follow the camelCase envelope used on the cross-service topics.
type LifecycleEvent struct {
	Type                  string    `json:"eventType"`
	SessionID             string    `json:"sessionId"`
	ClassSessionID        string    `json:"classSessionId"`
	CourseID              string    `json:"courseId,omitempty"`
	TeacherID             string    `json:"teacherId"`
	StudentID             string    `json:"studentId,omitempty"`
	UserID                string    `json:"userId,omitempty"`
	Role                  string    `json:"role,omitempty"`
	Status                string    `json:"status"`
	Reason                string    `json:"reason,omitempty"`
	ActualDurationMinutes *int      `json:"actualDurationMinutes,omitempty"`
	RecordingURL          string    `json:"recordingUrl,omitempty"`
	OccurredAt            time.Time `json:"timestamp"`
}

// LifecyclePublisher hands lifecycle events to the event bus.
type LifecyclePublisher interface {
	PublishLifecycle(ctx context.Context, event LifecycleEvent) error
}
