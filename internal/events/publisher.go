package events

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/liveclass/internal/realtime"
	"github.com/charlesng35/liveclass/internal/services"
	"github.com/charlesng35/liveclass/pkg/logger"
)

// LifecyclePublisher puts lifecycle events on the video-session topic and relays them to
// the class-session realtime topic.
type LifecyclePublisher struct {
	bus      *Bus
	notifier services.Notifier
	log      *zap.Logger
}

var _ services.LifecyclePublisher = (*LifecyclePublisher)(nil)

// NewLifecyclePublisher constructs a publisher. notifier may be nil.
func NewLifecyclePublisher(bus *Bus, notifier services.Notifier) *LifecyclePublisher {
	return &LifecyclePublisher{bus: bus, notifier: notifier, log: logger.WithModule("events")}
}

// PublishLifecycle implements services.LifecyclePublisher.
func (p *LifecyclePublisher) PublishLifecycle(ctx context.Context, event services.LifecycleEvent) error {
	var errs error
	if p.bus != nil {
		payload, err := Encode(event)
		if err != nil {
			return err
		}
		if err := p.bus.Publish(ctx, TopicVideoSessionEvents, payload); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if p.notifier != nil && event.ClassSessionID != "" {
		notification := services.Notification{
			Type:           event.Type,
			Title:          titleFor(event.Type),
			SessionID:      event.SessionID,
			ClassSessionID: event.ClassSessionID,
			CreatedAt:      event.OccurredAt,
			Data: map[string]any{
				"status":  event.Status,
				"user_id": event.UserID,
				"role":    event.Role,
			},
		}
		if event.ActualDurationMinutes != nil {
			notification.Data["actual_duration_minutes"] = *event.ActualDurationMinutes
		}
		if event.RecordingURL != "" {
			notification.Data["recording_url"] = event.RecordingURL
		}
		if err := p.notifier.BroadcastTopic(ctx, realtime.ClassSessionStream(event.ClassSessionID), notification); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("broadcast: %w", err))
		}
	}

	p.log.Debug("lifecycle event published",
		zap.String("event_type", event.Type),
		zap.String("session_id", event.SessionID),
	)
	return errs
}

func titleFor(eventType string) string {
	switch eventType {
	case services.EventSessionCreated:
		return "Session scheduled"
	case services.EventSessionStarted:
		return "Session started"
	case services.EventSessionEnded:
		return "Session ended"
	case services.EventSessionCancelled:
		return "Session cancelled"
	case services.EventSessionNoShow:
		return "Session missed"
	case services.EventParticipantJoined:
		return "Participant joined"
	case services.EventRecordingAvailable:
		return "Recording available"
	default:
		return eventType
	}
}
