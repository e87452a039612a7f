package events

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/liveclass/internal/models"
	"github.com/charlesng35/liveclass/internal/services"
	"github.com/charlesng35/liveclass/pkg/logger"
)

// SessionEngine is the part of the lifecycle engine driven by inbound events.
type SessionEngine interface {
	CreateSession(ctx context.Context, params services.CreateSessionParams) (*models.VideoSession, error)
	CancelByClassID(ctx context.Context, classSessionID, reason string) (*models.VideoSession, error)
	ApplyEnrollment(ctx context.Context, courseID, studentID string, enrolled bool) (int, error)
}

// WhiteboardEngine is the part of the whiteboard engine driven by events.
type WhiteboardEngine interface {
	UpdateRoster(ctx context.Context, courseID, studentID string, enrolled bool) (int, error)
	CloseForSession(ctx context.Context, classSessionID string) error
}

// Listeners translate platform events into engine operations.
type Listeners struct {
	sessions    SessionEngine
	whiteboards WhiteboardEngine
	log         *zap.Logger
}

// NewListeners constructs the listeners. whiteboards may be nil.
func NewListeners(sessions SessionEngine, whiteboards WhiteboardEngine) (*Listeners, error) {
	if sessions == nil {
		return nil, errors.New("events: session engine is required")
	}
	return &Listeners{
		sessions:    sessions,
		whiteboards: whiteboards,
		log:         logger.WithModule("events"),
	}, nil
}

// Register subscribes every listener to its topic.
func (l *Listeners) Register(bus *Bus) {
	bus.Subscribe(TopicBookingEvents, "booking", l.HandleBookingEvent)
	bus.Subscribe(TopicSessionEvents, "class-session", l.HandleSessionEvent)
	bus.Subscribe(TopicCourseEvents, "course", l.HandleCourseEvent)
	bus.Subscribe(TopicVideoSessionEvents, "whiteboard-lifecycle", l.HandleVideoSessionEvent)
}

// HandleBookingEvent creates the 1:1 video session of a confirmed booking.
func (l *Listeners) HandleBookingEvent(ctx context.Context, event Event) error {
	if event.Type() != TypeBookingConfirmed {
		return nil
	}

	var payload BookingConfirmed
	if err := Decode(event, &payload); err != nil {
		return err
	}

	sessionType := models.SessionType(payload.SessionType)
	if sessionType == "" {
		sessionType = models.SessionTypeSolo
	}
	return l.create(ctx, services.CreateSessionParams{
		ClassSessionID:     payload.ClassSessionID,
		CourseID:           payload.CourseID,
		TeacherID:          payload.TeacherID,
		StudentID:          payload.StudentID,
		ParentID:           payload.ParentID,
		ScheduledStartTime: payload.ScheduledStartTime,
		DurationMinutes:    payload.DurationMinutes,
		RecordingEnabled:   true,
		Metadata: models.SessionMetadata{
			Subject:           payload.Subject,
			SessionType:       sessionType,
			WhiteboardEnabled: true,
			ChatEnabled:       true,
		},
	})
}

// HandleSessionEvent creates or cancels the video session of a class session.
func (l *Listeners) HandleSessionEvent(ctx context.Context, event Event) error {
	switch event.Type() {
	case TypeSessionCreated:
		var payload SessionCreated
		if err := Decode(event, &payload); err != nil {
			return err
		}
		return l.create(ctx, services.CreateSessionParams{
			ClassSessionID:     payload.SessionID,
			CourseID:           payload.CourseID,
			TeacherID:          payload.TeacherID,
			StudentID:          payload.StudentID,
			EnrolledStudentIDs: payload.EnrolledStudentIDs,
			ScheduledStartTime: payload.ScheduledStartTime,
			DurationMinutes:    payload.DurationMinutes,
			RecordingEnabled:   true,
			Metadata: models.SessionMetadata{
				Title:             payload.Title,
				SessionType:       models.SessionType(payload.SessionType),
				MaxParticipants:   payload.MaxParticipants,
				WhiteboardEnabled: true,
				ChatEnabled:       true,
			},
		})

	case TypeSessionCancelled:
		var payload SessionCancelled
		if err := Decode(event, &payload); err != nil {
			return err
		}
		reason := payload.Reason
		if reason == "" {
			reason = "class session cancelled"
		}
		_, err := l.sessions.CancelByClassID(ctx, payload.SessionID, reason)
		switch {
		case errors.Is(err, services.ErrSessionNotFound):
			l.log.Info("no video session to cancel", zap.String("class_session_id", payload.SessionID))
			return nil
		case errors.Is(err, services.ErrInvalidTransition):
			// Sessions already underway or finished keep their state.
			l.log.Warn("ignoring cancellation of a started session", zap.String("class_session_id", payload.SessionID))
			return nil
		}
		return err
	}
	return nil
}

// HandleCourseEvent keeps group rosters of a course in step with enrollment.
func (l *Listeners) HandleCourseEvent(ctx context.Context, event Event) error {
	var enrolled bool
	switch event.Type() {
	case TypeStudentEnrolled:
		enrolled = true
	case TypeStudentUnenrolled:
	default:
		return nil
	}

	var payload Enrollment
	if err := Decode(event, &payload); err != nil {
		return err
	}

	var errs error
	sessions, err := l.sessions.ApplyEnrollment(ctx, payload.CourseID, payload.StudentID, enrolled)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("sessions: %w", err))
	}
	boards := 0
	if l.whiteboards != nil {
		boards, err = l.whiteboards.UpdateRoster(ctx, payload.CourseID, payload.StudentID, enrolled)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("whiteboards: %w", err))
		}
	}

	l.log.Info("course roster updated",
		zap.String("course_id", payload.CourseID),
		zap.String("student_id", payload.StudentID),
		zap.Bool("enrolled", enrolled),
		zap.Int("sessions", sessions),
		zap.Int("whiteboards", boards),
	)
	return errs
}

// HandleVideoSessionEvent closes the whiteboard of a session once it ends.
func (l *Listeners) HandleVideoSessionEvent(ctx context.Context, event Event) error {
	if l.whiteboards == nil || event.Type() != services.EventSessionEnded {
		return nil
	}
	var payload LifecycleNotice
	if err := Decode(event, &payload); err != nil {
		return err
	}
	return l.whiteboards.CloseForSession(ctx, payload.ClassSessionID)
}

func (l *Listeners) create(ctx context.Context, params services.CreateSessionParams) error {
	session, err := l.sessions.CreateSession(ctx, params)
	if errors.Is(err, services.ErrSessionAlreadyExists) {
		l.log.Info("video session already exists", zap.String("class_session_id", params.ClassSessionID))
		return nil
	}
	if err != nil {
		return err
	}
	l.log.Info("video session created from event",
		zap.String("class_session_id", session.ClassSessionID),
		zap.String("session_id", session.ID),
		zap.String("session_type", string(session.SessionType())),
	)
	return nil
}
