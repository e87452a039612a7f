package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/liveclass/internal/models"
	"github.com/charlesng35/liveclass/internal/monitoring"
	"github.com/charlesng35/liveclass/internal/provider"
	"github.com/charlesng35/liveclass/pkg/logger"
)

const (
	// DefaultJoinWindow is how long before the scheduled start participants may join.
	DefaultJoinWindow = 15 * time.Minute

	defaultRetryAttempts = 3
	sideEffectTimeout    = 15 * time.Second

	// maxRoomClassBytes bounds the class id part of a media room name so the random suffix
	// always fits within provider channel name limits.
	maxRoomClassBytes = 40
)

// Recording webhook event types.
const (
	RecordingEventStarted = "recording.started"
	RecordingEventStopped = "recording.stopped"
	RecordingEventSuccess = "recording.success"
	RecordingEventFailed  = "recording.failed"
)

// CreateSessionParams carries the attributes of a new class session.
type CreateSessionParams struct {
	ClassSessionID     string
	CourseID           string
	TeacherID          string
	StudentID          string
	ParentID           string
	EnrolledStudentIDs []string
	ScheduledStartTime time.Time
	DurationMinutes    int
	RecordingEnabled   bool
	Metadata           models.SessionMetadata
}

// RoomConfig is the feature configuration a client needs to enter the media room.
type RoomConfig struct {
	RoomID             string `json:"room_id"`
	RoomName           string `json:"room_name"`
	MediaRole          string `json:"media_role"`
	CameraEnabled      bool   `json:"camera_enabled"`
	MicEnabled         bool   `json:"mic_enabled"`
	WhiteboardEnabled  bool   `json:"whiteboard_enabled"`
	ChatEnabled        bool   `json:"chat_enabled"`
	ScreenShareEnabled bool   `json:"screen_share_enabled"`
	HandRaiseEnabled   bool   `json:"hand_raise_enabled"`
	RecordingEnabled   bool   `json:"recording_enabled"`
	RoomQuality        string `json:"room_quality,omitempty"`
	MaxParticipants    int    `json:"max_participants,omitempty"`
}

// JoinResult is returned by JoinSession.
type JoinResult struct {
	Session     *models.VideoSession       `json:"session"`
	Participant *models.SessionParticipant `json:"participant"`
	Token       string                     `json:"token"`
	StableRef   uint32                     `json:"stable_ref"`
	ExpiresAt   time.Time                  `json:"expires_at"`
	Role        models.ParticipantRole     `json:"role"`
	Room        RoomConfig                 `json:"room"`
	Rejoined    bool                       `json:"rejoined"`
}

// RecordingEvent is a recording status callback from the media provider.
type RecordingEvent struct {
	RoomID      string `json:"room_id" validate:"required"`
	Type        string `json:"type" validate:"required"`
	RecordingID string `json:"recording_id"`
	URL         string `json:"url"`
}

// SessionFilter narrows ListSessions. Zero values are ignored.
type SessionFilter struct {
	TeacherID     string
	StudentID     string
	CourseID      string
	Statuses      []models.SessionStatus
	ScheduledFrom *time.Time
	ScheduledTo   *time.Time
	StartedBefore *time.Time
	Limit         int
	Offset        int
}

// VideoSessionService owns the VideoSession state machine and participant bookkeeping.
type VideoSessionService struct {
	db            *gorm.DB
	rooms         provider.RoomProvisioner
	publisher     LifecyclePublisher
	locks         *KeyedMutex
	log           *zap.Logger
	timeNow       func() time.Time
	joinWindow    time.Duration
	retryAttempts int
}

// VideoSessionOption customises the video session service.
type VideoSessionOption func(*VideoSessionService)

// WithVideoClock overrides the clock used for admission and timestamps (test helper).
func WithVideoClock(clock func() time.Time) VideoSessionOption {
	return func(s *VideoSessionService) {
		if clock != nil {
			s.timeNow = clock
		}
	}
}

// WithLifecyclePublisher wires the outbound lifecycle event publisher.
func WithLifecyclePublisher(publisher LifecyclePublisher) VideoSessionOption {
	return func(s *VideoSessionService) {
		s.publisher = publisher
	}
}

// WithJoinWindow overrides how early participants may join.
func WithJoinWindow(window time.Duration) VideoSessionOption {
	return func(s *VideoSessionService) {
		if window >= 0 {
			s.joinWindow = window
		}
	}
}

// WithSessionLocks shares a lock table with other components that mutate sessions.
func WithSessionLocks(locks *KeyedMutex) VideoSessionOption {
	return func(s *VideoSessionService) {
		if locks != nil {
			s.locks = locks
		}
	}
}

// WithVideoLogger overrides the module logger.
func WithVideoLogger(log *zap.Logger) VideoSessionOption {
	return func(s *VideoSessionService) {
		if log != nil {
			s.log = log
		}
	}
}

// WithRetryAttempts bounds how often an optimistic update is retried.
func WithRetryAttempts(attempts int) VideoSessionOption {
	return func(s *VideoSessionService) {
		if attempts > 0 {
			s.retryAttempts = attempts
		}
	}
}

// NewVideoSessionService constructs the lifecycle engine.
func NewVideoSessionService(db *gorm.DB, rooms provider.RoomProvisioner, opts ...VideoSessionOption) (*VideoSessionService, error) {
	if db == nil {
		return nil, errors.New("video session service: db is required")
	}
	if rooms == nil {
		return nil, errors.New("video session service: room provisioner is required")
	}

	svc := &VideoSessionService{
		db:            db,
		rooms:         rooms,
		locks:         NewKeyedMutex(),
		log:           logger.WithModule("video"),
		timeNow:       func() time.Time { return time.Now().UTC() },
		joinWindow:    DefaultJoinWindow,
		retryAttempts: defaultRetryAttempts,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Locks exposes the per-session lock table so other engines can share it.
func (s *VideoSessionService) Locks() *KeyedMutex {
	return s.locks
}

// CreateSession provisions a media room and persists a SCHEDULED session.
func (s *VideoSessionService) CreateSession(ctx context.Context, params CreateSessionParams) (*models.VideoSession, error) {
	ctx = ensureContext(ctx)

	classID := strings.TrimSpace(params.ClassSessionID)
	teacherID := strings.TrimSpace(params.TeacherID)
	studentID := strings.TrimSpace(params.StudentID)
	switch {
	case classID == "":
		return nil, invalidInput("class session id is required")
	case teacherID == "":
		return nil, invalidInput("teacher id is required")
	case params.ScheduledStartTime.IsZero():
		return nil, invalidInput("scheduled start time is required")
	case params.DurationMinutes <= 0:
		return nil, invalidInput("duration must be positive")
	}

	meta := params.Metadata
	sessionType, ok := models.ParseSessionType(string(meta.SessionType))
	if !ok {
		return nil, invalidInput("unknown session type %q", meta.SessionType)
	}
	if meta.SessionType == "" && studentID == "" {
		sessionType = models.SessionTypeGroup
	}
	if !sessionType.IsGroup() && studentID == "" {
		return nil, invalidInput("student id is required for %s sessions", sessionType)
	}
	meta.SessionType = sessionType

	unlock := s.locks.Lock(classLockKey(classID))
	defer unlock()

	var existing int64
	if err := s.db.WithContext(ctx).Model(&models.VideoSession{}).
		Where("class_key = ?", classID).
		Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("video session service: check existing: %w", err)
	}
	if existing > 0 {
		monitoring.RecordSessionCreated("duplicate")
		return nil, ErrSessionAlreadyExists
	}

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	handle, err := s.rooms.CreateRoom(ctx, mediaRoomName(classID, suffix), params.DurationMinutes)
	if err != nil {
		monitoring.RecordSessionCreated("provider_error")
		return nil, err
	}

	session := &models.VideoSession{
		ClassSessionID:     classID,
		ClassKey:           models.StringPtr(classID),
		CourseID:           strings.TrimSpace(params.CourseID),
		TeacherID:          teacherID,
		StudentID:          models.StringPtr(studentID),
		ParentID:           models.StringPtr(strings.TrimSpace(params.ParentID)),
		EnrolledStudentIDs: normaliseIDs(params.EnrolledStudentIDs),
		RoomID:             handle.RoomID,
		RoomName:           handle.RoomName,
		Status:             models.SessionScheduled,
		ScheduledStartTime: params.ScheduledStartTime.UTC(),
		DurationMinutes:    params.DurationMinutes,
		RecordingEnabled:   params.RecordingEnabled,
		Metadata:           datatypes.NewJSONType(meta),
		Version:            1,
	}

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		s.destroyRoom(session.RoomID)
		if isUniqueConstraintError(err) {
			monitoring.RecordSessionCreated("duplicate")
			return nil, ErrSessionAlreadyExists
		}
		monitoring.RecordSessionCreated("error")
		return nil, fmt.Errorf("video session service: create session: %w", err)
	}

	monitoring.RecordSessionCreated("created")
	s.log.Info("session created",
		zap.String("session_id", session.ID),
		zap.String("class_session_id", classID),
		zap.String("room_name", session.RoomName),
	)
	s.publish(ctx, s.lifecycleEvent(session, EventSessionCreated))
	return session, nil
}

// JoinSession admits userID in role and returns a fresh media credential. Joining again while
// the previous participant record is still active reuses that record.
func (s *VideoSessionService) JoinSession(ctx context.Context, sessionID, userID string, role models.ParticipantRole) (*JoinResult, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalidInput("user id is required")
	}
	policy, ok := role.Policy()
	if !ok {
		return nil, invalidInput("unknown role %q", role)
	}

	unlock := s.locks.Lock(sessionLockKey(sessionID))
	defer unlock()

	session, err := s.loadSession(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.checkJoinable(session); err != nil {
		monitoring.RecordSessionJoin(string(role), "not_joinable")
		return nil, err
	}
	if !policy.MayJoin(session, userID) {
		monitoring.RecordSessionJoin(string(role), "unauthorized")
		return nil, ErrSessionUnauthorized
	}

	credential, err := s.rooms.IssueJoinCredential(ctx, session.RoomID, userID, role)
	if err != nil {
		monitoring.RecordSessionJoin(string(role), "provider_error")
		return nil, err
	}

	var (
		participant *models.SessionParticipant
		rejoined    bool
		started     bool
	)
	err = s.mutate(ctx, func(tx *gorm.DB) error {
		current, err := s.loadSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if err := s.checkJoinable(current); err != nil {
			return err
		}

		var active models.SessionParticipant
		err = tx.Where("session_id = ? AND user_id = ? AND left_at IS NULL", current.ID, userID).
			Order("joined_at DESC").
			Take(&active).Error
		if err == nil {
			participant, rejoined, started = &active, true, false
			session = current
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := s.timeNow()
		record := &models.SessionParticipant{
			SessionID:     current.ID,
			UserID:        userID,
			Role:          role,
			StableRef:     credential.StableRef,
			JoinedAt:      now,
			CameraEnabled: policy.MediaOnJoin,
			MicEnabled:    policy.MediaOnJoin,
		}
		if err := tx.Create(record).Error; err != nil {
			return err
		}

		updates := map[string]any{}
		if current.Status == models.SessionScheduled {
			updates["status"] = models.SessionInProgress
			updates["actual_start_time"] = now
		}
		if err := s.casUpdate(tx, current, updates); err != nil {
			return err
		}
		participant, rejoined, started = record, false, current.Status == models.SessionScheduled
		if started {
			current.Status = models.SessionInProgress
			current.ActualStartTime = timePtr(now)
		}
		session = current
		return nil
	})
	if err != nil {
		result := "error"
		if errors.Is(err, ErrSessionNotJoinable) {
			result = "not_joinable"
		}
		monitoring.RecordSessionJoin(string(role), result)
		return nil, err
	}

	if rejoined {
		monitoring.RecordSessionJoin(string(role), "rejoined")
	} else {
		monitoring.RecordSessionJoin(string(role), "accepted")
		event := s.lifecycleEvent(session, EventParticipantJoined)
		event.UserID = userID
		event.Role = string(role)
		s.publish(ctx, event)
	}
	if started {
		monitoring.RecordSessionTransition(string(models.SessionInProgress))
		s.log.Info("session started",
			zap.String("session_id", session.ID),
			zap.String("user_id", userID),
			zap.String("role", string(role)),
		)
		s.publish(ctx, s.lifecycleEvent(session, EventSessionStarted))
	}

	meta := session.Metadata.Data()
	return &JoinResult{
		Session:     session,
		Participant: participant,
		Token:       credential.Token,
		StableRef:   credential.StableRef,
		ExpiresAt:   credential.ExpiresAt,
		Role:        role,
		Rejoined:    rejoined,
		Room: RoomConfig{
			RoomID:             session.RoomID,
			RoomName:           session.RoomName,
			MediaRole:          credential.ProviderRole,
			CameraEnabled:      participant.CameraEnabled,
			MicEnabled:         participant.MicEnabled,
			WhiteboardEnabled:  meta.WhiteboardEnabled,
			ChatEnabled:        meta.ChatEnabled,
			ScreenShareEnabled: meta.ScreenShareEnabled,
			HandRaiseEnabled:   meta.HandRaiseEnabled,
			RecordingEnabled:   session.RecordingEnabled,
			RoomQuality:        meta.RoomQuality,
			MaxParticipants:    meta.MaxParticipants,
		},
	}, nil
}

// EndSession completes an in-progress session. Only the session's teacher may end it.
func (s *VideoSessionService) EndSession(ctx context.Context, sessionID, userID string) (*models.VideoSession, error) {
	ctx = ensureContext(ctx)

	unlock := s.locks.Lock(sessionLockKey(sessionID))
	defer unlock()

	session, err := s.loadSession(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionInProgress {
		return nil, ErrSessionNotActive
	}
	if strings.TrimSpace(userID) == "" || session.TeacherID != userID {
		return nil, ErrSessionUnauthorized
	}

	return s.complete(ctx, sessionID, "ended by teacher")
}

// ForceComplete closes an in-progress session on behalf of the system. It reports false
// when the session was no longer in progress.
func (s *VideoSessionService) ForceComplete(ctx context.Context, sessionID, reason string) (bool, error) {
	ctx = ensureContext(ctx)

	unlock := s.locks.Lock(sessionLockKey(sessionID))
	defer unlock()

	if _, err := s.complete(ctx, sessionID, reason); err != nil {
		if errors.Is(err, ErrSessionNotActive) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// complete runs the IN_PROGRESS -> COMPLETED transition. Callers hold the session lock.
func (s *VideoSessionService) complete(ctx context.Context, sessionID, reason string) (*models.VideoSession, error) {
	var (
		session      *models.VideoSession
		stopRecordID string
	)
	err := s.mutate(ctx, func(tx *gorm.DB) error {
		current, err := s.loadSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if !current.Status.CanTransitionTo(models.SessionCompleted) {
			return ErrSessionNotActive
		}

		now := s.timeNow()
		var participants []models.SessionParticipant
		if err := tx.Where("session_id = ? AND left_at IS NULL", current.ID).Find(&participants).Error; err != nil {
			return err
		}
		for _, participant := range participants {
			if err := tx.Model(&models.SessionParticipant{}).
				Where("id = ?", participant.ID).
				Updates(map[string]any{
					"left_at":          now,
					"duration_minutes": wholeMinutes(now.Sub(participant.JoinedAt)),
					"updated_at":       now,
				}).Error; err != nil {
				return err
			}
		}

		started := now
		if current.ActualStartTime != nil {
			started = *current.ActualStartTime
		}
		actual := wholeMinutes(now.Sub(started))
		updates := map[string]any{
			"status":                  models.SessionCompleted,
			"end_time":                now,
			"actual_duration_minutes": actual,
		}
		stopRecordID = ""
		if current.RecordingStatus == models.RecordingActive {
			updates["recording_status"] = models.RecordingStopped
			if current.RecordingID != nil {
				stopRecordID = *current.RecordingID
			}
		}
		if err := s.casUpdate(tx, current, updates); err != nil {
			return err
		}

		current.Status = models.SessionCompleted
		current.EndTime = timePtr(now)
		current.ActualDurationMinutes = intPtr(actual)
		if _, ok := updates["recording_status"]; ok {
			current.RecordingStatus = models.RecordingStopped
		}
		session = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	if stopRecordID != "" {
		s.stopRecording(stopRecordID)
	}
	s.destroyRoom(session.RoomID)

	monitoring.RecordSessionTransition(string(models.SessionCompleted))
	if session.EndTime != nil {
		started := *session.EndTime
		if session.ActualStartTime != nil {
			started = *session.ActualStartTime
		}
		monitoring.RecordSessionClosed(session.EndTime.Sub(started))
	}
	s.log.Info("session completed",
		zap.String("session_id", session.ID),
		zap.String("reason", reason),
		zap.Intp("actual_duration_minutes", session.ActualDurationMinutes),
	)

	event := s.lifecycleEvent(session, EventSessionEnded)
	event.Reason = reason
	s.publish(ctx, event)

	return s.reload(ctx, session)
}

// MarkNoShow moves a SCHEDULED session that never had a participant to NO_SHOW.
// It reports false when the session no longer qualifies.
func (s *VideoSessionService) MarkNoShow(ctx context.Context, sessionID string) (bool, error) {
	ctx = ensureContext(ctx)

	unlock := s.locks.Lock(sessionLockKey(sessionID))
	defer unlock()

	var (
		session *models.VideoSession
		marked  bool
	)
	err := s.mutate(ctx, func(tx *gorm.DB) error {
		marked = false
		current, err := s.loadSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if !current.Status.CanTransitionTo(models.SessionNoShow) {
			return nil
		}

		var joined int64
		if err := tx.Model(&models.SessionParticipant{}).
			Where("session_id = ?", current.ID).
			Count(&joined).Error; err != nil {
			return err
		}
		if joined > 0 {
			return nil
		}

		if err := s.casUpdate(tx, current, map[string]any{"status": models.SessionNoShow}); err != nil {
			return err
		}
		current.Status = models.SessionNoShow
		session, marked = current, true
		return nil
	})
	if err != nil || !marked {
		return false, err
	}

	s.destroyRoom(session.RoomID)
	monitoring.RecordSessionTransition(string(models.SessionNoShow))
	s.log.Info("session marked no-show", zap.String("session_id", session.ID))
	s.publish(ctx, s.lifecycleEvent(session, EventSessionNoShow))
	return true, nil
}

// CancelSession cancels a SCHEDULED session. actorID must be the teacher unless empty,
// which denotes a system caller. Cancelling an already cancelled session is a no-op.
func (s *VideoSessionService) CancelSession(ctx context.Context, sessionID, actorID, reason string) (*models.VideoSession, error) {
	ctx = ensureContext(ctx)

	unlock := s.locks.Lock(sessionLockKey(sessionID))
	defer unlock()

	var (
		session   *models.VideoSession
		cancelled bool
	)
	err := s.mutate(ctx, func(tx *gorm.DB) error {
		cancelled = false
		current, err := s.loadSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if actorID != "" && current.TeacherID != actorID {
			return ErrSessionUnauthorized
		}
		session = current
		if current.Status == models.SessionCancelled {
			return nil
		}
		if !current.Status.CanTransitionTo(models.SessionCancelled) {
			return ErrInvalidTransition
		}
		if err := s.casUpdate(tx, current, map[string]any{
			"status":    models.SessionCancelled,
			"class_key": nil,
		}); err != nil {
			return err
		}
		current.Status = models.SessionCancelled
		current.ClassKey = nil
		cancelled = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !cancelled {
		return session, nil
	}

	s.destroyRoom(session.RoomID)
	monitoring.RecordSessionTransition(string(models.SessionCancelled))
	s.log.Info("session cancelled", zap.String("session_id", session.ID), zap.String("reason", reason))
	event := s.lifecycleEvent(session, EventSessionCancelled)
	event.Reason = reason
	s.publish(ctx, event)
	return session, nil
}

// CancelByClassID cancels the live session of a class session.
func (s *VideoSessionService) CancelByClassID(ctx context.Context, classSessionID, reason string) (*models.VideoSession, error) {
	ctx = ensureContext(ctx)

	var session models.VideoSession
	err := s.db.WithContext(ctx).Where("class_key = ?", strings.TrimSpace(classSessionID)).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("video session service: load by class: %w", err)
	}
	return s.CancelSession(ctx, session.ID, "", reason)
}

// StartRecording starts provider recording for an in-progress session. actorID must be the
// teacher unless empty. A session already recording is returned unchanged.
func (s *VideoSessionService) StartRecording(ctx context.Context, sessionID, actorID string) (*models.VideoSession, error) {
	ctx = ensureContext(ctx)

	unlock := s.locks.Lock(sessionLockKey(sessionID))
	defer unlock()

	session, err := s.loadSession(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionInProgress {
		return nil, ErrSessionNotActive
	}
	if actorID != "" && session.TeacherID != actorID {
		return nil, ErrSessionUnauthorized
	}
	if session.RecordingStatus == models.RecordingActive && session.RecordingID != nil {
		return session, nil
	}

	recordingID, err := s.rooms.StartRecording(ctx, session.RoomID)
	if err != nil {
		return nil, err
	}

	err = s.mutate(ctx, func(tx *gorm.DB) error {
		current, err := s.loadSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if current.Status != models.SessionInProgress {
			return ErrSessionNotActive
		}
		if err := s.casUpdate(tx, current, map[string]any{
			"recording_id":      recordingID,
			"recording_status":  models.RecordingActive,
			"recording_enabled": true,
		}); err != nil {
			return err
		}
		current.RecordingID = models.StringPtr(recordingID)
		current.RecordingStatus = models.RecordingActive
		current.RecordingEnabled = true
		session = current
		return nil
	})
	if err != nil {
		s.stopRecording(recordingID)
		return nil, err
	}

	s.log.Info("recording started", zap.String("session_id", session.ID), zap.String("recording_id", recordingID))
	return session, nil
}

// HandleRecordingEvent applies a provider recording callback. Events for unknown rooms are ignored.
func (s *VideoSessionService) HandleRecordingEvent(ctx context.Context, event RecordingEvent) error {
	ctx = ensureContext(ctx)

	var status string
	switch strings.ToLower(strings.TrimSpace(event.Type)) {
	case RecordingEventStarted:
		status = models.RecordingActive
	case RecordingEventStopped:
		status = models.RecordingStopped
	case RecordingEventSuccess:
		status = models.RecordingCompleted
	case RecordingEventFailed:
		status = models.RecordingFailed
	default:
		return invalidInput("unknown recording event %q", event.Type)
	}

	var target models.VideoSession
	err := s.db.WithContext(ctx).
		Where("room_id = ?", strings.TrimSpace(event.RoomID)).
		Order("created_at DESC").
		Take(&target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.log.Debug("recording event for unknown room", zap.String("room_id", event.RoomID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("video session service: load by room: %w", err)
	}

	unlock := s.locks.Lock(sessionLockKey(target.ID))
	defer unlock()

	var session *models.VideoSession
	err = s.mutate(ctx, func(tx *gorm.DB) error {
		current, err := s.loadSession(ctx, tx, target.ID)
		if err != nil {
			return err
		}
		updates := map[string]any{"recording_status": status}
		if event.RecordingID != "" {
			updates["recording_id"] = event.RecordingID
			current.RecordingID = models.StringPtr(event.RecordingID)
		}
		if status == models.RecordingCompleted && event.URL != "" {
			updates["recording_url"] = event.URL
			current.RecordingURL = event.URL
		}
		if err := s.casUpdate(tx, current, updates); err != nil {
			return err
		}
		current.RecordingStatus = status
		session = current
		return nil
	})
	if err != nil {
		return err
	}

	if status == models.RecordingCompleted {
		out := s.lifecycleEvent(session, EventRecordingAvailable)
		out.RecordingURL = session.RecordingURL
		s.publish(ctx, out)
	}
	return nil
}

// ApplyEnrollment adds or removes a student from the roster of every open GROUP session of a
// course and returns how many sessions changed.
func (s *VideoSessionService) ApplyEnrollment(ctx context.Context, courseID, studentID string, enrolled bool) (int, error) {
	ctx = ensureContext(ctx)

	courseID = strings.TrimSpace(courseID)
	studentID = strings.TrimSpace(studentID)
	if courseID == "" || studentID == "" {
		return 0, invalidInput("course id and student id are required")
	}

	var ids []string
	if err := s.db.WithContext(ctx).Model(&models.VideoSession{}).
		Where("course_id = ? AND status IN ?", courseID, []models.SessionStatus{models.SessionScheduled, models.SessionInProgress}).
		Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("video session service: list course sessions: %w", err)
	}

	changed := 0
	for _, id := range ids {
		updated, err := s.applyEnrollment(ctx, id, studentID, enrolled)
		if err != nil {
			return changed, err
		}
		if updated {
			changed++
		}
	}
	return changed, nil
}

func (s *VideoSessionService) applyEnrollment(ctx context.Context, sessionID, studentID string, enrolled bool) (bool, error) {
	unlock := s.locks.Lock(sessionLockKey(sessionID))
	defer unlock()

	var updated bool
	err := s.mutate(ctx, func(tx *gorm.DB) error {
		updated = false
		current, err := s.loadSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if !current.SessionType().IsGroup() || current.Status.IsTerminal() {
			return nil
		}
		var (
			roster  []string
			changed bool
		)
		if enrolled {
			roster, changed = addID(current.EnrolledStudentIDs, studentID)
		} else {
			roster, changed = removeID(current.EnrolledStudentIDs, studentID)
		}
		if !changed {
			return nil
		}
		if err := s.casUpdate(tx, current, map[string]any{
			"enrolled_student_ids": datatypes.JSONSlice[string](roster),
		}); err != nil {
			return err
		}
		updated = true
		return nil
	})
	return updated, err
}

// GetSession loads a session and its participants.
func (s *VideoSessionService) GetSession(ctx context.Context, sessionID string) (*models.VideoSession, error) {
	ctx = ensureContext(ctx)
	return s.loadWithParticipants(ctx, s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(sessionID)))
}

// GetSessionByClassID returns the live session of a class session, falling back to the most
// recent cancelled one.
func (s *VideoSessionService) GetSessionByClassID(ctx context.Context, classSessionID string) (*models.VideoSession, error) {
	ctx = ensureContext(ctx)
	classSessionID = strings.TrimSpace(classSessionID)

	session, err := s.loadWithParticipants(ctx, s.db.WithContext(ctx).Where("class_key = ?", classSessionID))
	if !errors.Is(err, ErrSessionNotFound) {
		return session, err
	}
	return s.loadWithParticipants(ctx, s.db.WithContext(ctx).
		Where("class_session_id = ?", classSessionID).
		Order("created_at DESC"))
}

// IsMember reports whether userID is the teacher, parent or an admitted student of the
// class session's current video session.
func (s *VideoSessionService) IsMember(ctx context.Context, classSessionID, userID string) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, nil
	}
	session, err := s.GetSessionByClassID(ctx, classSessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return slices.Contains(session.Recipients(), userID) || session.StudentMayJoin(userID), nil
}

// ListSessions returns sessions matching filter ordered by scheduled start.
func (s *VideoSessionService) ListSessions(ctx context.Context, filter SessionFilter) ([]models.VideoSession, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).Model(&models.VideoSession{})
	if filter.TeacherID != "" {
		query = query.Where("teacher_id = ?", filter.TeacherID)
	}
	if filter.StudentID != "" {
		query = query.Where("student_id = ?", filter.StudentID)
	}
	if filter.CourseID != "" {
		query = query.Where("course_id = ?", filter.CourseID)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.ScheduledFrom != nil {
		query = query.Where("scheduled_start_time >= ?", *filter.ScheduledFrom)
	}
	if filter.ScheduledTo != nil {
		query = query.Where("scheduled_start_time <= ?", *filter.ScheduledTo)
	}
	if filter.StartedBefore != nil {
		query = query.Where("actual_start_time IS NOT NULL AND actual_start_time < ?", *filter.StartedBefore)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var sessions []models.VideoSession
	if err := query.Order("scheduled_start_time ASC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("video session service: list sessions: %w", err)
	}
	return sessions, nil
}

// ListTeacherSessions lists every session taught by teacherID.
func (s *VideoSessionService) ListTeacherSessions(ctx context.Context, teacherID string) ([]models.VideoSession, error) {
	return s.ListSessions(ctx, SessionFilter{TeacherID: teacherID})
}

// ListTeacherSessionsInRange lists sessions of teacherID scheduled within [from, to].
func (s *VideoSessionService) ListTeacherSessionsInRange(ctx context.Context, teacherID string, from, to time.Time) ([]models.VideoSession, error) {
	if to.Before(from) {
		return nil, invalidInput("range end precedes start")
	}
	return s.ListSessions(ctx, SessionFilter{TeacherID: teacherID, ScheduledFrom: &from, ScheduledTo: &to})
}

// ListStudentSessions lists the 1:1 sessions bound to studentID.
func (s *VideoSessionService) ListStudentSessions(ctx context.Context, studentID string) ([]models.VideoSession, error) {
	return s.ListSessions(ctx, SessionFilter{StudentID: studentID})
}

// ListActiveSessions lists in-progress sessions whose scheduled start has passed.
func (s *VideoSessionService) ListActiveSessions(ctx context.Context) ([]models.VideoSession, error) {
	now := s.timeNow()
	return s.ListSessions(ctx, SessionFilter{
		Statuses:    []models.SessionStatus{models.SessionInProgress},
		ScheduledTo: &now,
	})
}

// ListByStatus lists sessions in the given status.
func (s *VideoSessionService) ListByStatus(ctx context.Context, status models.SessionStatus) ([]models.VideoSession, error) {
	return s.ListSessions(ctx, SessionFilter{Statuses: []models.SessionStatus{status}})
}

func (s *VideoSessionService) checkJoinable(session *models.VideoSession) error {
	if !session.Status.Joinable() {
		return ErrSessionNotJoinable
	}
	opensAt := session.ScheduledStartTime.Add(-s.joinWindow)
	if s.timeNow().Before(opensAt) {
		return ErrSessionNotJoinable
	}
	return nil
}

// mutate runs fn in a transaction, retrying lost optimistic updates.
func (s *VideoSessionService) mutate(ctx context.Context, fn func(tx *gorm.DB) error) error {
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		err := s.db.WithContext(ctx).Transaction(fn)
		if !errors.Is(err, errVersionConflict) {
			return err
		}
		s.log.Debug("optimistic update conflict", zap.Int("attempt", attempt+1))
	}
	return ErrConcurrentModification
}

// mediaRoomName builds class_<class id>_<suffix>. Long class ids are cut to a prefix plus a hash
// of the full id.
func mediaRoomName(classID, suffix string) string {
	if len(classID) > maxRoomClassBytes {
		h := fnv.New32a()
		_, _ = h.Write([]byte(classID))
		classID = fmt.Sprintf("%s-%08x", classID[:maxRoomClassBytes-9], h.Sum32())
	}
	return fmt.Sprintf("class_%s_%s", classID, suffix)
}

// casUpdate applies updates only if the row still carries session.Version.
func (s *VideoSessionService) casUpdate(tx *gorm.DB, session *models.VideoSession, updates map[string]any) error {
	updates["version"] = session.Version + 1
	updates["updated_at"] = s.timeNow()

	result := tx.Model(&models.VideoSession{}).
		Where("id = ? AND version = ?", session.ID, session.Version).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errVersionConflict
	}
	session.Version++
	return nil
}

func (s *VideoSessionService) loadSession(ctx context.Context, db *gorm.DB, sessionID string) (*models.VideoSession, error) {
	var session models.VideoSession
	err := db.WithContext(ctx).Where("id = ?", strings.TrimSpace(sessionID)).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("video session service: load session: %w", err)
	}
	return &session, nil
}

func (s *VideoSessionService) loadWithParticipants(ctx context.Context, query *gorm.DB) (*models.VideoSession, error) {
	var session models.VideoSession
	err := query.
		Preload("Participants", func(db *gorm.DB) *gorm.DB { return db.Order("joined_at ASC") }).
		Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("video session service: load session: %w", err)
	}
	return &session, nil
}

func (s *VideoSessionService) reload(ctx context.Context, session *models.VideoSession) (*models.VideoSession, error) {
	fresh, err := s.GetSession(ctx, session.ID)
	if err != nil {
		return session, nil
	}
	return fresh, nil
}

func (s *VideoSessionService) lifecycleEvent(session *models.VideoSession, eventType string) LifecycleEvent {
	event := LifecycleEvent{
		Type:                  eventType,
		SessionID:             session.ID,
		ClassSessionID:        session.ClassSessionID,
		CourseID:              session.CourseID,
		TeacherID:             session.TeacherID,
		Status:                string(session.Status),
		ActualDurationMinutes: session.ActualDurationMinutes,
		OccurredAt:            s.timeNow(),
	}
	if session.StudentID != nil {
		event.StudentID = *session.StudentID
	}
	return event
}

func (s *VideoSessionService) publish(ctx context.Context, event LifecycleEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishLifecycle(ctx, event); err != nil {
		s.log.Warn("publish lifecycle event failed",
			zap.String("event", event.Type),
			zap.String("session_id", event.SessionID),
			zap.Error(err),
		)
	}
}

// stopRecording and destroyRoom are best-effort; the local record is already authoritative.
func (s *VideoSessionService) stopRecording(recordingID string) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := s.rooms.StopRecording(ctx, recordingID); err != nil {
		s.log.Warn("stop recording failed", zap.String("recording_id", recordingID), zap.Error(err))
	}
}

func (s *VideoSessionService) destroyRoom(roomID string) {
	if roomID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := s.rooms.DestroyOrBanRoom(ctx, roomID); err != nil {
		s.log.Warn("destroy room failed", zap.String("room_id", roomID), zap.Error(err))
	}
}

func sessionLockKey(sessionID string) string {
	return "session:" + strings.TrimSpace(sessionID)
}

func classLockKey(classSessionID string) string {
	return "class:" + classSessionID
}
