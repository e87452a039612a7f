package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/liveclass/internal/cache"
	"github.com/charlesng35/liveclass/internal/models"
	"github.com/charlesng35/liveclass/internal/monitoring"
	"github.com/charlesng35/liveclass/internal/provider"
	"github.com/charlesng35/liveclass/pkg/logger"
)

const (
	// DefaultWhiteboardRoomLifetime is recorded as the room's expiry after opening.
	DefaultWhiteboardRoomLifetime = 24 * time.Hour

	soloWhiteboardCapacity = 2
	emptyWhiteboardState   = "{}"
	roomUpdateAttempts     = 5
)

// OpenWhiteboardParams carries the attributes used to open a class whiteboard.
// Blank fields fall back to the linked video session.
type OpenWhiteboardParams struct {
	ClassSessionID     string
	TeacherID          string
	TeacherName        string
	SessionType        string
	StudentID          string
	EnrolledStudentIDs []string
	CourseID           string
}

// WhiteboardAccess is a room plus a token scoped to the caller's role.
type WhiteboardAccess struct {
	Room   *models.WhiteboardRoom `json:"room"`
	Token  string                 `json:"token"`
	Role   provider.AccessRole    `json:"role"`
	Reused bool                   `json:"reused"`
}

// SaveSnapshotParams describes a snapshot capture.
type SaveSnapshotParams struct {
	ClassSessionID string
	RequesterID    string
	Name           string
	Data           string
	ImageURL       string
}

// WhiteboardStatus summarises a class whiteboard.
type WhiteboardStatus struct {
	ClassSessionID     string     `json:"class_session_id"`
	Exists             bool       `json:"exists"`
	IsActive           bool       `json:"is_active"`
	WhiteboardUUID     string     `json:"whiteboard_uuid,omitempty"`
	ActiveStudentIDs   []string   `json:"active_student_ids"`
	SnapshotCount      int        `json:"snapshot_count"`
	LastDisconnectTime *time.Time `json:"last_disconnect_time,omitempty"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`
}

// WhiteboardService owns the WhiteboardRoom lifecycle and its snapshots.
type WhiteboardService struct {
	db           *gorm.DB
	boards       provider.WhiteboardProvisioner
	credentials  *CredentialCache
	state        cache.Store
	locks        *KeyedMutex
	log          *zap.Logger
	timeNow      func() time.Time
	maxCapacity  int
	roomLifetime time.Duration
}

// WhiteboardOption customises the whiteboard service.
type WhiteboardOption func(*WhiteboardService)

// WithWhiteboardClock overrides the clock used for timestamps (test helper).
func WithWhiteboardClock(clock func() time.Time) WhiteboardOption {
	return func(s *WhiteboardService) {
		if clock != nil {
			s.timeNow = clock
		}
	}
}

// WithCredentialCache wires the room token cache.
func WithCredentialCache(credentials *CredentialCache) WhiteboardOption {
	return func(s *WhiteboardService) {
		s.credentials = credentials
	}
}

// WithStateStore wires the store used for whiteboard state backups.
func WithStateStore(store cache.Store) WhiteboardOption {
	return func(s *WhiteboardService) {
		s.state = store
	}
}

// WithWhiteboardLocks shares the per-key lock table.
func WithWhiteboardLocks(locks *KeyedMutex) WhiteboardOption {
	return func(s *WhiteboardService) {
		if locks != nil {
			s.locks = locks
		}
	}
}

// WithWhiteboardLogger overrides the module logger.
func WithWhiteboardLogger(log *zap.Logger) WhiteboardOption {
	return func(s *WhiteboardService) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMaxCapacity caps GROUP room capacity.
func WithMaxCapacity(capacity int) WhiteboardOption {
	return func(s *WhiteboardService) {
		if capacity > 0 {
			s.maxCapacity = capacity
		}
	}
}

// WithRoomLifetime overrides the recorded room expiry.
func WithRoomLifetime(lifetime time.Duration) WhiteboardOption {
	return func(s *WhiteboardService) {
		if lifetime > 0 {
			s.roomLifetime = lifetime
		}
	}
}

// NewWhiteboardService constructs the whiteboard access engine.
func NewWhiteboardService(db *gorm.DB, boards provider.WhiteboardProvisioner, opts ...WhiteboardOption) (*WhiteboardService, error) {
	if db == nil {
		return nil, errors.New("whiteboard service: db is required")
	}
	if boards == nil {
		return nil, errors.New("whiteboard service: whiteboard provisioner is required")
	}

	svc := &WhiteboardService{
		db:           db,
		boards:       boards,
		locks:        NewKeyedMutex(),
		log:          logger.WithModule("whiteboard"),
		timeNow:      func() time.Time { return time.Now().UTC() },
		maxCapacity:  provider.DefaultWhiteboardCapacity,
		roomLifetime: DefaultWhiteboardRoomLifetime,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// OpenWhiteboard opens the class whiteboard for its teacher. An active room is reused;
// a closed room is never reopened.
func (s *WhiteboardService) OpenWhiteboard(ctx context.Context, params OpenWhiteboardParams) (*WhiteboardAccess, error) {
	ctx = ensureContext(ctx)

	classID := strings.TrimSpace(params.ClassSessionID)
	teacherID := strings.TrimSpace(params.TeacherID)
	if classID == "" || teacherID == "" {
		return nil, invalidInput("class session id and teacher id are required")
	}

	unlock := s.locks.Lock(whiteboardLockKey(classID))
	defer unlock()

	var session models.VideoSession
	err := s.db.WithContext(ctx).Where("class_key = ?", classID).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("whiteboard service: load video session: %w", err)
	}
	if session.Status != models.SessionInProgress {
		return nil, ErrSessionNotActive
	}
	if session.TeacherID != teacherID {
		monitoring.RecordWhiteboardOperation("open", "forbidden")
		return nil, ErrWhiteboardForbidden
	}

	existing, err := s.findRoom(ctx, s.db, classID)
	switch {
	case err == nil && existing.IsActive:
		return s.grant(ctx, existing, provider.AccessAdmin, true)
	case err == nil:
		return nil, ErrWhiteboardClosed
	case !errors.Is(err, ErrWhiteboardNotFound):
		return nil, err
	}

	sessionType := session.SessionType()
	if params.SessionType != "" {
		parsed, ok := models.ParseSessionType(params.SessionType)
		if !ok {
			return nil, invalidInput("unknown session type %q", params.SessionType)
		}
		sessionType = parsed
	}
	roster := normaliseIDs(params.EnrolledStudentIDs)
	if len(roster) == 0 {
		roster = normaliseIDs(session.EnrolledStudentIDs)
	}
	studentID := strings.TrimSpace(params.StudentID)
	if studentID == "" && session.StudentID != nil {
		studentID = *session.StudentID
	}
	courseID := strings.TrimSpace(params.CourseID)
	if courseID == "" {
		courseID = session.CourseID
	}
	if !sessionType.IsGroup() && studentID == "" {
		return nil, invalidInput("student id is required for %s sessions", sessionType)
	}

	capacity := s.capacityFor(sessionType, len(roster))
	remote, err := s.boards.CreateRoom(ctx, capacity)
	if err != nil {
		monitoring.RecordWhiteboardOperation("open", "provider_error")
		return nil, err
	}

	now := s.timeNow()
	room := &models.WhiteboardRoom{
		ClassSessionID:     classID,
		CourseID:           courseID,
		WhiteboardUUID:     remote.UUID,
		TeamUUID:           remote.TeamUUID,
		AppUUID:            remote.AppUUID,
		TeacherID:          teacherID,
		TeacherName:        strings.TrimSpace(params.TeacherName),
		SessionType:        sessionType,
		EnrolledStudentIDs: datatypes.JSONSlice[string](roster),
		ActiveStudentIDs:   datatypes.JSONSlice[string]{},
		Capacity:           capacity,
		IsActive:           true,
		ExpiresAt:          timePtr(now.Add(s.roomLifetime)),
		Version:            1,
	}
	if !sessionType.IsGroup() {
		room.StudentID = models.StringPtr(studentID)
		room.EnrolledStudentIDs = datatypes.JSONSlice[string]{}
	}

	if err := s.db.WithContext(ctx).Create(room).Error; err != nil {
		if !isUniqueConstraintError(err) {
			s.banRoom(remote.UUID)
			return nil, fmt.Errorf("whiteboard service: persist room: %w", err)
		}
		// Another replica opened the room first; keep theirs and drop ours.
		s.banRoom(remote.UUID)
		winner, findErr := s.findRoom(ctx, s.db, classID)
		if findErr != nil {
			return nil, findErr
		}
		if !winner.IsActive {
			return nil, ErrWhiteboardClosed
		}
		return s.grant(ctx, winner, provider.AccessAdmin, true)
	}

	monitoring.RecordWhiteboardOperation("open", "success")
	s.log.Info("whiteboard opened",
		zap.String("class_session_id", classID),
		zap.String("whiteboard_uuid", room.WhiteboardUUID),
		zap.String("session_type", string(sessionType)),
		zap.Int("capacity", capacity),
	)
	return s.grant(ctx, room, provider.AccessAdmin, false)
}

// AccessWhiteboard grants userID a token for the active room at the level its role allows.
func (s *WhiteboardService) AccessWhiteboard(ctx context.Context, classSessionID, userID string, role models.ParticipantRole) (*WhiteboardAccess, error) {
	ctx = ensureContext(ctx)

	policy, ok := role.Policy()
	if !ok {
		return nil, invalidInput("unknown role %q", role)
	}
	userID = strings.TrimSpace(userID)
	classID := strings.TrimSpace(classSessionID)

	unlock := s.locks.Lock(whiteboardLockKey(classID))
	defer unlock()

	room, err := s.mutateRoom(ctx, classID, func(room *models.WhiteboardRoom) (map[string]any, error) {
		if !room.IsActive {
			return nil, ErrWhiteboardNotFound
		}
		if !policy.MayUseWhiteboard(room, userID) {
			monitoring.RecordWhiteboardOperation("access", "forbidden")
			return nil, ErrWhiteboardForbidden
		}

		updates := map[string]any{"last_disconnect_time": nil}
		if policy.TracksPresence {
			if active, added := addID(room.ActiveStudentIDs, userID); added {
				room.ActiveStudentIDs = active
				updates["active_student_ids"] = datatypes.JSONSlice[string](active)
			}
		}
		if room.LastDisconnectTime == nil && len(updates) == 1 {
			return nil, nil
		}
		room.LastDisconnectTime = nil
		return updates, nil
	})
	if err != nil {
		return nil, err
	}

	access, err := s.grant(ctx, room, provider.AccessRole(policy.WhiteboardAccess), true)
	if err != nil {
		return nil, err
	}
	monitoring.RecordWhiteboardOperation("access", "success")
	return access, nil
}

// SaveSnapshot appends a snapshot with the next sequence number. Only the room's teacher may save.
func (s *WhiteboardService) SaveSnapshot(ctx context.Context, params SaveSnapshotParams) (*models.WhiteboardSnapshot, error) {
	ctx = ensureContext(ctx)

	classID := strings.TrimSpace(params.ClassSessionID)
	if classID == "" {
		return nil, invalidInput("class session id is required")
	}
	if strings.TrimSpace(params.Data) == "" {
		return nil, invalidInput("snapshot data is required")
	}

	unlock := s.locks.Lock(whiteboardLockKey(classID))
	defer unlock()

	var snapshot *models.WhiteboardSnapshot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, err := s.findRoom(ctx, tx, classID)
		if err != nil {
			return err
		}
		if !room.IsActive {
			return ErrWhiteboardClosed
		}
		if params.RequesterID != "" && params.RequesterID != room.TeacherID {
			return ErrWhiteboardForbidden
		}

		number := room.SnapshotCount + 1
		name := strings.TrimSpace(params.Name)
		if name == "" {
			name = fmt.Sprintf("Page %d", number)
		}
		snapshot = &models.WhiteboardSnapshot{
			ClassSessionID:       classID,
			CourseID:             room.CourseID,
			WhiteboardUUID:       room.WhiteboardUUID,
			SnapshotNumber:       number,
			SnapshotName:         name,
			SnapshotData:         params.Data,
			ImageURL:             strings.TrimSpace(params.ImageURL),
			TeacherID:            room.TeacherID,
			TeacherName:          room.TeacherName,
			AuthorizedStudentIDs: datatypes.JSONSlice[string](room.AuthorizedStudents()),
		}
		if err := tx.Create(snapshot).Error; err != nil {
			return err
		}

		result := tx.Model(&models.WhiteboardRoom{}).
			Where("id = ? AND snapshot_count = ?", room.ID, room.SnapshotCount).
			Updates(map[string]any{"snapshot_count": number, "updated_at": s.timeNow()})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrConcurrentModification
		}
		return nil
	})
	if err != nil {
		monitoring.RecordWhiteboardOperation("snapshot", "error")
		return nil, err
	}

	monitoring.RecordWhiteboardOperation("snapshot", "success")
	return snapshot, nil
}

// CloseWhiteboard records a transient disconnect or closes the room for good. A permanent close
// completes locally even when the provider ban fails.
func (s *WhiteboardService) CloseWhiteboard(ctx context.Context, classSessionID string, permanent bool) (*models.WhiteboardRoom, error) {
	ctx = ensureContext(ctx)
	classID := strings.TrimSpace(classSessionID)

	unlock := s.locks.Lock(whiteboardLockKey(classID))
	defer unlock()

	room, err := s.findRoom(ctx, s.db, classID)
	if err != nil {
		return nil, err
	}
	if !room.IsActive {
		return room, nil
	}

	now := s.timeNow()
	if !permanent {
		room, err = s.mutateRoom(ctx, classID, func(room *models.WhiteboardRoom) (map[string]any, error) {
			if !room.IsActive {
				return nil, nil
			}
			room.LastDisconnectTime = timePtr(now)
			return map[string]any{"last_disconnect_time": now}, nil
		})
		if err != nil {
			return nil, err
		}
		monitoring.RecordWhiteboardOperation("disconnect", "success")
		return room, nil
	}

	banned := s.banRoom(room.WhiteboardUUID)
	room, err = s.mutateRoom(ctx, classID, func(room *models.WhiteboardRoom) (map[string]any, error) {
		if !room.IsActive {
			return nil, nil
		}
		room.IsActive = false
		room.IsBanned = banned
		room.ClosedAt = timePtr(now)
		room.ActiveStudentIDs = datatypes.JSONSlice[string]{}
		return map[string]any{
			"is_active":          false,
			"is_banned":          banned,
			"closed_at":          now,
			"active_student_ids": datatypes.JSONSlice[string]{},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.credentials.Evict(ctx, room.WhiteboardUUID)
	if s.state != nil {
		if err := s.state.Delete(ctx, stateKey(classID)); err != nil {
			s.log.Warn("evict whiteboard state failed", zap.String("class_session_id", classID), zap.Error(err))
		}
	}

	monitoring.RecordWhiteboardOperation("close", "success")
	s.log.Info("whiteboard closed",
		zap.String("class_session_id", classID),
		zap.String("whiteboard_uuid", room.WhiteboardUUID),
		zap.Bool("banned", banned),
	)
	return room, nil
}

// HandleDisconnect removes userID from the active set and records the disconnect time.
func (s *WhiteboardService) HandleDisconnect(ctx context.Context, classSessionID, userID string) (*models.WhiteboardRoom, error) {
	ctx = ensureContext(ctx)
	classID := strings.TrimSpace(classSessionID)

	unlock := s.locks.Lock(whiteboardLockKey(classID))
	defer unlock()

	now := s.timeNow()
	userID = strings.TrimSpace(userID)
	return s.mutateRoom(ctx, classID, func(room *models.WhiteboardRoom) (map[string]any, error) {
		if !room.IsActive {
			return nil, ErrWhiteboardNotFound
		}
		updates := map[string]any{"last_disconnect_time": now}
		if active, removed := removeID(room.ActiveStudentIDs, userID); removed {
			room.ActiveStudentIDs = active
			updates["active_student_ids"] = datatypes.JSONSlice[string](active)
		}
		room.LastDisconnectTime = timePtr(now)
		return updates, nil
	})
}

// CloseForSession permanently closes the class whiteboard if one is open.
func (s *WhiteboardService) CloseForSession(ctx context.Context, classSessionID string) error {
	_, err := s.CloseWhiteboard(ctx, classSessionID, true)
	if errors.Is(err, ErrWhiteboardNotFound) {
		return nil
	}
	return err
}

// Status reports the whiteboard state of a class session. A missing room is not an error.
func (s *WhiteboardService) Status(ctx context.Context, classSessionID string) (*WhiteboardStatus, error) {
	ctx = ensureContext(ctx)
	classID := strings.TrimSpace(classSessionID)

	status := &WhiteboardStatus{ClassSessionID: classID, ActiveStudentIDs: []string{}}
	room, err := s.findRoom(ctx, s.db, classID)
	if errors.Is(err, ErrWhiteboardNotFound) {
		return status, nil
	}
	if err != nil {
		return nil, err
	}

	status.Exists = true
	status.IsActive = room.IsActive
	status.WhiteboardUUID = room.WhiteboardUUID
	status.SnapshotCount = room.SnapshotCount
	status.LastDisconnectTime = room.LastDisconnectTime
	status.ClosedAt = room.ClosedAt
	if len(room.ActiveStudentIDs) > 0 {
		status.ActiveStudentIDs = []string(room.ActiveStudentIDs)
	}
	return status, nil
}

// GetSessionSnapshots lists the snapshots of a class session visible to requesterID.
func (s *WhiteboardService) GetSessionSnapshots(ctx context.Context, classSessionID, requesterID string) ([]models.WhiteboardSnapshot, error) {
	return s.visibleSnapshots(ctx, "class_session_id = ?", strings.TrimSpace(classSessionID), requesterID)
}

// GetCourseSnapshots lists the snapshots of every class of a course visible to requesterID.
func (s *WhiteboardService) GetCourseSnapshots(ctx context.Context, courseID, requesterID string) ([]models.WhiteboardSnapshot, error) {
	return s.visibleSnapshots(ctx, "course_id = ?", strings.TrimSpace(courseID), requesterID)
}

// GetSnapshot loads one snapshot. Snapshots the requester may not read are reported as missing.
func (s *WhiteboardService) GetSnapshot(ctx context.Context, snapshotID, requesterID string) (*models.WhiteboardSnapshot, error) {
	ctx = ensureContext(ctx)

	var snapshot models.WhiteboardSnapshot
	err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(snapshotID)).Take(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("whiteboard service: load snapshot: %w", err)
	}
	if !snapshot.VisibleTo(strings.TrimSpace(requesterID)) {
		return nil, ErrSnapshotNotFound
	}
	return &snapshot, nil
}

// UpdateState stores a JSON backup of the live whiteboard state.
func (s *WhiteboardService) UpdateState(ctx context.Context, classSessionID, state string) error {
	ctx = ensureContext(ctx)
	classID := strings.TrimSpace(classSessionID)
	if !json.Valid([]byte(state)) {
		return invalidInput("state must be valid JSON")
	}

	room, err := s.findRoom(ctx, s.db, classID)
	if err != nil {
		return err
	}
	if !room.IsActive {
		return ErrWhiteboardClosed
	}
	if s.state == nil {
		return nil
	}
	return s.state.Set(ctx, stateKey(classID), []byte(state), s.roomLifetime)
}

// GetState returns the last stored state, "{}" when none is stored.
func (s *WhiteboardService) GetState(ctx context.Context, classSessionID string) (string, error) {
	ctx = ensureContext(ctx)
	if s.state == nil {
		return emptyWhiteboardState, nil
	}
	value, ok, err := s.state.Get(ctx, stateKey(strings.TrimSpace(classSessionID)))
	if err != nil {
		return "", err
	}
	if !ok || len(value) == 0 {
		return emptyWhiteboardState, nil
	}
	return string(value), nil
}

// UpdateRoster adds or removes a student on every open GROUP room of a course and returns
// how many rooms changed.
func (s *WhiteboardService) UpdateRoster(ctx context.Context, courseID, studentID string, enrolled bool) (int, error) {
	ctx = ensureContext(ctx)
	courseID = strings.TrimSpace(courseID)
	studentID = strings.TrimSpace(studentID)
	if courseID == "" || studentID == "" {
		return 0, invalidInput("course id and student id are required")
	}

	var classIDs []string
	if err := s.db.WithContext(ctx).Model(&models.WhiteboardRoom{}).
		Where("course_id = ? AND is_active = ? AND session_type = ?", courseID, true, models.SessionTypeGroup).
		Pluck("class_session_id", &classIDs).Error; err != nil {
		return 0, fmt.Errorf("whiteboard service: list course rooms: %w", err)
	}

	changed := 0
	for _, classID := range classIDs {
		updated, err := s.updateRoster(ctx, classID, studentID, enrolled)
		if err != nil {
			return changed, err
		}
		if updated {
			changed++
		}
	}
	return changed, nil
}

func (s *WhiteboardService) updateRoster(ctx context.Context, classID, studentID string, enrolled bool) (bool, error) {
	unlock := s.locks.Lock(whiteboardLockKey(classID))
	defer unlock()

	changed := false
	_, err := s.mutateRoom(ctx, classID, func(room *models.WhiteboardRoom) (map[string]any, error) {
		changed = false
		if !room.IsActive {
			return nil, nil
		}
		updates := map[string]any{}
		if enrolled {
			if roster, added := addID(room.EnrolledStudentIDs, studentID); added {
				updates["enrolled_student_ids"] = datatypes.JSONSlice[string](roster)
			}
		} else {
			if roster, removed := removeID(room.EnrolledStudentIDs, studentID); removed {
				updates["enrolled_student_ids"] = datatypes.JSONSlice[string](roster)
			}
			if active, removed := removeID(room.ActiveStudentIDs, studentID); removed {
				updates["active_student_ids"] = datatypes.JSONSlice[string](active)
			}
		}
		changed = len(updates) > 0
		return updates, nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// ListAbandoned returns active rooms whose last disconnect happened before cutoff.
func (s *WhiteboardService) ListAbandoned(ctx context.Context, cutoff time.Time) ([]models.WhiteboardRoom, error) {
	ctx = ensureContext(ctx)

	var rooms []models.WhiteboardRoom
	if err := s.db.WithContext(ctx).
		Where("is_active = ? AND last_disconnect_time IS NOT NULL AND last_disconnect_time < ?", true, cutoff).
		Order("last_disconnect_time ASC").
		Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("whiteboard service: list abandoned rooms: %w", err)
	}
	return rooms, nil
}

func (s *WhiteboardService) visibleSnapshots(ctx context.Context, where, value, requesterID string) ([]models.WhiteboardSnapshot, error) {
	ctx = ensureContext(ctx)
	requesterID = strings.TrimSpace(requesterID)
	if value == "" || requesterID == "" {
		return nil, invalidInput("id and requester are required")
	}

	var snapshots []models.WhiteboardSnapshot
	if err := s.db.WithContext(ctx).
		Where(where, value).
		Order("created_at ASC, snapshot_number ASC").
		Find(&snapshots).Error; err != nil {
		return nil, fmt.Errorf("whiteboard service: list snapshots: %w", err)
	}

	visible := make([]models.WhiteboardSnapshot, 0, len(snapshots))
	for _, snapshot := range snapshots {
		if snapshot.VisibleTo(requesterID) {
			visible = append(visible, snapshot)
		}
	}
	return visible, nil
}

// grant issues a role-scoped token, serving it from the credential cache when possible.
func (s *WhiteboardService) grant(ctx context.Context, room *models.WhiteboardRoom, role provider.AccessRole, reused bool) (*WhiteboardAccess, error) {
	token, ok := s.credentials.Get(ctx, room.WhiteboardUUID, role)
	if !ok {
		issued, err := s.boards.IssueAccessToken(ctx, room.WhiteboardUUID, role)
		if err != nil {
			monitoring.RecordWhiteboardOperation("token", "provider_error")
			return nil, err
		}
		token = issued
		s.credentials.Put(ctx, room.WhiteboardUUID, role, token)
	}
	return &WhiteboardAccess{Room: room, Token: token, Role: role, Reused: reused}, nil
}

func (s *WhiteboardService) capacityFor(sessionType models.SessionType, rosterSize int) int {
	if !sessionType.IsGroup() {
		return soloWhiteboardCapacity
	}
	if rosterSize == 0 {
		return s.maxCapacity
	}
	return min(rosterSize+1, s.maxCapacity)
}

func (s *WhiteboardService) findRoom(ctx context.Context, db *gorm.DB, classID string) (*models.WhiteboardRoom, error) {
	var room models.WhiteboardRoom
	err := db.WithContext(ctx).Where("class_session_id = ?", classID).Take(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWhiteboardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("whiteboard service: load room: %w", err)
	}
	return &room, nil
}

// mutateRoom loads the room, lets change derive updates from it and writes them only if no other
// writer bumped the version in between, reloading and retrying otherwise. Empty updates skip the write.
func (s *WhiteboardService) mutateRoom(ctx context.Context, classID string, change func(room *models.WhiteboardRoom) (map[string]any, error)) (*models.WhiteboardRoom, error) {
	for attempt := 0; attempt < roomUpdateAttempts; attempt++ {
		room, err := s.findRoom(ctx, s.db, classID)
		if err != nil {
			return nil, err
		}
		updates, err := change(room)
		if err != nil {
			return nil, err
		}
		if len(updates) == 0 {
			return room, nil
		}
		err = s.updateRoom(ctx, s.db, room, updates)
		if errors.Is(err, errVersionConflict) {
			s.log.Debug("whiteboard room update conflict", zap.String("class_session_id", classID), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, err
		}
		return room, nil
	}
	return nil, ErrConcurrentModification
}

// updateRoom applies updates only if the row still carries room.Version.
func (s *WhiteboardService) updateRoom(ctx context.Context, db *gorm.DB, room *models.WhiteboardRoom, updates map[string]any) error {
	updates["version"] = room.Version + 1
	updates["updated_at"] = s.timeNow()
	result := db.WithContext(ctx).Model(&models.WhiteboardRoom{}).
		Where("id = ? AND version = ?", room.ID, room.Version).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("whiteboard service: update room: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errVersionConflict
	}
	room.Version++
	return nil
}

// banRoom reports whether the provider confirmed the ban. Failures are logged only.
func (s *WhiteboardService) banRoom(roomUUID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := s.boards.BanRoom(ctx, roomUUID); err != nil {
		monitoring.RecordWhiteboardOperation("ban", "provider_error")
		s.log.Warn("ban whiteboard room failed", zap.String("whiteboard_uuid", roomUUID), zap.Error(err))
		return false
	}
	return true
}

func whiteboardLockKey(classID string) string {
	return "whiteboard:" + classID
}

func stateKey(classID string) string {
	return "whiteboard:state:" + classID
}
