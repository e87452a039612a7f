package handlers

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/liveclass/internal/models"
	"github.com/charlesng35/liveclass/internal/services"
	"github.com/charlesng35/liveclass/pkg/errors"
	"github.com/charlesng35/liveclass/pkg/response"
)

// VideoSessionHandler exposes the session lifecycle engine over HTTP.
type VideoSessionHandler struct {
	service *services.VideoSessionService
}

// NewVideoSessionHandler constructs a video session handler.
func NewVideoSessionHandler(service *services.VideoSessionService) *VideoSessionHandler {
	return &VideoSessionHandler{service: service}
}

type createSessionRequest struct {
	ClassSessionID     string                 `json:"class_session_id" validate:"required,notblank"`
	CourseID           string                 `json:"course_id"`
	TeacherID          string                 `json:"teacher_id"`
	StudentID          string                 `json:"student_id"`
	ParentID           string                 `json:"parent_id"`
	EnrolledStudentIDs []string               `json:"enrolled_student_ids"`
	ScheduledStartTime time.Time              `json:"scheduled_start_time" validate:"required"`
	DurationMinutes    int                    `json:"duration_minutes" validate:"gt=0"`
	RecordingEnabled   bool                   `json:"recording_enabled"`
	Metadata           models.SessionMetadata `json:"metadata"`
}

type cancelSessionRequest struct {
	Reason string `json:"reason"`
}

// Create schedules a video session. Teachers create sessions for themselves; admins may name
// any teacher.
func (h *VideoSessionHandler) Create(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req createSessionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	teacherID := strings.TrimSpace(req.TeacherID)
	switch {
	case teacherID == "":
		teacherID = userID
	case teacherID != userID && !isAdmin(c):
		response.Error(c, errors.ErrForbidden.WithMessage("Sessions can only be scheduled for yourself"))
		return
	}

	session, err := h.service.CreateSession(requestContext(c), services.CreateSessionParams{
		ClassSessionID:     req.ClassSessionID,
		CourseID:           req.CourseID,
		TeacherID:          teacherID,
		StudentID:          req.StudentID,
		ParentID:           req.ParentID,
		EnrolledStudentIDs: req.EnrolledStudentIDs,
		ScheduledStartTime: req.ScheduledStartTime,
		DurationMinutes:    req.DurationMinutes,
		RecordingEnabled:   req.RecordingEnabled,
		Metadata:           req.Metadata,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response.Created(c, session)
}

// Join admits the caller in the role named by the role query parameter.
func (h *VideoSessionHandler) Join(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	role, valid := models.ParseParticipantRole(c.Query("role"))
	if !valid {
		response.Error(c, errors.NewBadRequest("role must be one of TEACHER, STUDENT, PARENT_OBSERVER"))
		return
	}

	result, err := h.service.JoinSession(requestContext(c), c.Param("id"), userID, role)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// End completes an in-progress session. Only its teacher may end it.
func (h *VideoSessionHandler) End(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	session, err := h.service.EndSession(requestContext(c), c.Param("id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, session)
}

// Cancel calls off a scheduled session.
func (h *VideoSessionHandler) Cancel(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req cancelSessionRequest
	if c.Request.ContentLength != 0 && !bindAndValidate(c, &req) {
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "cancelled by " + userID
	}

	session, err := h.service.CancelSession(requestContext(c), c.Param("id"), h.actor(c, userID), reason)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, session)
}

// StartRecording starts provider recording of an in-progress session.
func (h *VideoSessionHandler) StartRecording(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	session, err := h.service.StartRecording(requestContext(c), c.Param("id"), h.actor(c, userID))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, session)
}

// Get returns one session to its participants.
func (h *VideoSessionHandler) Get(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	session, err := h.service.GetSession(requestContext(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !h.canView(c, session, userID) {
		response.Error(c, errors.ErrForbidden)
		return
	}

	response.Success(c, http.StatusOK, session)
}

// GetByClass returns the session of a class session.
func (h *VideoSessionHandler) GetByClass(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	session, err := h.service.GetSessionByClassID(requestContext(c), c.Param("classSessionID"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !h.canView(c, session, userID) {
		response.Error(c, errors.ErrForbidden)
		return
	}

	response.Success(c, http.StatusOK, session)
}

// ListForTeacher lists a teacher's sessions, optionally within the from/to RFC 3339 range.
func (h *VideoSessionHandler) ListForTeacher(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	teacherID := strings.TrimSpace(c.Param("teacherID"))
	if teacherID != userID && !isAdmin(c) {
		response.Error(c, errors.ErrForbidden)
		return
	}

	from, hasFrom, err := parseTimeQuery(c, "from")
	if err != nil {
		response.Error(c, errors.NewBadRequest(err.Error()))
		return
	}
	to, hasTo, err := parseTimeQuery(c, "to")
	if err != nil {
		response.Error(c, errors.NewBadRequest(err.Error()))
		return
	}

	var sessions []models.VideoSession
	switch {
	case hasFrom && hasTo:
		sessions, err = h.service.ListTeacherSessionsInRange(requestContext(c), teacherID, from, to)
	case hasFrom || hasTo:
		response.Error(c, errors.NewBadRequest("from and to must be supplied together"))
		return
	default:
		sessions, err = h.service.ListTeacherSessions(requestContext(c), teacherID)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	response.List(c, sessions)
}

// ListForStudent lists a student's 1:1 sessions.
func (h *VideoSessionHandler) ListForStudent(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	studentID := strings.TrimSpace(c.Param("studentID"))
	if studentID != userID && !isAdmin(c) {
		response.Error(c, errors.ErrForbidden)
		return
	}

	sessions, err := h.service.ListStudentSessions(requestContext(c), studentID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.List(c, sessions)
}

// ListActive lists sessions currently in progress.
func (h *VideoSessionHandler) ListActive(c *gin.Context) {
	sessions, err := h.service.ListActiveSessions(requestContext(c))
	if err != nil {
		writeError(c, err)
		return
	}

	response.List(c, sessions)
}

// actor returns the id the engine checks ownership against; admins act as the system.
func (h *VideoSessionHandler) actor(c *gin.Context, userID string) string {
	if isAdmin(c) {
		return ""
	}
	return userID
}

func (h *VideoSessionHandler) canView(c *gin.Context, session *models.VideoSession, userID string) bool {
	return isAdmin(c) ||
		slices.Contains(session.Recipients(), userID) ||
		session.StudentMayJoin(userID)
}

func parseTimeQuery(c *gin.Context, key string) (time.Time, bool, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return time.Time{}, false, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false, errors.NewBadRequest(key + " must be an RFC 3339 timestamp")
	}
	return parsed.UTC(), true, nil
}
