package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/liveclass/internal/models"
	"github.com/charlesng35/liveclass/internal/services"
	"github.com/charlesng35/liveclass/pkg/errors"
	"github.com/charlesng35/liveclass/pkg/response"
)

// maxWhiteboardStateBytes bounds the state backup body.
const maxWhiteboardStateBytes = 4 << 20

// WhiteboardHandler exposes the whiteboard access engine over HTTP.
type WhiteboardHandler struct {
	service  *services.WhiteboardService
	sessions *services.VideoSessionService
}

// NewWhiteboardHandler constructs a whiteboard handler. sessions resolves class membership.
func NewWhiteboardHandler(service *services.WhiteboardService, sessions *services.VideoSessionService) *WhiteboardHandler {
	return &WhiteboardHandler{service: service, sessions: sessions}
}

type openWhiteboardRequest struct {
	ClassSessionID     string   `json:"class_session_id" validate:"required,notblank"`
	TeacherName        string   `json:"teacher_name"`
	SessionType        string   `json:"session_type"`
	StudentID          string   `json:"student_id"`
	EnrolledStudentIDs []string `json:"enrolled_student_ids"`
	CourseID           string   `json:"course_id"`
}

type accessWhiteboardRequest struct {
	ClassSessionID string `json:"class_session_id" validate:"required,notblank"`
	Role           string `json:"role" validate:"required,notblank"`
}

type saveSnapshotRequest struct {
	ClassSessionID string `json:"class_session_id" validate:"required,notblank"`
	Name           string `json:"name"`
	Data           string `json:"data" validate:"required,notblank"`
	ImageURL       string `json:"image_url" validate:"omitempty,url"`
}

// Open creates or reuses the class whiteboard. The caller must be the session's teacher.
func (h *WhiteboardHandler) Open(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req openWhiteboardRequest
	if !bindAndValidate(c, &req) {
		return
	}

	access, err := h.service.OpenWhiteboard(requestContext(c), services.OpenWhiteboardParams{
		ClassSessionID:     req.ClassSessionID,
		TeacherID:          userID,
		TeacherName:        req.TeacherName,
		SessionType:        req.SessionType,
		StudentID:          req.StudentID,
		EnrolledStudentIDs: req.EnrolledStudentIDs,
		CourseID:           req.CourseID,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, access)
}

// Access grants the caller a token for an open whiteboard.
func (h *WhiteboardHandler) Access(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req accessWhiteboardRequest
	if !bindAndValidate(c, &req) {
		return
	}
	role, valid := models.ParseParticipantRole(req.Role)
	if !valid {
		response.Error(c, errors.NewBadRequest("role must be one of TEACHER, STUDENT, PARENT_OBSERVER"))
		return
	}

	access, err := h.service.AccessWhiteboard(requestContext(c), req.ClassSessionID, userID, role)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, access)
}

// SaveSnapshot stores a capture of the board.
func (h *WhiteboardHandler) SaveSnapshot(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req saveSnapshotRequest
	if !bindAndValidate(c, &req) {
		return
	}

	snapshot, err := h.service.SaveSnapshot(requestContext(c), services.SaveSnapshotParams{
		ClassSessionID: req.ClassSessionID,
		RequesterID:    userID,
		Name:           req.Name,
		Data:           req.Data,
		ImageURL:       req.ImageURL,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response.Created(c, snapshot)
}

// SessionSnapshots lists the snapshots of a class session visible to the caller.
func (h *WhiteboardHandler) SessionSnapshots(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	snapshots, err := h.service.GetSessionSnapshots(requestContext(c), c.Param("classSessionID"), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.List(c, snapshots)
}

// CourseSnapshots lists the snapshots of a course visible to the caller.
func (h *WhiteboardHandler) CourseSnapshots(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	snapshots, err := h.service.GetCourseSnapshots(requestContext(c), c.Param("courseID"), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.List(c, snapshots)
}

// Snapshot returns one snapshot.
func (h *WhiteboardHandler) Snapshot(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	snapshot, err := h.service.GetSnapshot(requestContext(c), c.Param("id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, snapshot)
}

// GetState returns the stored board state of a class session.
func (h *WhiteboardHandler) GetState(c *gin.Context) {
	classID, ok := h.requireMember(c)
	if !ok {
		return
	}

	state, err := h.service.GetState(requestContext(c), classID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, json.RawMessage(state))
}

// PutState replaces the stored board state with the raw JSON request body.
func (h *WhiteboardHandler) PutState(c *gin.Context) {
	classID, ok := h.requireMember(c)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWhiteboardStateBytes+1))
	if err != nil {
		response.Error(c, errors.NewBadRequest("unreadable request body"))
		return
	}
	if len(body) > maxWhiteboardStateBytes {
		response.Error(c, errors.New("PAYLOAD_TOO_LARGE", "Whiteboard state is too large", http.StatusRequestEntityTooLarge))
		return
	}

	if err := h.service.UpdateState(requestContext(c), classID, string(body)); err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"updated": true})
}

// Disconnect records that the caller left the board.
func (h *WhiteboardHandler) Disconnect(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	room, err := h.service.HandleDisconnect(requestContext(c), c.Param("classSessionID"), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, room)
}

// Close closes the class whiteboard. permanent defaults to true; the session's teacher or an
// admin may close it.
func (h *WhiteboardHandler) Close(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	classID := strings.TrimSpace(c.Param("classSessionID"))

	if !isAdmin(c) {
		session, err := h.sessions.GetSessionByClassID(requestContext(c), classID)
		if err != nil {
			writeError(c, err)
			return
		}
		if session.TeacherID != userID {
			response.Error(c, errors.ErrForbidden)
			return
		}
	}

	room, err := h.service.CloseWhiteboard(requestContext(c), classID, parseBoolQuery(c, "permanent", true))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, room)
}

// Status summarises the class whiteboard.
func (h *WhiteboardHandler) Status(c *gin.Context) {
	classID, ok := h.requireMember(c)
	if !ok {
		return
	}

	status, err := h.service.Status(requestContext(c), classID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, status)
}

// requireMember admits admins and members of the class session named in the path.
func (h *WhiteboardHandler) requireMember(c *gin.Context) (string, bool) {
	userID, ok := currentUser(c)
	if !ok {
		return "", false
	}
	classID := strings.TrimSpace(c.Param("classSessionID"))
	if isAdmin(c) {
		return classID, true
	}

	member, err := h.sessions.IsMember(requestContext(c), classID, userID)
	if err != nil {
		writeError(c, err)
		return "", false
	}
	if !member {
		response.Error(c, errors.ErrForbidden)
		return "", false
	}
	return classID, true
}
