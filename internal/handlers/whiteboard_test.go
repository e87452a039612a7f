package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	iauth "github.com/charlesng35/liveclass/internal/auth"
	"github.com/charlesng35/liveclass/internal/handlers/testutil"
)

type whiteboardAccessPayload struct {
	Token  string `json:"token"`
	Role   string `json:"role"`
	Reused bool   `json:"reused"`
}

type snapshotPayload struct {
	ID             string `json:"id"`
	SnapshotNumber int    `json:"snapshot_number"`
	SnapshotName   string `json:"snapshot_name"`
}

func TestWhiteboardOpenAndAccess(t *testing.T) {
	env := testutil.NewEnv(t)
	env.StartedSession("class-wb", "T1", "U1")
	teacher := env.Token("T1", iauth.RoleTeacher)

	resp := env.Request(http.MethodPost, "/api/whiteboard/open", map[string]string{"class_session_id": "class-wb"}, env.Token("T2", iauth.RoleTeacher))
	require.Equal(t, http.StatusForbidden, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodPost, "/api/whiteboard/open", map[string]string{"class_session_id": "class-wb"}, env.Token("U1", iauth.RoleStudent))
	require.Equal(t, http.StatusForbidden, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodPost, "/api/whiteboard/open", map[string]string{"class_session_id": "class-wb"}, teacher)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var opened whiteboardAccessPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &opened)
	require.NotEmpty(t, opened.Token)
	require.Equal(t, 1, env.Boards.CreatedCount())

	resp = env.Request(http.MethodPost, "/api/whiteboard/open", map[string]string{"class_session_id": "class-wb"}, teacher)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &opened)
	require.True(t, opened.Reused)
	require.Equal(t, 1, env.Boards.CreatedCount())

	resp = env.Request(http.MethodPost, "/api/whiteboard/access",
		map[string]string{"class_session_id": "class-wb", "role": "STUDENT"}, env.Token("U1", iauth.RoleStudent))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodPost, "/api/whiteboard/access",
		map[string]string{"class_session_id": "class-wb", "role": "STUDENT"}, env.Token("U9", iauth.RoleStudent))
	require.Equal(t, http.StatusForbidden, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodPost, "/api/whiteboard/access",
		map[string]string{"class_session_id": "class-wb", "role": "JANITOR"}, env.Token("U1", iauth.RoleStudent))
	require.Equal(t, http.StatusBadRequest, resp.Code, resp.Body.String())
}

func TestWhiteboardOpenRequiresLiveSession(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SoloSession("class-later", "T1", "U1", 0)

	resp := env.Request(http.MethodPost, "/api/whiteboard/open", map[string]string{"class_session_id": "class-later"}, env.Token("T1", iauth.RoleTeacher))
	require.Equal(t, http.StatusConflict, resp.Code, resp.Body.String())
	require.Equal(t, "SESSION_NOT_ACTIVE", testutil.DecodeResponse(t, resp).Error.Code)

	resp = env.Request(http.MethodPost, "/api/whiteboard/open", map[string]string{"class_session_id": "nope"}, env.Token("T1", iauth.RoleTeacher))
	require.Equal(t, http.StatusNotFound, resp.Code, resp.Body.String())
}

func TestWhiteboardSnapshots(t *testing.T) {
	env := testutil.NewEnv(t)
	env.StartedSession("class-snap", "T1", "U1")
	teacher := env.Token("T1", iauth.RoleTeacher)
	student := env.Token("U1", iauth.RoleStudent)

	resp := env.Request(http.MethodPost, "/api/whiteboard/open", map[string]string{"class_session_id": "class-snap"}, teacher)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodPost, "/api/whiteboard/snapshots",
		map[string]string{"class_session_id": "class-snap", "data": `{"strokes":[]}`}, student)
	require.Equal(t, http.StatusForbidden, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodPost, "/api/whiteboard/snapshots",
		map[string]string{"class_session_id": "class-snap"}, teacher)
	require.Equal(t, http.StatusBadRequest, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodPost, "/api/whiteboard/snapshots",
		map[string]string{"class_session_id": "class-snap", "data": `{"strokes":[]}`, "image_url": "not a url"}, teacher)
	require.Equal(t, http.StatusBadRequest, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodPost, "/api/whiteboard/snapshots",
		map[string]string{"class_session_id": "class-snap", "data": `{"strokes":[1]}`}, teacher)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var first snapshotPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &first)
	require.Equal(t, 1, first.SnapshotNumber)
	require.Equal(t, "Page 1", first.SnapshotName)

	resp = env.Request(http.MethodPost, "/api/whiteboard/snapshots",
		map[string]string{"class_session_id": "class-snap", "data": `{"strokes":[2]}`, "name": "Summary"}, teacher)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodGet, "/api/whiteboard/sessions/class-snap/snapshots", nil, student)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.Equal(t, 2, testutil.DecodeResponse(t, resp).Meta.Total)

	resp = env.Request(http.MethodGet, "/api/whiteboard/courses/course-1/snapshots", nil, student)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.Equal(t, 2, testutil.DecodeResponse(t, resp).Meta.Total)

	resp = env.Request(http.MethodGet, "/api/whiteboard/snapshots/"+first.ID, nil, student)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodGet, "/api/whiteboard/snapshots/"+first.ID, nil, env.Token("U9", iauth.RoleStudent))
	require.Equal(t, http.StatusNotFound, resp.Code, resp.Body.String())
}

func TestWhiteboardState(t *testing.T) {
	env := testutil.NewEnv(t)
	env.StartedSession("class-state", "T1", "U1")
	teacher := env.Token("T1", iauth.RoleTeacher)

	resp := env.Request(http.MethodGet, "/api/whiteboard/class-state/state", nil, teacher)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.JSONEq(t, `{}`, string(testutil.DecodeResponse(t, resp).Data))

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+teacher)
	headers.Set("Content-Type", "application/json")
	resp = env.RequestRaw(http.MethodPut, "/api/whiteboard/class-state/state", []byte(`{"page":3}`), headers)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodGet, "/api/whiteboard/class-state/state", nil, env.Token("U1", iauth.RoleStudent))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.JSONEq(t, `{"page":3}`, string(testutil.DecodeResponse(t, resp).Data))

	resp = env.Request(http.MethodGet, "/api/whiteboard/class-state/state", nil, env.Token("U9", iauth.RoleStudent))
	require.Equal(t, http.StatusForbidden, resp.Code, resp.Body.String())

	oversized := make([]byte, 4<<20+1)
	for i := range oversized {
		oversized[i] = 'a'
	}
	resp = env.RequestRaw(http.MethodPut, "/api/whiteboard/class-state/state", oversized, headers)
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)
}

func TestWhiteboardDisconnectAndClose(t *testing.T) {
	env := testutil.NewEnv(t)
	env.StartedSession("class-close", "T1", "U1")
	teacher := env.Token("T1", iauth.RoleTeacher)
	student := env.Token("U1", iauth.RoleStudent)

	resp := env.Request(http.MethodPost, "/api/whiteboard/open", map[string]string{"class_session_id": "class-close"}, teacher)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	resp = env.Request(http.MethodPost, "/api/whiteboard/access",
		map[string]string{"class_session_id": "class-close", "role": "STUDENT"}, student)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodGet, "/api/whiteboard/class-close/status", nil, teacher)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var status struct {
		Exists           bool     `json:"exists"`
		IsActive         bool     `json:"is_active"`
		ActiveStudentIDs []string `json:"active_student_ids"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &status)
	require.True(t, status.Exists)
	require.True(t, status.IsActive)
	require.Equal(t, []string{"U1"}, status.ActiveStudentIDs)

	resp = env.Request(http.MethodPost, "/api/whiteboard/class-close/disconnect", nil, student)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodDelete, "/api/whiteboard/class-close", nil, student)
	require.Equal(t, http.StatusForbidden, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodDelete, "/api/whiteboard/class-close?permanent=false", nil, teacher)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.Empty(t, env.Boards.BannedRooms())

	resp = env.Request(http.MethodDelete, "/api/whiteboard/class-close", nil, teacher)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.Len(t, env.Boards.BannedRooms(), 1)

	resp = env.Request(http.MethodPost, "/api/whiteboard/open", map[string]string{"class_session_id": "class-close"}, teacher)
	require.Equal(t, http.StatusConflict, resp.Code, resp.Body.String())
	require.Equal(t, "WHITEBOARD_CLOSED", testutil.DecodeResponse(t, resp).Error.Code)

	resp = env.Request(http.MethodPost, "/api/whiteboard/snapshots",
		map[string]string{"class_session_id": "class-close", "data": "x"}, teacher)
	require.Equal(t, http.StatusConflict, resp.Code, resp.Body.String())
}

func TestWhiteboardRoutesAbsentWithoutProvider(t *testing.T) {
	env := testutil.NewEnv(t, testutil.WithoutWhiteboard())

	resp := env.Request(http.MethodPost, "/api/whiteboard/open", map[string]string{"class_session_id": "x"}, env.Token("T1", iauth.RoleTeacher))
	require.Equal(t, http.StatusNotFound, resp.Code, resp.Body.String())
}

func TestEndingSessionClosesWhiteboard(t *testing.T) {
	env := testutil.NewEnv(t)
	session := env.StartedSession("class-end-wb", "T1", "U1")
	teacher := env.Token("T1", iauth.RoleTeacher)

	resp := env.Request(http.MethodPost, "/api/whiteboard/open", map[string]string{"class_session_id": "class-end-wb"}, teacher)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodPost, "/api/video/sessions/"+session.ID+"/end", nil, teacher)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodGet, "/api/whiteboard/class-end-wb/status", nil, teacher)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var status struct {
		Exists   bool `json:"exists"`
		IsActive bool `json:"is_active"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &status)
	require.True(t, status.Exists)
	require.False(t, status.IsActive)
	require.Len(t, env.Boards.BannedRooms(), 1)
}
