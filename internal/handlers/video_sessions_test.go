package handlers_test

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	iauth "github.com/charlesng35/liveclass/internal/auth"
	"github.com/charlesng35/liveclass/internal/handlers/testutil"
	"github.com/charlesng35/liveclass/internal/services"
)

type sessionPayload struct {
	ID             string `json:"id"`
	ClassSessionID string `json:"class_session_id"`
	TeacherID      string `json:"teacher_id"`
	Status         string `json:"status"`
	RoomID         string `json:"room_id"`
}

func TestVideoSessionCreate(t *testing.T) {
	env := testutil.NewEnv(t)
	teacher := env.Token("T1", iauth.RoleTeacher)

	body := map[string]any{
		"class_session_id":     "class-1",
		"student_id":           "U1",
		"scheduled_start_time": env.Clock.Now().Add(time.Hour).Format(time.RFC3339),
		"duration_minutes":     60,
	}

	resp := env.Request(http.MethodPost, "/api/video/sessions", body, teacher)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var created sessionPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &created)
	require.Equal(t, "T1", created.TeacherID)
	require.Equal(t, "SCHEDULED", created.Status)
	require.NotEmpty(t, created.RoomID)

	resp = env.Request(http.MethodPost, "/api/video/sessions", body, teacher)
	require.Equal(t, http.StatusConflict, resp.Code, resp.Body.String())
}

func TestVideoSessionCreateRejections(t *testing.T) {
	env := testutil.NewEnv(t)
	start := env.Clock.Now().Add(time.Hour).Format(time.RFC3339)

	tests := []struct {
		name   string
		token  string
		body   map[string]any
		status int
	}{
		{
			name:   "unauthenticated",
			body:   map[string]any{"class_session_id": "c", "scheduled_start_time": start, "duration_minutes": 30},
			status: http.StatusUnauthorized,
		},
		{
			name:   "student role",
			token:  env.Token("U1", iauth.RoleStudent),
			body:   map[string]any{"class_session_id": "c", "scheduled_start_time": start, "duration_minutes": 30},
			status: http.StatusForbidden,
		},
		{
			name:   "other teacher",
			token:  env.Token("T1", iauth.RoleTeacher),
			body:   map[string]any{"class_session_id": "c", "teacher_id": "T2", "student_id": "U1", "scheduled_start_time": start, "duration_minutes": 30},
			status: http.StatusForbidden,
		},
		{
			name:   "missing class session",
			token:  env.Token("T1", iauth.RoleTeacher),
			body:   map[string]any{"scheduled_start_time": start, "duration_minutes": 30},
			status: http.StatusBadRequest,
		},
		{
			name:   "zero duration",
			token:  env.Token("T1", iauth.RoleTeacher),
			body:   map[string]any{"class_session_id": "c", "scheduled_start_time": start, "duration_minutes": 0},
			status: http.StatusBadRequest,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.Request(http.MethodPost, "/api/video/sessions", tc.body, tc.token)
			require.Equal(t, tc.status, resp.Code, resp.Body.String())
			require.False(t, testutil.DecodeResponse(t, resp).Success)
		})
	}
}

func TestVideoSessionAdminCreatesForTeacher(t *testing.T) {
	env := testutil.NewEnv(t)

	resp := env.Request(http.MethodPost, "/api/video/sessions", map[string]any{
		"class_session_id":     "class-admin",
		"teacher_id":           "T9",
		"student_id":           "U9",
		"scheduled_start_time": env.Clock.Now().Add(time.Hour).Format(time.RFC3339),
		"duration_minutes":     45,
	}, env.Token("ops", iauth.RoleAdmin))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var created sessionPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &created)
	require.Equal(t, "T9", created.TeacherID)
}

func TestVideoSessionJoinAndEnd(t *testing.T) {
	env := testutil.NewEnv(t)
	session := env.SoloSession("class-join", "T1", "U1", 5*time.Minute)
	teacher := env.Token("T1", iauth.RoleTeacher)
	student := env.Token("U1", iauth.RoleStudent)
	joinPath := "/api/video/sessions/" + session.ID + "/join?role="

	resp := env.Request(http.MethodPost, joinPath+"BOGUS", nil, teacher)
	require.Equal(t, http.StatusBadRequest, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodPost, joinPath+"TEACHER", nil, teacher)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var joined services.JoinResult
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &joined)
	require.NotEmpty(t, joined.Token)
	require.Equal(t, "IN_PROGRESS", string(joined.Session.Status))

	resp = env.Request(http.MethodPost, joinPath+"STUDENT", nil, student)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodPost, joinPath+"STUDENT", nil, env.Token("U2", iauth.RoleStudent))
	require.Equal(t, http.StatusForbidden, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodPost, "/api/video/sessions/"+session.ID+"/end", nil, student)
	require.Equal(t, http.StatusForbidden, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodPost, "/api/video/sessions/"+session.ID+"/end", nil, teacher)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var ended sessionPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &ended)
	require.Equal(t, "COMPLETED", ended.Status)

	resp = env.Request(http.MethodPost, joinPath+"STUDENT", nil, student)
	require.Equal(t, http.StatusConflict, resp.Code, resp.Body.String())
	require.Equal(t, "SESSION_NOT_JOINABLE", testutil.DecodeResponse(t, resp).Error.Code)
}

func TestVideoSessionJoinBeforeWindow(t *testing.T) {
	env := testutil.NewEnv(t)
	session := env.SoloSession("class-early", "T1", "U1", 2*time.Hour)

	resp := env.Request(http.MethodPost, "/api/video/sessions/"+session.ID+"/join?role=TEACHER", nil, env.Token("T1", iauth.RoleTeacher))
	require.Equal(t, http.StatusConflict, resp.Code, resp.Body.String())
}

func TestVideoSessionCancel(t *testing.T) {
	env := testutil.NewEnv(t)
	session := env.SoloSession("class-cancel", "T1", "U1", time.Hour)

	resp := env.Request(http.MethodPost, "/api/video/sessions/"+session.ID+"/cancel", nil, env.Token("T2", iauth.RoleTeacher))
	require.Equal(t, http.StatusForbidden, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodPost, "/api/video/sessions/"+session.ID+"/cancel",
		map[string]string{"reason": "teacher unavailable"}, env.Token("T1", iauth.RoleTeacher))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var cancelled sessionPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &cancelled)
	require.Equal(t, "CANCELLED", cancelled.Status)
	require.Contains(t, env.Rooms.DestroyedRooms(), session.RoomID)
}

func TestVideoSessionCancelStartedSession(t *testing.T) {
	env := testutil.NewEnv(t)
	session := env.StartedSession("class-live", "T1", "U1")

	resp := env.Request(http.MethodPost, "/api/video/sessions/"+session.ID+"/cancel", nil, env.Token("ops", iauth.RoleAdmin))
	require.Equal(t, http.StatusConflict, resp.Code, resp.Body.String())
	require.Equal(t, "PRECONDITION_FAILED", testutil.DecodeResponse(t, resp).Error.Code)
}

func TestVideoSessionStartRecording(t *testing.T) {
	env := testutil.NewEnv(t)
	scheduled := env.SoloSession("class-rec-early", "T1", "U1", time.Hour)
	teacher := env.Token("T1", iauth.RoleTeacher)

	resp := env.Request(http.MethodPost, "/api/video/sessions/"+scheduled.ID+"/recording/start", nil, teacher)
	require.Equal(t, http.StatusConflict, resp.Code, resp.Body.String())
	require.Equal(t, "SESSION_NOT_ACTIVE", testutil.DecodeResponse(t, resp).Error.Code)

	live := env.StartedSession("class-rec", "T1", "U1")
	resp = env.Request(http.MethodPost, "/api/video/sessions/"+live.ID+"/recording/start", nil, teacher)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
}

func TestVideoSessionVisibility(t *testing.T) {
	env := testutil.NewEnv(t)
	session := env.SoloSession("class-view", "T1", "U1", time.Hour)

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{name: "teacher", token: env.Token("T1", iauth.RoleTeacher), status: http.StatusOK},
		{name: "student", token: env.Token("U1", iauth.RoleStudent), status: http.StatusOK},
		{name: "admin", token: env.Token("ops", iauth.RoleAdmin), status: http.StatusOK},
		{name: "outsider", token: env.Token("U7", iauth.RoleStudent), status: http.StatusForbidden},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.Request(http.MethodGet, "/api/video/sessions/"+session.ID, nil, tc.token)
			require.Equal(t, tc.status, resp.Code, resp.Body.String())

			resp = env.Request(http.MethodGet, "/api/video/sessions/class/class-view", nil, tc.token)
			require.Equal(t, tc.status, resp.Code, resp.Body.String())
		})
	}

	resp := env.Request(http.MethodGet, "/api/video/sessions/missing", nil, env.Token("ops", iauth.RoleAdmin))
	require.Equal(t, http.StatusNotFound, resp.Code, resp.Body.String())
}

func TestVideoSessionTeacherListing(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SoloSession("class-a", "T1", "U1", time.Hour)
	env.SoloSession("class-b", "T1", "U2", 48*time.Hour)
	env.SoloSession("class-c", "T2", "U1", time.Hour)
	teacher := env.Token("T1", iauth.RoleTeacher)

	resp := env.Request(http.MethodGet, "/api/video/sessions/teacher/T1", nil, teacher)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	listed := testutil.DecodeResponse(t, resp)
	require.NotNil(t, listed.Meta)
	require.Equal(t, 2, listed.Meta.Total)

	query := url.Values{}
	query.Set("from", env.Clock.Now().Format(time.RFC3339))
	query.Set("to", env.Clock.Now().Add(24*time.Hour).Format(time.RFC3339))
	resp = env.Request(http.MethodGet, "/api/video/sessions/teacher/T1?"+query.Encode(), nil, teacher)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.Equal(t, 1, testutil.DecodeResponse(t, resp).Meta.Total)

	resp = env.Request(http.MethodGet, "/api/video/sessions/teacher/T1?from="+url.QueryEscape(env.Clock.Now().Format(time.RFC3339)), nil, teacher)
	require.Equal(t, http.StatusBadRequest, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodGet, "/api/video/sessions/teacher/T1?from=yesterday&to=today", nil, teacher)
	require.Equal(t, http.StatusBadRequest, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodGet, "/api/video/sessions/teacher/T2", nil, teacher)
	require.Equal(t, http.StatusForbidden, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodGet, "/api/video/sessions/student/U1", nil, env.Token("U1", iauth.RoleStudent))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.Equal(t, 2, testutil.DecodeResponse(t, resp).Meta.Total)

	resp = env.Request(http.MethodGet, "/api/video/sessions/student/U1", nil, env.Token("U2", iauth.RoleStudent))
	require.Equal(t, http.StatusForbidden, resp.Code, resp.Body.String())
}

func TestVideoSessionActiveRequiresAdmin(t *testing.T) {
	env := testutil.NewEnv(t)

	resp := env.Request(http.MethodGet, "/api/video/sessions/active", nil, env.Token("T1", iauth.RoleTeacher))
	require.Equal(t, http.StatusForbidden, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodGet, "/api/video/sessions/active", nil, env.Token("ops", iauth.RoleAdmin))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.True(t, testutil.DecodeResponse(t, resp).Success)
}
