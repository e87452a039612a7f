package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/liveclass/internal/api"
	"github.com/charlesng35/liveclass/internal/app"
	iauth "github.com/charlesng35/liveclass/internal/auth"
	"github.com/charlesng35/liveclass/internal/cache"
	sharedtestutil "github.com/charlesng35/liveclass/internal/database/testutil"
	"github.com/charlesng35/liveclass/internal/events"
	"github.com/charlesng35/liveclass/internal/models"
	"github.com/charlesng35/liveclass/internal/monitoring"
	"github.com/charlesng35/liveclass/internal/provider/providertest"
	"github.com/charlesng35/liveclass/internal/realtime"
	"github.com/charlesng35/liveclass/internal/services"
	"github.com/charlesng35/liveclass/pkg/response"
)

// WebhookSecret is the recording webhook secret configured for every Env.
const WebhookSecret = "test-webhook-secret"

// Clock is a manually advanced clock shared by the services of an Env.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// Now returns the current test time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T             *testing.T
	DB            *gorm.DB
	Router        *gin.Engine
	JWT           *iauth.JWTService
	Config        *app.Config
	Clock         *Clock
	Rooms         *providertest.Rooms
	Boards        *providertest.Boards
	Sessions      *services.VideoSessionService
	Whiteboards   *services.WhiteboardService
	Notifications *services.NotificationService
	Bus           *events.Bus
	Hub           *realtime.Hub
	Monitoring    *monitoring.Module
}

// EnvOption tweaks the configuration before the router is built.
type EnvOption func(*app.Config)

// WithoutWhiteboard builds the environment without a whiteboard provider.
func WithoutWhiteboard() EnvOption {
	return func(cfg *app.Config) {
		cfg.Whiteboard.AccessKey = ""
		cfg.Whiteboard.SecretKey = ""
	}
}

// WithoutEventIngest disables POST /api/events.
func WithoutEventIngest() EnvOption {
	return func(cfg *app.Config) {
		cfg.Events.IngestEnabled = false
	}
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	cfg := &app.Config{
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret: "test-suite-super-secret-key-32-bytes!!",
				Issuer: "test-suite",
				TTL:    time.Hour,
			},
		},
		Video: app.VideoConfig{
			WebhookSecret: WebhookSecret,
			JoinWindow:    15 * time.Minute,
		},
		Whiteboard: app.WhiteboardConfig{
			AccessKey:       "test-access-key",
			SecretKey:       "test-secret-key",
			DefaultCapacity: 50,
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
		Events: app.EventsConfig{IngestEnabled: true},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	mon, err := monitoring.NewModule(monitoring.Options{DisableGoCollector: true, DisableProcessCollector: true})
	require.NoError(t, err)

	env := &Env{
		T:          t,
		DB:         db,
		JWT:        jwtSvc,
		Config:     cfg,
		Clock:      &Clock{now: time.Date(2024, 9, 2, 14, 0, 0, 0, time.UTC)},
		Rooms:      &providertest.Rooms{},
		Boards:     &providertest.Boards{},
		Bus:        events.NewBus(),
		Monitoring: mon,
	}

	locks := services.NewKeyedMutex()
	store := cache.NewMemoryStore(env.Clock.Now)

	var authorize realtime.Authorizer
	env.Hub = realtime.NewHub(realtime.WithAuthorizer(func(userID, stream string) bool { return authorize(userID, stream) }))

	notifications, err := services.NewNotificationService(db, env.Hub)
	require.NoError(t, err)
	env.Notifications = notifications

	sessions, err := services.NewVideoSessionService(db, env.Rooms,
		services.WithVideoClock(env.Clock.Now),
		services.WithJoinWindow(cfg.Video.JoinWindow),
		services.WithSessionLocks(locks),
		services.WithLifecyclePublisher(events.NewLifecyclePublisher(env.Bus, notifications)),
	)
	require.NoError(t, err)
	env.Sessions = sessions
	authorize = realtime.MembershipAuthorizer(sessions, time.Second)

	var whiteboards *services.WhiteboardService
	if cfg.Whiteboard.Enabled() {
		whiteboards, err = services.NewWhiteboardService(db, env.Boards,
			services.WithWhiteboardClock(env.Clock.Now),
			services.WithWhiteboardLocks(locks),
			services.WithCredentialCache(services.NewCredentialCache(store, time.Hour)),
			services.WithStateStore(store),
			services.WithMaxCapacity(cfg.Whiteboard.DefaultCapacity),
		)
		require.NoError(t, err)
		env.Whiteboards = whiteboards
	}

	listeners, err := events.NewListeners(sessions, whiteboardEngine(whiteboards))
	require.NoError(t, err)
	listeners.Register(env.Bus)

	router, err := api.NewRouter(api.Dependencies{
		Config:        cfg,
		DB:            db,
		JWT:           jwtSvc,
		Sessions:      sessions,
		Whiteboards:   whiteboards,
		Notifications: notifications,
		Bus:           env.Bus,
		Hub:           env.Hub,
		Monitoring:    mon,
	})
	require.NoError(t, err)
	env.Router = router

	return env
}

// whiteboardEngine keeps a nil service from becoming a non-nil interface.
func whiteboardEngine(svc *services.WhiteboardService) events.WhiteboardEngine {
	if svc == nil {
		return nil
	}
	return svc
}

// Token issues an access token for userID carrying roles.
func (e *Env) Token(userID string, roles ...string) string {
	e.T.Helper()
	token, err := e.JWT.GenerateAccessToken(iauth.AccessTokenInput{UserID: userID, Name: userID, Roles: roles})
	require.NoError(e.T, err)
	return token
}

// SoloSession schedules a 1:1 session for teacherID and studentID starting after startsIn.
func (e *Env) SoloSession(classID, teacherID, studentID string, startsIn time.Duration) *models.VideoSession {
	e.T.Helper()
	session, err := e.Sessions.CreateSession(context.Background(), services.CreateSessionParams{
		ClassSessionID:     classID,
		CourseID:           "course-1",
		TeacherID:          teacherID,
		StudentID:          studentID,
		ScheduledStartTime: e.Clock.Now().Add(startsIn),
		DurationMinutes:    60,
		RecordingEnabled:   true,
		Metadata: models.SessionMetadata{
			Subject:           "Algebra",
			WhiteboardEnabled: true,
			ChatEnabled:       true,
		},
	})
	require.NoError(e.T, err)
	return session
}

// StartedSession schedules a 1:1 session and puts it in progress by joining its teacher.
func (e *Env) StartedSession(classID, teacherID, studentID string) *models.VideoSession {
	e.T.Helper()
	session := e.SoloSession(classID, teacherID, studentID, 5*time.Minute)
	_, err := e.Sessions.JoinSession(context.Background(), session.ID, teacherID, models.RoleTeacher)
	require.NoError(e.T, err)
	reloaded, err := e.Sessions.GetSession(context.Background(), session.ID)
	require.NoError(e.T, err)
	return reloaded
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	headers := http.Header{}
	if body != nil {
		headers.Set("Content-Type", "application/json")
	}
	if token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}
	return e.RequestRaw(method, path, buf.Bytes(), headers)
}

// RequestRaw executes a request with a literal body and headers.
func (e *Env) RequestRaw(method, path string, body []byte, headers http.Header) *httptest.ResponseRecorder {
	e.T.Helper()

	req, err := http.NewRequest(method, path, bytes.NewReader(body))
	require.NoError(e.T, err)
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
