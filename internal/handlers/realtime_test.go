package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	iauth "github.com/charlesng35/liveclass/internal/auth"
	"github.com/charlesng35/liveclass/internal/handlers/testutil"
	"github.com/charlesng35/liveclass/internal/realtime"
	"github.com/charlesng35/liveclass/internal/services"
)

func realtimeURL(t *testing.T, server *httptest.Server, query url.Values) string {
	t.Helper()
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/api/realtime?" + query.Encode()
}

func TestRealtimeRejectsUnauthenticated(t *testing.T) {
	env := testutil.NewEnv(t)

	resp := env.Request(http.MethodGet, "/api/realtime", nil, "")
	require.Equal(t, http.StatusUnauthorized, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodGet, "/api/realtime?token=garbage", nil, "")
	require.Equal(t, http.StatusUnauthorized, resp.Code, resp.Body.String())
}

func TestRealtimeRejectsForeignClassStream(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SoloSession("class-rt", "T1", "U1", time.Hour)

	query := url.Values{}
	query.Set("token", env.Token("U9", iauth.RoleStudent))
	query.Set("stream", realtime.ClassSessionStream("class-rt"))

	resp := env.Request(http.MethodGet, "/api/realtime?"+query.Encode(), nil, "")
	require.Equal(t, http.StatusForbidden, resp.Code, resp.Body.String())
}

func TestRealtimeDeliversNotifications(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SoloSession("class-live-rt", "T1", "U1", time.Hour)

	server := httptest.NewServer(env.Router)
	t.Cleanup(server.Close)

	query := url.Values{}
	query.Set("token", env.Token("U1", iauth.RoleStudent))
	query.Set("streams", realtime.StreamNotifications+","+realtime.ClassSessionStream("class-live-rt"))

	conn, resp, err := websocket.DefaultDialer.Dial(realtimeURL(t, server, query), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool {
		return env.Hub.Subscribers(realtime.StreamNotifications) == 1 &&
			env.Hub.Subscribers(realtime.ClassSessionStream("class-live-rt")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.EqualValues(t, 1, env.Hub.ActiveConnections())

	require.NoError(t, env.Notifications.NotifyUser(t.Context(), "U1", services.Notification{Type: "SESSION_REMINDER", Title: "Starting soon"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var message realtime.Message
	require.NoError(t, conn.ReadJSON(&message))
	require.Equal(t, realtime.StreamNotifications, message.Stream)
	require.Equal(t, "SESSION_REMINDER", message.Event)

	require.NoError(t, env.Notifications.BroadcastTopic(t.Context(), realtime.ClassSessionStream("class-live-rt"),
		services.Notification{Type: "SESSION_STARTED"}))
	require.NoError(t, conn.ReadJSON(&message))
	require.Equal(t, realtime.ClassSessionStream("class-live-rt"), message.Stream)
	require.Equal(t, "SESSION_STARTED", message.Event)
}
