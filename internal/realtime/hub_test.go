package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, hub *Hub, userID string, streams ...string) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(userID, streams, w, r)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHubDeliversUserNotifications(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub, "U1", StreamNotifications)

	require.Eventually(t, func() bool { return hub.Subscribers(StreamNotifications) == 1 }, time.Second, 10*time.Millisecond)

	hub.BroadcastToUser(StreamNotifications, "someone-else", Message{Event: "ignored"})
	hub.BroadcastToUser(StreamNotifications, "U1", Message{Event: "SESSION_REMINDER", Data: map[string]any{"session_id": "s1"}})

	msg := readMessage(t, conn)
	require.Equal(t, StreamNotifications, msg.Stream)
	require.Equal(t, "SESSION_REMINDER", msg.Event)
}

func TestHubAuthorizerFiltersClassTopics(t *testing.T) {
	hub := NewHub(WithAuthorizer(func(userID, stream string) bool {
		if stream == StreamNotifications {
			return true
		}
		id, ok := ClassSessionID(stream)
		return ok && id == "cls-1" && userID == "U1"
	}))
	conn := dialHub(t, hub, "U1", StreamNotifications, ClassSessionStream("cls-1"), ClassSessionStream("cls-2"))

	require.Eventually(t, func() bool { return hub.Subscribers(ClassSessionStream("cls-1")) == 1 }, time.Second, 10*time.Millisecond)
	require.Zero(t, hub.Subscribers(ClassSessionStream("cls-2")))

	hub.BroadcastStream(ClassSessionStream("cls-1"), Message{Event: "SESSION_STARTED"})
	msg := readMessage(t, conn)
	require.Equal(t, "class-session.cls-1", msg.Stream)
	require.Equal(t, "SESSION_STARTED", msg.Event)
}

func TestHubControlMessages(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub, "U1")

	require.NoError(t, conn.WriteJSON(controlMessage{Action: "subscribe", Streams: []string{ClassSessionStream("cls-9")}}))
	require.Eventually(t, func() bool { return hub.Subscribers(ClassSessionStream("cls-9")) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(controlMessage{Action: "ping"}))
	require.Equal(t, "pong", readMessage(t, conn).Event)

	require.NoError(t, conn.WriteJSON(controlMessage{Action: "unsubscribe", Streams: []string{ClassSessionStream("cls-9")}}))
	require.Eventually(t, func() bool { return hub.Subscribers(ClassSessionStream("cls-9")) == 0 }, time.Second, 10*time.Millisecond)
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub, "U1", StreamNotifications)
	require.Eventually(t, func() bool { return hub.Subscribers(StreamNotifications) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Subscribers(StreamNotifications) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestClassSessionStreamNames(t *testing.T) {
	require.Equal(t, "class-session.abc", ClassSessionStream("abc"))

	id, ok := ClassSessionID("class-session.abc")
	require.True(t, ok)
	require.Equal(t, "abc", id)

	_, ok = ClassSessionID("notifications")
	require.False(t, ok)
	_, ok = ClassSessionID("class-session.")
	require.False(t, ok)
}

func TestCheckSameOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://app.example.com/api/realtime", nil)
	req.Host = "app.example.com"
	require.True(t, checkSameOrigin(req))

	req.Header.Set("Origin", "https://app.example.com")
	require.True(t, checkSameOrigin(req))

	req.Header.Set("Origin", "https://evil.example.net")
	require.False(t, checkSameOrigin(req))

	req.Header.Set("Origin", "http://localhost:5173")
	require.True(t, checkSameOrigin(req))
}
