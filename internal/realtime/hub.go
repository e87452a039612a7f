package realtime

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/liveclass/internal/monitoring"
	"github.com/charlesng35/liveclass/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10

	defaultBufferSize = 64
)

// Message represents a JSON payload delivered to realtime subscribers.
type Message struct {
	Stream string         `json:"stream"`
	Event  string         `json:"event"`
	Data   any            `json:"data,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

type controlMessage struct {
	Action  string   `json:"action"`
	Streams []string `json:"streams"`
}

// Authorizer decides whether userID may subscribe to stream.
type Authorizer func(userID, stream string) bool

// Hub coordinates multiplexed realtime streams for connected clients.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[string]map[string]map[*connection]struct{}
	upgrader      websocket.Upgrader
	authorize     Authorizer
	connections   atomic.Int64
	log           *zap.Logger
}

// HubOption customises the hub.
type HubOption func(*Hub)

// WithAuthorizer restricts subscriptions. Without one every stream is permitted.
func WithAuthorizer(authorize Authorizer) HubOption {
	return func(h *Hub) {
		h.authorize = authorize
	}
}

// WithAllowedOrigins accepts cross-origin upgrades from the listed hosts in addition to
// same-origin and loopback requests.
func WithAllowedOrigins(origins ...string) HubOption {
	return func(h *Hub) {
		allowed := make(map[string]struct{}, len(origins))
		for _, origin := range origins {
			if host := hostWithoutPort(origin); host != "" {
				allowed[host] = struct{}{}
			}
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			if checkSameOrigin(r) {
				return true
			}
			_, ok := allowed[hostWithoutPort(r.Header.Get("Origin"))]
			return ok
		}
	}
}

// NewHub constructs a realtime hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		subscriptions: make(map[string]map[string]map[*connection]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkSameOrigin,
		},
		log: logger.WithModule("realtime"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func checkSameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originHost := hostWithoutPort(origin)
	return originHost == hostWithoutPort(r.Host) || isLoopback(originHost)
}

// Allowed reports whether userID may subscribe to stream.
func (h *Hub) Allowed(userID, stream string) bool {
	stream = normalizeStream(stream)
	if stream == "" || userID == "" {
		return false
	}
	if h.authorize == nil {
		return true
	}
	return h.authorize(userID, stream)
}

// Serve upgrades the HTTP connection to a WebSocket and registers the client with the provided
// streams. It blocks until the client disconnects.
func (h *Hub) Serve(userID string, streams []string, w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		monitoring.RecordRealtimeFailure("upgrade", "handshake", err.Error())
		return
	}

	client := newConnection(h, conn, userID)
	h.connections.Add(1)
	monitoring.RecordRealtimeConnection(1)
	h.subscribe(client, streams)

	go client.writeLoop()
	client.readLoop()
}

// BroadcastToUser delivers a message to all connections for the supplied user on a stream.
func (h *Hub) BroadcastToUser(stream, userID string, message Message) {
	stream = normalizeStream(stream)
	if stream == "" || userID == "" {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	targets := h.subscriptions[stream][userID]
	if len(targets) == 0 {
		return
	}

	message.Stream = stream
	monitoring.RecordRealtimeBroadcast(streamLabel(stream))
	for client := range targets {
		h.enqueue(client, message)
	}
}

// BroadcastStream delivers a message to every subscriber listening on the provided stream.
func (h *Hub) BroadcastStream(stream string, message Message) {
	stream = normalizeStream(stream)
	if stream == "" {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	clientsByUser, ok := h.subscriptions[stream]
	if !ok {
		return
	}

	message.Stream = stream
	monitoring.RecordRealtimeBroadcast(streamLabel(stream))
	for _, clients := range clientsByUser {
		for client := range clients {
			h.enqueue(client, message)
		}
	}
}

// ActiveConnections reports the number of open websocket connections.
func (h *Hub) ActiveConnections() int64 {
	return h.connections.Load()
}

// Subscribers reports how many connections listen on stream.
func (h *Hub) Subscribers(stream string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, clients := range h.subscriptions[normalizeStream(stream)] {
		total += len(clients)
	}
	return total
}

func (h *Hub) subscribe(client *connection, streams []string) {
	for _, stream := range uniqueStreams(streams) {
		if !h.Allowed(client.userID, stream) {
			h.log.Debug("ignoring unauthorized stream", zap.String("stream", stream), zap.String("user_id", client.userID))
			continue
		}
		h.addSubscription(client, stream)
	}
}

func (h *Hub) addSubscription(client *connection, stream string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := client.streams[stream]; exists {
		return
	}
	if h.subscriptions[stream] == nil {
		h.subscriptions[stream] = make(map[string]map[*connection]struct{})
	}
	if h.subscriptions[stream][client.userID] == nil {
		h.subscriptions[stream][client.userID] = make(map[*connection]struct{})
	}

	client.streams[stream] = struct{}{}
	h.subscriptions[stream][client.userID][client] = struct{}{}
}

func (h *Hub) unsubscribe(client *connection, streams []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, stream := range uniqueStreams(streams) {
		h.removeSubscriptionLocked(client, stream)
	}
}

func (h *Hub) unregister(client *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for stream := range client.streams {
		h.removeSubscriptionLocked(client, stream)
	}
}

func (h *Hub) removeSubscriptionLocked(client *connection, stream string) {
	delete(client.streams, stream)

	clientsByUser, ok := h.subscriptions[stream]
	if !ok {
		return
	}
	userClients := clientsByUser[client.userID]
	delete(userClients, client)
	if len(userClients) == 0 {
		delete(clientsByUser, client.userID)
	}
	if len(clientsByUser) == 0 {
		delete(h.subscriptions, stream)
	}
}

// enqueue drops slow consumers instead of blocking broadcasters. Callers hold at least the read lock.
func (h *Hub) enqueue(client *connection, message Message) {
	select {
	case client.send <- message:
	default:
		h.log.Warn("dropping slow realtime client", zap.String("user_id", client.userID))
		monitoring.RecordRealtimeFailure(streamLabel(message.Stream), "backpressure", "send buffer full")
		go client.close()
	}
}

type connection struct {
	hub     *Hub
	socket  *websocket.Conn
	userID  string
	streams map[string]struct{}
	send    chan Message
	done    chan struct{}
	once    sync.Once
}

func newConnection(hub *Hub, conn *websocket.Conn, userID string) *connection {
	return &connection{
		hub:     hub,
		socket:  conn,
		userID:  userID,
		streams: make(map[string]struct{}),
		send:    make(chan Message, defaultBufferSize),
		done:    make(chan struct{}),
	}
}

func (c *connection) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("unexpected websocket close", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}
		if len(payload) == 0 {
			continue
		}

		var ctrl controlMessage
		if err := json.Unmarshal(payload, &ctrl); err != nil {
			c.hub.log.Debug("invalid control payload", zap.String("user_id", c.userID), zap.Error(err))
			continue
		}

		switch strings.ToLower(strings.TrimSpace(ctrl.Action)) {
		case "subscribe":
			c.hub.subscribe(c, ctrl.Streams)
		case "unsubscribe":
			c.hub.unsubscribe(c, ctrl.Streams)
		case "ping":
			select {
			case c.send <- Message{Event: "pong"}:
			case <-c.done:
				return
			}
		default:
			c.hub.log.Debug("unsupported control action", zap.String("action", ctrl.Action), zap.String("user_id", c.userID))
		}
	}
}

func (c *connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
			_ = c.socket.Close()
			return
		case message := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteJSON(message); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *connection) close() {
	c.once.Do(func() {
		c.hub.unregister(c)
		close(c.done)
		_ = c.socket.SetReadDeadline(time.Now())
		c.hub.connections.Add(-1)
		monitoring.RecordRealtimeConnection(-1)
	})
}

// streamLabel collapses per-class topics into one metric label.
func streamLabel(stream string) string {
	if strings.HasPrefix(stream, ClassSessionPrefix) {
		return ClassSessionPrefix + "*"
	}
	return stream
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}

func normalizeStream(stream string) string {
	return strings.TrimSpace(stream)
}

func uniqueStreams(streams []string) []string {
	seen := make(map[string]struct{}, len(streams))
	var result []string
	for _, stream := range streams {
		stream = normalizeStream(stream)
		if stream == "" {
			continue
		}
		if _, exists := seen[stream]; exists {
			continue
		}
		seen[stream] = struct{}{}
		result = append(result, stream)
	}
	return result
}
