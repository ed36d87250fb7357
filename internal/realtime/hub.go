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

	"github.com/charlesng35/simplecache/internal/monitoring"
	"github.com/charlesng35/simplecache/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10

	defaultBufferSize = 256
)

// Message represents a JSON payload delivered to realtime subscribers.
type Message struct {
	Stream string         `json:"stream"`
	Event  string         `json:"event"`
	Data   any            `json:"data,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`

	key string
}

type controlMessage struct {
	Action  string   `json:"action"`
	Streams []string `json:"streams"`
	Prefix  *string  `json:"prefix,omitempty"`
}

// Hub fans cache events out to websocket subscribers.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[string]map[*connection]struct{}
	upgrader      websocket.Upgrader
	active        atomic.Int64
	log           *zap.Logger
}

// NewHub constructs a realtime hub.
func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[string]map[*connection]struct{}),
		log:           logger.WithModule("realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				return originHost == hostWithoutPort(r.Host) || isLoopback(originHost)
			},
		},
	}
}

// Serve upgrades the request to a WebSocket and subscribes the client to
// streams. keyPrefix, when non-empty, limits key events to matching keys.
// Serve blocks until the client disconnects.
func (h *Hub) Serve(clientID string, streams []string, keyPrefix string, w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("client", clientID), zap.Error(err))
		monitoring.RecordRealtimeFailure(StreamCacheKeys, "upgrade", err.Error())
		return
	}

	client := newConnection(h, socket, clientID, keyPrefix)
	h.subscribe(client, streams)
	h.active.Add(1)
	monitoring.RecordRealtimeConnection(1)

	go client.writeLoop()
	client.readLoop()
}

// ActiveConnections reports the number of connected clients.
func (h *Hub) ActiveConnections() int64 {
	return h.active.Load()
}

// Publish delivers a key event on StreamCacheKeys.
func (h *Hub) Publish(event, key string, fields map[string]any) {
	h.BroadcastStream(StreamCacheKeys, KeyEvent(event, key, fields))
}

// BroadcastStream delivers a message to every subscriber listening on the provided stream.
func (h *Hub) BroadcastStream(stream string, message Message) {
	stream = normalizeStream(stream)
	if stream == "" {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.subscriptions[stream]
	if len(clients) == 0 {
		return
	}

	message.Stream = stream
	delivered := false
	for client := range clients {
		if !client.wants(message) {
			continue
		}
		if client.trySend(message) {
			delivered = true
			continue
		}
		h.log.Warn("dropping slow realtime client", zap.String("client", client.clientID))
		monitoring.RecordRealtimeFailure(stream, "backpressure", "client "+client.clientID+" too slow")
		go client.close()
	}
	if delivered {
		monitoring.RecordRealtimeBroadcast(stream)
	}
}

func (h *Hub) subscribe(client *connection, streams []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, stream := range uniqueStreams(streams) {
		if _, exists := client.streams[stream]; exists {
			continue
		}
		if h.subscriptions[stream] == nil {
			h.subscriptions[stream] = make(map[*connection]struct{})
		}
		client.streams[stream] = struct{}{}
		h.subscriptions[stream][client] = struct{}{}
		monitoring.RecordRealtimeSubscription(stream, "subscribe")
	}
}

func (h *Hub) unsubscribe(client *connection, streams []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, stream := range uniqueStreams(streams) {
		h.removeSubscriptionLocked(client, stream)
		monitoring.RecordRealtimeSubscription(stream, "unsubscribe")
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
	clients, ok := h.subscriptions[stream]
	if !ok {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.subscriptions, stream)
	}
}

type connection struct {
	hub      *Hub
	socket   *websocket.Conn
	clientID string
	streams  map[string]struct{}

	mu        sync.Mutex
	send      chan Message
	closed    bool
	keyPrefix string
}

func newConnection(hub *Hub, socket *websocket.Conn, clientID, keyPrefix string) *connection {
	return &connection{
		hub:       hub,
		socket:    socket,
		clientID:  clientID,
		streams:   make(map[string]struct{}),
		send:      make(chan Message, defaultBufferSize),
		keyPrefix: keyPrefix,
	}
}

func (c *connection) wants(message Message) bool {
	c.mu.Lock()
	prefix := c.keyPrefix
	c.mu.Unlock()
	return prefix == "" || message.key == "" || strings.HasPrefix(message.key, prefix)
}

func (c *connection) setPrefix(prefix string) {
	c.mu.Lock()
	c.keyPrefix = prefix
	c.mu.Unlock()
}

// trySend queues message without blocking. It reports false when the
// buffer is full; sends after close are dropped silently.
func (c *connection) trySend(message Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("unexpected websocket close", zap.String("client", c.clientID), zap.Error(err))
			}
			return
		}
		if len(payload) == 0 {
			continue
		}

		var ctrl controlMessage
		if err := json.Unmarshal(payload, &ctrl); err != nil {
			c.hub.log.Debug("invalid control payload", zap.String("client", c.clientID), zap.Error(err))
			continue
		}
		if ctrl.Prefix != nil {
			c.setPrefix(*ctrl.Prefix)
		}

		switch strings.ToLower(strings.TrimSpace(ctrl.Action)) {
		case "subscribe":
			c.hub.subscribe(c, ctrl.Streams)
		case "unsubscribe":
			c.hub.unsubscribe(c, ctrl.Streams)
		case "filter":
		case "ping":
			c.trySend(Message{Event: "pong"})
		default:
			c.hub.log.Debug("unsupported control action", zap.String("client", c.clientID), zap.String("action", ctrl.Action))
		}
	}
}

func (c *connection) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) close() {
	c.hub.unregister(c)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	_ = c.socket.Close()
	c.hub.active.Add(-1)
	monitoring.RecordRealtimeConnection(-1)
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		if parsed, err := http.NewRequest(http.MethodGet, host, nil); err == nil {
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
	return strings.ToLower(strings.TrimSpace(stream))
}

func uniqueStreams(streams []string) []string {
	seen := make(map[string]struct{}, len(streams))
	var result []string
	for _, stream := range streams {
		stream = normalizeStream(stream)
		if stream == "" {
			continue
		}
		if _, ok := seen[stream]; ok {
			continue
		}
		seen[stream] = struct{}{}
		result = append(result, stream)
	}
	return result
}

func (h *Hub) subscriberCount(stream string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions[normalizeStream(stream)])
}
