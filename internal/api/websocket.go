package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sortline/sortline-core/internal/device"
	"github.com/sortline/sortline-core/internal/infrastructure/config"
)

// Inbound observer message types.
const (
	WSTypeSubscribe     = "subscribe"
	WSTypeUnsubscribe   = "unsubscribe"
	WSTypePing          = "ping"
	WSTypeGetStats      = "get_stats"
	WSTypeDeviceCommand = "device_command"

	// Direct reply types.
	WSTypePong            = "pong"
	WSTypeSubConfirmed    = "subscription_confirmed"
	WSTypeUnsubConfirmed  = "unsubscription_confirmed"
	WSTypeConnectionStats = "connection_stats"
)

// wsInbound is the shape of observer-sent messages, dispatched on Type.
type wsInbound struct {
	Type       string         `json:"type"`
	Topic      string         `json:"topic,omitempty"`
	DeviceID   string         `json:"device_id,omitempty"`
	Kind       string         `json:"kind,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Priority   int            `json:"priority,omitempty"`
}

// WSClient is one observer connection.
type WSClient struct {
	id    string
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	group string

	mu     sync.Mutex
	topics map[string]struct{}

	closed atomic.Bool
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// handleWebSocket upgrades the connection and registers the observer
// under the group named in the ?group= query parameter.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	group := NormalizeGroup(r.URL.Query().Get("group"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		id:     uuid.NewString(),
		hub:    s.hub,
		conn:   conn,
		send:   make(chan []byte, s.wsCfg.SendBuffer),
		group:  group,
		topics: make(map[string]struct{}),
	}

	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg, s)
}

// readPump reads messages from the connection until it closes.
func (c *WSClient) readPump(cfg config.WebSocketConfig, s *Server) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "connection_id", c.id, "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "connection_id", c.id, "error", err)
			}
			return
		}
		// Any client message resets the read deadline (keeps connection
		// alive even if the client doesn't answer protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message, s)
	}
}

// writePump writes outbound messages and protocol pings.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches one observer message. Malformed input and
// unrecognized types are logged and ignored; neither ever closes the
// connection.
func (c *WSClient) handleMessage(data []byte, s *Server) {
	var msg wsInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.hub.logger.Warn("unparsable observer message ignored",
			"connection_id", c.id, "error", err)
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.hub.Subscribe(c, msg.Topic)
		c.sendReply(map[string]any{"type": WSTypeSubConfirmed, "topic": msg.Topic})
	case WSTypeUnsubscribe:
		c.hub.Unsubscribe(c, msg.Topic)
		c.sendReply(map[string]any{"type": WSTypeUnsubConfirmed, "topic": msg.Topic})
	case WSTypePing:
		c.sendReply(map[string]any{"type": WSTypePong})
	case WSTypeGetStats:
		c.sendReply(map[string]any{"type": WSTypeConnectionStats, "stats": c.hub.Stats()})
	case WSTypeDeviceCommand:
		c.handleDeviceCommand(data, msg, s)
	default:
		c.hub.logger.Warn("unknown observer message type ignored",
			"connection_id", c.id, "type", msg.Type)
	}
}

// handleDeviceCommand relays an operator command toward the device
// connection group and queues it for pickup on the device's next poll.
func (c *WSClient) handleDeviceCommand(raw []byte, msg wsInbound, s *Server) {
	relayed := c.hub.BroadcastToGroup(GroupDevices, raw)
	c.hub.logger.Debug("device command relayed",
		"connection_id", c.id, "device_id", msg.DeviceID, "recipients", relayed)

	if s.queue == nil || msg.DeviceID == "" || msg.Kind == "" {
		return
	}

	priority := msg.Priority
	if priority == 0 {
		priority = defaultCommandPriority
	}
	if _, err := s.queue.Enqueue(msg.DeviceID, device.CommandKind(msg.Kind), msg.Parameters, priority); err != nil {
		c.hub.logger.Warn("observer command rejected",
			"connection_id", c.id, "device_id", msg.DeviceID, "error", err)
	}
}

// sendReply marshals and sends a direct reply to this observer only.
func (c *WSClient) sendReply(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.trySend(data)
}

// trySend delivers data to the client's send channel. It reports false
// only when the connection is already dead; a full buffer (slow but
// live client) skips the message and reports true so the client is not
// pruned.
func (c *WSClient) trySend(data []byte) (ok bool) {
	if c.closed.Load() {
		return false
	}

	defer func() {
		if recover() != nil {
			// Send on a channel closed during the race window above.
			ok = false
		}
	}()

	select {
	case c.send <- data:
	default:
		// Buffer full; drop for this client rather than block the hub.
	}
	return true
}

func (c *WSClient) addTopic(topic string) {
	c.mu.Lock()
	c.topics[topic] = struct{}{}
	c.mu.Unlock()
}

func (c *WSClient) removeTopic(topic string) {
	c.mu.Lock()
	delete(c.topics, topic)
	c.mu.Unlock()
}

func (c *WSClient) topicList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.topics))
	for topic := range c.topics {
		out = append(out, topic)
	}
	return out
}
