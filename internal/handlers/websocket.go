package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"drivepaddy/internal/models"
	"drivepaddy/internal/services"
)

// WebSocket message types.
const (
	MsgWelcome   = "WELCOME"
	MsgFrame     = "FRAME"
	MsgDetection = "DETECTION"
	MsgStatus    = "STATUS"
	MsgAlert     = "ALERT"
	MsgPing      = "PING"
	MsgPong      = "PONG"
	MsgError     = "ERROR"
)

const (
	pongWait   = 60 * time.Second
	writeWait  = 10 * time.Second
	pingPeriod = 50 * time.Second
	sendBuffer = 64
)

type WebSocketMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	ClientID  string          `json:"client_id,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type outbound struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	ClientID  string      `json:"client_id,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type wsClient struct {
	hub     *Hub
	conn    *websocket.Conn
	id      string
	session *services.Session
	send    chan outbound
	done    chan struct{}
	once    sync.Once
}

// enqueue never blocks; a client that cannot keep up loses messages.
func (c *wsClient) enqueue(msgType string, payload interface{}) bool {
	msg := outbound{Type: msgType, Payload: payload, ClientID: c.id, Timestamp: time.Now().UnixMilli()}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.hub.logger.Debug("client send buffer full", zap.String("client_id", c.id))
		return false
	}
}

// close signals writePump, which sends the close frame and tears the
// connection down.
func (c *wsClient) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub serves /ws. A client connects to one session with
// ?session_id=...&token=..., sends FRAME messages and receives a DETECTION
// reply per frame. Every client of the session also receives STATUS and
// ALERT pushes.
type Hub struct {
	manager  *services.Manager
	metrics  *services.Metrics
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[string]*wsClient
}

func NewHub(manager *services.Manager, logger *zap.Logger) *Hub {
	return &Hub{
		manager: manager,
		metrics: manager.Metrics(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger.Named("ws"),
		clients: make(map[string]*wsClient),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := q.Get("token")
	if token == "" {
		token = bearer(r.Header.Get("Authorization"))
	}
	sess, err := h.manager.Authenticate(q.Get("session_id"), token)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, services.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error(), "ws_rejected")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{
		hub:     h,
		conn:    conn,
		id:      "client-" + uuid.NewString()[:8],
		session: sess,
		send:    make(chan outbound, sendBuffer),
		done:    make(chan struct{}),
	}
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.enqueue(MsgWelcome, map[string]interface{}{
		"message":    "Connected to Drowsiness Detection Server",
		"session_id": sess.ID,
		"strategy":   sess.Strategy,
	})
	c.readPump(r.Context())
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.metrics.IncrementWebSocketConnections()
	h.logger.Info("client connected", zap.String("client_id", c.id), zap.String("session_id", c.session.ID))
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
	h.logger.Info("client disconnected", zap.String("client_id", c.id))
	h.metrics.DecrementWebSocketConnections()
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish pushes a decision to every client of its session.
func (h *Hub) Publish(_ context.Context, res models.DetectionResult) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.session.ID != res.SessionID {
			continue
		}
		c.enqueue(MsgStatus, res.StatusPayload())
		if res.AlertFired {
			c.enqueue(MsgAlert, res)
		}
	}
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*wsClient)
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func (c *wsClient) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxFrameBody)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg WebSocketMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", zap.String("client_id", c.id), zap.Error(err))
				c.hub.metrics.IncrementWebSocketErrors()
			}
			return
		}
		c.hub.metrics.IncrementWebSocketMessages()
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Type {
		case MsgPing:
			c.enqueue(MsgPong, nil)
		case MsgFrame:
			c.handleFrame(ctx, msg.Payload)
		default:
			c.enqueue(MsgError, map[string]string{"error": "unknown message type " + msg.Type})
		}
	}
}

func (c *wsClient) handleFrame(ctx context.Context, payload json.RawMessage) {
	var vf models.VideoFrame
	if err := json.Unmarshal(payload, &vf); err != nil {
		c.enqueue(MsgError, map[string]string{"error": "invalid frame payload"})
		return
	}
	img, err := decodeFrame(vf.Frame, c.hub.manager.FrameLimit())
	if err != nil {
		c.enqueue(MsgError, map[string]string{"error": err.Error()})
		return
	}

	res, err := c.session.HandleFrame(ctx, img)
	switch {
	case errors.Is(err, services.ErrSessionBusy), errors.Is(err, services.ErrRateLimited):
		c.hub.logger.Debug("frame dropped", zap.String("client_id", c.id), zap.Int64("seq", vf.SequenceNumber), zap.Error(err))
		return
	case err != nil:
		c.enqueue(MsgError, map[string]string{"error": err.Error()})
		return
	}
	res.ClientTimestamp = vf.Timestamp
	res.SequenceNumber = vf.SequenceNumber
	c.enqueue(MsgDetection, res)
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.hub.metrics.IncrementWebSocketErrors()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
