package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nextconvert/editor/internal/modules/session"
	"github.com/nextconvert/editor/internal/shared/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Frames posted back by the preview can be large.
	maxMessageSize = 8 << 20
)

// Message represents a WebSocket message
type Message struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Client represents a WebSocket client
type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]bool
	mu            sync.RWMutex
}

// Hub fans session events and preview commands out to subscribed clients
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	upgrader   websocket.Upgrader
	metrics    *metrics.Metrics
	logger     *zap.Logger
	mu         sync.RWMutex

	framesMu sync.Mutex
	frames   map[string][]byte
}

// NewHub creates a new WebSocket hub. An empty allowedOrigins accepts any origin.
func NewHub(allowedOrigins []string, m *metrics.Metrics, logger *zap.Logger) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		metrics:    m,
		logger:     logger,
		frames:     make(map[string][]byte),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// Run starts the hub's main loop until ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.metrics.RecordWebSocketConnection(true)
			h.logger.Debug("Client connected", zap.Int("total_clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.metrics.RecordWebSocketConnection(false)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("Client disconnected", zap.Int("total_clients", total))
		}
	}
}

// HandleConnection handles a new WebSocket connection. A sessionId query
// parameter subscribes the client immediately.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]bool),
	}
	if id := r.URL.Query().Get("sessionId"); id != "" {
		client.subscriptions[id] = true
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// Publish sends a message to every client subscribed to sessionID
func (h *Hub) Publish(sessionID, msgType string, payload interface{}) error {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		data = raw
	}

	msgBytes, err := json.Marshal(Message{Type: msgType, SessionID: sessionID, Payload: data})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		client.mu.RLock()
		subscribed := client.subscriptions[sessionID]
		client.mu.RUnlock()

		if subscribed {
			select {
			case client.send <- msgBytes:
				h.metrics.RecordWebSocketMessage(msgType)
			default:
				// Client buffer full, skip
			}
		}
	}

	return nil
}

// Subscribers returns the number of clients subscribed to sessionID
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for client := range h.clients {
		client.mu.RLock()
		if client.subscriptions[sessionID] {
			n++
		}
		client.mu.RUnlock()
	}
	return n
}

// ForwardEvent publishes a session event as "session:<type>". It has the
// shape of a session observer.
func (h *Hub) ForwardEvent(e session.Event) {
	if err := h.Publish(e.SessionID, "session:"+string(e.Type), e); err != nil {
		h.logger.Warn("Failed to publish session event", zap.String("session_id", e.SessionID), zap.Error(err))
	}
	if e.Type == session.EventClosed {
		h.framesMu.Lock()
		delete(h.frames, e.SessionID)
		h.framesMu.Unlock()
	}
}

// LatestFrame returns the last frame a client posted for sessionID
func (h *Hub) LatestFrame(sessionID string) []byte {
	h.framesMu.Lock()
	defer h.framesMu.Unlock()
	return h.frames[sessionID]
}

func (h *Hub) storeFrame(sessionID string, frame []byte) {
	h.framesMu.Lock()
	h.frames[sessionID] = frame
	h.framesMu.Unlock()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Warn("Invalid WebSocket message", zap.Error(err))
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Error("WebSocket write error", zap.Error(err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg Message) {
	switch msg.Type {
	case "subscribe":
		if msg.SessionID == "" {
			return
		}
		c.mu.Lock()
		c.subscriptions[msg.SessionID] = true
		c.mu.Unlock()
		c.hub.logger.Debug("Client subscribed to session", zap.String("session_id", msg.SessionID))

	case "unsubscribe":
		c.mu.Lock()
		delete(c.subscriptions, msg.SessionID)
		c.mu.Unlock()
		c.hub.logger.Debug("Client unsubscribed from session", zap.String("session_id", msg.SessionID))

	case TypePreviewFrame:
		var payload FramePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil || msg.SessionID == "" {
			c.hub.logger.Warn("Invalid preview frame", zap.Error(err))
			return
		}
		c.hub.storeFrame(msg.SessionID, payload.Image)

	case "ping":
		response, _ := json.Marshal(Message{Type: "pong"})
		c.hub.sendTo(c, response)
	}
}

// sendTo queues data for one client unless it has been unregistered
func (h *Hub) sendTo(c *Client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
