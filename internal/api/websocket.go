package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/SimplyPrint/pcsc-agent/internal/logging"
	"github.com/SimplyPrint/pcsc-agent/internal/metrics"
	"github.com/SimplyPrint/pcsc-agent/internal/version"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	maxMessage = 64 * 1024
	sendBuffer = 256
)

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string          `json:"type"`              // Message type
	ID      string          `json:"id,omitempty"`      // Request ID for request/response matching
	Payload json.RawMessage `json:"payload,omitempty"` // Message payload
	Error   string          `json:"error,omitempty"`   // Error message if any
}

func newMessage(typ, id string, payload any) ([]byte, error) {
	msg := WSMessage{Type: typ, ID: id}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Payload = data
	}
	return json.Marshal(msg)
}

// WSClient represents a connected WebSocket client
type WSClient struct {
	id     uuid.UUID
	conn   *websocket.Conn
	send   chan []byte
	hub    *WSHub
	server *Server
}

// WSHub fans messages out to every connected client.
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan []byte
	register   chan *WSClient
	unregister chan *WSClient
	done       chan struct{}
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every client.
func (h *WSHub) Run(ctx context.Context) {
	// Re-panic after logging since hub crash is fatal
	defer logging.RecoverAndLog("WebSocket hub", true)
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.remove(client)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			metrics.WebSocketClients.Inc()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.remove(client)
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					logging.Warn(logging.CatWebSocket, "Client not keeping up, disconnecting", map[string]any{
						"client": client.id.String(),
					})
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove drops a client and closes its send channel. Callers hold h.mu.
func (h *WSHub) remove(client *WSClient) {
	delete(h.clients, client)
	close(client.send)
	metrics.WebSocketClients.Dec()
}

// Broadcast queues a message for every client. It does not block: when the
// queue is full the message is dropped.
func (h *WSHub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		logging.Warn(logging.CatWebSocket, "Broadcast queue full, message dropped", nil)
	}
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error(logging.CatWebSocket, "WebSocket upgrade failed", map[string]any{
			"error":      err.Error(),
			"remoteAddr": r.RemoteAddr,
		})
		return
	}

	client := &WSClient{
		id:     uuid.New(),
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		hub:    s.hub,
		server: s,
	}
	logging.Info(logging.CatWebSocket, "Client connected", map[string]any{
		"client":     client.id.String(),
		"remoteAddr": r.RemoteAddr,
	})

	// The snapshot is queued before registering so it precedes any event.
	if s.monitor != nil {
		if data, err := newMessage("readers", "", s.monitor.Readers()); err == nil {
			client.send <- data
		}
	}

	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *WSClient) readPump() {
	// Recover from panics (runs last due to LIFO)
	defer logging.RecoverAndLog("WebSocket readPump", false)
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn(logging.CatWebSocket, "WebSocket unexpected close", map[string]any{
					"error": err.Error(),
				})
			} else {
				logging.Debug(logging.CatWebSocket, "Client disconnected", map[string]any{
					"client": c.id.String(),
				})
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError("", "invalid message format")
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	// Recover from panics (runs last due to LIFO)
	defer logging.RecoverAndLog("WebSocket writePump", false)
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

func (c *WSClient) handleMessage(msg WSMessage) {
	logging.Debug(logging.CatWebSocket, "Received message", map[string]any{
		"type": msg.Type,
		"id":   msg.ID,
	})

	switch msg.Type {
	case "ping":
		c.sendResponse(msg.ID, "pong", nil)
	case "list_readers":
		c.handleListReaders(msg.ID)
	case "version":
		c.sendResponse(msg.ID, "version", map[string]string{
			"version":   version.Version,
			"buildTime": version.BuildTime,
			"gitCommit": version.GitCommit,
		})
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleListReaders answers with the monitor's view of the readers.
func (c *WSClient) handleListReaders(id string) {
	if c.server == nil || c.server.monitor == nil {
		c.sendError(id, "reader monitor not running")
		return
	}
	c.sendResponse(id, "readers", c.server.monitor.Readers())
}

func (c *WSClient) sendResponse(id, typ string, payload any) {
	data, err := newMessage(typ, id, payload)
	if err != nil {
		c.sendError(id, "failed to encode response")
		return
	}
	c.queue(data)
}

func (c *WSClient) sendError(id, message string) {
	data, _ := json.Marshal(WSMessage{Type: "error", ID: id, Error: message})
	c.queue(data)
}

// queue hands data to the write pump without blocking the caller. Once
// the hub has dropped the client its send channel is closed, so the
// membership check and the send happen under the hub lock.
func (c *WSClient) queue(data []byte) {
	if c.hub != nil {
		c.hub.mu.RLock()
		defer c.hub.mu.RUnlock()
		if !c.hub.clients[c] {
			return
		}
	}
	select {
	case c.send <- data:
	default:
		logging.Debug(logging.CatWebSocket, "Client send buffer full, message dropped", nil)
	}
}
