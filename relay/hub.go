package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	codesphere "github.com/prathdotexe/CodeSphere"
	"github.com/prathdotexe/CodeSphere/shared"
)

// client is one connected participant. Outbound frames go through a buffered
// channel drained by a write pump; a slow reader loses frames rather than
// stalling the session.
type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
	once   sync.Once
}

func (c *client) trySend(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}

// Hub tracks the live connections per session and fans messages out to them.
// Per-sender ordering holds because each sender's frames pass through one
// read loop and land in each receiver's queue in order; there is no ordering
// across senders.
type Hub struct {
	logger   shared.LoggerAdapter
	mu       sync.RWMutex
	sessions map[string]map[string]*client
}

func NewHub(logger shared.LoggerAdapter) *Hub {
	return &Hub{
		logger:   logger,
		sessions: make(map[string]map[string]*client),
	}
}

func (h *Hub) add(sessionID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.sessions[sessionID]
	if !ok {
		clients = make(map[string]*client)
		h.sessions[sessionID] = clients
	}
	if old, ok := clients[c.userID]; ok {
		old.close()
	}
	clients[c.userID] = c
}

func (h *Hub) remove(sessionID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	if clients[c.userID] == c {
		delete(clients, c.userID)
	}
	if len(clients) == 0 {
		delete(h.sessions, sessionID)
	}
}

// broadcast delivers an encoded message to every member of the session
// except excludeUser (empty string excludes nobody).
func (h *Hub) broadcast(sessionID string, m *codesphere.Message, excludeUser string) {
	data, err := codesphere.Encode(m)
	if err != nil {
		h.logger.Error("encoding broadcast", err, zap.String("type", string(m.Type)))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for userID, c := range h.sessions[sessionID] {
		if excludeUser != "" && userID == excludeUser {
			continue
		}
		if !c.trySend(data) {
			h.logger.Warn("dropping frame for slow client",
				zap.String("sessionId", sessionID), zap.String("userId", userID))
		}
	}
}

// forward relays an already-encoded frame, used for the signaling messages
// the relay passes through untouched.
func (h *Hub) forward(sessionID string, data []byte, excludeUser string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for userID, c := range h.sessions[sessionID] {
		if excludeUser != "" && userID == excludeUser {
			continue
		}
		if !c.trySend(data) {
			h.logger.Warn("dropping frame for slow client",
				zap.String("sessionId", sessionID), zap.String("userId", userID))
		}
	}
}

// sendTo delivers an encoded message to a single member.
func (h *Hub) sendTo(sessionID, userID string, m *codesphere.Message) {
	data, err := codesphere.Encode(m)
	if err != nil {
		h.logger.Error("encoding direct message", err, zap.String("type", string(m.Type)))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.sessions[sessionID][userID]; ok {
		if !c.trySend(data) {
			h.logger.Warn("dropping frame for slow client",
				zap.String("sessionId", sessionID), zap.String("userId", userID))
		}
	}
}

// writePump drains the client's queue onto the socket and keeps the
// connection alive with pings.
func (h *Hub) writePump(c *client, pingPeriod, writeTimeout time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("write pump stopping", zap.String("userId", c.userID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
