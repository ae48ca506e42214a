package devserver

import (
	"log"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	maxConnsPerUser = 12
)

// client is a middleman between one websocket connection and the hub.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
}

// readPump drains the connection; clients never send anything meaningful.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { _ = c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("devserver: read error (user %s): %v", c.userID, err)
			}
			return
		}
	}
}

// writePump delivers queued frames and keeps the connection alive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Hub tracks the open push connections per user.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]map[*client]struct{}
	closed bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]map[*client]struct{})}
}

// serve registers conn for userID and blocks until the connection ends.
func (h *Hub) serve(userID string, conn *websocket.Conn) {
	c := &client{hub: h, conn: conn, send: make(chan []byte, 64), userID: userID}

	h.mu.Lock()
	if h.closed || len(h.conns[userID]) >= maxConnsPerUser {
		h.mu.Unlock()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "connection limit reached"))
		_ = conn.Close()
		return
	}
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*client]struct{})
	}
	h.conns[userID][c] = struct{}{}
	h.mu.Unlock()

	// The conn is released once the handler returns, so wait for the writer.
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()
	c.readPump()
	<-done
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.conns[c.userID]
	if !ok {
		return
	}
	if _, exists := m[c]; exists {
		delete(m, c)
		close(c.send)
	}
	if len(m) == 0 {
		delete(h.conns, c.userID)
	}
}

// Broadcast queues message for every connection. Slow connections drop it.
func (h *Hub) Broadcast(message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, m := range h.conns {
		for c := range m {
			select {
			case c.send <- message:
			default:
				log.Printf("devserver: buffer full for user %s, dropped message", c.userID)
			}
		}
	}
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, m := range h.conns {
		n += len(m)
	}
	return n
}

// Shutdown closes every connection and refuses new ones.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for userID, m := range h.conns {
		for c := range m {
			close(c.send)
		}
		delete(h.conns, userID)
	}
}
