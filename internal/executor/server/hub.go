package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termgate/internal/protocol"
)

const (
	sendQueue  = 256
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxFrame   = 1 << 20
)

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func newClient(id string, conn *websocket.Conn) *client {
	if id == "" {
		id = uuid.NewString()
	}
	return &client{
		id:   id,
		conn: conn,
		send: make(chan []byte, sendQueue),
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans backend events out to every connected channel client
type Hub struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[*client]bool
}

// NewHub creates an empty hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*client]bool),
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	h.logger.Info("Channel client connected", zap.String("client_id", c.id))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
		h.logger.Info("Channel client disconnected", zap.String("client_id", c.id))
	}
	h.mu.Unlock()
}

// Broadcast sends event to every client. Clients that cannot keep up are
// disconnected.
func (h *Hub) Broadcast(event protocol.Event, payload any) {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		h.logger.Error("Broadcast encode failed", zap.String("event", string(event)), zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.deliver(c, data)
	}
}

// Send delivers event to one client
func (h *Hub) Send(c *client, event protocol.Event, payload any) {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		h.logger.Error("Send encode failed", zap.String("event", string(event)), zap.Error(err))
		return
	}
	h.deliver(c, data)
}

func (h *Hub) deliver(c *client, data []byte) {
	// close(c.send) only happens under the write lock
	h.mu.RLock()
	_, live := h.clients[c]
	queued := false
	if live {
		select {
		case c.send <- data:
			queued = true
		default:
		}
	}
	h.mu.RUnlock()

	if live && !queued {
		h.logger.Warn("Channel client too slow, disconnecting", zap.String("client_id", c.id))
		h.remove(c)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}
