// Package realtime fans out live location snapshots to websocket subscribers.
package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 512
	clientBuffer   = 16
)

// Message is the envelope pushed to subscribers.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
	SentAt  time.Time   `json:"sent_at"`
}

// client owns one connection. Only its writer goroutine writes to conn.
type client struct {
	conn   *websocket.Conn
	send   chan Message
	closed sync.Once
}

func (c *client) close() {
	c.closed.Do(func() { close(c.send) })
}

// Hub keeps the set of connected subscribers and pushes broadcasts to them.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	ch      chan Message

	onCount func(int)
}

// NewHub creates a hub. onCount, when set, is called with the subscriber count after every change.
func NewHub(logger *zap.Logger, onCount func(int)) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: map[*client]struct{}{},
		ch:      make(chan Message, 64),
		onCount: onCount,
	}
}

// Run hands queued broadcasts to every subscriber until ctx is done, then closes them all.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case msg := <-h.ch:
			h.deliver(msg)
		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// Broadcast queues a message. It never blocks; when the queue is full the message is dropped.
func (h *Hub) Broadcast(msgType string, payload interface{}) bool {
	if h == nil {
		return false
	}
	msg := Message{Type: msgType, Payload: payload, SentAt: time.Now().UTC()}
	select {
	case h.ch <- msg:
		return true
	default:
		h.logger.Warn("realtime queue full, dropping message", zap.String("type", msgType))
		return false
	}
}

// ServeWS upgrades the request and keeps the connection registered until the peer goes away or
// stops answering pings.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan Message, clientBuffer)}
	h.add(c)
	go h.writePump(c)
	h.readPump(c)
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				h.logger.Debug("dropping websocket subscriber", zap.Error(err))
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

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.notify(count)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	c.close()
	if ok {
		h.notify(count)
	}
}

func (h *Hub) notify(count int) {
	if h.onCount != nil {
		h.onCount(count)
	}
}

// deliver never blocks: a subscriber whose buffer is full misses this message.
func (h *Hub) deliver(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Debug("websocket subscriber behind, message dropped", zap.String("type", msg.Type))
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = map[*client]struct{}{}
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
	h.notify(0)
}
