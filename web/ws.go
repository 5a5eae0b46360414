package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// pushInterval is how often the broadcaster pushes a status snapshot to
// every connected diagnostics client.
const pushInterval = 500 * time.Millisecond

// wsClient is one connected diagnostics WebSocket client, mirroring the
// signaling server's per-client send-channel pattern.
type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger
}

func (c *wsClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.logger.Debug("diagnostics ws write error", zap.Error(err))
			return
		}
	}
}

// readPump drains (and discards) inbound frames so the connection's close
// and ping/pong control frames are still processed.
func (c *wsClient) readPump() {
	defer c.conn.Close()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcaster pushes periodic status snapshots to every connected
// diagnostics WebSocket client.
type Broadcaster struct {
	handlers *Handlers
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}

	done chan struct{}
}

// NewBroadcaster wires a Broadcaster to the status source.
func NewBroadcaster(h *Handlers, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		handlers: h,
		logger:   logger,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:  make(map[*wsClient]struct{}),
		done:     make(chan struct{}),
	}
}

// HandleWS upgrades the connection and registers the client.
func (b *Broadcaster) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("diagnostics ws upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 8), logger: b.logger}
	b.mu.Lock()
	b.clients[client] = struct{}{}
	b.mu.Unlock()

	go client.writePump()
	go func() {
		client.readPump()
		b.mu.Lock()
		delete(b.clients, client)
		b.mu.Unlock()
		close(client.send)
	}()
}

// Run periodically pushes a status snapshot to all connected clients until
// stopped.
func (b *Broadcaster) Run() {
	ticker := time.NewTicker(pushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.broadcast()
		}
	}
}

// Stop ends the Run loop.
func (b *Broadcaster) Stop() { close(b.done) }

func (b *Broadcaster) broadcast() {
	payload, err := json.Marshal(b.handlers.snapshot())
	if err != nil {
		b.logger.Warn("failed to marshal status snapshot", zap.Error(err))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		select {
		case c.send <- payload:
		default:
			b.logger.Debug("dropping diagnostics push, client send buffer full")
		}
	}
}
