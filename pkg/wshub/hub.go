package wshub

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"
)

var ErrAllClientsFailed = errors.New("wshub: all clients failed")

const (
	defaultWriteTimeout = 5 * time.Second
	defaultReadLimit    = 1 << 16
)

// Hub fans one payload out to every connected observer. It implements
// the push side only; routing the upgrade request to Handler is the
// web layer's job.
type Hub struct {
	upgrader     websocket.Upgrader
	writeTimeout time.Duration

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// Option tunes a Hub.
type Option func(*Hub)

// WithWriteTimeout bounds each client write.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		h.writeTimeout = d
	}
}

// New allocates an empty hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		writeTimeout: defaultWriteTimeout,
		clients:      make(map[*websocket.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handler upgrades an observer connection and keeps it registered
// until it disconnects. Observers are read-drained only; inbound
// frames are ignored.
func (h *Hub) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.Warnf("upgrade observer connection, err: %+v", err)
		return
	}
	h.register(conn)

	go func() {
		defer h.unregister(conn)
		conn.SetReadLimit(defaultReadLimit)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Push writes the payload to every client. Dead clients are dropped.
// Pushing to zero clients succeeds; the broadcast is considered
// delivered to everyone listening. It fails only when every write
// failed, which is what the circuit breaker cares about.
func (h *Hub) Push(ctx context.Context, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.clients) == 0 {
		return nil
	}

	deadline := time.Now().Add(h.writeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	failed := 0
	for conn := range h.clients {
		_ = conn.SetWriteDeadline(deadline)
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			logs.Warnf("push to observer, err: %+v", err)
			delete(h.clients, conn)
			_ = conn.Close()
			failed++
		}
	}
	if failed > 0 && len(h.clients) == 0 {
		return ErrAllClientsFailed
	}
	return nil
}

// ClientCount returns the number of connected observers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every observer.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.Close()
		delete(h.clients, conn)
	}
}

func (h *Hub) register(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	logs.Infof("observer connected, total: %d", n)
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		_ = conn.Close()
	}
	n := len(h.clients)
	h.mu.Unlock()
	logs.Infof("observer disconnected, total: %d", n)
}
