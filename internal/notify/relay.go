package notify

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = 10 * time.Second

// Relay forwards published changes to connected websocket clients.
type Relay struct {
	publisher *Publisher
	logger    *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewRelay constructs a Relay over the publisher's channel.
func NewRelay(publisher *Publisher, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{publisher: publisher, logger: logger, clients: make(map[*websocket.Conn]struct{})}
}

// Run subscribes to Redis and broadcasts until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	changes, err := r.publisher.Subscribe(ctx)
	if err != nil {
		return err
	}
	for c := range changes {
		r.broadcast(c)
	}
	r.closeAll()
	return ctx.Err()
}

// ServeHTTP upgrades the request and keeps the client until it disconnects.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("notify: websocket upgrade", slog.Any("error", err))
		return
	}
	r.mu.Lock()
	r.clients[conn] = struct{}{}
	r.mu.Unlock()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			r.drop(conn)
			return
		}
	}
}

// Clients reports the number of connected clients.
func (r *Relay) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *Relay) broadcast(c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for conn := range r.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(c); err != nil {
			_ = conn.Close()
			delete(r.clients, conn)
		}
	}
}

func (r *Relay) drop(conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[conn]; ok {
		_ = conn.Close()
		delete(r.clients, conn)
	}
}

func (r *Relay) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for conn := range r.clients {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
		_ = conn.Close()
		delete(r.clients, conn)
	}
}
