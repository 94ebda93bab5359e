// Package hub pushes session updates to websocket clients.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"nhooyr.io/websocket"

	"github.com/user/multichat/internal/types"
)

type broadcast struct {
	data      []byte
	sessionID types.SessionID
}

// Hub fans updates out to connected clients. A client that connects with
// ?session=ID only receives that session's updates.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcast
	token      string
	mu         sync.RWMutex
	ctx        atomic.Pointer[context.Context]
	running    atomic.Bool
}

// New creates a Hub. An empty token disables authentication.
func New(token string) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan broadcast, 256),
		token:      token,
	}
}

func (h *Hub) getContext() context.Context {
	if p := h.ctx.Load(); p != nil {
		return *p
	}
	return context.Background()
}

// Run processes registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	h.ctx.Store(&ctx)
	h.running.Store(true)
	defer h.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[string]*Client)
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			h.mu.Unlock()
			go c.writePump(h.getContext())
			go c.readPump(h.getContext())
			slog.Debug("hub client connected", "client", c.id, "session_id", string(c.session), "total", h.ClientCount())

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			h.mu.Unlock()
			slog.Debug("hub client disconnected", "client", c.id, "total", h.ClientCount())

		case b := <-h.broadcast:
			h.broadcastToClients(b)
		}
	}
}

func (h *Hub) broadcastToClients(b broadcast) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.session != "" && c.session != b.sessionID {
			continue
		}
		select {
		case c.send <- b.data:
		default:
			slog.Warn("hub client buffer full, dropping update", "client", c.id)
		}
	}
}

// HandleWebSocket upgrades the request and registers the client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.token != "" && r.URL.Query().Get("token") != h.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("websocket accept", "error", err)
		return
	}

	c := newClient(conn, h, types.SessionID(r.URL.Query().Get("session")))
	select {
	case h.register <- c:
	default:
		conn.Close(websocket.StatusTryAgainLater, "server busy")
	}
}

// Publish implements the fan-out publisher contract.
func (h *Hub) Publish(_ context.Context, u *types.Update) {
	data, err := json.Marshal(u)
	if err != nil {
		slog.Error("marshal update", "error", err)
		return
	}
	select {
	case h.broadcast <- broadcast{data: data, sessionID: u.SessionID}:
	default:
		slog.Warn("hub broadcast channel full, dropping update", "session_id", string(u.SessionID))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) unregisterClient(c *Client) {
	if !h.running.Load() {
		c.conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	select {
	case h.unregister <- c:
	default:
		c.conn.Close(websocket.StatusNormalClosure, "")
	}
}
