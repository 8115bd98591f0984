// ABOUTME: Per-conversation WebSocket relay bridging REST handlers to live viewers
// ABOUTME: At most one socket per conversation id; sends are fire-and-forget

package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// Hooks are optional callbacks for observability. Any field may be nil.
type Hooks struct {
	OnConnect    func()
	OnDisconnect func()
	OnDrop       func()
}

// connection is the live transport for one conversation id. Every conversation
// has an explicit state: either no entry in the relay map (no-socket) or one
// connection (connected). Reconnects replace the prior connection.
type connection struct {
	writeMu sync.Mutex
	conn    *websocket.Conn
}

func (c *connection) writeJSON(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Relay maintains one WebSocket endpoint per conversation id. It is an
// explicit instance constructed once at process start and injected into the
// gateway; Cleanup is bound to process shutdown.
type Relay struct {
	mu      sync.Mutex
	sockets map[string]*connection
	closed  bool

	upgrader websocket.Upgrader
	hooks    Hooks
	logger   *slog.Logger
}

// New creates a relay. Pass nil logger for default.
func New(logger *slog.Logger, hooks Hooks) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		sockets: make(map[string]*connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Local test tool: the desktop client connects from an
			// app origin, not a browser page on our host.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		hooks:  hooks,
		logger: logger.With("component", "relay"),
	}
}

// HandleUpgrade accepts a WebSocket upgrade for the given conversation id.
// Non-upgrade requests are rejected. If a socket is already registered for
// the id, the prior one is closed and replaced; a conversation id has at most
// one live socket at a time.
func (r *Relay) HandleUpgrade(w http.ResponseWriter, req *http.Request, conversationID string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		http.Error(w, "relay is shutting down", http.StatusServiceUnavailable)
		return
	}
	r.mu.Unlock()

	if !websocket.IsWebSocketUpgrade(req) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		r.logger.Warn("websocket upgrade failed", "conversation_id", conversationID, "error", err)
		return
	}

	c := &connection{conn: ws}

	r.mu.Lock()
	if prior, ok := r.sockets[conversationID]; ok {
		// Reconnect: replace, never append.
		_ = prior.conn.Close()
	}
	r.sockets[conversationID] = c
	r.mu.Unlock()

	if r.hooks.OnConnect != nil {
		r.hooks.OnConnect()
	}
	r.logger.Debug("socket connected", "conversation_id", conversationID)

	go r.readLoop(conversationID, c)
}

// readLoop drains client frames (keep-alive pings and the like are accepted
// and ignored by contract) and deregisters the socket when it closes.
func (r *Relay) readLoop(conversationID string, c *connection) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}

	r.mu.Lock()
	// Only deregister if this connection is still the registered one; a
	// reconnect may have replaced it already.
	if current, ok := r.sockets[conversationID]; ok && current == c {
		delete(r.sockets, conversationID)
	}
	r.mu.Unlock()

	_ = c.conn.Close()
	if r.hooks.OnDisconnect != nil {
		r.hooks.OnDisconnect()
	}
	r.logger.Debug("socket closed", "conversation_id", conversationID)
}

// Send serializes payload as JSON and writes it to the socket registered for
// the conversation id. Pushing to a conversation with no live viewer is a
// silent no-op: nothing is buffered for later delivery.
func (r *Relay) Send(conversationID string, payload any) error {
	r.mu.Lock()
	c, ok := r.sockets[conversationID]
	r.mu.Unlock()
	if !ok {
		if r.hooks.OnDrop != nil {
			r.hooks.OnDrop()
		}
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	if err := c.writeJSON(data); err != nil {
		// The close event races the send; treat like the no-socket case
		// after deregistering.
		r.mu.Lock()
		if current, ok := r.sockets[conversationID]; ok && current == c {
			delete(r.sockets, conversationID)
		}
		r.mu.Unlock()
		_ = c.conn.Close()
		r.logger.Warn("dropping push to dead socket", "conversation_id", conversationID, "error", err)
		if r.hooks.OnDrop != nil {
			r.hooks.OnDrop()
		}
		return nil
	}
	return nil
}

// Connected reports whether a live socket is registered for the id.
func (r *Relay) Connected(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sockets[conversationID]
	return ok
}

// ConnectionCount returns the number of live sockets.
func (r *Relay) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sockets)
}

// Cleanup closes every live socket and stops accepting new upgrades.
func (r *Relay) Cleanup() {
	r.mu.Lock()
	r.closed = true
	conns := make([]*connection, 0, len(r.sockets))
	for id, c := range r.sockets {
		conns = append(conns, c)
		delete(r.sockets, id)
	}
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
	}
	r.logger.Debug("relay cleaned up", "closed_sockets", len(conns))
}
