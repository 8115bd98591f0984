// ABOUTME: Gateway orchestrator that wires the registry, relay, and HTTP server
// ABOUTME: Manages route mounting, metrics, and graceful shutdown lifecycle

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/chatrelay/chatrelay/internal/auth"
	"github.com/chatrelay/chatrelay/internal/config"
	"github.com/chatrelay/chatrelay/internal/conversation"
	"github.com/chatrelay/chatrelay/internal/oauth"
	"github.com/chatrelay/chatrelay/internal/relay"
	"github.com/chatrelay/chatrelay/internal/store"
)

// Gateway orchestrates the chatrelay server components.
// It owns the conversation registry, the WebSocket relay, and the HTTP server.
type Gateway struct {
	config     *config.Config
	registry   *conversation.Registry
	relay      *relay.Relay
	resolver   *oauth.Resolver
	issuer     *auth.TokenIssuer
	store      store.Store
	metrics    *Metrics
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// initStore creates the transcript store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("CHATRELAY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics()
	issuer := auth.NewTokenIssuer([]byte(cfg.Auth.TokenSecret))

	g := &Gateway{
		config:   cfg,
		registry: conversation.NewRegistry(cfg.Emulator.Locale, logger),
		resolver: oauth.NewResolver(issuer, logger),
		issuer:   issuer,
		store:    s,
		metrics:  metrics,
		logger:   logger.With("component", "gateway"),
	}

	g.relay = relay.New(logger, relay.Hooks{
		OnConnect:    func() { metrics.WSConnectionsActive.Inc() },
		OnDisconnect: func() { metrics.WSConnectionsActive.Dec() },
		OnDrop:       func() { metrics.PushesDropped.Inc() },
	})

	mux := http.NewServeMux()
	g.mountRoutes(mux)
	g.mux = mux

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.recoverPanics(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// mountRoutes registers all HTTP routes on the mux.
func (g *Gateway) mountRoutes(mux *http.ServeMux) {
	// Health endpoints
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	// Channel API
	mux.HandleFunc("POST /v3/conversations", g.handleCreateConversation)
	mux.HandleFunc("POST /v2/conversations", g.handleCreateConversationV2)
	mux.HandleFunc("POST /v3/conversations/{conversationId}/activities/{activityId}", g.handleReplyToActivity)

	// Direct-Line style client API
	mux.HandleFunc("GET /v3/directline/conversations/{conversationId}/activities", g.handleGetActivities)
	mux.HandleFunc("POST /v3/directline/conversations/{conversationId}/activities", g.handlePostActivity)
	mux.HandleFunc("POST /v3/directline/tokens/generate", g.handleGenerateToken)

	// Emulator maintenance API
	mux.HandleFunc("PUT /emulator/{conversationId}", g.handleUpdateConversation)
	mux.HandleFunc("DELETE /emulator/{conversationId}", g.handleDeleteConversation)
	mux.HandleFunc("GET /emulator/{conversationId}/users", g.handleGetUsers)
	mux.HandleFunc("POST /emulator/{conversationId}/users", g.handleAddUsers)
	mux.HandleFunc("DELETE /emulator/{conversationId}/users", g.handleRemoveUsers)
	mux.HandleFunc("POST /emulator/{conversationId}/typing", g.handleTyping)
	mux.HandleFunc("POST /emulator/{conversationId}/ping", g.handlePing)
	mux.HandleFunc("POST /emulator/{conversationId}/invoke/initialReport", g.handleInitialReport)
	mux.HandleFunc("POST /emulator/{conversationId}/transcript", g.handleSaveTranscript)
	mux.HandleFunc("GET /emulator/{conversationId}/transcript", g.handleGetTranscript)

	// Per-conversation viewer socket
	mux.HandleFunc("GET /ws/{conversationId}", func(w http.ResponseWriter, r *http.Request) {
		g.relay.HandleUpgrade(w, r, r.PathValue("conversationId"))
	})

	if g.config.Metrics.Enabled {
		mux.Handle("GET "+g.config.Metrics.Path, g.metrics.Handler())
		g.logger.Info("metrics endpoint enabled", "path", g.config.Metrics.Path)
	}
}

// Handler returns the gateway's HTTP handler, used by tests.
func (g *Gateway) Handler() http.Handler {
	return g.recoverPanics(g.mux)
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	serverErr := g.waitForShutdownSignal(ctx, errCh)
	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the server, closes all relay sockets, and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	g.relay.Cleanup()

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK with the number of active conversations.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d conversations)", g.registry.Count())
}

// recoverPanics converts handler panics into structured 500 responses so a
// single bad request never takes the process down.
func (g *Gateway) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				g.logger.Error("handler panic", "path", r.URL.Path, "panic", rec)
				g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// sendJSON writes a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		g.logger.Error("encoding response", "error", err)
	}
}
