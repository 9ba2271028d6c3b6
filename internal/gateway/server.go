// Package gateway serves the agent-facing surface: the authenticated
// WebSocket event stream, the Meta webhook mount, stored media and health.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/omnidesk-io/omnidesk/internal/bus"
	"github.com/omnidesk-io/omnidesk/internal/config"
	"github.com/omnidesk-io/omnidesk/internal/presence"
	"github.com/omnidesk-io/omnidesk/pkg/protocol"
)

// Server handles WebSocket and HTTP connections from agent clients.
type Server struct {
	cfg      config.GatewayConfig
	eventPub bus.EventPublisher
	registry *presence.Registry

	webhook  http.Handler // Meta webhook, nil when the channel is disabled
	mediaDir string

	upgrader websocket.Upgrader
	limiter  *rate.Limiter // connection-attempt limiter

	mu      sync.RWMutex
	clients map[string]*Client

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a gateway server.
func NewServer(cfg config.GatewayConfig, eventPub bus.EventPublisher, registry *presence.Registry, webhook http.Handler, mediaDir string) *Server {
	s := &Server{
		cfg:      cfg,
		eventPub: eventPub,
		registry: registry,
		webhook:  webhook,
		mediaDir: mediaDir,
		clients:  make(map[string]*Client),
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	// rate_limit_rpm <= 0 disables connect throttling.
	if cfg.RateLimitRPM > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RateLimitRPM)/60.0), 5)
	}
	return s
}

// checkOrigin validates the Origin header against the configured whitelist.
// No configuration allows everything; an absent header (non-browser client)
// is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("websocket origin rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	if s.webhook != nil {
		mux.Handle("/webhooks/meta", s.webhook)
	}
	if s.mediaDir != "" {
		mux.Handle("/media/", http.StripPrefix("/media/", http.FileServer(http.Dir(s.mediaDir))))
	}

	s.mux = mux
	return mux
}

// Start begins listening; blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// handleWebSocket authenticates and upgrades an agent connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	agentID, ok := s.authenticate(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(agentID, conn)
	s.registerClient(client)

	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	client.Run(r.Context())
}

// authenticate checks the bearer credential and extracts the agent id.
// The token arrives as a query parameter (browser WebSocket clients cannot
// set headers) or an Authorization header.
func (s *Server) authenticate(r *http.Request) (string, bool) {
	token := r.URL.Query().Get("token")
	if token == "" {
		auth := r.Header.Get("Authorization")
		if len(auth) > 7 && auth[:7] == "Bearer " {
			token = auth[7:]
		}
	}
	if s.cfg.Token == "" || token != s.cfg.Token {
		return "", false
	}

	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		return "", false
	}
	return agentID, true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`, protocol.ProtocolVersion)
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	s.registry.Add(c.agentID, c)

	// Channel lifecycle events (wa:qr and friends) arrive on the bus and
	// are forwarded to every agent connection.
	s.eventPub.Subscribe(c.id, func(event bus.Event) {
		c.SendEvent(event.Name, event.Payload)
	})

	slog.Info("agent connected", "agent_id", c.agentID, "conn_id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()

	s.registry.Remove(c.agentID, c)
	s.eventPub.Unsubscribe(c.id)

	slog.Info("agent disconnected", "agent_id", c.agentID, "conn_id", c.id)
}
