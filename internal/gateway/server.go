// Package gateway is the HTTP surface: the WhatsApp webhook, the
// operator REST API for conversation lifecycle actions, and a
// WebSocket endpoint streaming lifecycle events to dashboards.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/DavidFlores79/wadesk/internal/bus"
	"github.com/DavidFlores79/wadesk/internal/channels"
	"github.com/DavidFlores79/wadesk/internal/config"
	"github.com/DavidFlores79/wadesk/internal/lifecycle"
	"github.com/DavidFlores79/wadesk/internal/store"
)

// Server handles webhook, REST and WebSocket connections.
type Server struct {
	cfg     *config.Config
	events  bus.EventPublisher
	router  bus.MessageRouter
	machine *lifecycle.Machine
	stores  *store.Stores

	upgrader    websocket.Upgrader
	rateLimiter *channels.WebhookRateLimiter
	clients     map[string]*Client
	mu          sync.RWMutex

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a gateway server.
func NewServer(cfg *config.Config, events bus.EventPublisher, router bus.MessageRouter, machine *lifecycle.Machine, stores *store.Stores) *Server {
	s := &Server{
		cfg:         cfg,
		events:      events,
		router:      router,
		machine:     machine,
		stores:      stores,
		rateLimiter: channels.NewWebhookRateLimiter(),
		clients:     make(map[string]*Client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	return s
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)

	// WhatsApp Cloud API webhook: GET is the subscription handshake,
	// POST carries messages and status notifications.
	mux.HandleFunc("GET /webhook", s.handleWebhookVerify)
	mux.HandleFunc("POST /webhook", s.handleWebhookEvent)

	// Operator API
	mux.HandleFunc("GET /api/conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("GET /api/conversations/{id}/assignments", s.handleListAssignments)
	mux.HandleFunc("POST /api/conversations/{id}/assign", s.handleAssign)
	mux.HandleFunc("POST /api/conversations/{id}/wait", s.handleWait)
	mux.HandleFunc("POST /api/conversations/{id}/release", s.handleRelease)
	mux.HandleFunc("POST /api/conversations/{id}/resolve", s.handleResolve)
	mux.HandleFunc("POST /api/conversations/{id}/close", s.handleClose)
	mux.HandleFunc("POST /api/conversations/{id}/reopen", s.handleReopen)
	mux.HandleFunc("POST /api/messages/send", s.handleSendMessage)

	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := s.cfg.Gateway.Addr()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
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

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

// handleWebSocket upgrades the connection and streams lifecycle events
// to the client until it disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn)
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	client.Run(r.Context())
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c

	s.events.Subscribe(c.id, func(event bus.Event) {
		c.SendEvent(event)
	})
	slog.Info("dashboard client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
	s.events.Unsubscribe(c.id)
	slog.Info("dashboard client disconnected", "id", c.id)
}

// StartTestServer listens on a random local port and returns the actual
// address plus a start function. Used by integration tests.
func StartTestServer(s *Server, ctx context.Context) (addr string, start func()) {
	mux := s.BuildMux()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}

	s.httpServer = &http.Server{Handler: mux}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}
	return addr, start
}
