package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ai-educate/livetutor/internal/observability"
	"github.com/ai-educate/livetutor/pkg/session"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// DefaultShutdownTimeout bounds how long Stop waits for live sessions.
const DefaultShutdownTimeout = 30 * time.Second

// Server accepts tutoring WebSocket connections.
type Server struct {
	host            string
	port            int
	handler         *Handler
	transport       TransportConfig
	allowedOrigins  []string
	exposeSessions  bool
	shutdownTimeout time.Duration
	logger          zerolog.Logger

	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader

	baseCtx    context.Context
	baseCancel context.CancelCauseFunc

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlight       sync.WaitGroup
}

// Config holds server configuration.
type Config struct {
	Host    string
	Port    int
	Handler *Handler
	// AllowedOrigins restricts browser origins; empty or "*" allows any.
	AllowedOrigins  []string
	Transport       TransportConfig
	ExposeSessions  bool
	ShutdownTimeout time.Duration
	Logger          zerolog.Logger
}

// NewServer creates a new gateway server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("connection handler is required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	cfg.Transport.Logger = cfg.Logger

	baseCtx, baseCancel := context.WithCancelCause(context.Background())

	s := &Server{
		host:            cfg.Host,
		port:            cfg.Port,
		handler:         cfg.Handler,
		transport:       cfg.Transport,
		allowedOrigins:  cfg.AllowedOrigins,
		exposeSessions:  cfg.ExposeSessions,
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          cfg.Logger.With().Str("component", "server").Logger(),
		baseCtx:         baseCtx,
		baseCancel:      baseCancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  32 << 10,
		WriteBufferSize: 32 << 10,
		CheckOrigin:     s.checkOrigin,
	}

	return s, nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Routes builds the HTTP mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{userId}/{sessionId}", s.handleSession)
	mux.Handle("GET /metrics", observability.MetricsHandler())
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.exposeSessions {
		mux.HandleFunc("GET /sessions", s.handleListSessions)
	}
	return mux
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting gateway server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop refuses new sessions, ends live ones and shuts the listener down.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	if s.isShuttingDown {
		s.shutdownMu.Unlock()
		return nil
	}
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Int("sessions", s.handler.Registry().Count()).Msg("Shutting down gateway server")
	s.baseCancel(ErrShuttingDown)

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All sessions closed")
	case <-time.After(s.shutdownTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	userID := r.PathValue("userId")
	sessionID := r.PathValue("sessionId")
	if err := session.ValidateIdentity(userID, sessionID); err != nil {
		observability.RecordConnectionRefused("invalid_identity")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.inFlight.Add(1)
	defer s.inFlight.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Str("ip", r.RemoteAddr).Msg("Failed to upgrade connection")
		return
	}

	t := NewWebSocketTransport(conn, s.transport)
	if err := s.handler.Serve(s.baseCtx, t, userID, sessionID); err != nil {
		s.logger.Warn().
			Err(err).
			Str("user_id", userID).
			Str("session_id", sessionID).
			Str("ip", r.RemoteAddr).
			Msg("Session ended with error")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status, code := "ok", http.StatusOK
	if s.shuttingDown() {
		status, code = "shutting_down", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":   status,
		"sessions": s.handler.Registry().Count(),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": s.handler.Registry().List(),
	})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
