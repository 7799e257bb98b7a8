// Package server hosts the game HTTP/WebSocket process: the session REST API,
// the realtime room hub and the session state machine behind them.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/oakline/venturesim/internal/platform/timeouts"
	"github.com/oakline/venturesim/internal/services/game/orchestrator"
	"github.com/oakline/venturesim/internal/services/game/storage/sqlite"
)

// Config defines the inputs for the game service boundary.
type Config struct {
	HTTPAddr          string
	StoragePath       string
	TokenIssuer       string
	TokenAudience     string
	TokenSecret       string
	GroupSize         int
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the game HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	store           *sqlite.Store
	engine          *orchestrator.Orchestrator
	hub             *roomHub
	tokens          TokenConfig
}

// NewServer builds a configured game server: storage, state machine, room hub
// and routes.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	storagePath := strings.TrimSpace(config.StoragePath)
	if storagePath == "" {
		return nil, errors.New("storage path is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	store, err := sqlite.Open(storagePath)
	if err != nil {
		return nil, fmt.Errorf("open game storage: %w", err)
	}

	hub := newRoomHub()
	engine, err := orchestrator.New(orchestrator.Config{
		Stores: orchestrator.Stores{
			Sessions:     store,
			Participants: store,
			Groups:       store,
			Submissions:  store,
		},
		Broadcaster: hub,
		GroupSize:   config.GroupSize,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init session state machine: %w", err)
	}

	tokens := TokenConfig{
		Issuer:   strings.TrimSpace(config.TokenIssuer),
		Audience: strings.TrimSpace(config.TokenAudience),
	}
	if secret := strings.TrimSpace(config.TokenSecret); secret != "" {
		tokens.Secret = []byte(secret)
	} else {
		log.Printf("game: token secret is empty, auth checks are disabled")
	}

	server := &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		store:           store,
		engine:          engine,
		hub:             hub,
		tokens:          tokens,
	}
	server.httpServer = &http.Server{
		Addr:              httpAddr,
		Handler:           server.routes(),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	return server, nil
}

// Run creates and serves a game server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init game server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve game: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("game server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("game server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources: pending stage timers and the storage
// handle.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.engine != nil {
		s.engine.Stop()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close game storage: %v", err)
		}
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/ws", s.wsRoute())

	mux.HandleFunc("POST /api/sessions", s.requireRole(RoleFacilitator, s.handleCreateSession))
	mux.HandleFunc("GET /api/sessions/{id}", s.requireAuth(s.handleGetSession))
	mux.HandleFunc("POST /api/sessions/{id}/join", s.requireAuth(s.handleJoinSession))
	mux.HandleFunc("GET /api/sessions/{id}/participants", s.requireAuth(s.handleListParticipants))
	mux.HandleFunc("GET /api/sessions/{id}/groups", s.requireAuth(s.handleListGroups))
	mux.HandleFunc("POST /api/sessions/{id}/start", s.requireRole(RoleFacilitator, s.handleStartSimulation))
	mux.HandleFunc("POST /api/sessions/{id}/advance", s.requireRole(RoleFacilitator, s.handleAdvanceStage))
	mux.HandleFunc("POST /api/sessions/{id}/pause", s.requireRole(RoleFacilitator, s.handlePauseSession))
	mux.HandleFunc("POST /api/sessions/{id}/complete", s.requireRole(RoleFacilitator, s.handleCompleteSession))
	mux.HandleFunc("POST /api/sessions/{id}/force-submit", s.requireRole(RoleFacilitator, s.handleForceSubmissions))
	mux.HandleFunc("POST /api/sessions/{id}/submissions/crisis", s.requireAuth(s.handleCrisisSubmission))
	mux.HandleFunc("POST /api/sessions/{id}/submissions/reactivation", s.requireAuth(s.handleReactivationSubmission))
	mux.HandleFunc("POST /api/validate/crisis", s.requireAuth(s.handleValidateCrisis))
	mux.HandleFunc("POST /api/validate/reactivation", s.requireAuth(s.handleValidateReactivation))

	return mux
}
