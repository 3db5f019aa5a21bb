// Package server implements the Armada HTTP API and its authentication.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/fleetsmith/armada/config"
	"github.com/fleetsmith/armada/fleet"
	"github.com/fleetsmith/armada/task"
)

// Server is the Armada HTTP API server.
type Server struct {
	cfg     config.Config
	mux     *http.ServeMux
	httpSrv *http.Server
	logger  *slog.Logger

	orch     *task.Orchestrator
	enforcer *task.Enforcer
	roster   fleet.Store

	// JWT secret caching
	secretOnce      sync.Once
	generatedSecret string

	startTime time.Time
	version   string
}

// New creates a new Server with the given config and logger.
func New(cfg config.Config, ver string, logger *slog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		logger:    logger,
		startTime: time.Now(),
		version:   ver,
	}
}

// SetOrchestrator attaches the task orchestrator to the server.
func (s *Server) SetOrchestrator(o *task.Orchestrator) { s.orch = o }

// SetEnforcer attaches the timeout enforcer to the server.
func (s *Server) SetEnforcer(e *task.Enforcer) { s.enforcer = e }

// SetRoster attaches the fleet roster store to the server.
func (s *Server) SetRoster(store fleet.Store) { s.roster = store }

// Start registers routes and begins listening.
func (s *Server) Start() error {
	s.registerRoutes()

	addr := s.cfg.Server.Addr
	if addr == "" {
		addr = ":9090"
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 15 * time.Second,
	}
	s.logger.Info("server listening", slog.String("addr", addr))
	return s.httpSrv.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	// Public routes (no auth required)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)

	// Protected API, wrapped in auth middleware
	apiMux := http.NewServeMux()
	s.registerAPIRoutes(apiMux)
	apiMux.HandleFunc("GET /api/auth/me", s.handleMe)

	s.mux.Handle("/api/", s.authMiddleware(apiMux))
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleStatus reports server liveness and version.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}
