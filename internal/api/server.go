// Package api implements the HTTP surface of seqthink: the MCP
// endpoint, health and introspection routes, the event stream and
// Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nugget/seqthink/internal/buildinfo"
	"github.com/nugget/seqthink/internal/events"
	"github.com/nugget/seqthink/internal/thinking"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	proc    *thinking.Processor
	mcp     http.Handler
	bus     *events.Bus
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new API server for proc.
func NewServer(address string, port int, proc *thinking.Processor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		proc:    proc,
		logger:  logger,
	}
}

// SetMCPHandler configures the handler mounted at /mcp.
func (s *Server) SetMCPHandler(h http.Handler) {
	s.mcp = h
}

// SetEventBus configures the bus streamed on /v1/events. Without a bus
// the route reports 503.
func (s *Server) SetEventBus(bus *events.Bus) {
	s.bus = bus
}

// Handler builds the routed handler with request logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// MCP streamable HTTP. GET is routed too so the handler can answer
	// 405 instead of falling through to the index page.
	if s.mcp != nil {
		mux.Handle("POST /mcp", s.mcp)
		mux.Handle("DELETE /mcp", s.mcp)
		mux.Handle("GET /mcp", s.mcp)
	}

	// Health endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /", s.handleRoot)

	// Trace introspection
	mux.HandleFunc("GET /v1/tools", s.handleTools)
	mux.HandleFunc("GET /v1/trace", s.handleTrace)
	mux.HandleFunc("GET /v1/trace/branches/{id}", s.handleBranch)
	mux.HandleFunc("POST /v1/trace/clear", s.handleClear)

	// Observability
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It returns
// [http.ErrServerClosed] after [Server.Shutdown].
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error":  message,
		"status": "failed",
	}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"status":  "healthy",
		"service": buildinfo.ServiceName,
		"version": buildinfo.Version,
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"tools": s.proc.Store().ListTools(),
	}, s.logger)
}

// traceSnapshot is the body of GET /v1/trace.
type traceSnapshot struct {
	MaxHistory    int                 `json:"max_history"`
	HistoryLength int                 `json:"history_length"`
	History       []*thinking.Thought `json:"history"`
	Branches      []string            `json:"branches"`
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	store := s.proc.Store()
	history := store.History()
	branches := store.BranchIDs()
	if branches == nil {
		branches = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, traceSnapshot{
		MaxHistory:    store.MaxHistory(),
		HistoryLength: len(history),
		History:       history,
		Branches:      branches,
	}, s.logger)
}

func (s *Server) handleBranch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	thoughts := s.proc.Store().Branch(id)
	if thoughts == nil {
		s.errorResponse(w, http.StatusNotFound, fmt.Sprintf("branch %q not found", id))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"branch_id": id,
		"thoughts":  thoughts,
	}, s.logger)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	cleared := s.proc.Store().Len()
	s.proc.Clear()
	s.logger.Info("trace cleared via API", "thoughts", cleared)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"status":  "cleared",
		"cleared": cleared,
	}, s.logger)
}
