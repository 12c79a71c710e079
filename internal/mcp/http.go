package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/nugget/seqthink/internal/config"
	"github.com/nugget/seqthink/internal/events"
)

// SessionHeader carries the MCP session ID on streamable HTTP requests.
const SessionHeader = "Mcp-Session-Id"

// maxRequestBody caps a single JSON-RPC request body.
const maxRequestBody = 4 << 20

// HandlerConfig configures a streamable HTTP [Handler].
type HandlerConfig struct {
	// SessionTTL is how long an idle session is kept. Each request
	// with a valid session ID restarts the clock.
	SessionTTL time.Duration

	// MaxSessions bounds the session table. The least recently used
	// session is dropped when it is full.
	MaxSessions int

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger

	// Bus receives session_started and session_ended events. Optional.
	Bus *events.Bus
}

// session is the state kept for one initialized client.
type session struct {
	id              string
	clientName      string
	protocolVersion string
	created         time.Time
	closed          atomic.Bool
}

// Handler serves a [Server] over MCP streamable HTTP. Every POST
// carries one JSON-RPC message and gets a JSON response; server-sent
// event streams are not offered.
type Handler struct {
	server   *Server
	sessions *expirable.LRU[string, *session]
	logger   *slog.Logger
	bus      *events.Bus
}

// NewHandler creates an HTTP handler for server.
func NewHandler(server *Server, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = config.DefaultSessionTTL
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = config.DefaultMaxSessions
	}

	h := &Handler{
		server: server,
		logger: logger,
		bus:    cfg.Bus,
	}
	h.sessions = expirable.NewLRU(cfg.MaxSessions, h.onEvict, cfg.SessionTTL)
	return h
}

// onEvict runs under the session table's lock and must not call back
// into it.
func (h *Handler) onEvict(id string, s *session) {
	reason := "expired"
	if s.closed.Load() {
		reason = "closed"
	}
	h.logger.Info("MCP session ended", "session_id", id, "reason", reason,
		"duration", time.Since(s.created).Round(time.Second))
	h.bus.Emit(events.SourceMCP, events.KindSessionEnded, map[string]any{
		"session_id": id,
		"reason":     reason,
	})
}

// SessionCount returns the number of live sessions.
func (h *Handler) SessionCount() int {
	return h.sessions.Len()
}

// ServeHTTP implements [http.Handler].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "read request body", http.StatusBadRequest)
		return
	}
	h.logger.Log(ctx, config.LevelTrace, "MCP request", "body", string(body))

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		h.writeResponse(w, http.StatusBadRequest, newError(nil, CodeInvalidRequest, "batch requests are not supported"))
		return
	}

	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		h.writeResponse(w, http.StatusBadRequest, newError(nil, CodeParseError, "parse error: %v", err))
		return
	}
	if req.JSONRPC != jsonrpcVersion || req.Method == "" {
		h.writeResponse(w, http.StatusBadRequest, newError(req.ID, CodeInvalidRequest, "invalid JSON-RPC 2.0 request"))
		return
	}

	if req.Method == "initialize" {
		h.handleInitialize(w, r, &req)
		return
	}

	sid := r.Header.Get(SessionHeader)
	if sid == "" {
		h.writeResponse(w, http.StatusBadRequest, newError(req.ID, CodeInvalidRequest, "missing %s header", SessionHeader))
		return
	}
	s, ok := h.sessions.Get(sid)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	// Re-adding restarts the idle timer.
	h.sessions.Add(sid, s)

	resp := h.server.Handle(ctx, &req)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set(SessionHeader, sid)
	h.writeResponse(w, http.StatusOK, resp)
}

func (h *Handler) handleInitialize(w http.ResponseWriter, r *http.Request, req *Request) {
	resp := h.server.Handle(r.Context(), req)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if resp.Error != nil {
		h.writeResponse(w, http.StatusOK, resp)
		return
	}

	var params InitializeParams
	_ = decodeParams(req.Params, &params) // already validated by the server

	s := &session{
		id:              uuid.NewString(),
		clientName:      params.ClientInfo.Name,
		protocolVersion: NegotiateProtocolVersion(params.ProtocolVersion),
		created:         time.Now(),
	}
	h.sessions.Add(s.id, s)

	h.logger.Info("MCP session started",
		"session_id", s.id,
		"client_name", s.clientName,
		"protocol_version", s.protocolVersion,
		"remote_addr", r.RemoteAddr,
	)
	h.bus.Emit(events.SourceMCP, events.KindSessionStarted, map[string]any{
		"session_id":       s.id,
		"client_name":      s.clientName,
		"protocol_version": s.protocolVersion,
	})

	w.Header().Set(SessionHeader, s.id)
	h.writeResponse(w, http.StatusOK, resp)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	sid := r.Header.Get(SessionHeader)
	if sid == "" {
		http.Error(w, "missing "+SessionHeader+" header", http.StatusBadRequest)
		return
	}
	s, ok := h.sessions.Peek(sid)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	s.closed.Store(true)
	h.sessions.Remove(sid)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeResponse(w http.ResponseWriter, status int, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		h.logger.Error("failed to encode MCP response", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.logger.Log(context.Background(), config.LevelTrace, "MCP response", "status", status, "body", string(data))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		h.logger.Debug("failed to write MCP response", "error", err)
	}
}
