package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"strings"
)

// Protocol versions this server speaks, oldest first.
var supportedProtocolVersions = []string{"2024-11-05", "2025-03-26", "2025-06-18"}

// LatestProtocolVersion is offered when a client asks for a version
// this server does not know.
const LatestProtocolVersion = "2025-06-18"

// CodeResourceNotFound is the MCP error code for an unknown resource URI.
const CodeResourceNotFound = -32002

// ErrUnknownTool is returned by a [ToolSet] for a tool it does not serve.
var ErrUnknownTool = errors.New("unknown tool")

// ToolDefinition is an MCP tool as returned by tools/list.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ContentBlock is a single content item in a tools/call or
// resources/read response.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallToolResult is the result payload of a tools/call response.
type CallToolResult struct {
	Content           []ContentBlock `json:"content"`
	StructuredContent any            `json:"structuredContent,omitempty"`
	IsError           bool           `json:"isError,omitempty"`
}

// ToolSet supplies the tools a [Server] advertises and executes.
type ToolSet interface {
	// Tools lists the tool descriptors in presentation order.
	Tools() []ToolDefinition
	// CallTool invokes name with raw JSON arguments. Tool-level
	// failures belong in the result (IsError); an error return is a
	// protocol failure. Unknown names return ErrUnknownTool.
	CallTool(ctx context.Context, name string, args json.RawMessage) (*CallToolResult, error)
}

// ResourceTemplate describes a family of readable resources.
type ResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceContents is one item of a resources/read result.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text"`
}

// implementation identifies a client or server during initialize.
type implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams is the params payload of an initialize request.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	ClientInfo      implementation `json:"clientInfo"`
}

type listChanged struct {
	ListChanged bool `json:"listChanged"`
}

type resourcesCapability struct {
	Subscribe   bool `json:"subscribe"`
	ListChanged bool `json:"listChanged"`
}

type serverCapabilities struct {
	Tools     listChanged         `json:"tools"`
	Resources resourcesCapability `json:"resources"`
}

// InitializeResult is the result payload of an initialize response.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      implementation     `json:"serverInfo"`
	Capabilities    serverCapabilities `json:"capabilities"`
}

type toolsListResult struct {
	Tools []ToolDefinition `json:"tools"`
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type resourceTemplatesListResult struct {
	ResourceTemplates []ResourceTemplate `json:"resourceTemplates"`
}

type resourcesListResult struct {
	Resources []any `json:"resources"`
}

type readResourceParams struct {
	URI string `json:"uri"`
}

type readResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// greetingScheme is the URI scheme of the greeting resource template.
const greetingScheme = "greeting://"

// Server dispatches MCP JSON-RPC requests. It is transport-agnostic and
// safe for concurrent use as long as its ToolSet is.
type Server struct {
	name    string
	version string
	tools   ToolSet
	logger  *slog.Logger
}

// NewServer creates a server that advertises itself as name/version
// and serves the given tools.
func NewServer(name, version string, tools ToolSet, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		name:    name,
		version: version,
		tools:   tools,
		logger:  logger,
	}
}

// Handle processes one request and returns the response to send, or
// nil when the request is a notification.
func (s *Server) Handle(ctx context.Context, req *Request) *Response {
	if req.IsNotification() {
		s.handleNotification(req)
		return nil
	}

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "ping":
		return newResult(req.ID, struct{}{})
	case "tools/list":
		return newResult(req.ID, toolsListResult{Tools: s.tools.Tools()})
	case "tools/call":
		return s.handleCallTool(ctx, req)
	case "resources/list":
		return newResult(req.ID, resourcesListResult{Resources: []any{}})
	case "resources/templates/list":
		return newResult(req.ID, resourceTemplatesListResult{ResourceTemplates: resourceTemplates()})
	case "resources/read":
		return s.handleReadResource(req)
	default:
		s.logger.Debug("unknown MCP method", "method", req.Method)
		return newError(req.ID, CodeMethodNotFound, "method not found: %s", req.Method)
	}
}

func (s *Server) handleNotification(req *Request) {
	switch req.Method {
	case "notifications/initialized":
		s.logger.Debug("MCP client initialized")
	case "notifications/cancelled":
		// Requests complete synchronously, so there is nothing to cancel.
	default:
		s.logger.Debug("ignoring MCP notification", "method", req.Method)
	}
}

func (s *Server) handleInitialize(req *Request) *Response {
	var params InitializeParams
	if err := decodeParams(req.Params, &params); err != nil {
		return newError(req.ID, CodeInvalidParams, "invalid initialize params: %v", err)
	}

	version := NegotiateProtocolVersion(params.ProtocolVersion)
	s.logger.Info("MCP client connected",
		"client_name", params.ClientInfo.Name,
		"client_version", params.ClientInfo.Version,
		"requested_version", params.ProtocolVersion,
		"protocol_version", version,
	)

	return newResult(req.ID, InitializeResult{
		ProtocolVersion: version,
		ServerInfo:      implementation{Name: s.name, Version: s.version},
	})
}

func (s *Server) handleCallTool(ctx context.Context, req *Request) *Response {
	var params callToolParams
	if err := decodeParams(req.Params, &params); err != nil {
		return newError(req.ID, CodeInvalidParams, "invalid tools/call params: %v", err)
	}
	if params.Name == "" {
		return newError(req.ID, CodeInvalidParams, "tools/call requires a tool name")
	}

	result, err := s.tools.CallTool(ctx, params.Name, params.Arguments)
	if errors.Is(err, ErrUnknownTool) {
		return newError(req.ID, CodeInvalidParams, "unknown tool: %s", params.Name)
	}
	if err != nil {
		s.logger.Error("tool call failed", "tool", params.Name, "error", err)
		return newError(req.ID, CodeInternalError, "tool %s failed: %v", params.Name, err)
	}
	return newResult(req.ID, result)
}

func (s *Server) handleReadResource(req *Request) *Response {
	var params readResourceParams
	if err := decodeParams(req.Params, &params); err != nil {
		return newError(req.ID, CodeInvalidParams, "invalid resources/read params: %v", err)
	}

	name, ok := strings.CutPrefix(params.URI, greetingScheme)
	if !ok || name == "" {
		return newError(req.ID, CodeResourceNotFound, "resource not found: %s", params.URI)
	}
	return newResult(req.ID, readResourceResult{
		Contents: []ResourceContents{{
			URI:      params.URI,
			MimeType: "text/plain",
			Text:     Greeting(name),
		}},
	})
}

// Greeting is the text of the greeting://{name} resource.
func Greeting(name string) string {
	return "Hello, " + name + "! Welcome to MCP Sequential Thinking Tools."
}

func resourceTemplates() []ResourceTemplate {
	return []ResourceTemplate{{
		URITemplate: greetingScheme + "{name}",
		Name:        "greeting",
		Description: "Get a personalized greeting.",
		MimeType:    "text/plain",
	}}
}

// NegotiateProtocolVersion returns requested when this server supports
// it and LatestProtocolVersion otherwise.
func NegotiateProtocolVersion(requested string) string {
	if slices.Contains(supportedProtocolVersions, requested) {
		return requested
	}
	return LatestProtocolVersion
}

// decodeParams unmarshals params into v. Absent params leave v zero.
func decodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	return json.Unmarshal(params, v)
}
