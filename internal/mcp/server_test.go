package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTools is a ToolSet with one echo tool and one broken tool.
type fakeTools struct{}

func (fakeTools) Tools() []ToolDefinition {
	return []ToolDefinition{{Name: "echo", Description: "Echo arguments", InputSchema: json.RawMessage(`{"type":"object"}`)}}
}

func (fakeTools) CallTool(_ context.Context, name string, args json.RawMessage) (*CallToolResult, error) {
	switch name {
	case "echo":
		return &CallToolResult{Content: []ContentBlock{{Type: "text", Text: string(args)}}}, nil
	case "broken":
		return nil, errors.New("backend down")
	default:
		return nil, ErrUnknownTool
	}
}

func newTestServer() *Server {
	return NewServer("test-server", "1.2.3", fakeTools{}, discardLogger())
}

// call runs one request through s and decodes the result into out.
func call(t *testing.T, s *Server, method, params string, out any) *Response {
	t.Helper()
	req := &Request{JSONRPC: "2.0", ID: json.RawMessage("7"), Method: method}
	if params != "" {
		req.Params = json.RawMessage(params)
	}
	resp := s.Handle(t.Context(), req)
	if resp == nil {
		t.Fatalf("%s: nil response", method)
	}
	if string(resp.ID) != "7" {
		t.Errorf("%s: id = %s, want 7", method, resp.ID)
	}
	if resp.Error == nil && out != nil {
		data, err := json.Marshal(resp.Result)
		if err != nil {
			t.Fatalf("%s: marshal result: %v", method, err)
		}
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("%s: unmarshal result: %v", method, err)
		}
	}
	return resp
}

func TestServer_Initialize(t *testing.T) {
	tests := []struct {
		requested string
		want      string
	}{
		{"2024-11-05", "2024-11-05"},
		{"2025-03-26", "2025-03-26"},
		{"2025-06-18", "2025-06-18"},
		{"1999-01-01", LatestProtocolVersion},
		{"", LatestProtocolVersion},
	}

	for _, tt := range tests {
		t.Run(tt.requested, func(t *testing.T) {
			params := `{"protocolVersion":"` + tt.requested + `","capabilities":{},"clientInfo":{"name":"c","version":"1"}}`
			var result InitializeResult
			resp := call(t, newTestServer(), "initialize", params, &result)
			if resp.Error != nil {
				t.Fatalf("error: %v", resp.Error)
			}
			if result.ProtocolVersion != tt.want {
				t.Errorf("protocolVersion = %q, want %q", result.ProtocolVersion, tt.want)
			}
			if result.ServerInfo.Name != "test-server" || result.ServerInfo.Version != "1.2.3" {
				t.Errorf("serverInfo = %+v", result.ServerInfo)
			}
		})
	}
}

func TestServer_InitializeBadParams(t *testing.T) {
	resp := call(t, newTestServer(), "initialize", `{"protocolVersion":7}`, nil)
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Fatalf("error = %v, want code %d", resp.Error, CodeInvalidParams)
	}
}

func TestServer_Notification(t *testing.T) {
	s := newTestServer()
	for _, method := range []string{"notifications/initialized", "notifications/cancelled", "notifications/whatever"} {
		if resp := s.Handle(t.Context(), &Request{JSONRPC: "2.0", Method: method}); resp != nil {
			t.Errorf("%s: response = %+v, want nil", method, resp)
		}
	}
}

func TestServer_Ping(t *testing.T) {
	var result map[string]any
	resp := call(t, newTestServer(), "ping", "", &result)
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error)
	}
	if len(result) != 0 {
		t.Errorf("result = %v, want {}", result)
	}
}

func TestServer_ToolsList(t *testing.T) {
	var result toolsListResult
	call(t, newTestServer(), "tools/list", "", &result)
	if len(result.Tools) != 1 || result.Tools[0].Name != "echo" {
		t.Errorf("tools = %+v, want [echo]", result.Tools)
	}
}

func TestServer_ToolsCall(t *testing.T) {
	tests := []struct {
		name     string
		params   string
		wantCode int
		wantText string
	}{
		{"success", `{"name":"echo","arguments":{"a":1}}`, 0, `{"a":1}`},
		{"unknown tool", `{"name":"nope"}`, CodeInvalidParams, ""},
		{"missing name", `{"arguments":{}}`, CodeInvalidParams, ""},
		{"malformed params", `[1,2]`, CodeInvalidParams, ""},
		{"tool error", `{"name":"broken"}`, CodeInternalError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var result CallToolResult
			resp := call(t, newTestServer(), "tools/call", tt.params, &result)
			if tt.wantCode != 0 {
				if resp.Error == nil || resp.Error.Code != tt.wantCode {
					t.Fatalf("error = %v, want code %d", resp.Error, tt.wantCode)
				}
				return
			}
			if resp.Error != nil {
				t.Fatalf("error: %v", resp.Error)
			}
			if len(result.Content) != 1 || result.Content[0].Text != tt.wantText {
				t.Errorf("content = %+v, want text %q", result.Content, tt.wantText)
			}
		})
	}
}

func TestServer_Resources(t *testing.T) {
	s := newTestServer()

	var list resourcesListResult
	call(t, s, "resources/list", "", &list)
	if list.Resources == nil || len(list.Resources) != 0 {
		t.Errorf("resources = %v, want empty list", list.Resources)
	}

	var templates resourceTemplatesListResult
	call(t, s, "resources/templates/list", "", &templates)
	if len(templates.ResourceTemplates) != 1 || templates.ResourceTemplates[0].URITemplate != "greeting://{name}" {
		t.Errorf("templates = %+v, want greeting://{name}", templates.ResourceTemplates)
	}

	var read readResourceResult
	resp := call(t, s, "resources/read", `{"uri":"greeting://Ada"}`, &read)
	if resp.Error != nil {
		t.Fatalf("resources/read error: %v", resp.Error)
	}
	if len(read.Contents) != 1 || !strings.HasPrefix(read.Contents[0].Text, "Hello, Ada!") {
		t.Errorf("contents = %+v", read.Contents)
	}

	for _, uri := range []string{"greeting://", "file:///etc/passwd"} {
		resp := call(t, s, "resources/read", `{"uri":"`+uri+`"}`, nil)
		if resp.Error == nil || resp.Error.Code != CodeResourceNotFound {
			t.Errorf("read %q: error = %v, want code %d", uri, resp.Error, CodeResourceNotFound)
		}
	}
}

func TestServer_UnknownMethod(t *testing.T) {
	resp := call(t, newTestServer(), "sampling/createMessage", "", nil)
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("error = %v, want code %d", resp.Error, CodeMethodNotFound)
	}
}
