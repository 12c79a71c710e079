package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nugget/seqthink/internal/thinking"
)

// ThinkingTools exposes a thinking processor as an MCP [ToolSet].
// tools/list reflects the processor store's tool registry; only the
// built-in sequential thinking tool is executable.
type ThinkingTools struct {
	proc *thinking.Processor
}

// NewThinkingTools binds proc to the MCP tool surface.
func NewThinkingTools(proc *thinking.Processor) *ThinkingTools {
	return &ThinkingTools{proc: proc}
}

// Tools returns every tool registered on the processor's store.
func (b *ThinkingTools) Tools() []ToolDefinition {
	registered := b.proc.Store().ListTools()
	defs := make([]ToolDefinition, 0, len(registered))
	for _, t := range registered {
		defs = append(defs, ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return defs
}

// CallTool runs the sequential thinking tool. The processor's result
// is returned both as indented JSON text and as structured content; a
// failed thought sets IsError.
func (b *ThinkingTools) CallTool(ctx context.Context, name string, args json.RawMessage) (*CallToolResult, error) {
	if name != thinking.ToolName {
		if b.registered(name) {
			return errorResult(fmt.Sprintf("tool %s is advertised but has no handler", name)), nil
		}
		return nil, ErrUnknownTool
	}

	res := b.proc.Handle(ctx, args)
	text, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}

	return &CallToolResult{
		Content:           []ContentBlock{{Type: "text", Text: string(text)}},
		StructuredContent: res,
		IsError:           !res.OK(),
	}, nil
}

func (b *ThinkingTools) registered(name string) bool {
	for _, t := range b.proc.Store().ListTools() {
		if t.Name == name {
			return true
		}
	}
	return false
}

func errorResult(msg string) *CallToolResult {
	return &CallToolResult{
		Content: []ContentBlock{{Type: "text", Text: msg}},
		IsError: true,
	}
}
