package thinking

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ToolName is the name of the built-in sequential thinking tool.
const ToolName = "sequentialthinking_tools"

// ToolDescription is the help text advertised for the built-in tool.
const ToolDescription = `A detailed tool for dynamic and reflective problem-solving through thoughts.

This tool helps analyze problems through a flexible thinking process that can adapt
and evolve. Each thought can build on, question, or revise previous insights as
understanding deepens. Alongside each thought it can record a recommended next step:
which of the available MCP tools to call, with what confidence and rationale, and
what outcome to expect.

Parameters:
- available_mcp_tools: MCP tool names available for use
- thought: your current thinking step
- next_thought_needed: whether another thought step is needed
- thought_number: current thought number (>= 1)
- total_thoughts: estimated total thoughts needed (>= 1, raised automatically)
- is_revision / revises_thought: mark a thought as reconsidering an earlier one
- branch_from_thought / branch_id: start or continue a named branch
- needs_more_thoughts: the estimate is likely too low
- current_step: the recommended step for this thought
- previous_steps: steps already recommended
- remaining_steps: high-level descriptions of upcoming steps`

// InputSchema is the JSON Schema for the built-in tool's arguments.
// Required keys must be present; empty strings are accepted.
const InputSchema = `{
  "type": "object",
  "properties": {
    "available_mcp_tools": {
      "type": "array",
      "items": {"type": "string"},
      "description": "Array of MCP tool names available for use"
    },
    "thought": {"type": "string", "description": "Your current thinking step"},
    "next_thought_needed": {"type": "boolean", "description": "Whether another thought step is needed"},
    "thought_number": {"type": "integer", "minimum": 1, "description": "Current thought number"},
    "total_thoughts": {"type": "integer", "minimum": 1, "description": "Estimated total thoughts needed"},
    "is_revision": {"type": ["boolean", "null"], "description": "Whether this revises previous thinking"},
    "revises_thought": {"type": ["integer", "null"], "minimum": 1, "description": "Which thought is being reconsidered"},
    "branch_from_thought": {"type": ["integer", "null"], "minimum": 1, "description": "Branching point thought number"},
    "branch_id": {"type": ["string", "null"], "minLength": 1, "description": "Branch identifier"},
    "needs_more_thoughts": {"type": ["boolean", "null"], "description": "If more thoughts are needed"},
    "current_step": {
      "anyOf": [{"$ref": "#/$defs/step"}, {"type": "null"}],
      "description": "Current step recommendation"
    },
    "previous_steps": {
      "type": ["array", "null"],
      "items": {"$ref": "#/$defs/step"},
      "description": "Steps already recommended"
    },
    "remaining_steps": {
      "type": ["array", "null"],
      "items": {"type": "string"},
      "description": "High-level descriptions of upcoming steps"
    }
  },
  "required": ["available_mcp_tools", "thought", "next_thought_needed", "thought_number", "total_thoughts"],
  "$defs": {
    "tool": {
      "type": "object",
      "properties": {
        "tool_name": {"type": "string", "minLength": 1, "description": "Name of the tool being recommended"},
        "confidence": {"type": "number", "minimum": 0, "maximum": 1, "description": "0-1 indicating confidence in recommendation"},
        "rationale": {"type": "string", "description": "Why this tool is recommended"},
        "priority": {"type": "integer", "description": "Order in the recommendation sequence"},
        "suggested_inputs": {"type": ["object", "null"], "description": "Optional suggested parameters"},
        "alternatives": {"type": ["array", "null"], "items": {"type": "string"}, "description": "Alternative tools that could be used"}
      },
      "required": ["tool_name", "confidence", "rationale", "priority"]
    },
    "step": {
      "type": "object",
      "properties": {
        "step_description": {"type": "string", "description": "What needs to be done"},
        "recommended_tools": {"type": "array", "items": {"$ref": "#/$defs/tool"}, "description": "Tools recommended for this step"},
        "expected_outcome": {"type": "string", "description": "What to expect from this step"},
        "next_step_conditions": {"type": ["array", "null"], "items": {"type": "string"}, "description": "Conditions to consider for the next step"}
      },
      "required": ["step_description", "recommended_tools", "expected_outcome"]
    }
  }
}`

// BuiltinTool returns the descriptor for the sequential thinking tool.
func BuiltinTool() Tool {
	return Tool{
		Name:        ToolName,
		Description: ToolDescription,
		InputSchema: json.RawMessage(InputSchema),
	}
}

// compiledSchema compiles InputSchema once per process.
var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(InputSchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal input schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("thought.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	s, err := c.Compile("thought.json")
	if err != nil {
		return nil, fmt.Errorf("compile input schema: %w", err)
	}
	return s, nil
})
