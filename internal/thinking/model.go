// Package thinking implements the sequential-thinking trace: the record
// model for a single reasoning step, the bounded in-memory trace store,
// the diagnostic formatter, and the processor that ties them together.
//
// The package knows nothing about MCP or HTTP. Transport code hands the
// processor one raw tool-argument payload at a time and receives either
// a [Summary] or a [Failure] back.
package thinking

import "encoding/json"

// ToolRecommendation is one suggested tool invocation within a plan step.
type ToolRecommendation struct {
	ToolName        string         `json:"tool_name" validate:"required"`
	Confidence      float64        `json:"confidence" validate:"gte=0,lte=1"`
	Rationale       string         `json:"rationale"`
	Priority        int            `json:"priority"`
	SuggestedInputs map[string]any `json:"suggested_inputs,omitempty"`
	Alternatives    []string       `json:"alternatives,omitempty"`
}

// StepRecommendation is a recommended action plan attached to a thought.
type StepRecommendation struct {
	StepDescription    string               `json:"step_description"`
	RecommendedTools   []ToolRecommendation `json:"recommended_tools" validate:"dive"`
	ExpectedOutcome    string               `json:"expected_outcome"`
	NextStepConditions []string             `json:"next_step_conditions,omitempty"`
}

// Thought is one step of a reasoning trace as submitted by the caller.
//
// Optional scalar fields are pointers so that "absent" and "zero" stay
// distinguishable. The processor mutates TotalEstimate and PreviousSteps
// in place before the thought is stored; after that it is treated as
// read-only.
type Thought struct {
	AvailableTools []string `json:"available_mcp_tools"`
	Thought        string   `json:"thought"`
	NextNeeded     bool     `json:"next_thought_needed"`
	Number         int      `json:"thought_number" validate:"gte=1"`
	TotalEstimate  int      `json:"total_thoughts" validate:"gte=1"`

	IsRevision    *bool   `json:"is_revision,omitempty"`
	RevisesNumber *int    `json:"revises_thought,omitempty" validate:"omitempty,gte=1"`
	BranchFrom    *int    `json:"branch_from_thought,omitempty" validate:"omitempty,gte=1"`
	BranchID      *string `json:"branch_id,omitempty" validate:"omitempty,min=1"`
	NeedsMore     *bool   `json:"needs_more_thoughts,omitempty"`

	CurrentStep    *StepRecommendation  `json:"current_step,omitempty"`
	PreviousSteps  []StepRecommendation `json:"previous_steps,omitempty" validate:"dive"`
	RemainingSteps []string             `json:"remaining_steps,omitempty"`
}

// Category is the display classification of a thought.
type Category string

// Display categories, in classification priority order.
const (
	CategoryRevision Category = "revision"
	CategoryBranch   Category = "branch"
	CategoryThought  Category = "thought"
)

// Category classifies the thought. A revision wins over a branch; a
// branch only needs BranchFrom to be displayed as one.
func (t *Thought) Category() Category {
	switch {
	case t.IsRevision != nil && *t.IsRevision:
		return CategoryRevision
	case t.BranchFrom != nil:
		return CategoryBranch
	default:
		return CategoryThought
	}
}

// InBranch reports whether the thought belongs to a branch lineage. Both
// BranchFrom and a non-empty BranchID are required.
func (t *Thought) InBranch() bool {
	return t.BranchFrom != nil && t.BranchID != nil && *t.BranchID != ""
}

// Tool describes a capability advertised to MCP clients.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Summary is the structured result of processing one thought. Absent
// optional values encode as JSON null.
type Summary struct {
	Number         int                  `json:"thought_number"`
	TotalEstimate  int                  `json:"total_thoughts"`
	NextNeeded     bool                 `json:"next_thought_needed"`
	BranchIDs      []string             `json:"branches"`
	HistoryLength  int                  `json:"thought_history_length"`
	AvailableTools []string             `json:"available_mcp_tools"`
	CurrentStep    *StepRecommendation  `json:"current_step"`
	PreviousSteps  []StepRecommendation `json:"previous_steps"`
	RemainingSteps []string             `json:"remaining_steps"`
}

// StatusFailed is the status value carried by every Failure.
const StatusFailed = "failed"

// Failure is the flat failure shape returned to callers. Validation and
// processing failures are distinguishable only by their message.
type Failure struct {
	Error  string `json:"error"`
	Status string `json:"status"`
}

// Result is the outcome of [Processor.Handle]: exactly one of Summary or
// Failure is non-nil.
type Result struct {
	Summary *Summary
	Failure *Failure
}

// OK reports whether the result is a success.
func (r Result) OK() bool { return r.Summary != nil }

// MarshalJSON encodes whichever side of the result is set.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Summary != nil {
		return json.Marshal(r.Summary)
	}
	return json.Marshal(r.Failure)
}
