package thinking

import (
	"io"
	"log/slog"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func intPtr(v int) *int          { return &v }
func boolPtr(v bool) *bool       { return &v }
func stringPtr(v string) *string { return &v }

// newThought returns a minimal valid thought.
func newThought(number, total int) *Thought {
	return &Thought{
		AvailableTools: []string{"search", "fetch"},
		Thought:        "considering the problem",
		NextNeeded:     true,
		Number:         number,
		TotalEstimate:  total,
	}
}

func samplePlan() *StepRecommendation {
	return &StepRecommendation{
		StepDescription: "Look up prior art",
		RecommendedTools: []ToolRecommendation{
			{
				ToolName:        "search",
				Confidence:      0.9,
				Rationale:       "broad recall",
				Priority:        1,
				SuggestedInputs: map[string]any{"query": "ring buffer", "limit": 5},
				Alternatives:    []string{"fetch"},
			},
		},
		ExpectedOutcome:    "a shortlist of references",
		NextStepConditions: []string{"results are relevant"},
	}
}
