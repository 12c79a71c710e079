package thinking

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Display labels for each [Category].
const (
	labelRevision = "🔄 Revision"
	labelBranch   = "🌿 Branch"
	labelThought  = "💭 Thought"
)

// FormatThought renders a thought and its attached plan as a framed,
// multi-line block for the diagnostic log. The output depends only on t.
func FormatThought(t *Thought) string {
	header := formatHeader(t)

	body := strings.Split(t.Thought, "\n")
	if t.CurrentStep != nil {
		body = append(body, "", "Recommendation:")
		body = append(body, formatRecommendation(t.CurrentStep)...)
	}

	width := utf8.RuneCountInString(header)
	for _, line := range body {
		width = max(width, utf8.RuneCountInString(line))
	}
	border := strings.Repeat("─", width+2)

	var b strings.Builder
	b.WriteString("\n┌" + border + "┐\n")
	writeFramed(&b, header, width)
	b.WriteString("├" + border + "┤\n")
	for _, line := range body {
		writeFramed(&b, line, width)
	}
	b.WriteString("└" + border + "┘")
	return b.String()
}

func formatHeader(t *Thought) string {
	var label, context string
	switch t.Category() {
	case CategoryRevision:
		label = labelRevision
		context = fmt.Sprintf(" (revising thought %s)", optInt(t.RevisesNumber))
	case CategoryBranch:
		label = labelBranch
		context = fmt.Sprintf(" (from thought %s, ID: %s)", optInt(t.BranchFrom), optString(t.BranchID))
	default:
		label = labelThought
	}
	return fmt.Sprintf("%s %d/%d%s", label, t.Number, t.TotalEstimate, context)
}

// formatRecommendation renders a plan as lines without framing.
func formatRecommendation(step *StepRecommendation) []string {
	lines := []string{"Step: " + step.StepDescription, "Recommended Tools:"}
	for i, tool := range step.RecommendedTools {
		line := fmt.Sprintf("  %d. %s (priority: %d)", i+1, tool.ToolName, tool.Priority)
		if len(tool.Alternatives) > 0 {
			line += " (alternatives: " + strings.Join(tool.Alternatives, ", ") + ")"
		}
		lines = append(lines, line, "     Rationale: "+tool.Rationale)
		if len(tool.SuggestedInputs) > 0 {
			lines = append(lines, "     Suggested inputs: "+formatInputs(tool.SuggestedInputs))
		}
	}
	lines = append(lines, "Expected Outcome: "+step.ExpectedOutcome)
	if len(step.NextStepConditions) > 0 {
		lines = append(lines, "Conditions for next step:")
		for i, c := range step.NextStepConditions {
			lines = append(lines, fmt.Sprintf("  %d. %s", i+1, c))
		}
	}
	return lines
}

// formatInputs renders suggested inputs as compact JSON. encoding/json
// sorts map keys, which keeps the output deterministic.
func formatInputs(in map[string]any) string {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Sprintf("%v", in)
	}
	return string(data)
}

func writeFramed(b *strings.Builder, line string, width int) {
	pad := width - utf8.RuneCountInString(line)
	b.WriteString("│ " + line + strings.Repeat(" ", pad) + " │\n")
}

func optInt(p *int) string {
	if p == nil {
		return "?"
	}
	return fmt.Sprint(*p)
}

func optString(p *string) string {
	if p == nil {
		return "?"
	}
	return *p
}
