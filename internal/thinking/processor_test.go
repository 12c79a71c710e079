package thinking

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nugget/seqthink/internal/events"
)

func newTestProcessor(maxHistory int) *Processor {
	return NewProcessor(NewStore(maxHistory, discardLogger()), discardLogger())
}

func TestProcess_RaisesTotal(t *testing.T) {
	p := newTestProcessor(10)

	sum, err := p.Process(t.Context(), newThought(5, 3))
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if sum.TotalEstimate != 5 {
		t.Errorf("total_thoughts = %d, want 5", sum.TotalEstimate)
	}
	if got := p.Store().History()[0].TotalEstimate; got != 5 {
		t.Errorf("stored total_thoughts = %d, want 5", got)
	}
}

func TestProcess_KeepsHigherTotal(t *testing.T) {
	p := newTestProcessor(10)
	sum, err := p.Process(t.Context(), newThought(2, 8))
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if sum.TotalEstimate != 8 {
		t.Errorf("total_thoughts = %d, want 8", sum.TotalEstimate)
	}
}

func TestProcess_CurrentStepAppended(t *testing.T) {
	earlier := StepRecommendation{StepDescription: "earlier", ExpectedOutcome: "done"}

	tests := []struct {
		name     string
		previous []StepRecommendation
		wantLen  int
	}{
		{"no previous steps", nil, 1},
		{"existing previous steps", []StepRecommendation{earlier}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProcessor(10)
			th := newThought(1, 2)
			th.CurrentStep = samplePlan()
			th.PreviousSteps = tt.previous

			sum, err := p.Process(t.Context(), th)
			if err != nil {
				t.Fatalf("Process() error: %v", err)
			}
			if len(sum.PreviousSteps) != tt.wantLen {
				t.Fatalf("previous_steps len = %d, want %d", len(sum.PreviousSteps), tt.wantLen)
			}
			last := sum.PreviousSteps[len(sum.PreviousSteps)-1]
			if last.StepDescription != sum.CurrentStep.StepDescription {
				t.Errorf("last previous step = %q, want current step %q",
					last.StepDescription, sum.CurrentStep.StepDescription)
			}
			if tt.wantLen == 2 && sum.PreviousSteps[0].StepDescription != "earlier" {
				t.Errorf("previous_steps[0] = %q, want %q", sum.PreviousSteps[0].StepDescription, "earlier")
			}
		})
	}
}

func TestProcess_NoCurrentStep(t *testing.T) {
	p := newTestProcessor(10)
	sum, err := p.Process(t.Context(), newThought(1, 1))
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if sum.PreviousSteps != nil || sum.CurrentStep != nil {
		t.Errorf("steps = %v / %v, want both absent", sum.CurrentStep, sum.PreviousSteps)
	}
}

func TestProcess_SharedPreviousStepsNotAliased(t *testing.T) {
	p := newTestProcessor(10)
	shared := make([]StepRecommendation, 0, 4)

	a := newThought(1, 2)
	a.CurrentStep = &StepRecommendation{StepDescription: "A", ExpectedOutcome: "a"}
	a.PreviousSteps = shared
	b := newThought(2, 2)
	b.CurrentStep = &StepRecommendation{StepDescription: "B", ExpectedOutcome: "b"}
	b.PreviousSteps = shared

	if _, err := p.Process(t.Context(), a); err != nil {
		t.Fatalf("Process(a) error: %v", err)
	}
	if _, err := p.Process(t.Context(), b); err != nil {
		t.Fatalf("Process(b) error: %v", err)
	}

	stored := p.Store().History()[0]
	if got := stored.PreviousSteps[len(stored.PreviousSteps)-1].StepDescription; got != "A" {
		t.Errorf("first thought's last previous step = %q, want %q", got, "A")
	}
	if got := b.PreviousSteps[len(b.PreviousSteps)-1].StepDescription; got != "B" {
		t.Errorf("second thought's last previous step = %q, want %q", got, "B")
	}
}

func TestProcess_EmptyPreviousStepsReportedAbsent(t *testing.T) {
	p := newTestProcessor(10)
	th := newThought(1, 1)
	th.PreviousSteps = []StepRecommendation{}
	th.RemainingSteps = []string{}

	sum, err := p.Process(t.Context(), th)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	data, err := json.Marshal(sum)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if v, ok := got["previous_steps"]; !ok || v != nil {
		t.Errorf("previous_steps = %v (present %v), want null", v, ok)
	}
	// remaining_steps is echoed as sent.
	if v, ok := got["remaining_steps"].([]any); !ok || len(v) != 0 {
		t.Errorf("remaining_steps = %v, want []", got["remaining_steps"])
	}
}

func TestProcess_Branching(t *testing.T) {
	p := newTestProcessor(10)
	ctx := t.Context()

	onlyFrom := newThought(1, 3)
	onlyFrom.BranchFrom = intPtr(1)
	sum, err := p.Process(ctx, onlyFrom)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if len(sum.BranchIDs) != 0 {
		t.Errorf("branches = %v after branch_from_thought alone, want none", sum.BranchIDs)
	}

	for i := 2; i <= 3; i++ {
		th := newThought(i, 3)
		th.BranchFrom = intPtr(1)
		th.BranchID = stringPtr("A")
		if sum, err = p.Process(ctx, th); err != nil {
			t.Fatalf("Process(%d) error: %v", i, err)
		}
	}

	if len(sum.BranchIDs) != 1 || sum.BranchIDs[0] != "A" {
		t.Errorf("branches = %v, want [A]", sum.BranchIDs)
	}
	if got := len(p.Store().Branch("A")); got != 2 {
		t.Errorf("branch A length = %d, want 2", got)
	}
	if sum.HistoryLength != 3 {
		t.Errorf("thought_history_length = %d, want 3", sum.HistoryLength)
	}
}

func TestProcess_EvictionBound(t *testing.T) {
	p := newTestProcessor(2)
	var sum *Summary
	var err error
	for i := 1; i <= 3; i++ {
		if sum, err = p.Process(t.Context(), newThought(i, 3)); err != nil {
			t.Fatalf("Process(%d) error: %v", i, err)
		}
	}
	if sum.HistoryLength != 2 {
		t.Errorf("thought_history_length = %d, want 2", sum.HistoryLength)
	}
	hist := p.Store().History()
	if hist[0].Number != 2 || hist[1].Number != 3 {
		t.Errorf("history = [%d %d], want [2 3]", hist[0].Number, hist[1].Number)
	}
}

func TestProcess_InvalidLeavesStoreUntouched(t *testing.T) {
	p := newTestProcessor(10)
	if _, err := p.Process(t.Context(), newThought(1, 2)); err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	bad := newThought(2, 2)
	bad.CurrentStep = samplePlan()
	bad.CurrentStep.RecommendedTools[0].Confidence = 1.5

	_, err := p.Process(t.Context(), bad)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Process() error = %v, want ErrValidation", err)
	}
	if p.Store().Len() != 1 {
		t.Errorf("history length = %d, want 1", p.Store().Len())
	}
	if bad.PreviousSteps != nil {
		t.Error("rejected thought was mutated")
	}
}

func TestProcess_FormatterPanicSwallowed(t *testing.T) {
	p := newTestProcessor(10)
	p.format = func(*Thought) string { panic("render failed") }

	sum, err := p.Process(t.Context(), newThought(1, 1))
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if sum.HistoryLength != 1 {
		t.Errorf("thought_history_length = %d, want 1", sum.HistoryLength)
	}
}

func TestProcess_PublishesEvents(t *testing.T) {
	p := newTestProcessor(10)
	bus := events.New()
	p.SetEventBus(bus)
	ch := bus.Subscribe(8)
	defer bus.Unsubscribe(ch)

	th := newThought(1, 2)
	th.BranchFrom = intPtr(1)
	th.BranchID = stringPtr("A")
	if _, err := p.Process(t.Context(), th); err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	e := receive(t, ch)
	if e.Source != events.SourceTrace || e.Kind != events.KindThoughtProcessed {
		t.Fatalf("event = %s/%s, want %s/%s", e.Source, e.Kind, events.SourceTrace, events.KindThoughtProcessed)
	}
	if e.Data["branch_id"] != "A" {
		t.Errorf("branch_id = %v, want A", e.Data["branch_id"])
	}
	if e.Data["category"] != string(CategoryBranch) {
		t.Errorf("category = %v, want %s", e.Data["category"], CategoryBranch)
	}

	p.Handle(t.Context(), json.RawMessage(`{}`))
	if e := receive(t, ch); e.Kind != events.KindThoughtRejected {
		t.Errorf("event kind = %s, want %s", e.Kind, events.KindThoughtRejected)
	} else if e.Data["kind"] != "validation" {
		t.Errorf("rejection kind = %v, want validation", e.Data["kind"])
	}

	p.Clear()
	if e := receive(t, ch); e.Kind != events.KindHistoryCleared {
		t.Errorf("event kind = %s, want %s", e.Kind, events.KindHistoryCleared)
	}
}

func receive(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return events.Event{}
	}
}

func TestProcessor_Clear(t *testing.T) {
	p := newTestProcessor(10)
	th := newThought(1, 1)
	th.BranchFrom = intPtr(1)
	th.BranchID = stringPtr("A")
	if _, err := p.Process(t.Context(), th); err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	p.Clear()

	sum, err := p.Process(t.Context(), newThought(1, 1))
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if sum.HistoryLength != 1 || len(sum.BranchIDs) != 0 {
		t.Errorf("after Clear: length %d branches %v, want 1 and none", sum.HistoryLength, sum.BranchIDs)
	}
}

func TestHandle_Success(t *testing.T) {
	p := newTestProcessor(10)
	raw := json.RawMessage(`{
		"available_mcp_tools": ["search"],
		"thought": "start",
		"next_thought_needed": true,
		"thought_number": 1,
		"total_thoughts": 2
	}`)

	res := p.Handle(context.Background(), raw)
	if !res.OK() {
		t.Fatalf("Handle() failed: %+v", res.Failure)
	}

	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}

	for _, key := range []string{
		"thought_number", "total_thoughts", "next_thought_needed", "branches",
		"thought_history_length", "available_mcp_tools", "current_step",
		"previous_steps", "remaining_steps",
	} {
		if _, ok := got[key]; !ok {
			t.Errorf("result missing key %q: %s", key, data)
		}
	}
	for _, key := range []string{"current_step", "previous_steps", "remaining_steps"} {
		if got[key] != nil {
			t.Errorf("%s = %v, want null", key, got[key])
		}
	}
	if got["thought_history_length"] != float64(1) {
		t.Errorf("thought_history_length = %v, want 1", got["thought_history_length"])
	}
}

func TestHandle_Failures(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantMsg string
	}{
		{"empty payload", ``, "arguments are required"},
		{"not json", `{nope`, "not valid JSON"},
		{"missing thought", `{"available_mcp_tools":[],"next_thought_needed":false,"thought_number":1,"total_thoughts":1}`, "thought"},
		{
			"confidence out of range",
			`{"available_mcp_tools":[],"thought":"x","next_thought_needed":false,"thought_number":1,"total_thoughts":1,
			  "current_step":{"step_description":"s","expected_outcome":"o",
			    "recommended_tools":[{"tool_name":"t","confidence":1.5,"rationale":"r","priority":1}]}}`,
			"confidence",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProcessor(10)
			res := p.Handle(t.Context(), json.RawMessage(tt.raw))
			if res.OK() {
				t.Fatal("Handle() succeeded, want failure")
			}
			if res.Failure.Status != StatusFailed {
				t.Errorf("status = %q, want %q", res.Failure.Status, StatusFailed)
			}
			if !strings.Contains(res.Failure.Error, tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", res.Failure.Error, tt.wantMsg)
			}
			if p.Store().Len() != 0 {
				t.Errorf("history length = %d after failure, want 0", p.Store().Len())
			}

			data, _ := json.Marshal(res)
			var got map[string]any
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("Unmarshal() error: %v", err)
			}
			if len(got) != 2 || got["status"] != StatusFailed {
				t.Errorf("failure JSON = %s, want {error, status}", data)
			}
		})
	}
}

func TestProcess_PanicBecomesProcessingError(t *testing.T) {
	p := newTestProcessor(10)
	p.store = nil // Commit on a nil store panics.

	_, err := p.Process(t.Context(), newThought(1, 1))
	var perr *ProcessingError
	if !errors.As(err, &perr) {
		t.Fatalf("Process() error = %v, want *ProcessingError", err)
	}
	if !errors.Is(err, ErrProcessing) {
		t.Error("error does not match ErrProcessing")
	}
}
