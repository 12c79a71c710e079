package thinking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nugget/seqthink/internal/events"
)

const tracerName = "github.com/nugget/seqthink/internal/thinking"

// Processor validates incoming thoughts, links them into the store and
// builds the summary returned to the caller. It is the only component
// that mutates a [Store] on behalf of clients.
type Processor struct {
	store  *Store
	logger *slog.Logger
	bus    *events.Bus
	tracer trace.Tracer

	// format renders the diagnostic block; swapped in tests.
	format func(*Thought) string
}

// NewProcessor creates a processor backed by store.
func NewProcessor(store *Store, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:  store,
		logger: logger,
		tracer: otel.Tracer(tracerName),
		format: FormatThought,
	}
}

// SetEventBus configures the bus that receives trace events. A nil bus
// disables publishing.
func (p *Processor) SetEventBus(bus *events.Bus) {
	p.bus = bus
}

// Store returns the backing store.
func (p *Processor) Store() *Store {
	return p.store
}

// Handle is the boundary operation used by transports. It decodes and
// validates raw tool arguments, processes the thought, and converts
// every error (and panic) into a [Failure]. Handle never returns an
// error.
func (p *Processor) Handle(ctx context.Context, raw json.RawMessage) Result {
	t, err := ParseThought(raw)
	if err != nil {
		p.reject(err)
		return failed(err)
	}
	sum, err := p.Process(ctx, t)
	if err != nil {
		return failed(err)
	}
	return Result{Summary: sum}
}

// Process runs one validated thought through the trace:
//
//  1. total_thoughts is raised to thought_number when lower.
//  2. current_step, if present, is appended to the thought's own
//     previous_steps.
//  3. The thought is appended to history (evicting the oldest when full).
//  4. A thought with both branch_from_thought and branch_id joins that
//     branch.
//  5. The formatted thought is logged. Rendering problems are logged
//     and otherwise ignored.
//  6. A Summary of the trace's current shape is returned.
//
// t is validated first, so an invalid thought never touches the store.
// Panics after validation are recovered into a *ProcessingError.
func (p *Processor) Process(ctx context.Context, t *Thought) (sum *Summary, err error) {
	ctx, span := p.tracer.Start(ctx, "thinking.Process")
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = &ProcessingError{Stage: "process", Err: fmt.Errorf("panic: %v", r)}
			sum = nil
		}
		processDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.reject(err)
		}
		span.End()
	}()

	if err := t.Validate(); err != nil {
		return nil, err
	}

	if t.Number > t.TotalEstimate {
		t.TotalEstimate = t.Number
	}

	if t.CurrentStep != nil {
		// Clip so the append never writes into spare capacity the
		// caller may share with another thought.
		t.PreviousSteps = append(slices.Clip(t.PreviousSteps), *t.CurrentStep)
	}

	commit := p.store.Commit(t)

	category := t.Category()
	span.SetAttributes(
		attribute.Int("thought.number", t.Number),
		attribute.Int("thought.total", t.TotalEstimate),
		attribute.String("thought.category", string(category)),
		attribute.Int("history.length", commit.HistoryLength),
	)
	thoughtsProcessed.WithLabelValues(string(category)).Inc()
	historyEvictions.Add(float64(commit.Evicted))
	historyLength.Set(float64(commit.HistoryLength))
	branchCount.Set(float64(len(commit.BranchIDs)))

	p.logThought(ctx, t)

	data := map[string]any{
		"thought_number": t.Number,
		"total_thoughts": t.TotalEstimate,
		"category":       string(category),
		"history_length": commit.HistoryLength,
		"evicted":        commit.Evicted,
	}
	if commit.Branched {
		data["branch_id"] = *t.BranchID
	}
	p.bus.Emit(events.SourceTrace, events.KindThoughtProcessed, data)

	return &Summary{
		Number:         t.Number,
		TotalEstimate:  t.TotalEstimate,
		NextNeeded:     t.NextNeeded,
		BranchIDs:      commit.BranchIDs,
		HistoryLength:  commit.HistoryLength,
		AvailableTools: t.AvailableTools,
		CurrentStep:    t.CurrentStep,
		PreviousSteps:  nilIfEmpty(t.PreviousSteps),
		RemainingSteps: t.RemainingSteps,
	}, nil
}

// Clear resets the trace history and branches.
func (p *Processor) Clear() {
	p.store.Clear()
	historyLength.Set(0)
	branchCount.Set(0)
	p.bus.Emit(events.SourceTrace, events.KindHistoryCleared, nil)
}

// logThought emits the formatted thought. A panicking formatter is
// logged and swallowed so the thought is still processed.
func (p *Processor) logThought(ctx context.Context, t *Thought) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("failed to format thought", "thought_number", t.Number, "error", r)
		}
	}()
	p.logger.InfoContext(ctx, p.format(t))
	p.logger.Debug("processed thought", "thought_number", t.Number, "total_thoughts", t.TotalEstimate)
}

// reject records a failed thought in logs, metrics and events.
func (p *Processor) reject(err error) {
	kind := errorKind(err)
	thoughtFailures.WithLabelValues(kind).Inc()
	if kind == "validation" {
		p.logger.Warn("thought rejected", "error", err)
	} else {
		p.logger.Error("error processing thought", "error", err)
	}
	p.bus.Emit(events.SourceTrace, events.KindThoughtRejected, map[string]any{
		"error": err.Error(),
		"kind":  kind,
	})
}

// nilIfEmpty reports an empty step list as absent (JSON null).
func nilIfEmpty(steps []StepRecommendation) []StepRecommendation {
	if len(steps) == 0 {
		return nil
	}
	return steps
}

func failed(err error) Result {
	return Result{Failure: &Failure{Error: err.Error(), Status: StatusFailed}}
}
