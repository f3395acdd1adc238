// internal/agent/runtime.go
package agent

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vulngraph/internal/observability"
)

// Step is one entry of a plan.
type Step struct {
	// ID is recorded in the step log. A random id is assigned when empty.
	ID   string
	Tool string
	// Input is passed to the tool verbatim.
	Input any
	// ContinueOnError lets the plan proceed past a failure of this step.
	// By default a failure aborts the remaining steps.
	ContinueOnError bool
}

// StepRecord is the log entry of an executed step. Exactly one of Data and
// Error is meaningful.
type StepRecord struct {
	ID         string        `json:"id"`
	Tool       string        `json:"tool"`
	Summary    string        `json:"summary,omitempty"`
	Data       any           `json:"data,omitempty"`
	Error      string        `json:"error,omitempty"`
	ErrorCode  ErrorCode     `json:"error_code,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}

// Failed reports whether the step ended in an error.
func (r StepRecord) Failed() bool { return r.Error != "" }

// RunResult is the outcome of a plan. State holds everything folded in by
// successful steps, even when the plan was aborted.
type RunResult[S any] struct {
	State   S
	Steps   []StepRecord
	Aborted bool
}

// Failures returns the records of failed steps.
func (r RunResult[S]) Failures() []StepRecord {
	var out []StepRecord
	for _, s := range r.Steps {
		if s.Failed() {
			out = append(out, s)
		}
	}
	return out
}

// Option configures a Runtime.
type Option func(*settings)

type settings struct {
	tracerProvider trace.TracerProvider
	clock          func() time.Time
}

// WithTracerProvider sets the provider for per-step spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *settings) { s.tracerProvider = tp }
}

// WithClock overrides the time source used for step timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *settings) { s.clock = clock }
}

// Runtime is a sequential workflow engine: it executes the steps of a plan
// strictly in order against a shared read-only context, folding each
// successful step's output into an accumulated state.
type Runtime[C, S any] struct {
	logger *zap.Logger
	tracer trace.Tracer
	clock  func() time.Time
	tools  map[string]Tool[C, S]
}

// NewRuntime creates a runtime with an empty tool registry.
func NewRuntime[C, S any](logger *zap.Logger, opts ...Option) *Runtime[C, S] {
	s := settings{clock: time.Now}
	for _, opt := range opts {
		opt(&s)
	}
	return &Runtime[C, S]{
		logger: observability.Named(logger, "agent_runtime"),
		tracer: observability.TracerFrom(s.tracerProvider, "agent"),
		clock:  s.clock,
		tools:  make(map[string]Tool[C, S]),
	}
}

// Register adds tools to the registry. Names must be unique.
func (r *Runtime[C, S]) Register(tools ...Tool[C, S]) error {
	for _, t := range tools {
		if t == nil || t.Name() == "" {
			return fmt.Errorf("cannot register a tool without a name")
		}
		if _, exists := r.tools[t.Name()]; exists {
			return fmt.Errorf("tool already registered: %s", t.Name())
		}
		r.tools[t.Name()] = t
	}
	return nil
}

// Tools lists the registered tool names in lexical order.
func (r *Runtime[C, S]) Tools() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes plan from left to right. A failing step is logged with its
// error and its output is not folded. Unless the step allows continuing, no
// further steps run and the partial state is returned with Aborted set. A
// cancelled context aborts before the next step.
func (r *Runtime[C, S]) Run(ctx context.Context, plan []Step, env C, initial S) RunResult[S] {
	result := RunResult[S]{State: initial, Steps: make([]StepRecord, 0, len(plan))}

	for i, step := range plan {
		if step.ID == "" {
			step.ID = uuid.NewString()
		}

		if err := ctx.Err(); err != nil {
			now := r.clock()
			result.Steps = append(result.Steps, StepRecord{
				ID: step.ID, Tool: step.Tool,
				Error: err.Error(), ErrorCode: ErrCodeCancelled,
				StartedAt: now, FinishedAt: now,
			})
			result.Aborted = true
			r.logger.Warn("Plan cancelled before step.", zap.String("tool", step.Tool), zap.Int("index", i))
			return result
		}

		record, next := r.runStep(ctx, step, env, result.State)
		result.Steps = append(result.Steps, record)

		if !record.Failed() {
			result.State = next
			r.logger.Debug("Step completed.",
				zap.String("tool", step.Tool),
				zap.String("summary", record.Summary),
				zap.Duration("duration", record.Duration))
			continue
		}

		if step.ContinueOnError {
			r.logger.Warn("Step failed, continuing with plan.",
				zap.String("tool", step.Tool),
				zap.String("error_code", string(record.ErrorCode)),
				zap.String("error", record.Error))
			continue
		}

		r.logger.Error("Step failed, aborting plan.",
			zap.String("tool", step.Tool),
			zap.String("error_code", string(record.ErrorCode)),
			zap.String("error", record.Error),
			zap.Int("skipped_steps", len(plan)-i-1))
		result.Aborted = true
		return result
	}
	return result
}

// runStep executes one step and returns its record and the folded state.
// Panics in the tool or its fold are recovered into a failed record.
func (r *Runtime[C, S]) runStep(ctx context.Context, step Step, env C, state S) (record StepRecord, next S) {
	record = StepRecord{ID: step.ID, Tool: step.Tool, StartedAt: r.clock()}
	next = state

	ctx, span := r.tracer.Start(ctx, "agent.step",
		trace.WithAttributes(
			attribute.String("agent.tool", step.Tool),
			attribute.String("agent.step_id", step.ID),
		))

	fail := func(code ErrorCode, err error) {
		record.Error = err.Error()
		record.ErrorCode = code
		record.Data = nil
		record.Summary = ""
		next = state
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	defer func() {
		if p := recover(); p != nil {
			fail(ErrCodeExecutorPanic, fmt.Errorf("tool %s panicked: %v", step.Tool, p))
		}
		record.FinishedAt = r.clock()
		record.Duration = record.FinishedAt.Sub(record.StartedAt)
		span.End()
	}()

	tool, ok := r.tools[step.Tool]
	if !ok {
		fail(ErrCodeUnknownTool, fmt.Errorf("no tool registered with name: %s", step.Tool))
		return record, next
	}

	out, err := tool.Execute(ctx, step.Input, env, state)
	if err != nil {
		fail(codeOf(err), err)
		return record, next
	}

	record.Summary = out.Summary
	record.Data = out.Data
	next = tool.Fold(state, out.Data)
	return record, next
}
