// Package enrichment runs the graph-enrichment plan on the agent runtime:
// heuristic relationship inference followed by LLM inference.
package enrichment

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vulngraph/api/schemas"
	"github.com/xkilldash9x/vulngraph/internal/agent"
	"github.com/xkilldash9x/vulngraph/internal/inference"
	"github.com/xkilldash9x/vulngraph/internal/observability"
)

// Tool names in the enrichment plan.
const (
	ToolHeuristics = "heuristic_relationships"
	ToolLLM        = "llm_relationships"
)

// Context is the read-only input shared by every enrichment step.
type Context struct {
	Findings []schemas.Finding
}

// State accumulates agent suggestions across steps.
type State struct {
	Suggestions []schemas.EdgeSuggestion
	// BySource counts suggestions per agent_source marker.
	BySource map[string]int
}

// foldSuggestions appends a step's suggestions without touching the
// previous state's backing storage.
func foldSuggestions(state State, data []schemas.EdgeSuggestion) State {
	next := State{
		Suggestions: make([]schemas.EdgeSuggestion, 0, len(state.Suggestions)+len(data)),
		BySource:    make(map[string]int, len(state.BySource)+1),
	}
	next.Suggestions = append(next.Suggestions, state.Suggestions...)
	next.Suggestions = append(next.Suggestions, data...)
	for k, v := range state.BySource {
		next.BySource[k] = v
	}
	for _, s := range data {
		next.BySource[s.AgentSource()]++
	}
	return next
}

// Options configures the enrichment plan.
type Options struct {
	HeuristicsEnabled bool
	LLMEnabled        bool
	MaxPairwiseGroup  int
	TracerProvider    trace.TracerProvider
}

// Enricher owns the runtime and tool set for enrichment.
type Enricher struct {
	logger  *zap.Logger
	runtime *agent.Runtime[Context, State]
	opts    Options
	llm     *inference.LLMInferrer
}

// NewEnricher wires the heuristic and LLM tools. llm may be a disabled
// inferrer, in which case the LLM step succeeds with no suggestions.
func NewEnricher(logger *zap.Logger, llm *inference.LLMInferrer, opts Options) (*Enricher, error) {
	e := &Enricher{
		logger:  observability.Named(logger, "enrichment"),
		runtime: agent.NewRuntime[Context, State](logger, agent.WithTracerProvider(opts.TracerProvider)),
		opts:    opts,
		llm:     llm,
	}

	heuristics := agent.NewTool(ToolHeuristics,
		func(ctx context.Context, _ any, env Context, _ State) ([]schemas.EdgeSuggestion, string, error) {
			out := inference.InferHeuristicEdges(env.Findings, inference.HeuristicOptions{MaxPairwiseGroup: opts.MaxPairwiseGroup})
			return out, fmt.Sprintf("%d heuristic suggestions", len(out)), nil
		},
		foldSuggestions)

	llmTool := agent.NewTool(ToolLLM,
		func(ctx context.Context, _ any, env Context, _ State) ([]schemas.EdgeSuggestion, string, error) {
			if !e.llm.Enabled() {
				return nil, "llm not configured", nil
			}
			out, err := e.llm.Infer(ctx, env.Findings)
			if err != nil {
				return nil, "", err
			}
			return out, fmt.Sprintf("%d llm suggestions", len(out)), nil
		},
		foldSuggestions)

	if err := e.runtime.Register(heuristics, llmTool); err != nil {
		return nil, err
	}
	return e, nil
}

// Plan returns the steps for the configured options. The heuristic step is
// fatal; the LLM step never aborts enrichment.
func (e *Enricher) Plan() []agent.Step {
	var plan []agent.Step
	if e.opts.HeuristicsEnabled {
		plan = append(plan, agent.Step{Tool: ToolHeuristics})
	}
	if e.opts.LLMEnabled {
		plan = append(plan, agent.Step{Tool: ToolLLM, ContinueOnError: true})
	}
	return plan
}

// Enrich runs the plan over findings.
func (e *Enricher) Enrich(ctx context.Context, findings []schemas.Finding) agent.RunResult[State] {
	res := e.runtime.Run(ctx, e.Plan(), Context{Findings: findings}, State{BySource: map[string]int{}})
	e.logger.Info("Enrichment plan finished.",
		zap.Int("suggestions", len(res.State.Suggestions)),
		zap.Int("failed_steps", len(res.Failures())),
		zap.Bool("aborted", res.Aborted))
	return res
}
