// Package analysis answers questions about the stored vulnerability graph by
// running a read-only plan on the agent runtime: retrieve the graph context,
// rank findings by risk, digest the enriched relationships and synthesize an
// answer.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vulngraph/api/schemas"
	"github.com/xkilldash9x/vulngraph/internal/agent"
	"github.com/xkilldash9x/vulngraph/internal/knowledgegraph"
	"github.com/xkilldash9x/vulngraph/internal/observability"
)

// Tool names in the chat plan.
const (
	ToolRetrieval   = "graph_retrieval"
	ToolRiskRanking = "risk_ranking"
	ToolDigest      = "relationship_digest"
	ToolAnswer      = "answer_synthesis"
)

const defaultRetrievalLimit = 500

// ErrEmptyQuestion is returned by Ask for a blank question.
var ErrEmptyQuestion = errors.New("question must not be empty")

// GraphReader is the read side of the knowledge graph repository.
type GraphReader interface {
	FindingContexts(ctx context.Context, limit int) ([]knowledgegraph.FindingContext, error)
	AgentRelationships(ctx context.Context, limit int) ([]knowledgegraph.StoredRelationship, error)
	LabelCounts(ctx context.Context) (map[string]int, error)
}

var _ GraphReader = (*knowledgegraph.Repository)(nil)

// Context is the read-only input shared by every chat step.
type Context struct {
	Question string
	Graph    GraphReader
}

// RankedFinding is a finding with its risk score.
type RankedFinding struct {
	knowledgegraph.FindingContext
	Score float64 `json:"score"`
}

// Answer is the reply to a question. Citations are finding ids.
type Answer struct {
	Text      string   `json:"answer"`
	Citations []string `json:"citations"`
	// Generated is true when a model wrote the answer.
	Generated bool `json:"-"`
}

// ChatState accumulates the chat plan's results.
type ChatState struct {
	Findings      []knowledgegraph.FindingContext
	Relationships []knowledgegraph.StoredRelationship
	LabelCounts   map[string]int
	Ranked        []RankedFinding
	Digest        []string
	Answer        Answer
}

// Report is what Ask returns.
type Report struct {
	Question string
	Answer   Answer
	Ranked   []RankedFinding
	Digest   []string
	Steps    []agent.StepRecord
}

// Options configures an Analyst.
type Options struct {
	// TopN bounds the ranking and the default answer.
	TopN           int
	RetrievalLimit int
	Temperature    float64
	TracerProvider trace.TracerProvider
}

// Analyst owns the chat runtime and its tools.
type Analyst struct {
	logger  *zap.Logger
	runtime *agent.Runtime[Context, ChatState]
	llm     schemas.LLMClient
	opts    Options
}

// NewAnalyst registers the chat tools. llm may be nil, in which case answers
// are composed from the ranking alone.
func NewAnalyst(logger *zap.Logger, llm schemas.LLMClient, opts Options) (*Analyst, error) {
	if opts.TopN <= 0 {
		opts.TopN = 5
	}
	if opts.RetrievalLimit <= 0 {
		opts.RetrievalLimit = defaultRetrievalLimit
	}
	a := &Analyst{
		logger:  observability.Named(logger, "analysis"),
		runtime: agent.NewRuntime[Context, ChatState](logger, agent.WithTracerProvider(opts.TracerProvider)),
		llm:     llm,
		opts:    opts,
	}
	if err := a.runtime.Register(a.tools()...); err != nil {
		return nil, err
	}
	return a, nil
}

// Plan returns the chat steps. Only retrieval is fatal.
func (a *Analyst) Plan() []agent.Step {
	return []agent.Step{
		{Tool: ToolRetrieval},
		{Tool: ToolRiskRanking},
		{Tool: ToolDigest, ContinueOnError: true},
		{Tool: ToolAnswer, ContinueOnError: true},
	}
}

// Ask runs the plan for question against graph. A failed or skipped
// synthesis step falls back to the ranking-based answer.
func (a *Analyst) Ask(ctx context.Context, graph GraphReader, question string) (Report, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Report{}, ErrEmptyQuestion
	}

	res := a.runtime.Run(ctx, a.Plan(), Context{Question: question, Graph: graph}, ChatState{})
	report := Report{
		Question: question,
		Ranked:   res.State.Ranked,
		Digest:   res.State.Digest,
		Steps:    res.Steps,
	}
	if res.Aborted {
		failed := res.Steps[len(res.Steps)-1]
		return report, fmt.Errorf("analysis aborted at %s: %s", failed.Tool, failed.Error)
	}

	report.Answer = res.State.Answer
	if report.Answer.Text == "" {
		report.Answer = fallbackAnswer(question, res.State)
	}
	a.logger.Info("Question answered.",
		zap.Int("findings", len(res.State.Findings)),
		zap.Int("citations", len(report.Answer.Citations)),
		zap.Bool("generated", report.Answer.Generated),
		zap.Int("failed_steps", len(res.Failures())))
	return report, nil
}
