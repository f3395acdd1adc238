package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/vulngraph/api/schemas"
	"github.com/xkilldash9x/vulngraph/internal/agent"
	"github.com/xkilldash9x/vulngraph/internal/knowledgegraph"
	"github.com/xkilldash9x/vulngraph/internal/mocks"
)

// fakeGraph serves canned read results.
type fakeGraph struct {
	findings      []knowledgegraph.FindingContext
	relationships []knowledgegraph.StoredRelationship
	counts        map[string]int
	findingsErr   error
	limits        []int
}

func (g *fakeGraph) FindingContexts(_ context.Context, limit int) ([]knowledgegraph.FindingContext, error) {
	g.limits = append(g.limits, limit)
	return g.findings, g.findingsErr
}

func (g *fakeGraph) AgentRelationships(_ context.Context, limit int) ([]knowledgegraph.StoredRelationship, error) {
	return g.relationships, nil
}

func (g *fakeGraph) LabelCounts(context.Context) (map[string]int, error) {
	return g.counts, nil
}

func sampleGraph() *fakeGraph {
	return &fakeGraph{
		findings: []knowledgegraph.FindingContext{
			{FindingID: "F-low", Title: "Verbose banner", Severity: schemas.SeverityLow, AssetID: "host:web-1", BlastRadius: 0},
			{FindingID: "F-crit", Title: "RCE in parser", Severity: schemas.SeverityCritical, AssetID: "image:api:1.0", BlastRadius: 2},
			{FindingID: "F-high", Title: "SQL injection", Severity: "high", AssetID: "url:https://app", BlastRadius: 0},
			{FindingID: "F-med", Title: "Open redirect", Severity: schemas.SeverityMedium, BlastRadius: 1},
		},
		relationships: []knowledgegraph.StoredRelationship{
			{Type: "SHARED_CVE", From: schemas.NodeRef{Label: schemas.LabelFinding, ID: "F-crit"}, To: schemas.NodeRef{Label: schemas.LabelFinding, ID: "F-med"}, Provenance: schemas.ProvenanceAgentHeuristic},
			{Type: "EXPLOIT_CHAIN", From: schemas.NodeRef{Label: schemas.LabelFinding, ID: "F-high"}, To: schemas.NodeRef{Label: schemas.LabelFinding, ID: "F-crit"}, Provenance: schemas.ProvenanceAgentLLM, Rationale: "injection reaches the parser"},
		},
		counts: map[string]int{"Finding": 4, "Asset": 3},
	}
}

func setupAnalyst(t *testing.T, llm schemas.LLMClient, topN int) (*Analyst, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	a, err := NewAnalyst(zap.New(core), llm, Options{TopN: topN})
	require.NoError(t, err)
	return a, logs
}

// -- Test Cases: Ranking --

func TestRankFindings(t *testing.T) {
	ranked := RankFindings(sampleGraph().findings, 3)

	got := make([]string, 0, len(ranked))
	for _, r := range ranked {
		got = append(got, r.FindingID)
	}
	// CRITICAL 10*(1+2)=30, MEDIUM 4*2=8, HIGH 7*1=7, LOW 2.
	if diff := cmp.Diff([]string{"F-crit", "F-med", "F-high"}, got); diff != "" {
		t.Errorf("ranking mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 30.0, ranked[0].Score)
	assert.Equal(t, 7.0, ranked[2].Score)
}

func TestRankFindings_TiesBreakOnID(t *testing.T) {
	findings := []knowledgegraph.FindingContext{
		{FindingID: "b", Severity: schemas.SeverityHigh},
		{FindingID: "a", Severity: schemas.SeverityHigh},
		{FindingID: "c", Severity: "weird"},
	}
	ranked := RankFindings(findings, 0)
	require.Len(t, ranked, 3)
	assert.Equal(t, "a", ranked[0].FindingID)
	assert.Equal(t, "b", ranked[1].FindingID)
	assert.Equal(t, 1.0, ranked[2].Score)
}

// -- Test Cases: Plan --

func TestPlanShape(t *testing.T) {
	a, _ := setupAnalyst(t, nil, 5)
	plan := a.Plan()
	require.Len(t, plan, 4)
	assert.Equal(t, []agent.Step{
		{Tool: ToolRetrieval},
		{Tool: ToolRiskRanking},
		{Tool: ToolDigest, ContinueOnError: true},
		{Tool: ToolAnswer, ContinueOnError: true},
	}, plan)
}

func TestAsk_EmptyQuestion(t *testing.T) {
	a, _ := setupAnalyst(t, nil, 5)
	_, err := a.Ask(context.Background(), sampleGraph(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

// -- Test Cases: Answering --

func TestAsk_WithoutLLMUsesRanking(t *testing.T) {
	a, logs := setupAnalyst(t, nil, 2)
	graph := sampleGraph()

	report, err := a.Ask(context.Background(), graph, "What should we fix first?")

	require.NoError(t, err)
	assert.Equal(t, []int{defaultRetrievalLimit}, graph.limits)
	assert.False(t, report.Answer.Generated)
	assert.Equal(t, []string{"F-crit", "F-med"}, report.Answer.Citations)
	assert.Contains(t, report.Answer.Text, "1. [CRITICAL] RCE in parser (finding F-crit, score 30.0, blast radius 2, asset image:api:1.0)")
	assert.Contains(t, report.Answer.Text, "2 enriched relationships")
	require.Len(t, report.Digest, 2)
	assert.Equal(t, "EXPLOIT_CHAIN: Finding:F-high -> Finding:F-crit [agent_llm] injection reaches the parser", report.Digest[0])
	require.Len(t, report.Steps, 4)
	assert.Equal(t, "llm not configured", report.Steps[3].Summary)
	assert.Equal(t, 1, logs.FilterMessage("Question answered.").Len())
}

func TestAsk_EmptyGraph(t *testing.T) {
	a, _ := setupAnalyst(t, nil, 5)

	report, err := a.Ask(context.Background(), &fakeGraph{}, "anything?")

	require.NoError(t, err)
	assert.Equal(t, "No findings are stored in the graph yet.", report.Answer.Text)
	assert.Empty(t, report.Answer.Citations)
}

func TestAsk_WithLLM(t *testing.T) {
	client := new(mocks.MockLLMClient)
	client.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.Tier == schemas.TierPowerful && req.Options.ForceJSONFormat &&
			req.SystemPrompt == answerSystemPrompt
	})).Return("```json\n{\"answer\": \"Patch the parser RCE first.\", \"citations\": [\"F-crit\", \"F-ghost\"]}\n```", nil).Once()

	a, logs := setupAnalyst(t, client, 3)
	report, err := a.Ask(context.Background(), sampleGraph(), "What should we fix first?")

	require.NoError(t, err)
	assert.True(t, report.Answer.Generated)
	assert.Equal(t, "Patch the parser RCE first.", report.Answer.Text)
	assert.Equal(t, []string{"F-crit"}, report.Answer.Citations)
	assert.Equal(t, 1, logs.FilterMessage("Dropped citations that reference unknown findings.").Len())
	client.AssertExpectations(t)
}

func TestAsk_LLMFailureFallsBack(t *testing.T) {
	tests := []struct {
		name     string
		response string
		err      error
	}{
		{"Transport Error", "", errors.New("503 upstream")},
		{"Unparseable", "I cannot answer that.", nil},
		{"Empty Answer", `{"answer": " ", "citations": []}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(mocks.MockLLMClient)
			client.On("Generate", mock.Anything, mock.Anything).Return(tt.response, tt.err)

			a, logs := setupAnalyst(t, client, 1)
			report, err := a.Ask(context.Background(), sampleGraph(), "top risk?")

			require.NoError(t, err)
			assert.False(t, report.Answer.Generated)
			assert.Equal(t, []string{"F-crit"}, report.Answer.Citations)
			require.Len(t, report.Steps, 4)
			assert.True(t, report.Steps[3].Failed())
			assert.Equal(t, 1, logs.FilterMessage("Step failed, continuing with plan.").Len())
		})
	}
}

func TestAsk_RetrievalFailureAborts(t *testing.T) {
	client := new(mocks.MockLLMClient)
	a, _ := setupAnalyst(t, client, 5)
	graph := &fakeGraph{findingsErr: errors.New("neo4j unavailable")}

	report, err := a.Ask(context.Background(), graph, "top risk?")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "analysis aborted at graph_retrieval")
	assert.Contains(t, err.Error(), "neo4j unavailable")
	assert.Len(t, report.Steps, 1)
	client.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestAsk_NilGraphIsInvalidInput(t *testing.T) {
	a, _ := setupAnalyst(t, nil, 5)

	report, err := a.Ask(context.Background(), nil, "top risk?")

	require.Error(t, err)
	require.Len(t, report.Steps, 1)
	assert.Equal(t, agent.ErrCodeInvalidInput, report.Steps[0].ErrorCode)
}
