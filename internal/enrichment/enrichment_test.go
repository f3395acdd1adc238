package enrichment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/vulngraph/api/schemas"
	"github.com/xkilldash9x/vulngraph/internal/agent"
	"github.com/xkilldash9x/vulngraph/internal/inference"
	"github.com/xkilldash9x/vulngraph/internal/mocks"
)

func scenarioFindings() []schemas.Finding {
	t0 := time.Date(2025, 10, 26, 10, 0, 0, 0, time.UTC)
	mk := func(id string, at time.Time) schemas.Finding {
		return schemas.Finding{
			ID: id, Scanner: "trivy", ScanID: "scan-1", Timestamp: at,
			Vulnerability: schemas.Vulnerability{Title: "RCE", Severity: schemas.SeverityCritical, CVEID: "CVE-2024-35689"},
			Asset:         schemas.Asset{Type: schemas.AssetWebApplication, URL: "https://" + id + ".example"},
		}
	}
	return []schemas.Finding{mk("FG-1", t0), mk("FG-2", t0.Add(10*time.Minute))}
}

func allOptions() Options {
	return Options{HeuristicsEnabled: true, LLMEnabled: true}
}

func TestPlanShape(t *testing.T) {
	e, err := NewEnricher(nil, nil, allOptions())
	require.NoError(t, err)

	plan := e.Plan()
	require.Len(t, plan, 2)
	assert.Equal(t, ToolHeuristics, plan[0].Tool)
	assert.False(t, plan[0].ContinueOnError)
	assert.Equal(t, ToolLLM, plan[1].Tool)
	assert.True(t, plan[1].ContinueOnError)

	e, err = NewEnricher(nil, nil, Options{HeuristicsEnabled: true})
	require.NoError(t, err)
	assert.Equal(t, []agent.Step{{Tool: ToolHeuristics}}, e.Plan())
}

func TestEnrichHeuristicsOnlyWithoutLLM(t *testing.T) {
	e, err := NewEnricher(zap.NewNop(), inference.NewLLMInferrer(nil, nil, 0), allOptions())
	require.NoError(t, err)

	res := e.Enrich(context.Background(), scenarioFindings())

	assert.False(t, res.Aborted)
	require.Len(t, res.Steps, 2)
	assert.False(t, res.Steps[1].Failed())
	assert.Equal(t, "llm not configured", res.Steps[1].Summary)
	assert.Len(t, res.State.Suggestions, 2) // SHARED_CVE + CO_OCCURS
	assert.Equal(t, 2, res.State.BySource[schemas.AgentSourceHeuristic])
}

func TestEnrichCombinesHeuristicAndLLM(t *testing.T) {
	client := new(mocks.MockLLMClient)
	client.On("Generate", mock.Anything, mock.Anything).
		Return(`{"edges":[{"type":"EXPLOIT_CHAIN","from":"FG-1","to":"FG-2","rationale":"chained"}]}`, nil)

	e, err := NewEnricher(zap.NewNop(), inference.NewLLMInferrer(client, nil, 0.1), allOptions())
	require.NoError(t, err)

	res := e.Enrich(context.Background(), scenarioFindings())

	require.Len(t, res.State.Suggestions, 3)
	assert.Equal(t, "EXPLOIT_CHAIN", res.State.Suggestions[2].Type)
	assert.Equal(t, 1, res.State.BySource[schemas.AgentSourceLLM])
	client.AssertExpectations(t)
}

func TestLLMFailureDoesNotAbortEnrichment(t *testing.T) {
	client := new(mocks.MockLLMClient)
	client.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("status 500"))

	core, logs := observer.New(zapcore.WarnLevel)
	e, err := NewEnricher(zap.New(core), inference.NewLLMInferrer(client, nil, 0.1), allOptions())
	require.NoError(t, err)

	res := e.Enrich(context.Background(), scenarioFindings())

	assert.False(t, res.Aborted)
	require.Len(t, res.Failures(), 1)
	assert.Equal(t, ToolLLM, res.Failures()[0].Tool)
	assert.Len(t, res.State.Suggestions, 2, "heuristic suggestions survive")
	assert.Equal(t, 1, logs.FilterMessage("Step failed, continuing with plan.").Len())
}

func TestFoldDoesNotAliasPreviousState(t *testing.T) {
	first := foldSuggestions(State{}, []schemas.EdgeSuggestion{{Type: "A"}})
	second := foldSuggestions(first, []schemas.EdgeSuggestion{{Type: "B"}})

	assert.Len(t, first.Suggestions, 1)
	assert.Len(t, second.Suggestions, 2)
	assert.Equal(t, 1, first.BySource[""])
	assert.Equal(t, 2, second.BySource[""])
}
