package knowledgegraph

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/vulngraph/api/schemas"
	"github.com/xkilldash9x/vulngraph/internal/config"
	"github.com/xkilldash9x/vulngraph/internal/mocks"
)

func queryContains(fragment string) interface{} {
	return mock.MatchedBy(func(q string) bool { return strings.Contains(q, fragment) })
}

// -- Identifiers --

func TestQuoteIdentifier(t *testing.T) {
	q, err := QuoteIdentifier("SHARED_CVE")
	require.NoError(t, err)
	assert.Equal(t, "`SHARED_CVE`", q)

	for _, bad := range []string{"", "a b", "x`) DETACH DELETE n //", "1ABC", "-"} {
		_, err := QuoteIdentifier(bad)
		assert.Error(t, err, bad)
	}
}

func TestEdgeUpsertQueryShape(t *testing.T) {
	q, err := edgeUpsertQuery("REPORTS", "Finding", "Vulnerability")
	require.NoError(t, err)
	assert.Contains(t, q, "MATCH (a:`Finding` {id: row.from})")
	assert.Contains(t, q, "MATCH (b:`Vulnerability` {id: row.to})")
	assert.Contains(t, q, "MERGE (a)-[r:`REPORTS`]->(b)")
	assert.Contains(t, q, "SET r += row.props")

	_, err = edgeUpsertQuery("BAD TYPE", "Finding", "Vulnerability")
	assert.Error(t, err)
}

// -- Sanitizer --

type severityLike string

func TestSanitizeProperties(t *testing.T) {
	var nilPtr *string
	var nilMap map[string]any
	ts := time.Date(2025, 10, 26, 10, 0, 0, 0, time.FixedZone("X", 3600))
	s := "ptr"

	got := SanitizeProperties(map[string]any{
		"keep":     "v",
		"nil":      nil,
		"nil_ptr":  nilPtr,
		"nil_map":  nilMap,
		"ptr":      &s,
		"int":      3,
		"float":    1.5,
		"bool":     false,
		"time":     ts,
		"duration": 90 * time.Second,
		"typed":    severityLike("HIGH"),
		"nested":   map[string]any{"a": 1},
		"strings":  []string{"a", "b"},
		"mixed":    []any{"a", nil, 2},
		"numbers":  []any{1, nil, 2},
		"floats":   []any{1.5, float32(2)},
		"objects":  []any{map[string]any{"a": 1}},
		"":         "empty key",
	})

	assert.Equal(t, map[string]any{
		"keep":     "v",
		"ptr":      "ptr",
		"int":      3,
		"float":    1.5,
		"bool":     false,
		"time":     "2025-10-26T09:00:00Z",
		"duration": "1m30s",
		"typed":    "HIGH",
		"nested":   `{"a":1}`,
		"strings":  []string{"a", "b"},
		"mixed":    `["a",2]`,
		"numbers":  []any{1, 2},
		"floats":   []any{1.5, float32(2)},
		"objects":  `[{"a":1}]`,
	}, got)
}

func TestSanitizePropertiesEncodesMixedKindLists(t *testing.T) {
	got := SanitizeProperties(map[string]any{
		"tags":      []any{"a", 1.0, true},
		"ids":       []any{"CVE-1", 3},
		"int_float": []any{1, 2.5},
		"same":      []any{"x", severityLike("y")},
	})

	assert.Equal(t, `["a",1,true]`, got["tags"])
	assert.Equal(t, `["CVE-1",3]`, got["ids"])
	assert.Equal(t, `[1,2.5]`, got["int_float"])
	assert.Equal(t, []any{"x", "y"}, got["same"])
}

func TestSanitizePropertiesNeverReturnsNil(t *testing.T) {
	assert.NotNil(t, SanitizeProperties(nil))
}

// -- Repository writes --

func TestUpsertNodesGroupsByLabelInOrder(t *testing.T) {
	ctx := context.Background()
	session := new(mocks.MockGraphSession)

	var order []string
	session.On("Write", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			q := args.String(1)
			order = append(order, q[strings.Index(q, "`"):strings.LastIndex(q, "`")+1])
			rows := args.Get(2).(map[string]any)["rows"].([]map[string]any)
			for _, r := range rows {
				assert.NotContains(t, r["props"], "dropped")
			}
		}).
		Return([]map[string]any{}, nil)

	repo := NewRepository(session, zap.NewNop())
	n, err := repo.UpsertNodes(ctx, []schemas.Node{
		{Label: schemas.LabelVulnerability, ID: "CVE-1", Properties: map[string]any{"dropped": nil}},
		{Label: schemas.LabelFinding, ID: "FG-1"},
		{Label: schemas.LabelAsset, ID: "image:a"},
		{Label: schemas.LabelFinding, ID: "FG-2"},
	})

	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"`Asset`", "`Finding`", "`Vulnerability`"}, order)
	session.AssertNumberOfCalls(t, "Write", 3)
}

func TestUpsertNodesStopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	session := new(mocks.MockGraphSession)
	session.On("Write", ctx, queryContains("`Asset`"), mock.Anything).Return(nil, errors.New("boom"))

	repo := NewRepository(session, nil)
	n, err := repo.UpsertNodes(ctx, []schemas.Node{
		{Label: schemas.LabelAsset, ID: "a"},
		{Label: schemas.LabelFinding, ID: "f"},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Asset")
	assert.Equal(t, 0, n)
	session.AssertNumberOfCalls(t, "Write", 1)
}

func TestUpsertEdgesGroupsAndStoresRationale(t *testing.T) {
	ctx := context.Background()
	session := new(mocks.MockGraphSession)

	var captured []map[string]any
	session.On("Write", ctx, queryContains("`SHARED_CVE`"), mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(2).(map[string]any)["rows"].([]map[string]any)
		}).
		Return([]map[string]any{}, nil)
	session.On("Write", ctx, queryContains("`REPORTS`"), mock.Anything).Return([]map[string]any{}, nil)

	fg1 := schemas.NodeRef{Label: schemas.LabelFinding, ID: "FG-1"}
	fg2 := schemas.NodeRef{Label: schemas.LabelFinding, ID: "FG-2"}
	v := schemas.NodeRef{Label: schemas.LabelVulnerability, ID: "CVE-1"}

	repo := NewRepository(session, nil)
	n, err := repo.UpsertEdges(ctx, []schemas.Edge{
		{Type: schemas.RelReports, From: fg1, To: v, Properties: map[string]any{"provenance": "base"}},
		{Type: schemas.RelSharedCVE, From: fg1, To: fg2, Properties: map[string]any{"provenance": "agent_heuristic"}, Rationale: "same cve"},
		{Type: schemas.RelReports, From: fg2, To: v},
	})

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	session.AssertNumberOfCalls(t, "Write", 2)
	require.Len(t, captured, 1)
	assert.Equal(t, "FG-1", captured[0]["from"])
	assert.Equal(t, "FG-2", captured[0]["to"])
	assert.Equal(t, map[string]any{"provenance": "agent_heuristic", "rationale": "same cve"}, captured[0]["props"])
}

func TestEnsureSchemaIsBestEffort(t *testing.T) {
	ctx := context.Background()
	session := new(mocks.MockGraphSession)
	session.On("Write", ctx, queryContains("IngestionRun"), mock.Anything).Return(nil, errors.New("no permission"))
	session.On("Write", ctx, mock.AnythingOfType("string"), mock.Anything).Return([]map[string]any{}, nil)

	core, logs := observer.New(zapcore.WarnLevel)
	NewRepository(session, zap.New(core)).EnsureSchema(ctx)

	session.AssertNumberOfCalls(t, "Write", len(schemas.NodeLabels)+1)
	assert.Equal(t, 1, logs.FilterMessage("Schema statement failed, continuing.").Len())
}

// -- Ingestion ledger --

func TestFindIngestionRun(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2025, 10, 26, 10, 0, 0, 0, time.UTC)

	session := new(mocks.MockGraphSession)
	session.On("Read", ctx, findIngestionRunQuery, map[string]any{"fingerprint": "abc"}).
		Return([]map[string]any{{
			"fingerprint":      "abc",
			"finding_count":    int64(2),
			"created_at":       created.Format(time.RFC3339Nano),
			"last_ingested_at": created.Add(time.Hour).Format(time.RFC3339Nano),
		}}, nil)
	session.On("Read", ctx, findIngestionRunQuery, map[string]any{"fingerprint": "missing"}).
		Return([]map[string]any{}, nil)

	repo := NewRepository(session, nil)

	run, found, err := repo.FindIngestionRun(ctx, "abc")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, run.FindingCount)
	assert.True(t, run.CreatedAt.Equal(created))
	assert.True(t, run.LastIngestedAt.Equal(created.Add(time.Hour)))

	_, found, err = repo.FindIngestionRun(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRecordIngestionRun(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 10, 26, 10, 0, 0, 0, time.UTC)

	session := new(mocks.MockGraphSession)
	session.On("Write", ctx, recordIngestionRunQuery, map[string]any{
		"fingerprint":   "abc",
		"finding_count": 2,
		"now":           "2025-10-26T10:00:00Z",
	}).Return([]map[string]any{{"fingerprint": "abc"}}, nil)

	require.NoError(t, NewRepository(session, nil).RecordIngestionRun(ctx, "abc", 2, now))
	session.AssertExpectations(t)
}

// -- Read queries --

func TestFindingContextsDecodesRows(t *testing.T) {
	ctx := context.Background()
	session := new(mocks.MockGraphSession)
	session.On("Read", ctx, findingContextQuery, map[string]any{"limit": 10}).
		Return([]map[string]any{{
			"finding_id":       "FG-1",
			"title":            "RCE",
			"severity":         "CRITICAL",
			"vulnerability_id": "CVE-1",
			"asset_id":         "image:a",
			"service":          nil,
			"blast_radius":     int64(3),
		}}, nil)

	got, err := NewRepository(session, nil).FindingContexts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, FindingContext{
		FindingID: "FG-1", Title: "RCE", Severity: schemas.SeverityCritical,
		VulnerabilityID: "CVE-1", AssetID: "image:a", BlastRadius: 3,
	}, got[0])
}

func TestAgentRelationshipsAndLabelCounts(t *testing.T) {
	ctx := context.Background()
	session := new(mocks.MockGraphSession)
	session.On("Read", ctx, agentRelationshipQuery, map[string]any{"limit": 5}).
		Return([]map[string]any{{
			"type": "SHARED_CVE", "from_label": "Finding", "from_id": "FG-1",
			"to_label": "Finding", "to_id": "FG-2", "provenance": "agent_heuristic", "rationale": "same cve",
		}}, nil)
	session.On("Read", ctx, labelCountQuery, map[string]any(nil)).
		Return([]map[string]any{{"label": "Finding", "count": int64(2)}}, nil)

	repo := NewRepository(session, nil)
	rels, err := repo.AgentRelationships(ctx, 5)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, schemas.NodeRef{Label: schemas.LabelFinding, ID: "FG-2"}, rels[0].To)

	counts, err := repo.LabelCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Finding": 2}, counts)
}

// -- Connector --

func TestConnectorSurfacesDriverErrorsAndCloses(t *testing.T) {
	ctx := context.Background()
	c := NewNeo4jConnector(config.GraphConfig{URI: "neo4j://localhost:7687"}, nil)
	c.factory = func(config.GraphConfig) (neo4j.DriverWithContext, error) {
		return nil, errors.New("bad uri")
	}

	_, err := c.Session(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create neo4j driver")

	require.NoError(t, c.Close(ctx))
	require.NoError(t, c.Close(ctx))

	_, err = c.Session(ctx)
	assert.ErrorIs(t, err, ErrConnectorClosed)
}
