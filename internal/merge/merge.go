// Package merge combines base edges with agent suggestions into one
// deduplicated edge set in which every edge carries explicit provenance.
package merge

import (
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vulngraph/api/schemas"
	"github.com/xkilldash9x/vulngraph/internal/observability"
)

// Result is the merged edge set and its bookkeeping.
type Result struct {
	Edges []schemas.Edge
	// BaseCount and AgentCount split Edges by provenance.
	BaseCount  int
	AgentCount int
	// Duplicates is the number of edges collapsed onto an earlier one.
	Duplicates int
	// EnrichedBase counts base edges that picked up agent metadata.
	EnrichedBase int
	// Dropped holds the suggestions whose endpoints or type did not resolve.
	Dropped []Resolution
	// Applied lists the agent edges that survived as edges of their own.
	Applied []schemas.AppliedRelationship
}

// Merger merges edges.
type Merger struct {
	logger *zap.Logger
}

// NewMerger creates a Merger.
func NewMerger(logger *zap.Logger) *Merger {
	return &Merger{logger: observability.Named(logger, "edge_merge")}
}

// Merge resolves suggestions against nodes and deduplicates them together with
// base on (type, from.label, from.id, to.label, to.id). The first edge with a
// key wins and keeps its properties. A later agent duplicate of a base edge
// only adds enrichment markers to it.
func (m *Merger) Merge(nodes []schemas.Node, base []schemas.Edge, suggestions []schemas.EdgeSuggestion) Result {
	var res Result
	index := make(map[schemas.EdgeKey]int, len(base)+len(suggestions))

	for _, e := range base {
		e.Properties = copyProps(e.Properties)
		e.Properties[schemas.PropProvenance] = schemas.ProvenanceBase
		e.Properties[schemas.PropEnriched] = false
		if _, dup := index[e.Key()]; dup {
			res.Duplicates++
			continue
		}
		index[e.Key()] = len(res.Edges)
		res.Edges = append(res.Edges, e)
	}

	nodeIndex := NewNodeIndex(nodes)
	for _, s := range suggestions {
		r := nodeIndex.ResolveSuggestion(s)
		if !r.Resolved {
			res.Dropped = append(res.Dropped, r)
			continue
		}
		e := r.Edge
		provenance := agentProvenance(e.Properties)
		e.Properties[schemas.PropProvenance] = provenance
		e.Properties[schemas.PropEnriched] = true

		if i, dup := index[e.Key()]; dup {
			res.Duplicates++
			if m.enrichExisting(&res.Edges[i], e, provenance) {
				res.EnrichedBase++
			}
			continue
		}
		index[e.Key()] = len(res.Edges)
		res.Edges = append(res.Edges, e)
	}

	for _, e := range res.Edges {
		if e.Properties[schemas.PropProvenance] == schemas.ProvenanceBase {
			res.BaseCount++
			continue
		}
		res.AgentCount++
		res.Applied = append(res.Applied, schemas.AppliedRelationship{
			Type:       e.Type,
			From:       e.From,
			To:         e.To,
			Provenance: e.Properties[schemas.PropProvenance].(string),
			Rationale:  e.Rationale,
		})
	}

	if len(res.Dropped) > 0 {
		reasons := map[RejectReason]int{}
		for _, d := range res.Dropped {
			reasons[d.Reason]++
		}
		m.logger.Warn("Dropped agent suggestions that reference unknown nodes.",
			zap.Int("dropped", len(res.Dropped)),
			zap.Int("unresolved_from", reasons[ReasonUnresolvedFrom]),
			zap.Int("unresolved_to", reasons[ReasonUnresolvedTo]),
			zap.Int("empty_type", reasons[ReasonEmptyType]))
	}
	m.logger.Debug("Merged edges.",
		zap.Int("base", res.BaseCount),
		zap.Int("agent", res.AgentCount),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("enriched_base", res.EnrichedBase))
	return res
}

// enrichExisting attaches agent metadata to a surviving base edge. Agent
// duplicates of agent edges change nothing.
func (m *Merger) enrichExisting(existing *schemas.Edge, agentEdge schemas.Edge, provenance string) bool {
	if existing.Properties[schemas.PropProvenance] != schemas.ProvenanceBase {
		return false
	}
	existing.Properties[schemas.PropEnriched] = true
	existing.Properties[schemas.PropEnrichmentProvenance] = provenance
	if src, ok := agentEdge.Properties[schemas.PropAgentSource]; ok {
		if _, has := existing.Properties[schemas.PropAgentSource]; !has {
			existing.Properties[schemas.PropAgentSource] = src
		}
	}
	if agentEdge.Rationale != "" {
		existing.Properties[schemas.PropAgentRationale] = agentEdge.Rationale
		if existing.Rationale == "" {
			existing.Rationale = agentEdge.Rationale
		}
	}
	return true
}

// agentProvenance keeps an agent-prefixed provenance supplied with the
// suggestion and otherwise derives one from agent_source.
func agentProvenance(props map[string]any) string {
	if p, ok := props[schemas.PropProvenance].(string); ok {
		p = strings.TrimSpace(p)
		if p == schemas.ProvenanceAgent || strings.HasPrefix(p, schemas.ProvenanceAgent+"_") {
			return p
		}
	}
	src, _ := props[schemas.PropAgentSource].(string)
	switch strings.ToLower(strings.TrimSpace(src)) {
	case schemas.AgentSourceHeuristic:
		return schemas.ProvenanceAgentHeuristic
	case schemas.AgentSourceLLM:
		return schemas.ProvenanceAgentLLM
	default:
		return schemas.ProvenanceAgent
	}
}
