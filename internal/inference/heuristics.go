// Package inference proposes relationships between findings that the base
// graph model does not capture, either by deterministic co-occurrence rules or
// by asking a language model.
package inference

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/xkilldash9x/vulngraph/api/schemas"
)

// HeuristicOptions tunes heuristic inference.
type HeuristicOptions struct {
	// MaxPairwiseGroup bounds the size of a group linked pairwise. Larger groups
	// are linked as a timestamp-ordered chain instead. Zero means unbounded.
	MaxPairwiseGroup int
}

// InferHeuristicEdges derives SHARED_SERVICE, SHARED_CVE and CO_OCCURS edges
// between findings. It is pure and total; groups of fewer than two findings
// produce nothing.
func InferHeuristicEdges(findings []schemas.Finding, opts HeuristicOptions) []schemas.EdgeSuggestion {
	var out []schemas.EdgeSuggestion

	for _, g := range groupBy(findings, func(f schemas.Finding) string { return f.Asset.Service }) {
		out = append(out, linkGroup(g, opts, func(a, b schemas.Finding) schemas.EdgeSuggestion {
			return heuristicEdge(schemas.RelSharedService, a, b,
				map[string]any{"service": g.key},
				fmt.Sprintf("Findings %s and %s both affect service %q.", a.ID, b.ID, g.key))
		})...)
	}

	for _, g := range groupBy(findings, func(f schemas.Finding) string { return f.Vulnerability.CVEID }) {
		out = append(out, linkGroup(g, opts, func(a, b schemas.Finding) schemas.EdgeSuggestion {
			return heuristicEdge(schemas.RelSharedCVE, a, b,
				map[string]any{"cve_id": g.key},
				fmt.Sprintf("Findings %s and %s report the same vulnerability %s.", a.ID, b.ID, g.key))
		})...)
	}

	for _, g := range groupBy(findings, func(f schemas.Finding) string { return f.ScanID }) {
		out = append(out, coOccurrenceChain(g)...)
	}
	return out
}

type group struct {
	key     string
	members []schemas.Finding
}

// groupBy buckets findings by a non-empty key, keeping groups in order of
// first appearance and members in input order.
func groupBy(findings []schemas.Finding, key func(schemas.Finding) string) []group {
	index := map[string]int{}
	var groups []group
	for _, f := range findings {
		k := strings.TrimSpace(key(f))
		if k == "" {
			continue
		}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, group{key: k})
		}
		groups[i].members = append(groups[i].members, f)
	}
	return groups
}

// linkGroup emits one edge per pair (lower index to higher index), or a chain
// when the group exceeds the configured bound.
func linkGroup(g group, opts HeuristicOptions, mk func(a, b schemas.Finding) schemas.EdgeSuggestion) []schemas.EdgeSuggestion {
	m := g.members
	if opts.MaxPairwiseGroup > 0 && len(m) > opts.MaxPairwiseGroup {
		ordered := sortedByTime(m)
		out := make([]schemas.EdgeSuggestion, 0, len(ordered)-1)
		for i := 1; i < len(ordered); i++ {
			if ordered[i-1].ID == ordered[i].ID {
				continue
			}
			e := mk(ordered[i-1], ordered[i])
			e.Properties["group_size"] = len(m)
			e.Properties["linked_as"] = "chain"
			out = append(out, e)
		}
		return out
	}

	var out []schemas.EdgeSuggestion
	for i := 0; i < len(m); i++ {
		for j := i + 1; j < len(m); j++ {
			if m[i].ID == m[j].ID {
				continue
			}
			out = append(out, mk(m[i], m[j]))
		}
	}
	return out
}

// coOccurrenceChain links findings of one scan in timestamp order, one edge
// per adjacent pair.
func coOccurrenceChain(g group) []schemas.EdgeSuggestion {
	ordered := sortedByTime(g.members)
	var out []schemas.EdgeSuggestion
	for i := 1; i < len(ordered); i++ {
		a, b := ordered[i-1], ordered[i]
		if a.ID == b.ID {
			continue
		}
		delta := math.Round(b.Timestamp.Sub(a.Timestamp).Minutes()*100) / 100
		out = append(out, heuristicEdge(schemas.RelCoOccurs, a, b,
			map[string]any{"scan_id": g.key, "delta_minutes": delta},
			fmt.Sprintf("Findings %s and %s were reported %.2f minutes apart in scan %s.", a.ID, b.ID, delta, g.key)))
	}
	return out
}

func sortedByTime(in []schemas.Finding) []schemas.Finding {
	out := make([]schemas.Finding, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func heuristicEdge(typ schemas.RelationshipType, a, b schemas.Finding, props map[string]any, rationale string) schemas.EdgeSuggestion {
	props[schemas.PropAgentSource] = schemas.AgentSourceHeuristic
	return schemas.EdgeSuggestion{
		Type:       string(typ),
		From:       schemas.LooseRef{Label: string(schemas.LabelFinding), ID: a.ID},
		To:         schemas.LooseRef{Label: string(schemas.LabelFinding), ID: b.ID},
		Properties: props,
		Rationale:  rationale,
	}
}
