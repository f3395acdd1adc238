package knowledgegraph

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vulngraph/api/schemas"
	"github.com/xkilldash9x/vulngraph/internal/observability"
)

// InMemoryGraph is an ephemeral graph store. It implements both
// GraphConnector and GraphSession and understands exactly the statements
// Repository issues, so the coordinator and the analysis queries run
// unchanged against it. Used for dry runs and tests.
type InMemoryGraph struct {
	mu    sync.RWMutex
	nodes map[schemas.NodeRef]map[string]any
	edges map[schemas.EdgeKey]map[string]any
	runs  map[string]map[string]any
	log   *zap.Logger
}

var (
	_ schemas.GraphConnector = (*InMemoryGraph)(nil)
	_ schemas.GraphSession   = (*InMemoryGraph)(nil)
)

var (
	nodeUpsertPattern = regexp.MustCompile("MERGE \\(n:`(\\w+)` \\{id: row\\.id\\}\\)")
	edgeUpsertPattern = regexp.MustCompile("MATCH \\(a:`(\\w+)` \\{id: row\\.from\\}\\)\\s+MATCH \\(b:`(\\w+)` \\{id: row\\.to\\}\\)\\s+MERGE \\(a\\)-\\[r:`(\\w+)`\\]->\\(b\\)")
)

// NewInMemoryGraph creates an empty graph.
func NewInMemoryGraph(logger *zap.Logger) *InMemoryGraph {
	return &InMemoryGraph{
		nodes: make(map[schemas.NodeRef]map[string]any),
		edges: make(map[schemas.EdgeKey]map[string]any),
		runs:  make(map[string]map[string]any),
		log:   observability.Named(logger, "memory_graph"),
	}
}

// Session returns the graph itself; every call is applied atomically.
func (g *InMemoryGraph) Session(context.Context) (schemas.GraphSession, error) {
	return g, nil
}

// Close is a no-op for both the connector and its sessions.
func (g *InMemoryGraph) Close(context.Context) error { return nil }

// Write applies a node upsert, an edge upsert, a ledger write or a schema
// statement.
func (g *InMemoryGraph) Write(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	switch {
	case strings.HasPrefix(query, "CREATE CONSTRAINT"):
		return []map[string]any{}, nil
	case query == recordIngestionRunQuery:
		return g.recordRun(params), nil
	}
	if m := edgeUpsertPattern.FindStringSubmatch(query); m != nil {
		return g.upsertEdges(schemas.NodeLabel(m[1]), schemas.NodeLabel(m[2]), schemas.RelationshipType(m[3]), params)
	}
	if m := nodeUpsertPattern.FindStringSubmatch(query); m != nil {
		return g.upsertNodes(schemas.NodeLabel(m[1]), params)
	}
	return nil, fmt.Errorf("in-memory graph does not support statement: %s", firstLine(query))
}

// Read answers the ledger lookup and the analysis queries.
func (g *InMemoryGraph) Read(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	switch query {
	case findIngestionRunQuery:
		fp, _ := params["fingerprint"].(string)
		if run, ok := g.runs[fp]; ok {
			return []map[string]any{copyProps(run)}, nil
		}
		return []map[string]any{}, nil
	case findingContextQuery:
		return limitRows(g.findingContexts(), params), nil
	case agentRelationshipQuery:
		return limitRows(g.agentRelationships(), params), nil
	case labelCountQuery:
		return g.labelCounts(), nil
	}
	return nil, fmt.Errorf("in-memory graph does not support query: %s", firstLine(query))
}

// Snapshot returns every stored node and edge in a stable order.
func (g *InMemoryGraph) Snapshot() schemas.GraphPayload {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := schemas.GraphPayload{
		Nodes: make([]schemas.Node, 0, len(g.nodes)),
		Edges: make([]schemas.Edge, 0, len(g.edges)),
	}
	for ref, props := range g.nodes {
		out.Nodes = append(out.Nodes, schemas.Node{Label: ref.Label, ID: ref.ID, Properties: copyProps(props)})
	}
	sort.Slice(out.Nodes, func(i, j int) bool {
		return out.Nodes[i].Ref().String() < out.Nodes[j].Ref().String()
	})
	for _, key := range g.sortedEdgeKeys() {
		out.Edges = append(out.Edges, schemas.Edge{
			Type:       key.Type,
			From:       schemas.NodeRef{Label: key.FromLabel, ID: key.FromID},
			To:         schemas.NodeRef{Label: key.ToLabel, ID: key.ToID},
			Properties: copyProps(g.edges[key]),
		})
	}
	return out
}

func (g *InMemoryGraph) upsertNodes(label schemas.NodeLabel, params map[string]any) ([]map[string]any, error) {
	rows, err := paramRows(params)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		id, _ := row["id"].(string)
		if id == "" {
			return nil, fmt.Errorf("node row without id for label %s", label)
		}
		ref := schemas.NodeRef{Label: label, ID: id}
		props, ok := g.nodes[ref]
		if !ok {
			props = map[string]any{"id": id}
			g.nodes[ref] = props
		}
		mergeProps(props, row["props"])
	}
	g.log.Debug("Upserted nodes.", zap.String("label", string(label)), zap.Int("count", len(rows)))
	return []map[string]any{{"written": int64(len(rows))}}, nil
}

// upsertEdges skips rows whose endpoints are missing, matching MATCH
// semantics in the real store.
func (g *InMemoryGraph) upsertEdges(from, to schemas.NodeLabel, typ schemas.RelationshipType, params map[string]any) ([]map[string]any, error) {
	rows, err := paramRows(params)
	if err != nil {
		return nil, err
	}
	written := 0
	for _, row := range rows {
		fromRef := schemas.NodeRef{Label: from, ID: fmt.Sprint(row["from"])}
		toRef := schemas.NodeRef{Label: to, ID: fmt.Sprint(row["to"])}
		if _, ok := g.nodes[fromRef]; !ok {
			continue
		}
		if _, ok := g.nodes[toRef]; !ok {
			continue
		}
		key := schemas.Edge{Type: typ, From: fromRef, To: toRef}.Key()
		props, ok := g.edges[key]
		if !ok {
			props = map[string]any{}
			g.edges[key] = props
		}
		mergeProps(props, row["props"])
		written++
	}
	return []map[string]any{{"written": int64(written)}}, nil
}

func (g *InMemoryGraph) recordRun(params map[string]any) []map[string]any {
	fp, _ := params["fingerprint"].(string)
	run, ok := g.runs[fp]
	if !ok {
		run = map[string]any{"fingerprint": fp, "created_at": params["now"]}
		g.runs[fp] = run
	}
	run["finding_count"] = toInt64(params["finding_count"])
	run["last_ingested_at"] = params["now"]
	return []map[string]any{{"fingerprint": fp}}
}

func (g *InMemoryGraph) findingContexts() []map[string]any {
	var findings []schemas.NodeRef
	for ref := range g.nodes {
		if ref.Label == schemas.LabelFinding {
			findings = append(findings, ref)
		}
	}
	sort.Slice(findings, func(i, j int) bool { return findings[i].ID < findings[j].ID })

	var rows []map[string]any
	for _, f := range findings {
		fp := g.nodes[f]
		for _, v := range g.targets(f, schemas.RelReports, schemas.LabelVulnerability) {
			vp := g.nodes[v]
			blast := int64(len(g.targets(v, schemas.RelAffects, schemas.LabelAsset)))
			assets := g.targets(f, schemas.RelFoundOn, schemas.LabelAsset)
			if len(assets) == 0 {
				assets = []schemas.NodeRef{{}}
			}
			for _, a := range assets {
				services := []schemas.NodeRef{{}}
				if a.ID != "" {
					if s := g.targets(a, schemas.RelBelongsToService, schemas.LabelService); len(s) > 0 {
						services = s
					}
				}
				for _, s := range services {
					rows = append(rows, map[string]any{
						"finding_id":       f.ID,
						"title":            fp["title"],
						"severity":         fp["severity"],
						"scanner":          fp["scanner"],
						"scan_id":          fp["scan_id"],
						"vulnerability_id": v.ID,
						"cwe_name":         vp["cwe_name"],
						"asset_id":         nilIfEmpty(a.ID),
						"service":          nilIfEmpty(s.ID),
						"blast_radius":     blast,
					})
				}
			}
		}
	}
	return rows
}

func (g *InMemoryGraph) agentRelationships() []map[string]any {
	var rows []map[string]any
	for _, key := range g.sortedEdgeKeys() {
		props := g.edges[key]
		if enriched, _ := props[schemas.PropEnriched].(bool); !enriched {
			continue
		}
		rationale := props[schemas.PropRationale]
		if rationale == nil {
			rationale = props[schemas.PropAgentRationale]
		}
		rows = append(rows, map[string]any{
			"type":       string(key.Type),
			"from_label": string(key.FromLabel),
			"from_id":    key.FromID,
			"to_label":   string(key.ToLabel),
			"to_id":      key.ToID,
			"provenance": props[schemas.PropProvenance],
			"rationale":  rationale,
		})
	}
	return rows
}

func (g *InMemoryGraph) labelCounts() []map[string]any {
	counts := make(map[schemas.NodeLabel]int64)
	for ref := range g.nodes {
		counts[ref.Label]++
	}
	labels := make([]schemas.NodeLabel, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })

	rows := make([]map[string]any, 0, len(labels))
	for _, l := range labels {
		rows = append(rows, map[string]any{"label": string(l), "count": counts[l]})
	}
	return rows
}

// targets lists the endpoints of outgoing edges of one type, by id.
func (g *InMemoryGraph) targets(from schemas.NodeRef, typ schemas.RelationshipType, label schemas.NodeLabel) []schemas.NodeRef {
	var out []schemas.NodeRef
	for key := range g.edges {
		if key.Type == typ && key.FromLabel == from.Label && key.FromID == from.ID && key.ToLabel == label {
			out = append(out, schemas.NodeRef{Label: key.ToLabel, ID: key.ToID})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// sortedEdgeKeys orders edges by type, from id, then to id.
func (g *InMemoryGraph) sortedEdgeKeys() []schemas.EdgeKey {
	keys := make([]schemas.EdgeKey, 0, len(g.edges))
	for k := range g.edges {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.FromID != b.FromID {
			return a.FromID < b.FromID
		}
		if a.ToID != b.ToID {
			return a.ToID < b.ToID
		}
		return a.FromLabel < b.FromLabel
	})
	return keys
}

func paramRows(params map[string]any) ([]map[string]any, error) {
	rows, ok := params["rows"].([]map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected $rows parameter, got %T", params["rows"])
	}
	return rows, nil
}

func mergeProps(dst map[string]any, src any) {
	props, _ := src.(map[string]any)
	for k, v := range props {
		dst[k] = v
	}
}

func copyProps(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func limitRows(rows []map[string]any, params map[string]any) []map[string]any {
	if rows == nil {
		rows = []map[string]any{}
	}
	if limit := int(toInt64(params["limit"])); limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int64:
		return x
	case int32:
		return int64(x)
	case float64:
		return int64(x)
	}
	return 0
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func firstLine(q string) string {
	if i := strings.IndexByte(q, '\n'); i >= 0 {
		return q[:i]
	}
	return q
}
