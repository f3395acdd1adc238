// Package knowledgegraph is the graph store adapter. It owns the Neo4j
// connection and the Cypher used to upsert nodes and edges, keep the
// ingestion ledger, and answer read queries for analysis.
package knowledgegraph

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vulngraph/api/schemas"
	"github.com/xkilldash9x/vulngraph/internal/observability"
)

// Repository runs graph queries on a single session. It does not own the
// session; the caller opens and closes it.
type Repository struct {
	session schemas.GraphSession
	logger  *zap.Logger
}

// NewRepository wraps session.
func NewRepository(session schemas.GraphSession, logger *zap.Logger) *Repository {
	return &Repository{session: session, logger: observability.Named(logger, "graph_repository")}
}

// EnsureSchema creates uniqueness constraints for every node label and the
// ingestion ledger. Failures are logged and skipped.
func (r *Repository) EnsureSchema(ctx context.Context) {
	stmts := []string{ingestionRunConstraint}
	for _, label := range schemas.NodeLabels {
		q, err := constraintQuery(string(label))
		if err != nil {
			continue
		}
		stmts = append(stmts, q)
	}
	for _, q := range stmts {
		if _, err := r.session.Write(ctx, q, nil); err != nil {
			r.logger.Warn("Schema statement failed, continuing.", zap.String("statement", q), zap.Error(err))
		}
	}
}

// UpsertNodes merges nodes by id, one write per label in label order.
// Properties are sanitized and then overwrite the stored ones. The first
// failing write stops the remaining ones.
func (r *Repository) UpsertNodes(ctx context.Context, nodes []schemas.Node) (int, error) {
	groups := make(map[schemas.NodeLabel][]map[string]any)
	for _, n := range nodes {
		groups[n.Label] = append(groups[n.Label], map[string]any{
			"id":    n.ID,
			"props": SanitizeProperties(n.Properties),
		})
	}

	labels := make([]schemas.NodeLabel, 0, len(groups))
	for l := range groups {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })

	written := 0
	for _, label := range labels {
		rows := groups[label]
		q, err := nodeUpsertQuery(string(label))
		if err != nil {
			return written, err
		}
		if _, err := r.session.Write(ctx, q, map[string]any{"rows": rows}); err != nil {
			return written, fmt.Errorf("failed to upsert %s nodes: %w", label, err)
		}
		written += len(rows)
		r.logger.Debug("Upserted nodes.", zap.String("label", string(label)), zap.Int("count", len(rows)))
	}
	return written, nil
}

type edgeGroup struct {
	Type      schemas.RelationshipType
	FromLabel schemas.NodeLabel
	ToLabel   schemas.NodeLabel
}

func (g edgeGroup) less(o edgeGroup) bool {
	if g.Type != o.Type {
		return g.Type < o.Type
	}
	if g.FromLabel != o.FromLabel {
		return g.FromLabel < o.FromLabel
	}
	return g.ToLabel < o.ToLabel
}

// UpsertEdges merges edges between existing endpoints, one write per
// (type, from label, to label) group. A non-empty rationale is stored as the
// rationale property.
func (r *Repository) UpsertEdges(ctx context.Context, edges []schemas.Edge) (int, error) {
	groups := make(map[edgeGroup][]map[string]any)
	for _, e := range edges {
		props := SanitizeProperties(e.Properties)
		if e.Rationale != "" {
			props[schemas.PropRationale] = e.Rationale
		}
		g := edgeGroup{Type: e.Type, FromLabel: e.From.Label, ToLabel: e.To.Label}
		groups[g] = append(groups[g], map[string]any{
			"from":  e.From.ID,
			"to":    e.To.ID,
			"props": props,
		})
	}

	keys := make([]edgeGroup, 0, len(groups))
	for g := range groups {
		keys = append(keys, g)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })

	written := 0
	for _, g := range keys {
		rows := groups[g]
		q, err := edgeUpsertQuery(string(g.Type), string(g.FromLabel), string(g.ToLabel))
		if err != nil {
			return written, err
		}
		if _, err := r.session.Write(ctx, q, map[string]any{"rows": rows}); err != nil {
			return written, fmt.Errorf("failed to upsert %s edges (%s->%s): %w", g.Type, g.FromLabel, g.ToLabel, err)
		}
		written += len(rows)
		r.logger.Debug("Upserted edges.",
			zap.String("type", string(g.Type)),
			zap.String("from", string(g.FromLabel)),
			zap.String("to", string(g.ToLabel)),
			zap.Int("count", len(rows)))
	}
	return written, nil
}

// FindIngestionRun looks up the ledger entry for fingerprint.
func (r *Repository) FindIngestionRun(ctx context.Context, fingerprint string) (schemas.IngestionRun, bool, error) {
	rows, err := r.session.Read(ctx, findIngestionRunQuery, map[string]any{"fingerprint": fingerprint})
	if err != nil {
		return schemas.IngestionRun{}, false, fmt.Errorf("failed to look up ingestion run: %w", err)
	}
	if len(rows) == 0 {
		return schemas.IngestionRun{}, false, nil
	}
	row := rows[0]
	return schemas.IngestionRun{
		Fingerprint:    asString(row["fingerprint"]),
		FindingCount:   asInt(row["finding_count"]),
		CreatedAt:      asTime(row["created_at"]),
		LastIngestedAt: asTime(row["last_ingested_at"]),
	}, true, nil
}

// RecordIngestionRun creates or refreshes the ledger entry for fingerprint.
func (r *Repository) RecordIngestionRun(ctx context.Context, fingerprint string, findingCount int, now time.Time) error {
	_, err := r.session.Write(ctx, recordIngestionRunQuery, map[string]any{
		"fingerprint":   fingerprint,
		"finding_count": findingCount,
		"now":           now.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to record ingestion run: %w", err)
	}
	return nil
}

// FindingContext is one finding with its vulnerability, asset and the
// vulnerability's blast radius.
type FindingContext struct {
	FindingID       string
	Title           string
	Severity        schemas.Severity
	Scanner         string
	ScanID          string
	VulnerabilityID string
	CWEName         string
	AssetID         string
	Service         string
	BlastRadius     int
}

// FindingContexts returns up to limit findings in id order.
func (r *Repository) FindingContexts(ctx context.Context, limit int) ([]FindingContext, error) {
	rows, err := r.session.Read(ctx, findingContextQuery, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("failed to read finding context: %w", err)
	}
	out := make([]FindingContext, 0, len(rows))
	for _, row := range rows {
		out = append(out, FindingContext{
			FindingID:       asString(row["finding_id"]),
			Title:           asString(row["title"]),
			Severity:        schemas.Severity(asString(row["severity"])),
			Scanner:         asString(row["scanner"]),
			ScanID:          asString(row["scan_id"]),
			VulnerabilityID: asString(row["vulnerability_id"]),
			CWEName:         asString(row["cwe_name"]),
			AssetID:         asString(row["asset_id"]),
			Service:         asString(row["service"]),
			BlastRadius:     asInt(row["blast_radius"]),
		})
	}
	return out, nil
}

// StoredRelationship is an enriched edge as read back from the store.
type StoredRelationship struct {
	Type       string
	From       schemas.NodeRef
	To         schemas.NodeRef
	Provenance string
	Rationale  string
}

// AgentRelationships returns up to limit edges carrying enrichment.
func (r *Repository) AgentRelationships(ctx context.Context, limit int) ([]StoredRelationship, error) {
	rows, err := r.session.Read(ctx, agentRelationshipQuery, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("failed to read agent relationships: %w", err)
	}
	out := make([]StoredRelationship, 0, len(rows))
	for _, row := range rows {
		out = append(out, StoredRelationship{
			Type:       asString(row["type"]),
			From:       schemas.NodeRef{Label: schemas.NodeLabel(asString(row["from_label"])), ID: asString(row["from_id"])},
			To:         schemas.NodeRef{Label: schemas.NodeLabel(asString(row["to_label"])), ID: asString(row["to_id"])},
			Provenance: asString(row["provenance"]),
			Rationale:  asString(row["rationale"]),
		})
	}
	return out, nil
}

// LabelCounts returns the number of stored nodes per label.
func (r *Repository) LabelCounts(ctx context.Context) (map[string]int, error) {
	rows, err := r.session.Read(ctx, labelCountQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to count nodes: %w", err)
	}
	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[asString(row["label"])] = asInt(row["count"])
	}
	return out, nil
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func asInt(v any) int {
	switch x := v.(type) {
	case int64:
		return int(x)
	case int:
		return x
	case int32:
		return int(x)
	case float64:
		return int(x)
	default:
		return 0
	}
}

func asTime(v any) time.Time {
	switch x := v.(type) {
	case time.Time:
		return x
	case string:
		t, err := time.Parse(time.RFC3339Nano, x)
		if err == nil {
			return t
		}
	}
	return time.Time{}
}
