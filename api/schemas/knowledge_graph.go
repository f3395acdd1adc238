package schemas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// -- Canonical Knowledge Graph Data Model --

// NodeLabel is the label of an entity (node) in the vulnerability graph.
type NodeLabel string

const (
	LabelFinding       NodeLabel = "Finding"
	LabelScan          NodeLabel = "Scan"
	LabelScanner       NodeLabel = "Scanner"
	LabelVulnerability NodeLabel = "Vulnerability"
	LabelAsset         NodeLabel = "Asset"
	LabelService       NodeLabel = "Service"
	LabelCluster       NodeLabel = "Cluster"
	LabelRegistry      NodeLabel = "Registry"
	LabelRepository    NodeLabel = "Repository"
	LabelSourceFile    NodeLabel = "SourceFile"
	LabelPackage       NodeLabel = "Package"
)

// NodeLabels is the fixed label vocabulary, in the order the schema is created.
var NodeLabels = []NodeLabel{
	LabelFinding, LabelScan, LabelScanner, LabelVulnerability, LabelAsset,
	LabelService, LabelCluster, LabelRegistry, LabelRepository, LabelSourceFile,
	LabelPackage,
}

// RelationshipType defines the semantic type of a relationship (edge) between
// two nodes in the graph.
type RelationshipType string

const (
	RelReports          RelationshipType = "REPORTS"            // Finding -> Vulnerability
	RelFoundOn          RelationshipType = "FOUND_ON"           // Finding -> Asset
	RelGeneratedBy      RelationshipType = "GENERATED_BY"       // Finding -> Scanner
	RelPartOfScan       RelationshipType = "PART_OF_SCAN"       // Finding -> Scan
	RelScannedBy        RelationshipType = "SCANNED_BY"         // Scan -> Scanner
	RelAffects          RelationshipType = "AFFECTS"            // Vulnerability -> Asset
	RelBelongsToService RelationshipType = "BELONGS_TO_SERVICE" // Asset -> Service
	RelImpactsService   RelationshipType = "IMPACTS_SERVICE"    // Vulnerability -> Service
	RelDeployedOn       RelationshipType = "DEPLOYED_ON"        // Asset -> Cluster
	RelPublishedTo      RelationshipType = "PUBLISHED_TO"       // Asset -> Registry
	RelTrackedIn        RelationshipType = "TRACKED_IN"         // Asset -> Repository
	RelContainsFile     RelationshipType = "CONTAINS_FILE"      // Asset -> SourceFile
	RelUsesPackage      RelationshipType = "USES_PACKAGE"       // Asset -> Package
	RelAssociatedWith   RelationshipType = "ASSOCIATED_WITH"    // Package -> Vulnerability

	// Inferred by heuristics, Finding -> Finding.
	RelSharedService RelationshipType = "SHARED_SERVICE"
	RelSharedCVE     RelationshipType = "SHARED_CVE"
	RelCoOccurs      RelationshipType = "CO_OCCURS"
)

// Provenance values stamped on every persisted edge.
const (
	ProvenanceBase           = "base"
	ProvenanceAgent          = "agent"
	ProvenanceAgentHeuristic = "agent_heuristic"
	ProvenanceAgentLLM       = "agent_llm"
)

// Agent source markers carried by inferred edges.
const (
	AgentSourceHeuristic = "heuristic"
	AgentSourceLLM       = "llm"
)

// Well known edge property keys.
const (
	PropProvenance           = "provenance"
	PropEnriched             = "enriched"
	PropAgentSource          = "agent_source"
	PropRationale            = "rationale"
	PropAgentRationale       = "agent_rationale"
	PropEnrichmentProvenance = "enrichment_provenance"
)

// NodeRef identifies a node by its (label, id) pair.
type NodeRef struct {
	Label NodeLabel `json:"label"`
	ID    string    `json:"id"`
}

// String renders the reference as `Label:id`.
func (r NodeRef) String() string {
	return fmt.Sprintf("%s:%s", r.Label, r.ID)
}

// Node is a single entity in the graph. The (Label, ID) pair is unique within
// one build.
type Node struct {
	Label      NodeLabel      `json:"label"`
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
}

// Ref returns the node's identity.
func (n Node) Ref() NodeRef {
	return NodeRef{Label: n.Label, ID: n.ID}
}

// Edge is a directed, typed relationship between two node references.
type Edge struct {
	Type       RelationshipType `json:"type"`
	From       NodeRef          `json:"from"`
	To         NodeRef          `json:"to"`
	Properties map[string]any   `json:"properties,omitempty"`
	Rationale  string           `json:"rationale,omitempty"`
}

// EdgeKey is the identity used for edge deduplication.
type EdgeKey struct {
	Type      RelationshipType
	FromLabel NodeLabel
	FromID    string
	ToLabel   NodeLabel
	ToID      string
}

// Key returns the dedup key of the edge. Comparison is case-sensitive.
func (e Edge) Key() EdgeKey {
	return EdgeKey{
		Type:      e.Type,
		FromLabel: e.From.Label,
		FromID:    e.From.ID,
		ToLabel:   e.To.Label,
		ToID:      e.To.ID,
	}
}

// GraphPayload is the result of building a graph from a findings batch.
type GraphPayload struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// -- Agent Suggestions --

// LooseRef is an endpoint reference as an agent expresses it: the label may be
// in any casing or missing entirely. In JSON it is either an object
// `{"label": "...", "id": "..."}` or a bare id string.
type LooseRef struct {
	Label string `json:"label,omitempty"`
	ID    string `json:"id"`
}

// UnmarshalJSON accepts both the object and bare-string forms.
func (r *LooseRef) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var id string
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return err
		}
		*r = LooseRef{ID: id}
		return nil
	}
	type plain LooseRef
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	*r = LooseRef(p)
	return nil
}

// IsZero reports whether the reference carries no id.
func (r LooseRef) IsZero() bool {
	return strings.TrimSpace(r.ID) == ""
}

// EdgeSuggestion is an edge proposed by an enrichment agent whose endpoints
// have not been resolved against the built node set.
type EdgeSuggestion struct {
	Type       string         `json:"type"`
	From       LooseRef       `json:"from"`
	To         LooseRef       `json:"to"`
	Properties map[string]any `json:"properties,omitempty"`
	Rationale  string         `json:"rationale,omitempty"`
}

// AgentSource returns the agent_source property, if any.
func (s EdgeSuggestion) AgentSource() string {
	if v, ok := s.Properties[PropAgentSource].(string); ok {
		return v
	}
	return ""
}
