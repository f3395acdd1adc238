package merge

import (
	"strings"

	"github.com/xkilldash9x/vulngraph/api/schemas"
)

// RejectReason explains why a suggestion could not become an edge.
type RejectReason string

const (
	ReasonNone           RejectReason = ""
	ReasonEmptyType      RejectReason = "empty_type"
	ReasonUnresolvedFrom RejectReason = "unresolved_from"
	ReasonUnresolvedTo   RejectReason = "unresolved_to"
)

// Resolution is the outcome of resolving a suggestion: either Resolved with
// Edge set, or rejected with the original Suggestion and a Reason.
type Resolution struct {
	Resolved   bool
	Edge       schemas.Edge
	Suggestion schemas.EdgeSuggestion
	Reason     RejectReason
}

// NodeIndex answers endpoint lookups against a built node set.
type NodeIndex struct {
	exact   map[schemas.NodeRef]struct{}
	byLabel map[string]schemas.NodeRef
	byID    map[string]schemas.NodeRef
}

// NewNodeIndex indexes nodes. For the looser lookups the first node in input
// order wins.
func NewNodeIndex(nodes []schemas.Node) *NodeIndex {
	ix := &NodeIndex{
		exact:   make(map[schemas.NodeRef]struct{}, len(nodes)),
		byLabel: make(map[string]schemas.NodeRef, len(nodes)),
		byID:    make(map[string]schemas.NodeRef, len(nodes)),
	}
	for _, n := range nodes {
		ref := n.Ref()
		ix.exact[ref] = struct{}{}
		if k := foldKey(string(n.Label), n.ID); !ixHas(ix.byLabel, k) {
			ix.byLabel[k] = ref
		}
		if !ixHas(ix.byID, n.ID) {
			ix.byID[n.ID] = ref
		}
	}
	return ix
}

func ixHas(m map[string]schemas.NodeRef, k string) bool {
	_, ok := m[k]
	return ok
}

func foldKey(label, id string) string {
	return strings.ToLower(label) + "\x00" + id
}

// Resolve maps a loose reference to a node: exact (label, id), then
// case-insensitive label with exact id, then id alone.
func (ix *NodeIndex) Resolve(ref schemas.LooseRef) (schemas.NodeRef, bool) {
	id := strings.TrimSpace(ref.ID)
	if id == "" {
		return schemas.NodeRef{}, false
	}
	label := strings.TrimSpace(ref.Label)
	if label != "" {
		exact := schemas.NodeRef{Label: schemas.NodeLabel(label), ID: id}
		if _, ok := ix.exact[exact]; ok {
			return exact, true
		}
		if r, ok := ix.byLabel[foldKey(label, id)]; ok {
			return r, true
		}
	}
	r, ok := ix.byID[id]
	return r, ok
}

// ResolveSuggestion turns a suggestion into an edge or a rejection. It never
// fails; every input maps to exactly one of the two variants.
func (ix *NodeIndex) ResolveSuggestion(s schemas.EdgeSuggestion) Resolution {
	typ := NormalizeType(s.Type)
	if typ == "" {
		return Resolution{Suggestion: s, Reason: ReasonEmptyType}
	}
	from, ok := ix.Resolve(s.From)
	if !ok {
		return Resolution{Suggestion: s, Reason: ReasonUnresolvedFrom}
	}
	to, ok := ix.Resolve(s.To)
	if !ok {
		return Resolution{Suggestion: s, Reason: ReasonUnresolvedTo}
	}
	return Resolution{
		Resolved:   true,
		Suggestion: s,
		Edge: schemas.Edge{
			Type:       typ,
			From:       from,
			To:         to,
			Properties: copyProps(s.Properties),
			Rationale:  strings.TrimSpace(s.Rationale),
		},
	}
}

// NormalizeType upper-cases an agent supplied relationship type and replaces
// anything outside [A-Z0-9_] with an underscore.
func NormalizeType(t string) schemas.RelationshipType {
	t = strings.ToUpper(strings.TrimSpace(t))
	if t == "" {
		return ""
	}
	b := []byte(t)
	for i, c := range b {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') && c != '_' {
			b[i] = '_'
		}
	}
	return schemas.RelationshipType(b)
}

func copyProps(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+4)
	for k, v := range in {
		out[k] = v
	}
	return out
}
