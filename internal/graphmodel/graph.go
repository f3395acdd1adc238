package graphmodel

import "github.com/xkilldash9x/vulngraph/api/schemas"

// graph accumulates nodes in first-seen order and edges in emission order.
type graph struct {
	index map[schemas.NodeRef]int
	nodes []schemas.Node
	edges []schemas.Edge
}

func newGraph() *graph {
	return &graph{index: make(map[schemas.NodeRef]int)}
}

// node registers (label, id) and shallow-merges props into any existing node.
// Missing values (nil or empty string) never overwrite a present one. An empty
// id yields the zero NodeRef and no node.
func (g *graph) node(label schemas.NodeLabel, id string, props map[string]any) schemas.NodeRef {
	if id == "" {
		return schemas.NodeRef{}
	}
	ref := schemas.NodeRef{Label: label, ID: id}
	i, ok := g.index[ref]
	if !ok {
		g.index[ref] = len(g.nodes)
		g.nodes = append(g.nodes, schemas.Node{Label: label, ID: id, Properties: map[string]any{}})
		i = len(g.nodes) - 1
	}
	dst := g.nodes[i].Properties
	for k, v := range props {
		if isMissing(v) {
			continue
		}
		dst[k] = v
	}
	return ref
}

// edge appends an edge unless either endpoint was never created.
func (g *graph) edge(typ schemas.RelationshipType, from, to schemas.NodeRef) {
	if from.ID == "" || to.ID == "" {
		return
	}
	g.edges = append(g.edges, schemas.Edge{Type: typ, From: from, To: to})
}

func isMissing(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	}
	return false
}
