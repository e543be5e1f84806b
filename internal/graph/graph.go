package graph

import (
	"fmt"
)

type UnresolvedReason string

const (
	ReasonUnknownID     UnresolvedReason = "unknown_id"
	ReasonSelfReference UnresolvedReason = "self_reference"
)

// Edge is a reference from a calculation to one of its dependencies.
type Edge struct {
	From string
	To   string
}

// UnresolvedReference is a reference that could not be linked to a node.
type UnresolvedReference struct {
	From   string
	Target string
	Reason UnresolvedReason
}

// ReferenceExtractor finds the calculation ids referenced by a formula.
// Ids present in the text but absent from known are returned as unknown.
type ReferenceExtractor interface {
	Extract(expr string, known map[string]bool) (deps []string, unknown []string)
}

// Graph holds calculations and their reference edges.
type Graph struct {
	Nodes      map[string]*Node
	Edges      []Edge
	Unresolved []UnresolvedReference

	// insertion order, for deterministic iteration
	order []string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes: make(map[string]*Node),
		Edges: []Edge{},
	}
}

// AddNode registers a calculation. Ids must be unique within a run.
func (g *Graph) AddNode(n *Node) error {
	if n == nil {
		return nil
	}
	if n.ID == "" {
		return fmt.Errorf("calculation with caption %q has no id", n.Caption)
	}
	if _, ok := g.Nodes[n.ID]; ok {
		return fmt.Errorf("duplicate calculation id %s", n.ID)
	}
	g.Nodes[n.ID] = n
	g.order = append(g.order, n.ID)
	return nil
}

// IDs returns node ids in insertion order.
func (g *Graph) IDs() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Node returns the node for id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.Nodes[id]
	return n, ok
}

// LinkReferences populates DependencyIDs and Edges for every node from its
// source expression. Unknown and self references are recorded as unresolved
// and surfaced as node diagnostics; they never become edges.
func (g *Graph) LinkReferences(ex ReferenceExtractor) {
	g.Edges = []Edge{}
	g.Unresolved = nil

	known := make(map[string]bool, len(g.Nodes))
	for id := range g.Nodes {
		known[id] = true
	}

	for _, id := range g.order {
		node := g.Nodes[id]
		node.DependencyIDs = nil

		deps, unknown := ex.Extract(node.SourceExpression, known)
		for _, target := range unknown {
			g.Unresolved = append(g.Unresolved, UnresolvedReference{From: id, Target: target, Reason: ReasonUnknownID})
			node.AddDiagnostic((&UnresolvedReferenceWarning{From: id, Target: target}).Diagnostic())
		}
		for _, dep := range deps {
			if dep == id {
				g.Unresolved = append(g.Unresolved, UnresolvedReference{From: id, Target: dep, Reason: ReasonSelfReference})
				node.AddDiagnostic(Diagnostic{
					Code:     CodeSelfReference,
					Severity: SeverityWarning,
					NodeID:   id,
					Related:  []string{id},
					Message:  fmt.Sprintf("calculation %s references itself; reference ignored", id),
				})
				continue
			}
			node.DependencyIDs = append(node.DependencyIDs, dep)
			g.Edges = append(g.Edges, Edge{From: id, To: dep})
		}
	}
}

// GetDependencies returns the nodes id depends on, in reference order.
func (g *Graph) GetDependencies(id string) []*Node {
	node, ok := g.Nodes[id]
	if !ok {
		return nil
	}
	deps := make([]*Node, 0, len(node.DependencyIDs))
	for _, depID := range node.DependencyIDs {
		if dep, ok := g.Nodes[depID]; ok {
			deps = append(deps, dep)
		}
	}
	return deps
}

// GetDependents returns all nodes that reference the given node.
func (g *Graph) GetDependents(id string) []*Node {
	var deps []*Node
	for _, edge := range g.Edges {
		if edge.To == id {
			if node, ok := g.Nodes[edge.From]; ok {
				deps = append(deps, node)
			}
		}
	}
	return deps
}
