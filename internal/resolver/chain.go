package resolver

import (
	"fmt"
	"strings"

	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/graph"
)

// CyclePolicy decides what happens to the endpoints of a detected cycle.
type CyclePolicy string

const (
	// CyclePolicyDropEdge prunes the closing edge and converts both endpoints.
	CyclePolicyDropEdge CyclePolicy = "drop-edge"
	// CyclePolicyBlock prunes the closing edge and blocks every node on the cycle.
	CyclePolicyBlock CyclePolicy = "block"
)

func ParseCyclePolicy(s string) (CyclePolicy, error) {
	switch CyclePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", CyclePolicyDropEdge:
		return CyclePolicyDropEdge, nil
	case CyclePolicyBlock:
		return CyclePolicyBlock, nil
	default:
		return "", fmt.Errorf("unknown cycle policy %q (want %q or %q)", s, CyclePolicyDropEdge, CyclePolicyBlock)
	}
}

// Chain is the processing order for one requested calculation: every
// transitive dependency exactly once, dependencies first, ending with Target.
type Chain struct {
	Target      string
	Order       []string
	Pruned      []graph.Edge
	Blocked     map[string]bool
	Diagnostics []graph.Diagnostic
}

type visitState int

const (
	unvisited visitState = iota
	inProgress
	done
)

// ChainResolver computes dependency-first orders over a graph.
type ChainResolver struct {
	g      *graph.Graph
	policy CyclePolicy
}

func NewChainResolver(g *graph.Graph, policy CyclePolicy) *ChainResolver {
	if policy == "" {
		policy = CyclePolicyDropEdge
	}
	return &ChainResolver{g: g, policy: policy}
}

// Resolve returns the chain for id. Cycles and unresolved references never
// fail resolution; the only error is an unknown requested id.
func (r *ChainResolver) Resolve(id string) (*Chain, error) {
	if _, ok := r.g.Node(id); !ok {
		return nil, fmt.Errorf("unknown calculation %s", id)
	}

	c := &Chain{Target: id, Blocked: make(map[string]bool)}
	state := make(map[string]visitState)
	var stack []string
	seenPair := make(map[graph.Edge]bool)

	var visit func(cur string)
	visit = func(cur string) {
		state[cur] = inProgress
		stack = append(stack, cur)

		node := r.g.Nodes[cur]
		for _, dep := range node.DependencyIDs {
			if _, ok := r.g.Nodes[dep]; !ok {
				continue
			}
			switch state[dep] {
			case unvisited:
				visit(dep)
			case inProgress:
				edge := graph.Edge{From: cur, To: dep}
				c.Pruned = append(c.Pruned, edge)
				if !seenPair[edge] {
					seenPair[edge] = true
					w := &graph.CircularDependencyWarning{From: cur, To: dep}
					c.Diagnostics = append(c.Diagnostics, w.Diagnostic())
				}
				if r.policy == CyclePolicyBlock {
					for _, member := range cycleMembers(stack, dep) {
						c.Blocked[member] = true
					}
				}
			case done:
				// already emitted earlier in this chain
			}
		}

		stack = stack[:len(stack)-1]
		state[cur] = done
		c.Order = append(c.Order, cur)
	}

	visit(id)
	return c, nil
}

// cycleMembers returns the stack suffix starting at the ancestor that closes the cycle.
func cycleMembers(stack []string, ancestor string) []string {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == ancestor {
			return append([]string(nil), stack[i:]...)
		}
	}
	return nil
}

// IsPruned reports whether the edge from -> to was dropped to break a cycle.
func (c *Chain) IsPruned(from, to string) bool {
	for _, e := range c.Pruned {
		if e.From == from && e.To == to {
			return true
		}
	}
	return false
}

// Position returns the index of id in the order, or -1.
func (c *Chain) Position(id string) int {
	for i, o := range c.Order {
		if o == id {
			return i
		}
	}
	return -1
}
