package resolver

import (
	"fmt"

	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/graph"
)

// Unit is a set of chains that share at least one calculation, merged into
// a single dependency-first order. Units are independent of each other and
// may be processed concurrently; a unit itself is strictly sequential.
type Unit struct {
	Roots       []string
	Order       []string
	Blocked     map[string]bool
	Diagnostics []graph.Diagnostic

	position map[string]int
}

// IsPruned reports whether from -> to is not honoured by the unit order,
// i.e. the dependency is scheduled after its dependent because a cycle was cut.
func (u *Unit) IsPruned(from, to string) bool {
	pf, ok := u.position[from]
	if !ok {
		return false
	}
	pt, ok := u.position[to]
	if !ok {
		return true
	}
	return pt > pf
}

// Contains reports whether id is scheduled in the unit.
func (u *Unit) Contains(id string) bool {
	_, ok := u.position[id]
	return ok
}

// Partition resolves every requested id and groups the resulting chains into
// independent units, ordered by the first requested id they contain.
func (r *ChainResolver) Partition(ids []string) ([]*Unit, error) {
	var chains []*Chain
	requested := make(map[string]bool)
	for _, id := range ids {
		if requested[id] {
			continue
		}
		requested[id] = true
		c, err := r.Resolve(id)
		if err != nil {
			return nil, err
		}
		chains = append(chains, c)
	}

	// union-find over chain indices, joined through shared node ids
	parent := make([]int, len(chains))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	owner := make(map[string]int)
	for i, c := range chains {
		for _, id := range c.Order {
			if j, ok := owner[id]; ok {
				ri, rj := find(i), find(j)
				if ri != rj {
					if ri < rj {
						parent[rj] = ri
					} else {
						parent[ri] = rj
					}
				}
				continue
			}
			owner[id] = i
		}
	}

	byRoot := make(map[int]*Unit)
	var units []*Unit
	seenDiag := make(map[string]bool)
	for i, c := range chains {
		root := find(i)
		u, ok := byRoot[root]
		if !ok {
			u = &Unit{Blocked: make(map[string]bool), position: make(map[string]int)}
			byRoot[root] = u
			units = append(units, u)
		}
		u.Roots = append(u.Roots, c.Target)
		for _, id := range c.Order {
			if _, ok := u.position[id]; ok {
				continue
			}
			u.position[id] = len(u.Order)
			u.Order = append(u.Order, id)
		}
		for id := range c.Blocked {
			u.Blocked[id] = true
		}
		for _, d := range c.Diagnostics {
			// cut edges are re-derived from the merged order below
			if d.Code == graph.CodeCircularDependency {
				continue
			}
			key := fmt.Sprintf("%s|%s|%v", d.Code, d.NodeID, d.Related)
			if seenDiag[key] {
				continue
			}
			seenDiag[key] = true
			u.Diagnostics = append(u.Diagnostics, d)
		}
	}
	for _, u := range units {
		u.Diagnostics = append(r.cutEdges(u), u.Diagnostics...)
	}
	return units, nil
}

// cutEdges reports every dependency edge the unit order does not honour.
// Chains merged into one unit may each cut a different edge of the same
// cycle; only the edges the merged order actually drops are reported.
func (r *ChainResolver) cutEdges(u *Unit) []graph.Diagnostic {
	var out []graph.Diagnostic
	for _, id := range u.Order {
		for _, dep := range r.g.Nodes[id].DependencyIDs {
			if !u.Contains(dep) {
				continue
			}
			if dep == id || u.IsPruned(id, dep) {
				w := &graph.CircularDependencyWarning{From: id, To: dep}
				out = append(out, w.Diagnostic())
			}
		}
	}
	return out
}
