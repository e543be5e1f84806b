package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/graph"
	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/ledger"
)

// ImpactReport summarizes the calculations affected by source changes
// since their last recorded conversion.
type ImpactReport struct {
	// DirectlyAffected changed source expression, or have no record yet.
	DirectlyAffected []*graph.Node
	// IndirectlyAffected depend, transitively, on a directly affected node.
	IndirectlyAffected []*graph.Node
}

// IDs returns the ids of every affected node, direct ones first.
func (r *ImpactReport) IDs() []string {
	out := make([]string, 0, len(r.DirectlyAffected)+len(r.IndirectlyAffected))
	for _, n := range r.DirectlyAffected {
		out = append(out, n.ID)
	}
	for _, n := range r.IndirectlyAffected {
		out = append(out, n.ID)
	}
	return out
}

// Analyzer performs impact analysis on the dependency graph.
type Analyzer struct {
	g *graph.Graph
	l ledger.Ledger
}

// NewAnalyzer creates a new analyzer.
func NewAnalyzer(g *graph.Graph, l ledger.Ledger) *Analyzer {
	return &Analyzer{g: g, l: l}
}

// AnalyzeImpact compares every calculation with its ledger record.
func (a *Analyzer) AnalyzeImpact(ctx context.Context) (*ImpactReport, error) {
	report := &ImpactReport{
		DirectlyAffected:   []*graph.Node{},
		IndirectlyAffected: []*graph.Node{},
	}

	seenDirect := make(map[string]bool)
	seenIndirect := make(map[string]bool)

	// 1. Find Direct Impacts
	for _, id := range a.g.IDs() {
		node := a.g.Nodes[id]
		rec, err := a.l.Get(ctx, id)
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			report.DirectlyAffected = append(report.DirectlyAffected, node)
			seenDirect[id] = true
		case err != nil:
			return nil, fmt.Errorf("impact analysis for %s: %w", id, err)
		case rec.SourceExpression != node.SourceExpression:
			report.DirectlyAffected = append(report.DirectlyAffected, node)
			seenDirect[id] = true
		}
	}

	// 2. Find Indirect Impacts (transitive dependents)
	queue := append([]*graph.Node(nil), report.DirectlyAffected...)
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, dep := range a.g.GetDependents(node.ID) {
			if seenDirect[dep.ID] || seenIndirect[dep.ID] {
				continue
			}
			seenIndirect[dep.ID] = true
			report.IndirectlyAffected = append(report.IndirectlyAffected, dep)
			queue = append(queue, dep)
		}
	}

	return report, nil
}
