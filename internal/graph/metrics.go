package graph

func (g *Graph) UnresolvedReasonCounts() map[UnresolvedReason]int {
	counts := make(map[UnresolvedReason]int)
	if g == nil {
		return counts
	}
	for _, u := range g.Unresolved {
		reason := u.Reason
		if reason == "" {
			reason = ReasonUnknownID
		}
		counts[reason]++
	}
	return counts
}

// Diagnostics collects every node diagnostic in insertion order.
func (g *Graph) Diagnostics() []Diagnostic {
	if g == nil {
		return nil
	}
	var out []Diagnostic
	for _, id := range g.order {
		out = append(out, g.Nodes[id].Diagnostics...)
	}
	return out
}
