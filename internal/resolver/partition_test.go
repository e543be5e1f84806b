package resolver

import (
	"testing"

	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/graph"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainResolver_Partition(t *testing.T) {
	g := buildGraph(t, map[string][]string{
		"B": {"A"},
		"D": {"A"},
		"F": {"E"},
	}, "A", "B", "C", "D", "E", "F")
	r := NewChainResolver(g, CyclePolicyDropEdge)

	units, err := r.Partition([]string{"B", "C", "D", "F", "B"})
	require.NoError(t, err)
	require.Len(t, units, 3)

	assert.Equal(t, []string{"B", "D"}, units[0].Roots)
	assert.Equal(t, []string{"A", "B", "D"}, units[0].Order)
	assert.Equal(t, []string{"C"}, units[1].Order)
	assert.Equal(t, []string{"E", "F"}, units[2].Order)

	assert.True(t, units[0].Contains("A"))
	assert.False(t, units[0].Contains("E"))
}

func TestChainResolver_PartitionMergesCycleDiagnostics(t *testing.T) {
	g := buildGraph(t, map[string][]string{
		"A": {"B"},
		"B": {"A"},
	}, "A", "B")
	r := NewChainResolver(g, CyclePolicyDropEdge)

	units, err := r.Partition([]string{"A", "B"})
	require.NoError(t, err)
	require.Len(t, units, 1)

	u := units[0]
	assert.Equal(t, []string{"B", "A"}, u.Order)
	// the order honours A -> B and cuts B -> A
	assert.False(t, u.IsPruned("A", "B"))
	assert.True(t, u.IsPruned("B", "A"))
	// only the edge the merged order drops is reported
	require.Len(t, u.Diagnostics, 1)
	d := u.Diagnostics[0]
	assert.Equal(t, graph.CodeCircularDependency, d.Code)
	assert.Equal(t, "B", d.NodeID)
	assert.Equal(t, []string{"B", "A"}, d.Related)
}

func TestChainResolver_PartitionReportsEachCutOnce(t *testing.T) {
	g := buildGraph(t, map[string][]string{
		"A": {"B"},
		"B": {"C"},
		"C": {"A"},
		"D": {"C"},
	}, "A", "B", "C", "D")
	r := NewChainResolver(g, CyclePolicyDropEdge)

	units, err := r.Partition([]string{"A", "B", "C", "D"})
	require.NoError(t, err)
	require.Len(t, units, 1)

	u := units[0]
	var cut []graph.Edge
	for _, d := range u.Diagnostics {
		require.Equal(t, graph.CodeCircularDependency, d.Code)
		require.Len(t, d.Related, 2)
		cut = append(cut, graph.Edge{From: d.Related[0], To: d.Related[1]})
	}
	require.Len(t, cut, 1)
	assert.True(t, u.IsPruned(cut[0].From, cut[0].To))
}

func TestChainResolver_PartitionUnknownID(t *testing.T) {
	g := buildGraph(t, nil, "A")
	_, err := NewChainResolver(g, "").Partition([]string{"A", "Z"})
	assert.Error(t, err)
}
