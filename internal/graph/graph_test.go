package graph

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type regexExtractor struct {
	re *regexp.Regexp
}

func (r regexExtractor) Extract(expr string, known map[string]bool) ([]string, []string) {
	var deps, unknown []string
	for _, m := range r.re.FindAllStringSubmatch(expr, -1) {
		if known[m[1]] {
			deps = append(deps, m[1])
		} else {
			unknown = append(unknown, m[1])
		}
	}
	return deps, unknown
}

var testExtractor = regexExtractor{re: regexp.MustCompile(`\[(Calculation_\d+)\]`)}

func TestGraph_LinkReferences(t *testing.T) {
	g := NewGraph()

	a := NewNode("Calculation_1", "A", "Sales", "SUM([Amount])")
	b := NewNode("Calculation_2", "B", "Sales", "[Calculation_1] * 2 + [Calculation_9]")
	c := NewNode("Calculation_3", "C", "Sales", "[Calculation_3] + [Calculation_2]")

	require.NoError(t, g.AddNode(a))
	require.NoError(t, g.AddNode(b))
	require.NoError(t, g.AddNode(c))

	g.LinkReferences(testExtractor)

	t.Run("Known references become edges", func(t *testing.T) {
		assert.Equal(t, []string{"Calculation_1"}, b.DependencyIDs)
		deps := g.GetDependencies(b.ID)
		if assert.Len(t, deps, 1) {
			assert.Equal(t, "A", deps[0].Caption)
		}
	})

	t.Run("Unknown references are warnings", func(t *testing.T) {
		require.Len(t, b.Diagnostics, 1)
		assert.Equal(t, CodeUnresolvedReference, b.Diagnostics[0].Code)
		assert.Equal(t, []string{"Calculation_9"}, b.Diagnostics[0].Related)
	})

	t.Run("Self references are flagged and dropped", func(t *testing.T) {
		assert.Equal(t, []string{"Calculation_2"}, c.DependencyIDs)
		assert.NotContains(t, c.DependencyIDs, c.ID)
		require.Len(t, c.Diagnostics, 1)
		assert.Equal(t, CodeSelfReference, c.Diagnostics[0].Code)
	})

	t.Run("Dependent lookup", func(t *testing.T) {
		dependents := g.GetDependents(a.ID)
		if assert.Len(t, dependents, 1) {
			assert.Equal(t, "B", dependents[0].Caption)
		}
	})

	t.Run("Unresolved reasons", func(t *testing.T) {
		counts := g.UnresolvedReasonCounts()
		assert.Equal(t, 1, counts[ReasonUnknownID])
		assert.Equal(t, 1, counts[ReasonSelfReference])
	})
}

func TestGraph_AddNodeRejectsDuplicates(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddNode(NewNode("Calculation_1", "A", "T", "1")))
	assert.Error(t, g.AddNode(NewNode("Calculation_1", "A2", "T", "2")))
	assert.Error(t, g.AddNode(NewNode("", "nameless", "T", "3")))
	assert.Equal(t, []string{"Calculation_1"}, g.IDs())
}

func TestNode_Transition(t *testing.T) {
	n := NewNode("Calculation_1", "A", "T", "1")

	assert.Error(t, n.Transition(StatusConverted), "pending cannot jump to converted")
	require.NoError(t, n.Transition(StatusResolving))
	require.NoError(t, n.Transition(StatusFailed))
	require.NoError(t, n.Transition(StatusResolving), "failed nodes may be retried")
	require.NoError(t, n.Transition(StatusConverted))
	assert.Error(t, n.Transition(StatusResolving))
	assert.Equal(t, StatusConverted, n.Status)
}

func TestNode_TargetName(t *testing.T) {
	n := NewNode("Calculation_1", "Total Sales", "Sales", "SUM([Amount])")
	n.Role = RoleMeasure
	assert.Equal(t, "[Total Sales]", n.TargetName())

	n.Role = RoleComputedColumn
	assert.Equal(t, "'Sales'[Total Sales]", n.TargetName())

	n.Caption = ""
	assert.Equal(t, []string{"Calculation_1"}, n.Schema())
}

func TestDiagnosticFromError(t *testing.T) {
	err := &SchemaMismatchError{NodeID: "Calculation_1", Declared: []string{"ID"}, Actual: []string{"Id"}}
	d := DiagnosticFromError("ignored", err)
	assert.Equal(t, CodeSchemaMismatch, d.Code)
	assert.Equal(t, "Calculation_1", d.NodeID)

	d = DiagnosticFromError("Calculation_2", assert.AnError)
	assert.Equal(t, CodeInternal, d.Code)
	assert.Equal(t, "Calculation_2", d.NodeID)
}

func TestParseSourceKind(t *testing.T) {
	k, ok := ParseSourceKind("flatFile")
	assert.True(t, ok)
	assert.Equal(t, SourceKindFlatFile, k)

	k, ok = ParseSourceKind("sapbw")
	assert.False(t, ok)
	assert.Equal(t, SourceKindUnknown, k)
}
