package pipeline

import (
	"fmt"
	"strings"

	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/graph"
	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/resilience"
)

const fallbackTemplate = "fallback"

// fallbackArtifact is emitted in place of a translation that could not be
// obtained: a marker comment and an empty table with the declared columns.
func fallbackArtifact(n *graph.Node, detail string) *resilience.Artifact {
	detail = strings.Join(strings.Fields(detail), " ")
	schema := n.Schema()
	expr := fmt.Sprintf("// CONVERSION FAILED: calculation \"%s\" (%s): %s\n#table(type table [%s], {})",
		n.DisplayName(), n.ID, detail, resilience.RenderColumns(schema))
	return &resilience.Artifact{
		TargetExpression: expr,
		TemplateUsed:     fallbackTemplate,
		Validation:       resilience.Validate(expr, schema),
	}
}
