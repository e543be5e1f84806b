package translation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/graph"
)

// PromptBuilder renders conversion requests for chat-style models.
type PromptBuilder struct{}

const resilienceGuidelines = `
**RESILIENCE GUIDELINES** (Power Query M output only):
1. Wrap every data acquisition call (Sql.Database, Csv.Document, Web.Contents, ...) in "try".
2. Check the result with [HasError] or "otherwise".
3. On error return an empty #table(type table [...], {}) with exactly the declared columns.
`

func (pb *PromptBuilder) BuildConversionPrompt(req *Request) string {
	var sb strings.Builder
	sb.WriteString("Role: BI migration engineer. Task: Convert one Cognos report expression to the Power BI target dialect.\n")

	switch req.Role {
	case graph.RoleMeasure:
		sb.WriteString("Target: a DAX measure (aggregated, evaluated in filter context).\n")
	default:
		sb.WriteString("Target: a DAX calculated column (row context).\n")
	}
	if req.OwningTable != "" {
		fmt.Fprintf(&sb, "Owning table: '%s'\n", req.OwningTable)
	}

	sb.WriteString("\n### SOURCE EXPRESSION\n")
	sb.WriteString(req.SourceExpression)
	sb.WriteString("\n")

	if len(req.DependencyContext) > 0 {
		sb.WriteString("\n### ALREADY CONVERTED DEPENDENCIES\n")
		sb.WriteString("References like [Calculation_n] point to these; reuse their converted form.\n")
		for _, d := range req.DependencyContext {
			fmt.Fprintf(&sb, "- %s (%s)", d.ID, d.Caption)
			if d.OwningTable != "" {
				fmt.Fprintf(&sb, " in '%s'", d.OwningTable)
			}
			fmt.Fprintf(&sb, "\n  source: %s\n  target: %s\n", d.SourceExpression, d.TargetExpression)
		}
	}

	if len(req.ColumnNameMappings) > 0 {
		sb.WriteString("\n### COLUMN RENAMES\n")
		keys := make([]string, 0, len(req.ColumnNameMappings))
		for k := range req.ColumnNameMappings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "- [%s] -> [%s]\n", k, req.ColumnNameMappings[k])
		}
	}

	if req.ErrorHandlingMode == ErrorHandlingComprehensive {
		sb.WriteString(resilienceGuidelines)
		if req.Skeleton != "" {
			if req.TemplateCompliance == ComplianceStrict {
				sb.WriteString("Any M query you emit MUST follow this skeleton exactly:\n")
			} else {
				sb.WriteString("Use this skeleton as a guide for any M query you emit:\n")
			}
			sb.WriteString(req.Skeleton)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\n**OUTPUT FORMAT**:\n")
	sb.WriteString(`Reply with a single JSON object: {"targetExpression": "...", "confidence": 0.0-1.0, "warnings": ["..."]}. No prose, no code fences.`)
	sb.WriteString("\n")
	return sb.String()
}
