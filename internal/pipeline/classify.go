package pipeline

import (
	"regexp"
	"strings"

	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/graph"
)

var aggregationKeywords = []string{
	"SUM", "AVG", "AVERAGE", "COUNT", "COUNTD", "DISTINCTCOUNT",
	"MIN", "MAX", "MINIMUM", "MAXIMUM", "TOTAL", "MEDIAN",
}

var (
	aggregationPrefix = regexp.MustCompile(`(?i)^\s*(?:` + strings.Join(aggregationKeywords, "|") + `)\s*\(`)
	bareColumnRef     = regexp.MustCompile(`^\s*\[[^\[\]]+\]\s*$`)
)

var numericTypes = map[string]bool{
	"int": true, "integer": true, "int64": true, "long": true, "short": true,
	"decimal": true, "double": true, "float": true, "real": true,
	"number": true, "numeric": true, "currency": true,
}

func isNumeric(dataType string) bool {
	return numericTypes[strings.ToLower(strings.TrimSpace(dataType))]
}

func startsWithAggregation(expr string) bool {
	return aggregationPrefix.MatchString(expr)
}

// measureHint reports whether n is a measure independent of its context.
func measureHint(n *graph.Node) bool {
	return n.Usage == graph.UsageMeasure || startsWithAggregation(n.SourceExpression)
}

type classification struct {
	Role       graph.Role
	Expression string
	Implicit   bool
}

// classify picks the translation role. A bare numeric column used as a
// measure gets the default aggregation applied.
func classify(n *graph.Node, measureContext bool, defaultAggregation string, isCalcRef func(string) bool) classification {
	expr := n.SourceExpression
	if startsWithAggregation(expr) {
		return classification{Role: graph.RoleMeasure, Expression: expr}
	}
	if measureContext && bareColumnRef.MatchString(expr) && !isCalcRef(expr) && isNumeric(n.DataType) {
		return classification{
			Role:       graph.RoleMeasure,
			Expression: defaultAggregation + "(" + strings.TrimSpace(expr) + ")",
			Implicit:   true,
		}
	}
	return classification{Role: graph.RoleComputedColumn, Expression: expr}
}
