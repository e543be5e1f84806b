package resilience

import "strings"

// Result describes which resilience signals a target query carries.
type Result struct {
	RequiresProtection          bool `json:"requiresProtection"`
	HasProtectedAcquisition     bool `json:"hasProtectedAcquisition"`
	HasErrorCheck               bool `json:"hasErrorCheck"`
	HasSchemaPreservingFallback bool `json:"hasSchemaPreservingFallback"`
	IsCompliant                 bool `json:"isCompliant"`
}

// Validate inspects expr for the three resilience signals. An expression
// without any live acquisition needs no protection and is compliant.
// With an empty schema any empty #table counts as a fallback.
func Validate(expr string, schema []string) Result {
	masked := maskLiterals(expr)

	acq, ok := firstAcquisition(masked)
	if !ok {
		return Result{IsCompliant: true}
	}

	r := Result{RequiresProtection: true}
	for _, sc := range tryScopes(masked) {
		if acq.Start >= sc[0] && acq.Start < sc[1] {
			r.HasProtectedAcquisition = true
			break
		}
	}
	r.HasErrorCheck = errorCheckPattern.MatchString(masked)
	for _, t := range emptyTables(expr, masked) {
		if t.EmptyRows && (len(schema) == 0 || sameColumns(t.Columns, schema)) {
			r.HasSchemaPreservingFallback = true
			break
		}
	}
	r.IsCompliant = r.HasProtectedAcquisition && r.HasErrorCheck && r.HasSchemaPreservingFallback && balanced(masked)
	return r
}

// balanced reports whether every bracket in masked text is closed in order.
// A closer swallowed by a comment leaves the query unbalanced.
func balanced(masked string) bool {
	var stack []byte
	for i := 0; i < len(masked); i++ {
		switch c := masked[i]; c {
		case '(', '[', '{':
			stack = append(stack, c)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != openerOf(c) {
				return false
			}
			stack = stack[:len(stack)-1]
		}
	}
	return len(stack) == 0
}

func openerOf(c byte) byte {
	switch c {
	case ')':
		return '('
	case ']':
		return '['
	default:
		return '{'
	}
}

// fallbackColumns returns the columns of the first empty #table in expr.
func fallbackColumns(expr string) ([]string, bool) {
	for _, t := range emptyTables(expr, maskLiterals(expr)) {
		if t.EmptyRows {
			return t.Columns, true
		}
	}
	return nil, false
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// isBareCall reports whether the trimmed expression is exactly one acquisition call.
func isBareCall(expr string) bool {
	trimmed := strings.TrimSpace(expr)
	acq, ok := firstAcquisition(maskLiterals(trimmed))
	return ok && acq.Start == 0 && acq.End == len(trimmed)
}
