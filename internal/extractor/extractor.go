package extractor

import (
	"fmt"
	"regexp"
)

// DefaultReferencePattern matches the bracketed, numerically suffixed ids the
// source platform uses when one calculation refers to another.
const DefaultReferencePattern = `\[(Calculation_\d+)\]`

// Extractor finds calculation references inside formula text.
type Extractor struct {
	pattern *regexp.Regexp
}

// NewExtractor compiles the reference pattern. The first capture group must
// yield the referenced id. An empty pattern selects DefaultReferencePattern.
func NewExtractor(pattern string) (*Extractor, error) {
	if pattern == "" {
		pattern = DefaultReferencePattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid reference pattern %q: %w", pattern, err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("reference pattern %q needs a capture group for the id", pattern)
	}
	return &Extractor{pattern: re}, nil
}

// Extract returns the referenced ids in order of first appearance, without
// duplicates. Ids absent from known are returned separately and never appear
// in deps. It has no side effects.
func (e *Extractor) Extract(expr string, known map[string]bool) (deps []string, unknown []string) {
	seen := make(map[string]bool)
	for _, m := range e.pattern.FindAllStringSubmatch(expr, -1) {
		id := m[1]
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if known[id] {
			deps = append(deps, id)
		} else {
			unknown = append(unknown, id)
		}
	}
	return deps, unknown
}

// ReplaceReferences rewrites every reference for which fn returns ok=true.
// Other references are left as they are.
func (e *Extractor) ReplaceReferences(expr string, fn func(id string) (string, bool)) string {
	return e.pattern.ReplaceAllStringFunc(expr, func(match string) string {
		sub := e.pattern.FindStringSubmatch(match)
		if len(sub) < 2 {
			return match
		}
		if repl, ok := fn(sub[1]); ok {
			return repl
		}
		return match
	})
}

// HasReferences reports whether expr still contains any reference.
func (e *Extractor) HasReferences(expr string) bool {
	return e.pattern.MatchString(expr)
}
