package graph

import (
	"errors"
	"fmt"
	"strings"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type DiagnosticCode string

const (
	CodeUnresolvedReference DiagnosticCode = "unresolved_reference"
	CodeSelfReference       DiagnosticCode = "self_reference"
	CodeCircularDependency  DiagnosticCode = "circular_dependency"
	CodeBlockedByCycle      DiagnosticCode = "blocked_by_cycle"
	CodeMissingDependency   DiagnosticCode = "missing_dependency_context"
	CodeImplicitAggregation DiagnosticCode = "implicit_aggregation"
	CodeTranslationService  DiagnosticCode = "translation_service_error"
	CodeTranslationWarning  DiagnosticCode = "translation_warning"
	CodeTemplateMissing     DiagnosticCode = "validation_template_missing"
	CodeSchemaMismatch      DiagnosticCode = "schema_mismatch"
	CodeSkeletonIgnored     DiagnosticCode = "skeleton_not_followed"
	CodeLedger              DiagnosticCode = "ledger_error"
	CodeInternal            DiagnosticCode = "internal_error"
)

// Diagnostic is one warning or error accumulated while processing a calculation.
type Diagnostic struct {
	Code     DiagnosticCode `json:"code"`
	Severity Severity       `json:"severity"`
	NodeID   string         `json:"node_id,omitempty"`
	Related  []string       `json:"related,omitempty"`
	Message  string         `json:"message"`
}

func (d Diagnostic) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", d.Severity, d.Code)
	if d.NodeID != "" {
		fmt.Fprintf(&sb, " (%s)", d.NodeID)
	}
	sb.WriteString(": ")
	sb.WriteString(d.Message)
	return sb.String()
}

// DiagnosticError is implemented by every error in the pipeline taxonomy.
type DiagnosticError interface {
	error
	Diagnostic() Diagnostic
}

// DiagnosticFromError converts err into a diagnostic bound to nodeID.
// Errors outside the taxonomy become internal errors.
func DiagnosticFromError(nodeID string, err error) Diagnostic {
	var de DiagnosticError
	if errors.As(err, &de) {
		d := de.Diagnostic()
		if d.NodeID == "" {
			d.NodeID = nodeID
		}
		return d
	}
	return Diagnostic{
		Code:     CodeInternal,
		Severity: SeverityError,
		NodeID:   nodeID,
		Message:  err.Error(),
	}
}

// UnresolvedReferenceWarning: a formula references an id that is not a known calculation.
type UnresolvedReferenceWarning struct {
	From   string
	Target string
}

func (e *UnresolvedReferenceWarning) Error() string {
	return fmt.Sprintf("calculation %s references unknown calculation %s", e.From, e.Target)
}

func (e *UnresolvedReferenceWarning) Diagnostic() Diagnostic {
	return Diagnostic{
		Code:     CodeUnresolvedReference,
		Severity: SeverityWarning,
		NodeID:   e.From,
		Related:  []string{e.Target},
		Message:  e.Error(),
	}
}

// CircularDependencyWarning: the edge From -> To closes a cycle and was pruned.
type CircularDependencyWarning struct {
	From string
	To   string
}

func (e *CircularDependencyWarning) Error() string {
	return fmt.Sprintf("circular dependency between %s and %s; edge %s -> %s dropped", e.From, e.To, e.From, e.To)
}

func (e *CircularDependencyWarning) Diagnostic() Diagnostic {
	return Diagnostic{
		Code:     CodeCircularDependency,
		Severity: SeverityWarning,
		NodeID:   e.From,
		Related:  []string{e.From, e.To},
		Message:  e.Error(),
	}
}

// TranslationServiceError wraps a transport or protocol failure of the
// translation capability for one calculation.
type TranslationServiceError struct {
	NodeID string
	Detail string
	Err    error
}

func (e *TranslationServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("translation service failed for %s: %s: %v", e.NodeID, e.Detail, e.Err)
	}
	return fmt.Sprintf("translation service failed for %s: %s", e.NodeID, e.Detail)
}

func (e *TranslationServiceError) Unwrap() error { return e.Err }

func (e *TranslationServiceError) Diagnostic() Diagnostic {
	return Diagnostic{
		Code:     CodeTranslationService,
		Severity: SeverityError,
		NodeID:   e.NodeID,
		Message:  e.Error(),
	}
}

// ValidationTemplateMissingError: no resilience template for the declared source kind.
type ValidationTemplateMissingError struct {
	NodeID string
	Kind   SourceKind
}

func (e *ValidationTemplateMissingError) Error() string {
	return fmt.Sprintf("no resilience template for source kind %q", e.Kind)
}

func (e *ValidationTemplateMissingError) Diagnostic() Diagnostic {
	return Diagnostic{
		Code:     CodeTemplateMissing,
		Severity: SeverityError,
		NodeID:   e.NodeID,
		Message:  e.Error(),
	}
}

// SchemaMismatchError: the synthesized fallback columns differ from the declared schema.
type SchemaMismatchError struct {
	NodeID   string
	Declared []string
	Actual   []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("fallback columns [%s] do not match declared schema [%s]",
		strings.Join(e.Actual, ", "), strings.Join(e.Declared, ", "))
}

func (e *SchemaMismatchError) Diagnostic() Diagnostic {
	return Diagnostic{
		Code:     CodeSchemaMismatch,
		Severity: SeverityError,
		NodeID:   e.NodeID,
		Message:  e.Error(),
	}
}
