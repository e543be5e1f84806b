package translation

import (
	"context"
	"fmt"
	"strings"

	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/graph"
)

// ErrorHandlingMode controls whether resilience guidance is sent with a request.
type ErrorHandlingMode string

const (
	ErrorHandlingOff           ErrorHandlingMode = "off"
	ErrorHandlingComprehensive ErrorHandlingMode = "comprehensive"
)

func ParseErrorHandlingMode(s string) (ErrorHandlingMode, error) {
	switch ErrorHandlingMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ErrorHandlingComprehensive:
		return ErrorHandlingComprehensive, nil
	case ErrorHandlingOff:
		return ErrorHandlingOff, nil
	default:
		return "", fmt.Errorf("unknown error handling mode %q", s)
	}
}

// TemplateCompliance tells the translator how closely to follow the skeleton.
type TemplateCompliance string

const (
	ComplianceStrict TemplateCompliance = "strict"
	ComplianceGuided TemplateCompliance = "guided"
)

func ParseTemplateCompliance(s string) (TemplateCompliance, error) {
	switch TemplateCompliance(strings.ToLower(strings.TrimSpace(s))) {
	case "", ComplianceGuided:
		return ComplianceGuided, nil
	case ComplianceStrict:
		return ComplianceStrict, nil
	default:
		return "", fmt.Errorf("unknown template compliance %q", s)
	}
}

// DependencyContext describes an already converted calculation referenced
// by the expression being translated.
type DependencyContext struct {
	ID               string `json:"id"`
	Caption          string `json:"caption"`
	SourceExpression string `json:"sourceExpression"`
	TargetExpression string `json:"targetExpression"`
	OwningTable      string `json:"owningTable,omitempty"`
}

// Request is one conversion call.
type Request struct {
	NodeID             string              `json:"nodeId,omitempty"`
	SourceExpression   string              `json:"sourceExpression"`
	OwningTable        string              `json:"owningTable"`
	ColumnNameMappings map[string]string   `json:"columnNameMappings,omitempty"`
	DependencyContext  []DependencyContext `json:"dependencyContext,omitempty"`
	Role               graph.Role          `json:"role"`
	ErrorHandlingMode  ErrorHandlingMode   `json:"errorHandlingMode"`
	TemplateCompliance TemplateCompliance  `json:"templateCompliance"`
	Skeleton           string              `json:"skeleton,omitempty"`
}

// Response is the translator's answer. Failed marks an explicit refusal.
type Response struct {
	TargetExpression string   `json:"targetExpression"`
	Confidence       float64  `json:"confidence"`
	Warnings         []string `json:"warnings,omitempty"`
	Failed           bool     `json:"failed,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// Translator converts one source expression into the target dialect.
type Translator interface {
	Convert(ctx context.Context, req *Request) (*Response, error)
}

// Check reports a protocol-level problem with resp, or nil when it is usable.
func (r *Response) Check() error {
	if r == nil {
		return fmt.Errorf("no response")
	}
	if r.Failed {
		msg := strings.TrimSpace(r.Error)
		if msg == "" {
			msg = "translator reported failure"
		}
		return fmt.Errorf("%s", msg)
	}
	if strings.TrimSpace(r.TargetExpression) == "" {
		return fmt.Errorf("empty target expression")
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence %.2f outside [0,1]", r.Confidence)
	}
	return nil
}
