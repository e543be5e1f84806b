package graph

import (
	"fmt"
	"strings"
)

// Role classifies a calculation for translation strategy.
type Role string

const (
	RoleMeasure        Role = "measure"
	RoleComputedColumn Role = "computedColumn"
)

// Status is the lifecycle state of a calculation within one run.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusResolving Status = "Resolving"
	StatusConverted Status = "Converted"
	StatusFailed    Status = "Failed"
)

// Usage is how the source report declared the calculation.
type Usage string

const (
	UsageUnknown   Usage = ""
	UsageMeasure   Usage = "measure"
	UsageAttribute Usage = "attribute"
)

// SourceKind identifies the upstream system a query acquires data from.
type SourceKind int

const (
	SourceKindUnknown SourceKind = iota
	SourceKindRelational
	SourceKindFlatFile
	SourceKindWebAPI
)

func (k SourceKind) String() string {
	switch k {
	case SourceKindRelational:
		return "relational"
	case SourceKindFlatFile:
		return "flatFile"
	case SourceKindWebAPI:
		return "webApi"
	default:
		return "unknown"
	}
}

// ParseSourceKind maps a declared kind to its enum value. Unrecognised kinds
// map to SourceKindUnknown with ok=false.
func ParseSourceKind(s string) (SourceKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "relational", "sql", "database":
		return SourceKindRelational, true
	case "flatfile", "flat_file", "file", "csv":
		return SourceKindFlatFile, true
	case "webapi", "web_api", "api", "web":
		return SourceKindWebAPI, true
	default:
		return SourceKindUnknown, false
	}
}

// Node is one user-authored calculation tracked through the pipeline.
type Node struct {
	ID               string
	Caption          string
	OwningTable      string
	SourceExpression string
	Role             Role

	// Declared attributes carried over from the manifest.
	DataType     string
	Usage        Usage
	SourceKind   SourceKind
	OutputSchema []string
	Materialized bool

	DependencyIDs    []string
	TargetExpression string
	Status           Status
	Diagnostics      []Diagnostic
}

// NewNode creates a pending, materialized node.
func NewNode(id, caption, table, expr string) *Node {
	return &Node{
		ID:               id,
		Caption:          caption,
		OwningTable:      table,
		SourceExpression: expr,
		Materialized:     true,
		Status:           StatusPending,
	}
}

var allowedTransitions = map[Status][]Status{
	StatusPending:   {StatusResolving},
	StatusResolving: {StatusConverted, StatusFailed},
	StatusFailed:    {StatusResolving},
}

// Transition moves the node to the next lifecycle state.
func (n *Node) Transition(to Status) error {
	for _, s := range allowedTransitions[n.Status] {
		if s == to {
			n.Status = to
			return nil
		}
	}
	return fmt.Errorf("calculation %s: invalid status transition %s -> %s", n.ID, n.Status, to)
}

func (n *Node) AddDiagnostic(d Diagnostic) {
	if d.NodeID == "" {
		d.NodeID = n.ID
	}
	n.Diagnostics = append(n.Diagnostics, d)
}

// DisplayName returns the caption, falling back to the id.
func (n *Node) DisplayName() string {
	if strings.TrimSpace(n.Caption) != "" {
		return n.Caption
	}
	return n.ID
}

// TargetName is the name the calculation is known by on the target platform:
// measures are referenced as [Name], computed columns as 'Table'[Name].
func (n *Node) TargetName() string {
	name := "[" + strings.ReplaceAll(n.DisplayName(), "]", "]]") + "]"
	if n.Role == RoleMeasure || n.OwningTable == "" {
		return name
	}
	return "'" + strings.ReplaceAll(n.OwningTable, "'", "''") + "'" + name
}

// Schema returns the declared output columns, or a single column named after
// the calculation when none were declared.
func (n *Node) Schema() []string {
	if len(n.OutputSchema) > 0 {
		return n.OutputSchema
	}
	return []string{n.DisplayName()}
}

// HasDependency reports whether id is one of the node's extracted dependencies.
func (n *Node) HasDependency(id string) bool {
	for _, d := range n.DependencyIDs {
		if d == id {
			return true
		}
	}
	return false
}
