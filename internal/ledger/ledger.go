package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/graph"
)

// ErrNotFound is returned by Get when no record exists for the id.
var ErrNotFound = errors.New("ledger record not found")

var errMissingID = errors.New("ledger upsert: record id is required")

// Record is the persisted outcome of converting one calculation.
type Record struct {
	ID               string             `json:"id"`
	OwningTable      string             `json:"owningTable"`
	Caption          string             `json:"caption"`
	SourceExpression string             `json:"sourceExpression"`
	Role             graph.Role         `json:"role"`
	TargetName       string             `json:"targetName"`
	TargetExpression string             `json:"targetExpression"`
	Status           graph.Status       `json:"status"`
	Confidence       float64            `json:"confidence"`
	Diagnostics      []graph.Diagnostic `json:"diagnostics,omitempty"`
	RunID            string             `json:"runId"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

// Ledger persists conversion records across runs. Upserts are atomic per id.
type Ledger interface {
	// Upsert inserts or replaces the record with the same id.
	Upsert(ctx context.Context, rec *Record) error

	// Get returns the record for id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// ListByStatus returns records with the given status ordered by id.
	// An empty status lists every record.
	ListByStatus(ctx context.Context, status graph.Status) ([]*Record, error)

	Close() error
}

// RecordFromNode snapshots a node after processing.
func RecordFromNode(n *graph.Node, confidence float64, runID string) *Record {
	return &Record{
		ID:               n.ID,
		OwningTable:      n.OwningTable,
		Caption:          n.Caption,
		SourceExpression: n.SourceExpression,
		Role:             n.Role,
		TargetName:       n.TargetName(),
		TargetExpression: n.TargetExpression,
		Status:           n.Status,
		Confidence:       confidence,
		Diagnostics:      append([]graph.Diagnostic(nil), n.Diagnostics...),
		RunID:            runID,
		UpdatedAt:        time.Now().UTC(),
	}
}
