package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/graph"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger creates or opens a ledger database and migrates it.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	// single writer keeps per-id upserts serialized across worker goroutines
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate ledger: %w", err)
	}

	return &SQLiteLedger{db: db}, nil
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

func (l *SQLiteLedger) Upsert(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return errMissingID
	}
	diags, err := json.Marshal(rec.Diagnostics)
	if err != nil {
		return err
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO calculations (id, owning_table, caption, source_expression, role, target_name, target_expression, status, confidence, diagnostics, run_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owning_table=excluded.owning_table,
			caption=excluded.caption,
			source_expression=excluded.source_expression,
			role=excluded.role,
			target_name=excluded.target_name,
			target_expression=excluded.target_expression,
			status=excluded.status,
			confidence=excluded.confidence,
			diagnostics=excluded.diagnostics,
			run_id=excluded.run_id,
			updated_at=excluded.updated_at
	`, rec.ID, rec.OwningTable, rec.Caption, rec.SourceExpression, string(rec.Role), rec.TargetName,
		rec.TargetExpression, string(rec.Status), rec.Confidence, string(diags), rec.RunID,
		updated.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("ledger upsert %s: %w", rec.ID, err)
	}
	return nil
}

const selectColumns = `id, owning_table, caption, source_expression, role, target_name, target_expression, status, confidence, diagnostics, run_id, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec     Record
		role    string
		status  string
		diags   sql.NullString
		updated string
	)
	if err := row.Scan(&rec.ID, &rec.OwningTable, &rec.Caption, &rec.SourceExpression, &role, &rec.TargetName,
		&rec.TargetExpression, &status, &rec.Confidence, &diags, &rec.RunID, &updated); err != nil {
		return nil, err
	}
	rec.Role = graph.Role(role)
	rec.Status = graph.Status(status)
	if diags.Valid && diags.String != "" && diags.String != "null" {
		if err := json.Unmarshal([]byte(diags.String), &rec.Diagnostics); err != nil {
			return nil, fmt.Errorf("decode diagnostics for %s: %w", rec.ID, err)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		rec.UpdatedAt = t
	}
	return &rec, nil
}

func (l *SQLiteLedger) Get(ctx context.Context, id string) (*Record, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM calculations WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger get %s: %w", id, err)
	}
	return rec, nil
}

func (l *SQLiteLedger) ListByStatus(ctx context.Context, status graph.Status) ([]*Record, error) {
	query := `SELECT ` + selectColumns + ` FROM calculations`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY id`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
