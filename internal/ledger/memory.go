package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/graph"
)

// MemoryLedger keeps records in process. Used for dry runs and tests.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[string]Record)}
}

func (l *MemoryLedger) Upsert(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil || rec.ID == "" {
		return errMissingID
	}
	cp := *rec
	cp.Diagnostics = append([]graph.Diagnostic(nil), rec.Diagnostics...)
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[rec.ID] = cp
	return nil
}

func (l *MemoryLedger) Get(ctx context.Context, id string) (*Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (l *MemoryLedger) ListByStatus(ctx context.Context, status graph.Status) ([]*Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Record
	for _, rec := range l.records {
		if status != "" && rec.Status != status {
			continue
		}
		r := rec
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (l *MemoryLedger) Close() error { return nil }
