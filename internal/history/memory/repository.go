// Package memory provides an in-memory history repository for tests and
// single-process runs without a database.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/arxivist/fetchsession/internal/history"
)

// Repository stores records in memory.
type Repository struct {
	mu      sync.Mutex
	records []history.Record
}

// New creates an empty Repository.
func New() *Repository {
	return &Repository{}
}

// Insert appends one record.
func (r *Repository) Insert(_ context.Context, rec history.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

// Recent returns up to limit records, newest first.
func (r *Repository) Recent(_ context.Context, limit int) ([]history.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]history.Record(nil), r.records...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FinishedAt.After(out[j].FinishedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op.
func (r *Repository) Close() {}
