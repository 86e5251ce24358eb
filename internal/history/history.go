// Package history persists finished fetch sessions so past runs can be
// reviewed after the live session state has been dismissed.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arxivist/fetchsession/internal/fetch"
)

// Outcome is how a session ended.
type Outcome string

// Session outcomes.
const (
	OutcomeCompleted Outcome = "completed"
	OutcomeError     Outcome = "error"
	OutcomeCancelled Outcome = "cancelled"
)

// Record is one finished session.
type Record struct {
	ID         uuid.UUID      `json:"id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Outcome    Outcome        `json:"outcome"`
	Options    string         `json:"options,omitempty"`
	Counters   fetch.Counters `json:"counters"`
	ErrorKind  string         `json:"error_kind,omitempty"`
	ErrorMsg   string         `json:"error_message,omitempty"`
}

// Summarize renders the options line stored with each record.
func Summarize(opts fetch.Options) string {
	var b strings.Builder
	b.WriteString(string(opts.Mode))
	if opts.Mode == fetch.ModeByID {
		fmt.Fprintf(&b, " %s", strings.Join(opts.IDs, ","))
	} else {
		fmt.Fprintf(&b, " %s max=%d", strings.Join(opts.Categories, ","), opts.MaxPapers)
	}
	fmt.Fprintf(&b, " relevance>=%d", opts.MinRelevance)
	if opts.DeepAnalysis {
		fmt.Fprintf(&b, " deep>=%d", opts.DeepAnalysisThreshold)
	}
	if opts.ConcurrencyMode == fetch.Concurrent {
		fmt.Fprintf(&b, " workers=%d", opts.Workers())
	}
	return b.String()
}

// Repository stores and lists finished sessions.
type Repository interface {
	Insert(ctx context.Context, rec Record) error
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close()
}
