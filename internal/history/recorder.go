package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arxivist/fetchsession/internal/fetch"
	"github.com/arxivist/fetchsession/internal/session"
)

const insertTimeout = 5 * time.Second

// RawIDGenerator mints record identifiers.
type RawIDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

// Recorder turns session completions into history records. Its Hook is
// registered on the session store; persistence failures are logged and
// never surface into the session lifecycle.
type Recorder struct {
	repo   Repository
	ids    RawIDGenerator
	clock  fetch.Clock
	logger *zap.Logger

	mu       sync.Mutex
	lastOpts func() (fetch.Options, bool)
}

// NewRecorder constructs a Recorder. A nil logger is replaced with a nop
// logger.
func NewRecorder(repo Repository, ids RawIDGenerator, clock fetch.Clock, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{repo: repo, ids: ids, clock: clock, logger: logger}
}

// SetOptionsProvider wires in the source of the session's submitted
// options, so records carry an options summary. Optional.
func (r *Recorder) SetOptionsProvider(f func() (fetch.Options, bool)) {
	r.mu.Lock()
	r.lastOpts = f
	r.mu.Unlock()
}

// Hook returns the completion hook to register on the session store.
func (r *Recorder) Hook() session.Hook {
	return func(snap session.Snapshot) {
		rec, err := r.record(snap)
		if err != nil {
			r.logger.Warn("build history record failed", zap.Error(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		defer cancel()
		if err := r.repo.Insert(ctx, rec); err != nil {
			r.logger.Warn("persist history record failed",
				zap.String("record_id", rec.ID.String()),
				zap.Error(err),
			)
		}
	}
}

// RecordError persists an errored session. Completion hooks never fire for
// error phases, so the dismissal path calls this explicitly before state is
// reset.
func (r *Recorder) RecordError(ctx context.Context, snap session.Snapshot) {
	if !snap.ErrorActive {
		return
	}
	rec, err := r.record(snap)
	if err != nil {
		r.logger.Warn("build history record failed", zap.Error(err))
		return
	}
	if rec.ErrorKind == "" && snap.ErrorInfo != nil {
		rec.ErrorKind = string(snap.ErrorInfo.Kind)
		rec.ErrorMsg = snap.ErrorInfo.Message
	}
	if rec.ErrorKind == string(fetch.ErrKindCancelled) {
		rec.Outcome = OutcomeCancelled
	} else {
		rec.Outcome = OutcomeError
	}
	ctx, cancel := context.WithTimeout(ctx, insertTimeout)
	defer cancel()
	if err := r.repo.Insert(ctx, rec); err != nil {
		r.logger.Warn("persist history record failed",
			zap.String("record_id", rec.ID.String()),
			zap.Error(err),
		)
	}
}

func (r *Recorder) record(snap session.Snapshot) (Record, error) {
	id, err := r.ids.NewRawID()
	if err != nil {
		return Record{}, err
	}
	rec := Record{
		ID:         id,
		FinishedAt: r.clock.Now(),
		Outcome:    OutcomeCompleted,
	}
	if snap.StartTime != nil {
		rec.StartedAt = *snap.StartTime
	}
	if snap.Latest != nil {
		rec.Counters = snap.Latest.Counters
		if snap.Latest.Phase == fetch.PhaseError {
			rec.Outcome = OutcomeError
		}
		if snap.Latest.Error != nil {
			rec.ErrorKind = string(snap.Latest.Error.Kind)
			rec.ErrorMsg = snap.Latest.Error.Message
		}
	}
	if rec.ErrorKind == string(fetch.ErrKindCancelled) {
		rec.Outcome = OutcomeCancelled
	}
	r.mu.Lock()
	lastOpts := r.lastOpts
	r.mu.Unlock()
	if lastOpts != nil {
		if opts, ok := lastOpts(); ok {
			rec.Options = Summarize(opts)
		}
	}
	return rec, nil
}
