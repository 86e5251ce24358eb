// Package orchestrator drives the start/cancel protocol between observers
// and the backend: optimistic starts, fire-and-forget cancellation, retry
// with the last submitted options, and explicit dismissal.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arxivist/fetchsession/internal/fetch"
	"github.com/arxivist/fetchsession/internal/session"
)

// DefaultFirstEventTimeout bounds how long an acknowledged session may stay
// silent before it is treated as stalled.
const DefaultFirstEventTimeout = 30 * time.Second

// ErrNoSession is returned by Cancel and Retry when there is nothing to act
// on.
var ErrNoSession = errors.New("no active fetch session")

// ErrNotRetryable is returned by Retry when the current error is terminal.
var ErrNotRetryable = errors.New("current session error is not retryable")

// Orchestrator owns the protocol side of session state: it is the only
// component that issues backend commands.
type Orchestrator struct {
	cmd    fetch.Commander
	store  *session.Store
	clock  fetch.Clock
	logger *zap.Logger

	firstEventTimeout time.Duration

	mu       sync.Mutex
	lastOpts *fetch.Options
}

// New constructs an Orchestrator. firstEventTimeout <= 0 selects the
// default.
func New(cmd fetch.Commander, store *session.Store, clock fetch.Clock, logger *zap.Logger, firstEventTimeout time.Duration) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if firstEventTimeout <= 0 {
		firstEventTimeout = DefaultFirstEventTimeout
	}
	return &Orchestrator{
		cmd:               cmd,
		store:             store,
		clock:             clock,
		logger:            logger,
		firstEventTimeout: firstEventTimeout,
	}
}

// Start validates nothing itself (the builder already has) and runs the
// Idle→Starting transition: session state flips to running before the
// command round-trip completes, so there is no start/observe race window. A
// rejected start command surfaces as a retryable system error; the session
// stays visible until dismissed.
func (o *Orchestrator) Start(ctx context.Context, opts fetch.Options) error {
	if err := o.store.StartSession(); err != nil {
		return err
	}

	o.mu.Lock()
	cp := opts
	o.lastOpts = &cp
	o.mu.Unlock()

	if err := o.cmd.StartFetch(ctx, opts); err != nil {
		o.logger.Error("start command rejected", zap.Error(err))
		o.store.SetError(true, &fetch.ErrorInfo{
			Kind:      fetch.ErrKindSystem,
			Message:   err.Error(),
			Retryable: true,
		})
		return fmt.Errorf("start fetch: %w", err)
	}

	o.armWatchdog()
	return nil
}

// armWatchdog treats an acknowledged session that never emits a first
// progress event as stalled. The snapshot's start time identifies the
// session, so a watchdog from a dismissed session cannot fire into a newer
// one.
func (o *Orchestrator) armWatchdog() {
	snap := o.store.Snapshot()
	if snap.StartTime == nil {
		return
	}
	started := *snap.StartTime

	time.AfterFunc(o.firstEventTimeout, func() {
		cur := o.store.Snapshot()
		if !cur.Running || cur.ErrorActive || cur.Latest != nil {
			return
		}
		if cur.StartTime == nil || !cur.StartTime.Equal(started) {
			return
		}
		o.logger.Warn("session stalled, no progress event received",
			zap.Duration("timeout", o.firstEventTimeout),
		)
		o.store.SetError(true, &fetch.ErrorInfo{
			Kind:      fetch.ErrKindSystem,
			Message:   "backend acknowledged the session but never reported progress",
			Retryable: true,
		})
	})
}

// Cancel requests cancellation of the active session. Fire-and-forget: the
// session keeps displaying as running until a terminal event arrives, and a
// cancel command that fails to transmit changes nothing (the user may retry
// cancellation).
func (o *Orchestrator) Cancel(ctx context.Context) error {
	if !o.store.Snapshot().Running {
		return ErrNoSession
	}
	if err := o.cmd.CancelFetch(ctx); err != nil {
		o.logger.Warn("cancel command failed to transmit", zap.Error(err))
		return fmt.Errorf("cancel fetch: %w", err)
	}
	return nil
}

// Retry resubmits the last submitted options through the same Starting
// transition. Only valid while a retryable error is active.
func (o *Orchestrator) Retry(ctx context.Context) error {
	snap := o.store.Snapshot()
	if !snap.Running && !snap.ErrorActive {
		return ErrNoSession
	}
	if !snap.ErrorActive || snap.ErrorInfo == nil {
		return fmt.Errorf("retry without an active error: %w", ErrNotRetryable)
	}
	if !snap.ErrorInfo.Retryable {
		return ErrNotRetryable
	}

	o.mu.Lock()
	opts := o.lastOpts
	o.mu.Unlock()
	if opts == nil {
		return ErrNoSession
	}

	o.store.StopSession()
	return o.Start(ctx, *opts)
}

// Dismiss acknowledges a finished (or errored) session and resets state to
// idle. This is the only transition out of the terminal display.
func (o *Orchestrator) Dismiss() {
	o.store.StopSession()
}

// LastOptions returns the most recently submitted options, if any.
func (o *Orchestrator) LastOptions() (fetch.Options, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastOpts == nil {
		return fetch.Options{}, false
	}
	return *o.lastOpts, true
}
