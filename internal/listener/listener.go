// Package listener subscribes once, for the process lifetime, to the
// backend progress stream and writes every accepted snapshot into session
// state. Ordering and deduplication live here and nowhere else.
package listener

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/arxivist/fetchsession/internal/fetch"
	"github.com/arxivist/fetchsession/internal/metrics"
	"github.com/arxivist/fetchsession/internal/session"
	"github.com/arxivist/fetchsession/internal/stream"
)

// Listener is the single reducer between the event stream and the session
// store. Snapshots are applied in backend-emission order: anything with a
// sequence number at or below the last applied one is a duplicate or a
// reordering and is dropped.
type Listener struct {
	str    stream.Stream
	store  *session.Store
	logger *zap.Logger

	mu      sync.Mutex
	lastSeq uint64

	subscribed atomic.Bool
	degraded   atomic.Bool
}

// New constructs a Listener. A nil logger is replaced with a nop logger.
func New(str stream.Stream, store *session.Store, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{str: str, store: store, logger: logger}
}

// Run subscribes and blocks until ctx ends. There is no retry beyond the
// transport's own reconnection; a failed subscription flips the degraded
// flag so the loss is surfaced rather than silent.
func (l *Listener) Run(ctx context.Context) error {
	cancel, err := l.str.Subscribe(ctx, l.handle)
	if err != nil {
		l.degraded.Store(true)
		return fmt.Errorf("subscribe progress stream: %w", err)
	}
	defer cancel()
	l.subscribed.Store(true)
	defer l.subscribed.Store(false)

	<-ctx.Done()
	return nil
}

func (l *Listener) handle(st fetch.Status) {
	if err := st.Validate(); err != nil {
		l.logger.Debug("discarding invalid progress snapshot", zap.Error(err))
		metrics.ObserveProgressEvent("dropped")
		return
	}

	l.mu.Lock()
	if st.Seq <= l.lastSeq {
		l.mu.Unlock()
		l.logger.Debug("dropping stale progress snapshot",
			zap.Uint64("seq", st.Seq),
			zap.Uint64("last_applied", l.lastSeq),
		)
		metrics.ObserveProgressEvent("dropped")
		return
	}
	l.lastSeq = st.Seq
	l.mu.Unlock()

	metrics.ObserveProgressEvent("applied")
	l.store.ApplyStatus(st)
}

// Connected reports whether the stream link is believed healthy. When the
// transport cannot say, a successful subscription counts as connected.
func (l *Listener) Connected() bool {
	if l.degraded.Load() || !l.subscribed.Load() {
		return false
	}
	if hr, ok := l.str.(stream.HealthReporter); ok {
		return hr.Connected()
	}
	return true
}
