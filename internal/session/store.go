// Package session holds the process-wide session state: the single source of
// truth for whether a fetch is running, the latest progress snapshot, and the
// error state. Exactly one Store exists per process; it is mutated only
// through the effect methods and read through Snapshot, which keeps the
// single-writer invariant enforceable and testable.
package session

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arxivist/fetchsession/internal/fetch"
)

// ErrSessionRunning is returned by StartSession while a session is active.
// At most one session runs at a time; the second call is a no-op.
var ErrSessionRunning = errors.New("a fetch session is already running")

// Snapshot is the read-only projection observers consume.
type Snapshot struct {
	Running     bool
	Completing  bool
	ErrorActive bool
	ErrorInfo   *fetch.ErrorInfo
	Latest      *fetch.Status
	StartTime   *time.Time
}

// Hook receives the snapshot taken when a session first reports completion.
// Hooks fire exactly once per session no matter how many completed-phase
// events arrive.
type Hook func(Snapshot)

// Store is the session state singleton. All mutation goes through the effect
// methods; observers read via Snapshot and may Subscribe for change
// notifications.
type Store struct {
	mu     sync.RWMutex
	clock  fetch.Clock
	logger *zap.Logger

	running     bool
	completing  bool
	errorActive bool
	errorInfo   *fetch.ErrorInfo
	latest      *fetch.Status
	startTime   time.Time

	// completedFired guards the one-time completion transition; reset on the
	// next StartSession.
	completedFired bool
	hooks          []Hook

	subs    map[int]chan struct{}
	nextSub int
}

// NewStore constructs the Store. A nil logger is replaced with a nop logger.
func NewStore(clock fetch.Clock, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		clock:  clock,
		logger: logger,
		subs:   make(map[int]chan struct{}),
	}
}

// OnCompletion registers a hook fired exactly once per session when the
// backend first reports completion. Register during wiring, before sessions
// start.
func (s *Store) OnCompletion(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

// StartSession transitions to a fresh running session. Calling it while a
// session is running leaves the state untouched and returns
// ErrSessionRunning.
func (s *Store) StartSession() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSessionRunning
	}
	s.running = true
	s.completing = false
	s.errorActive = false
	s.errorInfo = nil
	s.latest = nil
	s.startTime = s.clock.Now()
	s.completedFired = false
	s.mu.Unlock()

	s.notify()
	return nil
}

// ApplyStatus overwrites the latest status wholesale; payloads are full
// snapshots, not deltas. The first completed-phase status triggers the
// completing transition and the registered hooks; identical follow-up events
// do not re-trigger them. Statuses arriving while no session is running are
// dropped (late events after dismissal are expected under cooperative
// cancellation).
func (s *Store) ApplyStatus(st fetch.Status) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.logger.Debug("dropping status outside a session", zap.String("phase", string(st.Phase)))
		return
	}
	stCopy := st
	s.latest = &stCopy

	var fire []Hook
	var snap Snapshot
	switch st.Phase {
	case fetch.PhaseCompleted:
		if !s.completedFired {
			s.completedFired = true
			s.completing = true
			fire = append(fire, s.hooks...)
			snap = s.snapshotLocked()
		}
	case fetch.PhaseError:
		s.errorActive = true
		if st.Error != nil {
			info := *st.Error
			s.errorInfo = &info
		}
	}
	s.mu.Unlock()

	for _, h := range fire {
		h(snap)
	}
	s.notify()
}

// MarkCompleting flags the window between backend completion and the user
// acknowledging the summary.
func (s *Store) MarkCompleting() {
	s.mu.Lock()
	s.completing = true
	s.mu.Unlock()
	s.notify()
}

// SetError records or clears the session error state. Kind and retryability
// are taken verbatim from the backend classification.
func (s *Store) SetError(active bool, info *fetch.ErrorInfo) {
	s.mu.Lock()
	s.errorActive = active
	if info != nil {
		cp := *info
		s.errorInfo = &cp
	} else if !active {
		s.errorInfo = nil
	}
	s.mu.Unlock()
	s.notify()
}

// StopSession resets every field to its idle default. It is the only way
// running becomes false; completion alone keeps the summary visible until
// the user dismisses it.
func (s *Store) StopSession() {
	s.mu.Lock()
	s.running = false
	s.completing = false
	s.errorActive = false
	s.errorInfo = nil
	s.latest = nil
	s.startTime = time.Time{}
	s.completedFired = false
	s.mu.Unlock()
	s.notify()
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Running:     s.running,
		Completing:  s.completing,
		ErrorActive: s.errorActive,
	}
	if s.errorInfo != nil {
		info := *s.errorInfo
		snap.ErrorInfo = &info
	}
	if s.latest != nil {
		st := *s.latest
		snap.Latest = &st
	}
	if !s.startTime.IsZero() {
		t := s.startTime
		snap.StartTime = &t
	}
	return snap
}

// Subscribe returns a channel pulsed on every state change plus a cancel
// function. Notifications are coalesced; a slow reader sees at least one
// pulse after the most recent change.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan struct{}, 1)
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Store) notify() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
