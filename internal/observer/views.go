// Package observer renders session state into view models. Observers are
// pure projections: whenever a session is running globally every observer
// shows the global snapshot, and only the dialog falls back to its own
// draft when nothing runs. Nothing here mutates session state.
package observer

import (
	"fmt"
	"time"

	"github.com/arxivist/fetchsession/internal/builder"
	"github.com/arxivist/fetchsession/internal/fetch"
	"github.com/arxivist/fetchsession/internal/session"
)

// SessionView is the shared projection of a live (or finished, undismissed)
// session.
type SessionView struct {
	Phase       fetch.Phase
	Progress    float64
	Step        string
	Counters    fetch.Counters
	Pool        *fetch.PoolStats
	Errors      []string
	Completing  bool
	ErrorActive bool
	ErrorInfo   *fetch.ErrorInfo
	// CanRetry is true when the active error is worth resubmitting.
	CanRetry bool
	Elapsed  time.Duration
	// Remaining is nil whenever the estimate is undefined (no progress yet,
	// already done, completing, or errored).
	Remaining *time.Duration
}

// ProjectSession builds the shared session view for a point in time.
func ProjectSession(snap session.Snapshot, now time.Time) SessionView {
	view := SessionView{
		Phase:       fetch.PhaseIdle,
		Completing:  snap.Completing,
		ErrorActive: snap.ErrorActive,
		ErrorInfo:   snap.ErrorInfo,
	}
	if snap.ErrorActive && snap.ErrorInfo != nil {
		view.CanRetry = snap.ErrorInfo.Retryable
	}
	if snap.Latest != nil {
		view.Phase = snap.Latest.Phase
		view.Progress = snap.Latest.Progress
		view.Step = snap.Latest.Step
		view.Counters = snap.Latest.Counters
		view.Pool = snap.Latest.Pool
		view.Errors = snap.Latest.Errors
	}
	if snap.StartTime != nil {
		view.Elapsed = now.Sub(*snap.StartTime)
	}
	view.Remaining = EstimateRemaining(snap, now)
	return view
}

// EstimateRemaining derives the time left from live values on every call;
// it is never stored, so it cannot drift. The estimate is undefined (nil)
// unless 0 < progress < 1 and the session is neither completing nor
// errored.
func EstimateRemaining(snap session.Snapshot, now time.Time) *time.Duration {
	if snap.Completing || snap.ErrorActive {
		return nil
	}
	if snap.Latest == nil || snap.StartTime == nil {
		return nil
	}
	p := snap.Latest.Progress
	if p <= 0 || p >= 1 {
		return nil
	}
	elapsed := now.Sub(*snap.StartTime)
	if elapsed <= 0 {
		return nil
	}
	remaining := time.Duration(float64(elapsed)/p) - elapsed
	return &remaining
}

// DialogView is what the configuration dialog renders: either the local,
// not-yet-submitted draft or the global session. Modeling the duality as a
// tagged union keeps the reconciliation rule a total function over one
// value.
type DialogView interface {
	dialogView()
}

// Configuring shows the local draft; no session is running.
type Configuring struct {
	Draft builder.Form
}

// Observing shows the global session.
type Observing struct {
	Session SessionView
}

func (Configuring) dialogView() {}
func (Observing) dialogView()  {}

// Dialog is the configuration dialog's projection. Its draft is transient
// local state used solely before a session exists, so the dialog can be
// closed and reopened without disturbing a running session.
type Dialog struct {
	draft builder.Form
}

// NewDialog seeds the dialog with a draft (normally builder.DefaultForm()).
func NewDialog(draft builder.Form) *Dialog {
	return &Dialog{draft: draft}
}

// SetDraft replaces the local draft. It never touches session state.
func (d *Dialog) SetDraft(form builder.Form) {
	d.draft = form
}

// Draft returns the current local draft.
func (d *Dialog) Draft() builder.Form {
	return d.draft
}

// View resolves the dialog's display: the global snapshot whenever a
// session is running, the local draft otherwise.
func (d *Dialog) View(snap session.Snapshot, now time.Time) DialogView {
	if snap.Running {
		return Observing{Session: ProjectSession(snap, now)}
	}
	return Configuring{Draft: d.draft}
}

// StatusBarView is the slim top-of-window indicator.
type StatusBarView struct {
	Visible  bool
	Phase    fetch.Phase
	Progress float64
	Label    string
}

// ProjectStatusBar renders the slim bar. Hidden while idle.
func ProjectStatusBar(snap session.Snapshot, now time.Time) StatusBarView {
	if !snap.Running {
		return StatusBarView{}
	}
	view := ProjectSession(snap, now)
	bar := StatusBarView{
		Visible:  true,
		Phase:    view.Phase,
		Progress: view.Progress,
	}
	switch {
	case view.ErrorActive && view.ErrorInfo != nil:
		bar.Label = fmt.Sprintf("fetch failed: %s", view.ErrorInfo.Message)
	case view.Completing:
		bar.Label = fmt.Sprintf("done: %d papers saved", view.Counters.Saved)
	case view.Remaining != nil:
		bar.Label = fmt.Sprintf("%s · %d%% · ~%s left", view.Step, int(view.Progress*100), view.Remaining.Round(time.Second))
	default:
		bar.Label = fmt.Sprintf("%s · %d%%", view.Step, int(view.Progress*100))
	}
	return bar
}

// DetailCardView is the floating card with the full progress breakdown.
type DetailCardView struct {
	Visible bool
	Session SessionView
	// Summary is set once the session is completing or errored.
	Summary string
}

// ProjectDetailCard renders the floating detail card. Hidden while idle.
func ProjectDetailCard(snap session.Snapshot, now time.Time) DetailCardView {
	if !snap.Running {
		return DetailCardView{}
	}
	view := ProjectSession(snap, now)
	card := DetailCardView{Visible: true, Session: view}
	switch {
	case view.ErrorActive && view.ErrorInfo != nil:
		card.Summary = fmt.Sprintf("%s: %s", view.ErrorInfo.Kind, view.ErrorInfo.Message)
	case view.Completing:
		c := view.Counters
		card.Summary = fmt.Sprintf("found %d, saved %d, filtered %d, duplicates %d",
			c.Found, c.Saved, c.Filtered, c.Duplicates)
	}
	return card
}
