package observer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arxivist/fetchsession/internal/builder"
	"github.com/arxivist/fetchsession/internal/fetch"
	"github.com/arxivist/fetchsession/internal/session"
)

func runningSnapshot(progress float64, started time.Time) session.Snapshot {
	return session.Snapshot{
		Running:   true,
		StartTime: &started,
		Latest: &fetch.Status{
			Seq:      1,
			Phase:    fetch.PhaseAnalyzing,
			Progress: progress,
			Step:     "analyzing papers",
		},
	}
}

func TestEstimateRemaining(t *testing.T) {
	t.Parallel()

	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := started.Add(time.Minute)

	got := EstimateRemaining(runningSnapshot(0.25, started), now)
	require.NotNil(t, got)
	// elapsed/progress - elapsed = 60s/0.25 - 60s = 180s
	require.Equal(t, 3*time.Minute, *got)
}

// ETA is undefined at progress 0, progress 1, during error, and while
// completing.
func TestEstimateRemainingUndefined(t *testing.T) {
	t.Parallel()

	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := started.Add(time.Minute)

	require.Nil(t, EstimateRemaining(runningSnapshot(0, started), now))
	require.Nil(t, EstimateRemaining(runningSnapshot(1, started), now))

	errored := runningSnapshot(0.5, started)
	errored.ErrorActive = true
	require.Nil(t, EstimateRemaining(errored, now))

	completing := runningSnapshot(0.5, started)
	completing.Completing = true
	require.Nil(t, EstimateRemaining(completing, now))

	require.Nil(t, EstimateRemaining(session.Snapshot{Running: true}, now))
}

// Whenever a session is running the dialog must show the global snapshot;
// with no session it reverts to its own draft.
func TestDialogReconciliation(t *testing.T) {
	t.Parallel()

	draft := builder.Form{Mode: string(fetch.ModeByCategory), MaxPapers: 5}
	dialog := NewDialog(draft)
	now := time.Now()

	view := dialog.View(session.Snapshot{}, now)
	cfg, ok := view.(Configuring)
	require.True(t, ok)
	require.Equal(t, 5, cfg.Draft.MaxPapers)

	started := now.Add(-time.Minute)
	view = dialog.View(runningSnapshot(0.5, started), now)
	obs, ok := view.(Observing)
	require.True(t, ok)
	require.Equal(t, fetch.PhaseAnalyzing, obs.Session.Phase)

	// Editing the draft during a session does not leak into the view.
	dialog.SetDraft(builder.Form{MaxPapers: 99})
	view = dialog.View(runningSnapshot(0.5, started), now)
	_, ok = view.(Observing)
	require.True(t, ok)

	// After the session ends the dialog shows the updated draft.
	view = dialog.View(session.Snapshot{}, now)
	cfg, ok = view.(Configuring)
	require.True(t, ok)
	require.Equal(t, 99, cfg.Draft.MaxPapers)
}

func TestStatusBarHiddenWhenIdle(t *testing.T) {
	t.Parallel()

	bar := ProjectStatusBar(session.Snapshot{}, time.Now())
	require.False(t, bar.Visible)
	require.Empty(t, bar.Label)
}

func TestStatusBarLabels(t *testing.T) {
	t.Parallel()

	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := started.Add(time.Minute)

	bar := ProjectStatusBar(runningSnapshot(0.25, started), now)
	require.True(t, bar.Visible)
	require.Contains(t, bar.Label, "analyzing papers")
	require.Contains(t, bar.Label, "25%")
	require.Contains(t, bar.Label, "left")

	completing := runningSnapshot(1, started)
	completing.Completing = true
	completing.Latest.Phase = fetch.PhaseCompleted
	completing.Latest.Counters = fetch.Counters{Found: 8, Saved: 3}
	bar = ProjectStatusBar(completing, now)
	require.Contains(t, bar.Label, "3 papers saved")

	errored := runningSnapshot(0.5, started)
	errored.ErrorActive = true
	errored.ErrorInfo = &fetch.ErrorInfo{Kind: fetch.ErrKindNetwork, Message: "connection refused", Retryable: true}
	bar = ProjectStatusBar(errored, now)
	require.Contains(t, bar.Label, "connection refused")
}

func TestDetailCardSummary(t *testing.T) {
	t.Parallel()

	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := started.Add(time.Minute)

	require.False(t, ProjectDetailCard(session.Snapshot{}, now).Visible)

	live := ProjectDetailCard(runningSnapshot(0.5, started), now)
	require.True(t, live.Visible)
	require.Empty(t, live.Summary)

	completing := runningSnapshot(1, started)
	completing.Completing = true
	completing.Latest.Counters = fetch.Counters{Found: 10, Saved: 4, Filtered: 5, Duplicates: 1}
	card := ProjectDetailCard(completing, now)
	require.Contains(t, card.Summary, "found 10")
	require.Contains(t, card.Summary, "saved 4")
}

func TestProjectSessionRetryFlag(t *testing.T) {
	t.Parallel()

	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := started.Add(time.Minute)

	snap := runningSnapshot(0.5, started)
	snap.ErrorActive = true
	snap.ErrorInfo = &fetch.ErrorInfo{Kind: fetch.ErrKindLLMRateLimit, Message: "429", Retryable: true}
	require.True(t, ProjectSession(snap, now).CanRetry)

	snap.ErrorInfo = &fetch.ErrorInfo{Kind: fetch.ErrKindCancelled, Message: "cancelled"}
	require.False(t, ProjectSession(snap, now).CanRetry)
}
