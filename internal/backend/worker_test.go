package backend

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arxivist/fetchsession/internal/fetch"
	"github.com/arxivist/fetchsession/internal/stream"
)

type captureStream struct {
	mu       sync.Mutex
	statuses []fetch.Status
}

func (c *captureStream) Publish(_ context.Context, st fetch.Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, st)
	return nil
}

func (c *captureStream) Subscribe(context.Context, stream.Handler) (func(), error) {
	return func() {}, nil
}

func (c *captureStream) all() []fetch.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]fetch.Status(nil), c.statuses...)
}

func (c *captureStream) last() (fetch.Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.statuses) == 0 {
		return fetch.Status{}, false
	}
	return c.statuses[len(c.statuses)-1], true
}

type stubSource struct {
	result SourceResult
	err    error
}

func (s stubSource) ByCategory(context.Context, []string, time.Time, time.Time, int) (SourceResult, error) {
	return s.result, s.err
}

func (s stubSource) ByID(context.Context, []string) (SourceResult, error) {
	return s.result, s.err
}

type stubAnalyzer struct {
	scoreFn   func(Paper) int
	analyzeFn func(ctx context.Context, p Paper) (Analysis, error)
}

func (s stubAnalyzer) Score(p Paper, _ fetch.Options) int {
	if s.scoreFn == nil {
		return 100
	}
	return s.scoreFn(p)
}

func (s stubAnalyzer) Analyze(ctx context.Context, p Paper, _ fetch.Options) (Analysis, error) {
	if s.analyzeFn == nil {
		return Analysis{Relevance: 100}, nil
	}
	return s.analyzeFn(ctx, p)
}

type recordingSaver struct {
	mu    sync.Mutex
	saved []string
}

func (r *recordingSaver) SavePaper(_ context.Context, p Paper, _ Analysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, p.ID)
	return nil
}

func paper(id string) Paper {
	return Paper{ID: id, Title: "t-" + id, Categories: []string{"cs.AI"}}
}

func sequentialOptions() fetch.Options {
	days := 7
	return fetch.Options{
		Provider:         fetch.ProviderOpenAI,
		Mode:             fetch.ModeByCategory,
		Categories:       []string{"cs.AI"},
		MaxPapers:        10,
		DaysBack:         &days,
		MinRelevance:     50,
		ConcurrencyMode:  fetch.Sequential,
		ResponseLanguage: fetch.LangEnglish,
	}
}

func waitIdle(t *testing.T, w *Worker) {
	t.Helper()
	require.Eventually(t, func() bool { return !w.Running() },
		2*time.Second, 5*time.Millisecond)
}

func TestWorkerRunHappyPath(t *testing.T) {
	t.Parallel()

	pub := &captureStream{}
	source := stubSource{result: SourceResult{
		Papers:    []Paper{paper("2401.11111"), paper("2401.22222"), paper("2401.22222"), paper("2401.33333")},
		CacheHits: 1,
	}}
	analyzer := stubAnalyzer{
		scoreFn: func(p Paper) int {
			if p.ID == "2401.33333" {
				return 10
			}
			return 90
		},
		analyzeFn: func(_ context.Context, p Paper) (Analysis, error) {
			if p.ID == "2401.22222" {
				return Analysis{Relevance: 20}, nil
			}
			return Analysis{Relevance: 90}, nil
		},
	}
	saver := &recordingSaver{}
	w := NewWorker(source, analyzer, saver, pub, zap.NewNop())

	require.NoError(t, w.StartFetch(context.Background(), sequentialOptions()))
	waitIdle(t, w)

	final, ok := pub.last()
	require.True(t, ok)
	require.Equal(t, fetch.PhaseCompleted, final.Phase)
	require.Equal(t, 1.0, final.Progress)
	require.Equal(t, 4, final.Counters.Found)
	require.Equal(t, 1, final.Counters.Duplicates)
	require.Equal(t, 1, final.Counters.CacheHits)
	// One paper prefiltered, one filtered after analysis, one saved.
	require.Equal(t, 2, final.Counters.Filtered)
	require.Equal(t, 2, final.Counters.Analyzed)
	require.Equal(t, 1, final.Counters.Saved)
	require.Equal(t, []string{"2401.11111"}, saver.saved)
	require.LessOrEqual(t,
		final.Counters.Saved+final.Counters.Filtered+final.Counters.Duplicates,
		final.Counters.Found)

	// Phases advance in lifecycle order and never regress.
	rank := map[fetch.Phase]int{
		fetch.PhaseFetching:  0,
		fetch.PhaseFiltering: 1,
		fetch.PhaseAnalyzing: 2,
		fetch.PhaseCompleted: 3,
	}
	prev := -1
	for _, st := range pub.all() {
		r, ok := rank[st.Phase]
		require.True(t, ok, "unexpected phase %q", st.Phase)
		require.GreaterOrEqual(t, r, prev)
		prev = r
	}
}

func TestWorkerSeqStrictlyIncreasesAcrossRuns(t *testing.T) {
	t.Parallel()

	pub := &captureStream{}
	source := stubSource{result: SourceResult{Papers: []Paper{paper("2401.11111")}}}
	w := NewWorker(source, stubAnalyzer{}, nil, pub, zap.NewNop())

	for i := 0; i < 2; i++ {
		require.NoError(t, w.StartFetch(context.Background(), sequentialOptions()))
		waitIdle(t, w)
	}

	var prev uint64
	for _, st := range pub.all() {
		require.Greater(t, st.Seq, prev)
		prev = st.Seq
	}
}

func TestWorkerRejectsOverlappingRuns(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	pub := &captureStream{}
	source := stubSource{result: SourceResult{Papers: []Paper{paper("2401.11111")}}}
	analyzer := stubAnalyzer{analyzeFn: func(ctx context.Context, _ Paper) (Analysis, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return Analysis{Relevance: 100}, ctx.Err()
	}}
	w := NewWorker(source, analyzer, nil, pub, zap.NewNop())

	require.NoError(t, w.StartFetch(context.Background(), sequentialOptions()))
	require.ErrorIs(t, w.StartFetch(context.Background(), sequentialOptions()), ErrRunActive)

	close(release)
	waitIdle(t, w)
	require.NoError(t, w.StartFetch(context.Background(), sequentialOptions()))
	waitIdle(t, w)
}

func TestWorkerCancelDuringAnalysis(t *testing.T) {
	t.Parallel()

	analyzing := make(chan struct{})
	var once sync.Once
	pub := &captureStream{}
	source := stubSource{result: SourceResult{
		Papers: []Paper{paper("2401.11111"), paper("2401.22222")},
	}}
	analyzer := stubAnalyzer{analyzeFn: func(ctx context.Context, _ Paper) (Analysis, error) {
		once.Do(func() { close(analyzing) })
		<-ctx.Done()
		return Analysis{}, ctx.Err()
	}}
	w := NewWorker(source, analyzer, nil, pub, zap.NewNop())

	require.NoError(t, w.StartFetch(context.Background(), sequentialOptions()))
	<-analyzing
	require.NoError(t, w.CancelFetch(context.Background()))
	waitIdle(t, w)

	final, ok := pub.last()
	require.True(t, ok)
	require.Equal(t, fetch.PhaseError, final.Phase)
	require.NotNil(t, final.Error)
	require.Equal(t, fetch.ErrKindCancelled, final.Error.Kind)
	require.False(t, final.Error.Retryable)

	require.ErrorIs(t, w.CancelFetch(context.Background()), ErrNoRun)
}

func TestWorkerAuthFailureAbortsRun(t *testing.T) {
	t.Parallel()

	pub := &captureStream{}
	source := stubSource{result: SourceResult{
		Papers: []Paper{paper("2401.11111"), paper("2401.22222"), paper("2401.33333")},
	}}
	analyzer := stubAnalyzer{analyzeFn: func(_ context.Context, p Paper) (Analysis, error) {
		return Analysis{}, fmt.Errorf("analyze %s: %w", p.ID, ErrLLMAuth)
	}}
	w := NewWorker(source, analyzer, nil, pub, zap.NewNop())

	require.NoError(t, w.StartFetch(context.Background(), sequentialOptions()))
	waitIdle(t, w)

	final, ok := pub.last()
	require.True(t, ok)
	require.Equal(t, fetch.PhaseError, final.Phase)
	require.NotNil(t, final.Error)
	require.Equal(t, fetch.ErrKindLLMAuth, final.Error.Kind)
	require.False(t, final.Error.Retryable)
}

func TestWorkerDiscoveryFailureIsNetworkError(t *testing.T) {
	t.Parallel()

	pub := &captureStream{}
	source := stubSource{err: fmt.Errorf("fetch listing: %w", ErrNetwork)}
	w := NewWorker(source, stubAnalyzer{}, nil, pub, zap.NewNop())

	require.NoError(t, w.StartFetch(context.Background(), sequentialOptions()))
	waitIdle(t, w)

	final, ok := pub.last()
	require.True(t, ok)
	require.Equal(t, fetch.PhaseError, final.Phase)
	require.NotNil(t, final.Error)
	require.Equal(t, fetch.ErrKindNetwork, final.Error.Kind)
	require.True(t, final.Error.Retryable)
}

func TestWorkerConcurrentRunReportsPoolStats(t *testing.T) {
	t.Parallel()

	pub := &captureStream{}
	papers := make([]Paper, 0, 6)
	for i := 1; i <= 6; i++ {
		papers = append(papers, paper(fmt.Sprintf("2401.1000%d", i)))
	}
	source := stubSource{result: SourceResult{Papers: papers}}
	w := NewWorker(source, stubAnalyzer{}, nil, pub, zap.NewNop())

	opts := sequentialOptions()
	opts.ConcurrencyMode = fetch.Concurrent
	opts.MaxConcurrent = 3
	require.NoError(t, w.StartFetch(context.Background(), opts))
	waitIdle(t, w)

	final, ok := pub.last()
	require.True(t, ok)
	require.Equal(t, fetch.PhaseCompleted, final.Phase)
	require.NotNil(t, final.Pool)
	require.Equal(t, 6, final.Pool.CompletedTasks)
	require.Equal(t, 0, final.Pool.QueueSize)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err       error
		kind      fetch.ErrorKind
		retryable bool
	}{
		{context.Canceled, fetch.ErrKindCancelled, false},
		{context.DeadlineExceeded, fetch.ErrKindNetwork, true},
		{fmt.Errorf("wrapped: %w", ErrNetwork), fetch.ErrKindNetwork, true},
		{fmt.Errorf("wrapped: %w", ErrLLMRateLimit), fetch.ErrKindLLMRateLimit, true},
		{fmt.Errorf("wrapped: %w", ErrLLMAuth), fetch.ErrKindLLMAuth, false},
		{fmt.Errorf("disk full"), fetch.ErrKindSystem, true},
	}
	for _, tc := range cases {
		info := Classify(tc.err)
		require.Equal(t, tc.kind, info.Kind, tc.err.Error())
		require.Equal(t, tc.retryable, info.Retryable, tc.err.Error())
	}
}
