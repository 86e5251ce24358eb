// Package backend implements the worker that executes fetch sessions: paper
// discovery, relevance filtering, analysis over a bounded pool, and progress
// emission on the event stream. The orchestrator only ever sees it through
// the command interface and the stream.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/arxivist/fetchsession/internal/fetch"
	"github.com/arxivist/fetchsession/internal/stream"
)

// Progress weights per phase; analysis dominates wall time.
const (
	fetchWeight  = 0.25
	filterWeight = 0.15
)

// ErrRunActive is returned by StartFetch while a run is already in flight.
var ErrRunActive = errors.New("a fetch run is already active")

// ErrNoRun is returned by CancelFetch when nothing is running.
var ErrNoRun = errors.New("no active fetch run")

// Paper is one discovered paper.
type Paper struct {
	ID         string
	Title      string
	Summary    string
	Published  time.Time
	Categories []string
}

// SourceResult carries discovered papers plus how many queries the source
// answered from its cache.
type SourceResult struct {
	Papers    []Paper
	CacheHits int
}

// Source discovers papers for a session.
type Source interface {
	ByCategory(ctx context.Context, categories []string, from, to time.Time, max int) (SourceResult, error)
	ByID(ctx context.Context, ids []string) (SourceResult, error)
}

// Analysis is the outcome of scoring one paper.
type Analysis struct {
	Relevance int
	Summary   string
	Deep      bool
}

// Analyzer scores papers. Score is the cheap prefilter pass; Analyze is the
// full (possibly deep) pass.
type Analyzer interface {
	Score(p Paper, opts fetch.Options) int
	Analyze(ctx context.Context, p Paper, opts fetch.Options) (Analysis, error)
}

// Saver persists papers that clear the relevance threshold.
type Saver interface {
	SavePaper(ctx context.Context, p Paper, a Analysis) error
}

// Worker runs at most one session at a time and implements fetch.Commander.
type Worker struct {
	source   Source
	analyzer Analyzer
	saver    Saver
	pub      stream.Stream
	logger   *zap.Logger

	// seq is process-wide monotonic across sessions, so the listener never
	// needs to handle a reset.
	seq atomic.Uint64

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// NewWorker constructs a Worker. A nil saver discards papers; a nil logger
// is replaced with a nop logger.
func NewWorker(source Source, analyzer Analyzer, saver Saver, pub stream.Stream, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if saver == nil {
		saver = discardSaver{}
	}
	return &Worker{
		source:   source,
		analyzer: analyzer,
		saver:    saver,
		pub:      pub,
		logger:   logger,
	}
}

// StartFetch acknowledges the session and runs the pipeline in the
// background. The single-run guard mirrors the orchestrator's own: defense
// in depth, not the primary enforcement.
func (w *Worker) StartFetch(_ context.Context, opts fetch.Options) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return ErrRunActive
	}
	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.running = true

	go func() {
		defer func() {
			w.mu.Lock()
			w.running = false
			w.cancel = nil
			w.mu.Unlock()
			cancel()
		}()
		w.run(runCtx, opts)
	}()
	return nil
}

// CancelFetch requests cooperative cancellation of the active run. The run
// still emits its terminal event; callers must not assume it has stopped.
func (w *Worker) CancelFetch(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running || w.cancel == nil {
		return ErrNoRun
	}
	w.cancel()
	return nil
}

// Running reports whether a run is in flight.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// run executes one session start to terminal event.
func (w *Worker) run(ctx context.Context, opts fetch.Options) {
	st := fetch.Status{Phase: fetch.PhaseFetching, Step: "discovering papers"}
	if opts.ConcurrencyMode == fetch.Concurrent {
		st.Pool = &fetch.PoolStats{}
	}
	w.emit(ctx, &st)

	unique, err := w.discover(ctx, opts, &st)
	if err != nil {
		w.fail(&st, err)
		return
	}

	st.Phase = fetch.PhaseFiltering
	st.Step = "filtering by relevance"
	st.Progress = fetchWeight
	w.emit(ctx, &st)

	candidates := w.prefilter(ctx, opts, unique, &st)
	if ctx.Err() != nil {
		w.fail(&st, ctx.Err())
		return
	}

	st.Phase = fetch.PhaseAnalyzing
	st.Step = "analyzing papers"
	st.Progress = fetchWeight + filterWeight
	w.emit(ctx, &st)

	if err := w.analyze(ctx, opts, candidates, &st); err != nil {
		w.fail(&st, err)
		return
	}

	st.Phase = fetch.PhaseCompleted
	st.Step = "done"
	st.Progress = 1
	w.emit(ctx, &st)
}

// discover runs the fetching phase and returns papers deduplicated by ID.
// Found counts every discovered entry including duplicates, so the
// saved+filtered+duplicates <= found invariant holds by construction.
func (w *Worker) discover(ctx context.Context, opts fetch.Options, st *fetch.Status) ([]Paper, error) {
	var res SourceResult
	var err error
	switch opts.Mode {
	case fetch.ModeByID:
		res, err = w.source.ByID(ctx, opts.IDs)
	default:
		from, to := opts.Window(time.Now().UTC())
		res, err = w.source.ByCategory(ctx, opts.Categories, from, to, opts.MaxPapers)
	}
	if err != nil {
		return nil, fmt.Errorf("discover papers: %w", err)
	}

	seen := make(map[string]struct{}, len(res.Papers))
	unique := make([]Paper, 0, len(res.Papers))
	for _, p := range res.Papers {
		st.Counters.Found++
		if _, dup := seen[p.ID]; dup {
			st.Counters.Duplicates++
			continue
		}
		seen[p.ID] = struct{}{}
		unique = append(unique, p)
	}
	st.Counters.CacheHits = res.CacheHits
	return unique, nil
}

// prefilter drops papers whose cheap score misses the relevance threshold.
func (w *Worker) prefilter(ctx context.Context, opts fetch.Options, papers []Paper, st *fetch.Status) []Paper {
	candidates := make([]Paper, 0, len(papers))
	for i, p := range papers {
		if ctx.Err() != nil {
			return candidates
		}
		if w.analyzer.Score(p, opts) < opts.MinRelevance {
			st.Counters.Filtered++
		} else {
			candidates = append(candidates, p)
		}
		if len(papers) > 0 {
			st.Progress = fetchWeight + filterWeight*float64(i+1)/float64(len(papers))
		}
		w.emit(ctx, st)
	}
	return candidates
}

// analyze runs the analysis pool and accounts every paper exactly once:
// saved, filtered, or failed.
func (w *Worker) analyze(ctx context.Context, opts fetch.Options, papers []Paper, st *fetch.Status) error {
	if len(papers) == 0 {
		return nil
	}
	workers := opts.Workers()

	type outcome struct {
		paper Paper
		res   Analysis
		err   error
	}

	jobs := make(chan Paper)
	results := make(chan outcome)
	var wg sync.WaitGroup
	workerCtx, stop := context.WithCancel(ctx)
	defer stop()

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				a, err := w.analyzer.Analyze(workerCtx, p, opts)
				select {
				case results <- outcome{paper: p, res: a, err: err}:
				case <-workerCtx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, p := range papers {
			select {
			case jobs <- p:
			case <-workerCtx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	processed := 0
	baseProgress := fetchWeight + filterWeight
	for out := range results {
		processed++
		if st.Pool != nil {
			st.Pool.QueueSize = len(papers) - processed
			st.Pool.ActiveTasks = min(workers, len(papers)-processed)
		}
		switch {
		case out.err != nil:
			if workerCtx.Err() != nil {
				return ctx.Err()
			}
			info := Classify(out.err)
			if !info.Retryable && info.Kind == fetch.ErrKindLLMAuth {
				// Auth failures poison every remaining task; stop now.
				return out.err
			}
			st.Errors = append(st.Errors, fmt.Sprintf("%s: %s", out.paper.ID, out.err))
			if st.Pool != nil {
				st.Pool.FailedTasks++
			}
			w.logger.Warn("paper analysis failed",
				zap.String("paper_id", out.paper.ID),
				zap.Error(out.err),
			)
		case out.res.Relevance >= opts.MinRelevance:
			if err := w.saver.SavePaper(ctx, out.paper, out.res); err != nil {
				st.Errors = append(st.Errors, fmt.Sprintf("save %s: %s", out.paper.ID, err))
			} else {
				st.Counters.Saved++
			}
			st.Counters.Analyzed++
			if st.Pool != nil {
				st.Pool.CompletedTasks++
			}
		default:
			st.Counters.Filtered++
			st.Counters.Analyzed++
			if st.Pool != nil {
				st.Pool.CompletedTasks++
			}
		}
		st.Progress = baseProgress + (1-baseProgress)*float64(processed)/float64(len(papers))
		w.emit(ctx, st)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return ctx.Err()
}

// fail emits the terminal error snapshot for the run. It publishes on a
// fresh context: the terminal event must go out even though the run context
// is dead.
func (w *Worker) fail(st *fetch.Status, err error) {
	info := Classify(err)
	st.Phase = fetch.PhaseError
	st.Step = "failed"
	st.Error = &info
	w.emit(context.Background(), st)
}

// emit publishes a snapshot copy stamped with the next sequence number.
func (w *Worker) emit(ctx context.Context, st *fetch.Status) {
	st.Seq = w.seq.Add(1)
	cp := *st
	if st.Pool != nil {
		pool := *st.Pool
		cp.Pool = &pool
	}
	if len(st.Errors) > 0 {
		cp.Errors = append([]string(nil), st.Errors...)
	}
	if err := w.pub.Publish(ctx, cp); err != nil {
		w.logger.Warn("publish progress failed", zap.Error(err))
	}
}

type discardSaver struct{}

func (discardSaver) SavePaper(context.Context, Paper, Analysis) error {
	return nil
}
