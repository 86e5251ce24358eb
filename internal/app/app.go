// Package app builds the application's dependency graph and owns its
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/arxivist/fetchsession/internal/api"
	"github.com/arxivist/fetchsession/internal/backend"
	"github.com/arxivist/fetchsession/internal/backend/arxiv"
	"github.com/arxivist/fetchsession/internal/builder"
	"github.com/arxivist/fetchsession/internal/clock/system"
	"github.com/arxivist/fetchsession/internal/config"
	"github.com/arxivist/fetchsession/internal/history"
	historymemory "github.com/arxivist/fetchsession/internal/history/memory"
	historypg "github.com/arxivist/fetchsession/internal/history/postgres"
	iduuid "github.com/arxivist/fetchsession/internal/id/uuid"
	"github.com/arxivist/fetchsession/internal/listener"
	"github.com/arxivist/fetchsession/internal/logging"
	"github.com/arxivist/fetchsession/internal/metrics"
	"github.com/arxivist/fetchsession/internal/orchestrator"
	"github.com/arxivist/fetchsession/internal/prefs"
	"github.com/arxivist/fetchsession/internal/session"
	"github.com/arxivist/fetchsession/internal/stream"
	streammemory "github.com/arxivist/fetchsession/internal/stream/memory"
	streamnats "github.com/arxivist/fetchsession/internal/stream/nats"
)

// eventStream is the full surface the app needs from a progress stream
// implementation.
type eventStream interface {
	stream.Stream
	stream.HealthReporter
	Close()
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	sessions     *session.Store
	orch         *orchestrator.Orchestrator
	worker       *backend.Worker
	listener     *listener.Listener
	events       eventStream
	prefsStore   prefs.Store
	histRepo     history.Repository
	recorder     *history.Recorder
	apiServer    *api.Server
	stopListener func()
}

// Build creates the application's dependencies from configuration.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies", zap.Int("port", cfg.Server.Port))

	clock := system.New()
	a.sessions = session.NewStore(clock, logger.Named("session"))

	if err := a.setupStream(); err != nil {
		return nil, err
	}
	if err := a.setupHistory(ctx, clock); err != nil {
		return nil, err
	}
	a.setupPrefs()
	a.setupBackend()

	a.orch = orchestrator.New(a.worker, a.sessions, clock, logger.Named("orchestrator"), cfg.FirstEventTimeout())
	a.recorder.SetOptionsProvider(a.orch.LastOptions)

	b := builder.New(a.prefsStore, cfg.Credentials, logger.Named("builder"))
	a.listener = listener.New(a.events, a.sessions, logger.Named("listener"))

	a.registerSessionMetrics()

	a.apiServer = api.NewServer(
		b,
		a.orch,
		a.sessions,
		a.listener,
		a.recorder,
		a.histRepo,
		clock,
		cfg,
		logger.Named("api"),
	)
	return a, nil
}

func (a *App) setupStream() error {
	if a.cfg.Stream.NATSURL == "" {
		a.logger.Info("using in-process event bus")
		a.events = streammemory.NewBus(a.logger.Named("bus"))
		return nil
	}
	a.logger.Info("connecting to NATS", zap.String("url", a.cfg.Stream.NATSURL))
	st, err := streamnats.Connect(a.cfg.Stream.NATSURL, a.cfg.Stream.Subject, a.logger.Named("nats"))
	if err != nil {
		return fmt.Errorf("nats connect failed: %w", err)
	}
	a.events = st
	return nil
}

func (a *App) setupHistory(ctx context.Context, clock *system.Clock) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("using in-memory session history")
		a.histRepo = historymemory.New()
	} else {
		a.logger.Info("using postgres session history", zap.String("table", a.cfg.DB.Table))
		repo, err := historypg.New(ctx, historypg.Config{
			DSN:      a.cfg.DB.DSN,
			Table:    a.cfg.DB.Table,
			MaxConns: a.cfg.DB.MaxConns,
			MinConns: a.cfg.DB.MinConns,
		})
		if err != nil {
			return fmt.Errorf("history store init failed: %w", err)
		}
		a.histRepo = repo
	}
	a.recorder = history.NewRecorder(a.histRepo, iduuid.New(), clock, a.logger.Named("history"))
	a.sessions.OnCompletion(a.recorder.Hook())
	return nil
}

func (a *App) setupPrefs() {
	store, err := prefs.NewFileStore(a.cfg.Prefs.Path)
	if err != nil {
		a.logger.Warn("prefs file unavailable, falling back to memory", zap.Error(err))
		a.prefsStore = prefs.NewMemoryStore()
		return
	}
	a.prefsStore = store
}

func (a *App) setupBackend() {
	source := arxiv.New(arxiv.Config{
		BaseURL:   a.cfg.Arxiv.BaseURL,
		UserAgent: a.cfg.Arxiv.UserAgent,
		Timeout:   a.cfg.ArxivTimeout(),
		CacheTTL:  a.cfg.ArxivCacheTTL(),
	}, a.logger.Named("arxiv"))
	analyzer := backend.NewKeywordAnalyzer(a.cfg.Credentials)
	a.worker = backend.NewWorker(source, analyzer, nil, a.events, a.logger.Named("worker"))
}

// registerSessionMetrics keeps the session gauge and outcome counters in
// sync with store state. The completion hook runs at most once per session,
// so counters cannot double-count redelivered terminal events.
func (a *App) registerSessionMetrics() {
	a.sessions.OnCompletion(func(snap session.Snapshot) {
		var dur time.Duration
		if snap.StartTime != nil {
			dur = time.Since(*snap.StartTime)
		}
		metrics.ObserveSession("completed", dur)
		if snap.Latest != nil {
			metrics.ObservePapers("saved", snap.Latest.Counters.Saved)
			metrics.ObservePapers("filtered", snap.Latest.Counters.Filtered)
			metrics.ObservePapers("duplicate", snap.Latest.Counters.Duplicates)
		}
	})
	go func() {
		ch, cancel := a.sessions.Subscribe()
		defer cancel()
		for range ch {
			metrics.SetSessionActive(a.sessions.Snapshot().Running)
		}
	}()
}

// Run starts the event listener and HTTP server, then blocks until the
// context is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listenerCtx, cancelListener := context.WithCancel(ctx)
	a.stopListener = cancelListener
	go func() {
		if err := a.listener.Run(listenerCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("event listener stopped", zap.Error(err))
			stop()
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return a.Close(shutdownCtx)
}

// Sessions exposes the session store for in-process observers.
func (a *App) Sessions() *session.Store { return a.sessions }

// Orchestrator exposes the session command surface.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Builder constructs a configuration builder backed by the app's
// preference store.
func (a *App) Builder() *builder.Builder {
	return builder.New(a.prefsStore, a.cfg.Credentials, a.logger.Named("builder"))
}

// Listener exposes stream health for readiness checks.
func (a *App) Listener() *listener.Listener { return a.listener }

// StartListener runs the event listener in the background for callers that
// bypass Run, such as the one-shot CLI command.
func (a *App) StartListener(ctx context.Context) {
	listenerCtx, cancel := context.WithCancel(ctx)
	a.stopListener = cancel
	go func() {
		if err := a.listener.Run(listenerCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("event listener stopped", zap.Error(err))
		}
	}()
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Close gracefully shuts down the application.
func (a *App) Close(_ context.Context) error {
	if a.stopListener != nil {
		a.stopListener()
	}
	if a.events != nil {
		a.events.Close()
	}
	if a.histRepo != nil {
		a.histRepo.Close()
	}
	if a.prefsStore != nil {
		if err := a.prefsStore.Save(); err != nil {
			a.logger.Warn("prefs save failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
	a.logger.Info("shutdown complete")
	return nil
}
