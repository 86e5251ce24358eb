package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/arxivist/fetchsession/internal/app"
	"github.com/arxivist/fetchsession/internal/builder"
	"github.com/arxivist/fetchsession/internal/fetch"
	"github.com/arxivist/fetchsession/internal/observer"
)

// fetchFlags mirrors builder.Form; only flags the user actually set
// override the persisted defaults.
type fetchFlags struct {
	provider      string
	mode          string
	categories    []string
	ids           []string
	maxPapers     int
	daysBack      int
	allTime       bool
	minRelevance  int
	deep          bool
	deepThreshold int
	concurrency   string
	maxConcurrent int
	language      string
}

// newFetchCmd creates the 'fetch' subcommand: a one-shot session driven
// from the terminal, rendering the status bar until the run finishes.
func newFetchCmd() *cobra.Command {
	var flags fetchFlags
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Run a single fetch session from the terminal",
		Long: `Builds fetch options from stored preferences plus any flags given,
starts a session, and streams its progress to stdout until it finishes.
Flags that are not set keep their last-used values.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := app.Build(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			defer func() { _ = a.Close(context.Background()) }()
			return runFetch(cmd, a, flags)
		},
	}

	cmd.Flags().StringVar(&flags.provider, "provider", "", "analysis provider (openai or anthropic)")
	cmd.Flags().StringVar(&flags.mode, "mode", "", "selection mode (by_category or by_id)")
	cmd.Flags().StringSliceVar(&flags.categories, "categories", nil, "arXiv categories, e.g. cs.AI,cs.CL")
	cmd.Flags().StringSliceVar(&flags.ids, "ids", nil, "explicit arXiv IDs, e.g. 2401.12345")
	cmd.Flags().IntVar(&flags.maxPapers, "max-papers", 0, "maximum papers to fetch")
	cmd.Flags().IntVar(&flags.daysBack, "days-back", 0, "how many days back to search")
	cmd.Flags().BoolVar(&flags.allTime, "all-time", false, "search without a date lower bound")
	cmd.Flags().IntVar(&flags.minRelevance, "min-relevance", 0, "relevance threshold 0-100")
	cmd.Flags().BoolVar(&flags.deep, "deep", false, "enable deep analysis")
	cmd.Flags().IntVar(&flags.deepThreshold, "deep-threshold", 0, "relevance score that triggers deep analysis")
	cmd.Flags().StringVar(&flags.concurrency, "concurrency", "", "sequential or concurrent")
	cmd.Flags().IntVar(&flags.maxConcurrent, "max-concurrent", 0, "worker pool size for concurrent mode")
	cmd.Flags().StringVar(&flags.language, "language", "", "response language code")

	return cmd
}

func runFetch(cmd *cobra.Command, a *app.App, flags fetchFlags) error {
	ctx := cmd.Context()
	a.StartListener(ctx)

	b := a.Builder()
	form := applyFlags(cmd, b.DefaultForm(), flags)
	opts, failures := b.Build(form)
	if len(failures) > 0 {
		var lines []string
		for _, f := range failures {
			lines = append(lines, f.String())
		}
		return fmt.Errorf("invalid options:\n  %s", strings.Join(lines, "\n  "))
	}

	if err := a.Orchestrator().Start(ctx, opts); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	changes, cancel := a.Sessions().Subscribe()
	defer cancel()

	out := cmd.OutOrStdout()
	var lastLabel string
	for {
		snap := a.Sessions().Snapshot()
		now := time.Now().UTC()

		if bar := observer.ProjectStatusBar(snap, now); bar.Visible && bar.Label != lastLabel {
			fmt.Fprintln(out, bar.Label)
			lastLabel = bar.Label
		}

		switch {
		case snap.ErrorActive:
			card := observer.ProjectDetailCard(snap, now)
			a.Orchestrator().Dismiss()
			return fmt.Errorf("session failed: %s", card.Summary)
		case snap.Completing:
			card := observer.ProjectDetailCard(snap, now)
			fmt.Fprintln(out, card.Summary)
			a.Orchestrator().Dismiss()
			return nil
		}

		select {
		case <-ctx.Done():
			if err := a.Orchestrator().Cancel(context.Background()); err == nil {
				fmt.Fprintln(out, "cancel requested")
			}
			return ctx.Err()
		case <-changes:
		}
	}
}

// applyFlags overlays explicitly set flags onto the stored defaults.
func applyFlags(cmd *cobra.Command, form builder.Form, flags fetchFlags) builder.Form {
	set := cmd.Flags().Changed
	if set("provider") {
		form.Provider = flags.provider
	}
	if set("mode") {
		form.Mode = flags.mode
	}
	if set("categories") {
		form.Categories = flags.categories
	}
	if set("ids") {
		form.IDs = flags.ids
		form.Mode = string(fetch.ModeByID)
	}
	if set("max-papers") {
		form.MaxPapers = flags.maxPapers
	}
	if set("days-back") {
		form.DaysBack = flags.daysBack
		form.AllTime = false
	}
	if set("all-time") {
		form.AllTime = flags.allTime
	}
	if set("min-relevance") {
		form.MinRelevance = flags.minRelevance
	}
	if set("deep") {
		form.DeepAnalysis = flags.deep
	}
	if set("deep-threshold") {
		form.DeepAnalysisThreshold = flags.deepThreshold
	}
	if set("concurrency") {
		form.ConcurrencyMode = flags.concurrency
	}
	if set("max-concurrent") {
		form.MaxConcurrent = flags.maxConcurrent
	}
	if set("language") {
		form.ResponseLanguage = flags.language
	}
	return form
}
