// Package cmd defines the CLI commands for the fetchsession executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arxivist/fetchsession/internal/config"
)

var cfgFile string

// loadConfig is a variable so tests can substitute a canned configuration.
var loadConfig = func() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetchsession",
		Short: "Paper fetch session orchestrator",
		Long: `fetchsession runs and tracks paper fetch sessions: it discovers
papers on arXiv, filters and analyzes them, and reports live progress
through an event stream. Session state is a process-wide singleton, so
every observer of a running session sees the same thing.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional; FETCHSESSION_* env vars override)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newFetchCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
