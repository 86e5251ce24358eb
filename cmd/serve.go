package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arxivist/fetchsession/internal/app"
)

// newServeCmd creates the 'serve' subcommand, which runs the HTTP API and
// event listener until interrupted.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the fetch session service",
		Long: `Starts the HTTP API, the progress event listener, and the backend
worker, then blocks until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := app.Build(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			return a.Run(cmd.Context())
		},
	}
}
