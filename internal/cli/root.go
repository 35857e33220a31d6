// Package cli defines the reviewbooster command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/config"
)

// ServeFunc runs the daemon until ctx is cancelled.
type ServeFunc func(ctx context.Context, cfg *config.Config) error

var envFile string

// NewRootCommand builds the command tree. serve is called by "serve", which
// is also the default when no subcommand is given.
func NewRootCommand(version string, serve ServeFunc) *cobra.Command {
	serveCmd := newServeCommand(serve)
	rootCmd := &cobra.Command{
		Use:   "reviewbooster",
		Short: "SMS review requests with segment and cost estimates",
		Long: `Review Booster sends review requests to customers by SMS, prices every
message by its segment count and reports monthly usage per account.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadEnvFile(envFile)
		},
		RunE: serveCmd.RunE,
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "Environment file read before the process environment")

	rootCmd.AddCommand(
		serveCmd,
		NewSetupCommand(version),
		NewEstimateCommand(),
		NewRateCommand(),
		NewUserCommand(),
		NewServiceCommand(),
	)
	return rootCmd
}

// Execute runs the root command and exits non-zero on error.
func Execute(version string, serve ServeFunc) {
	if err := NewRootCommand(version, serve).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newServeCommand(serve ServeFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, outbox workers, scheduler and Telegram bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, config.Load())
		},
	}
}
