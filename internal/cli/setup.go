package cli

import (
	"github.com/spf13/cobra"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/wizard"
)

// NewSetupCommand runs the interactive first-run wizard.
func NewSetupCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive first-run configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := wizard.New(cmd.InOrStdin(), cmd.OutOrStdout())
			w.EnvPath = envFile
			_, err := w.Run(version)
			return err
		},
	}
	return cmd
}
