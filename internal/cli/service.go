package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/config"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/platform"
)

// NewServiceCommand prints or installs the OS service definition.
func NewServiceCommand() *cobra.Command {
	var (
		goos    string
		install bool
	)
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Print the systemd unit or launchd plist for the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("locate executable: %w", err)
			}
			workDir, err := filepath.Abs(cfg.WorkDir)
			if err != nil {
				return err
			}
			path, content := platform.ServiceFile(goos, platform.ServiceConfig{
				Name:        platform.AppName,
				Description: "Review Booster SMS daemon",
				ExecPath:    exe,
				WorkDir:     workDir,
				Env:         map[string]string{"PORT": cfg.Port},
			})
			if content == "" {
				return fmt.Errorf("no service file for %s; register %s with sc.exe", goos, exe)
			}
			if !install {
				fmt.Fprintf(cmd.ErrOrStderr(), "# %s (%s)\n", path, platform.ServiceManager())
				fmt.Fprint(cmd.OutOrStdout(), content)
				return nil
			}
			if err := platform.EnsureDir(filepath.Dir(path)); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&goos, "os", runtime.GOOS, "Target OS (linux or darwin)")
	cmd.Flags().BoolVar(&install, "install", false, "Write the file instead of printing it")
	return cmd
}
