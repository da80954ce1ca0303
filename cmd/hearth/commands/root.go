package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	dataDir    string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hearth",
		Short: "Hearth - declarative homelab storage and compute controller",
		Long: `Hearth reconciles a declared set of storage volumes, container
attachments, and network shares against the live system.

Features:
  - Non-destructive reconciliation (no delete code path)
  - Pre-apply checkpoints with automatic rollback on failure
  - Ownership ledger separating managed from external resources
  - Permission resolution across compute and share consumers
  - Policy checks on every computed change list`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", defaultDataDir(), "state directory (ledger, checkpoints, run history)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newCheckpointCommand())
	rootCmd.AddCommand(newRollbackCommand())

	return rootCmd
}
