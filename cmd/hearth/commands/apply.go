package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openhearth/hearth/pkg/engine"
)

func newApplyCommand() *cobra.Command {
	var (
		specFile       string
		skipCheckpoint bool
		dryRun         bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Reconcile the declared state against the live system",
		Long: `Run one full reconciliation: diff, policy check, pre-apply
checkpoint, apply, and automatic rollback if the apply fails.

Each run is recorded in the run history and visible via 'hearth status'.`,
		Example: `  # Reconcile with the default safety net
  hearth apply --spec volumes.json

  # Stop after diff and policy checks
  hearth apply --spec volumes.json --dry-run

  # Skip the pre-apply checkpoint (no automatic rollback)
  hearth apply --spec volumes.json --skip-checkpoint`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.close()

			desired, err := loadSpec(specFile)
			if err != nil {
				return err
			}
			env.populateResolver(desired)

			current, err := env.gatherCurrent(ctx, desired)
			if err != nil {
				return err
			}

			report, err := env.newRunner().Run(ctx, desired, current, engine.RunOptions{
				SkipCheckpoint: skipCheckpoint,
				DryRun:         dryRun,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(report)
			}
			renderReport(report)

			if report.Outcome != engine.OutcomeCommitted {
				return fmt.Errorf("run %s finished with outcome %s", report.RunID, report.Outcome)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&specFile, "spec", "s", "volumes.json", "volume spec file")
	cmd.Flags().BoolVar(&skipCheckpoint, "skip-checkpoint", false, "do not take a pre-apply checkpoint")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "stop after diff and policy checks")
	cmd.MarkFlagRequired("spec")

	return cmd
}

func renderReport(report *engine.RunReport) {
	fmt.Printf("Run %s: %s\n", report.RunID, report.Outcome)
	if report.CheckpointID != "" {
		fmt.Printf("  checkpoint: %s\n", report.CheckpointID)
	}
	if report.Apply != nil {
		s := report.Apply.Summary
		fmt.Printf("  applied=%d created=%d skipped=%d failed=%d\n",
			s.Applied, s.Created, s.Skipped, s.Failed)
		for _, r := range report.Apply.Results {
			fmt.Printf("  %-8s %-10s %s", r.Status, r.Kind, r.Resource)
			if r.Message != "" {
				fmt.Printf(": %s", r.Message)
			}
			fmt.Println()
		}
	}
	if report.Rollback != nil {
		if report.Rollback.OK {
			fmt.Println("  rollback: restored pre-run state")
		} else {
			fmt.Println("  rollback: PARTIAL, manual intervention required:")
			for _, step := range report.Rollback.Steps {
				if !step.OK {
					fmt.Printf("    %s: %s\n", step.Resource, step.Message)
				}
			}
		}
	}
	for _, w := range report.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
}
