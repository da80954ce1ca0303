package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRollbackCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "rollback <checkpoint-id>",
		Short: "Restore the system to a stored checkpoint",
		Long: `Roll every volume in the checkpoint back to its snapshot and
restore the backed-up share configuration files.

With --force, snapshots newer than the checkpoint are destroyed as part
of the rollback. This is the only operation that can discard data.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.close()

			cp, err := env.ckpt.Load(args[0])
			if err != nil {
				return err
			}

			report := env.ckpt.Rollback(ctx, cp, force)

			if jsonOutput {
				return printJSON(report)
			}
			for _, step := range report.Steps {
				status := "ok"
				if !step.OK {
					status = "FAILED: " + step.Message
				}
				fmt.Printf("  %-40s %s\n", step.Resource, status)
			}
			if !report.OK {
				return fmt.Errorf("rollback of %s incomplete, manual intervention required", cp.ID)
			}
			fmt.Printf("Rolled back to %s\n", cp.ID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "destroy snapshots newer than the checkpoint if needed")

	return cmd
}
