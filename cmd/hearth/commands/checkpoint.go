package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckpointCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage pre-apply checkpoints",
	}

	cmd.AddCommand(newCheckpointCreateCommand())
	cmd.AddCommand(newCheckpointListCommand())

	return cmd
}

func newCheckpointCreateCommand() *cobra.Command {
	var specFile string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Take a checkpoint of the declared volumes now",
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

			cp, err := env.ckpt.Create(ctx, desired.Paths())
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cp)
			}
			fmt.Printf("Checkpoint %s: %d snapshots, %d config backups\n",
				cp.ID, len(cp.Snapshots), len(cp.ConfigBackups))
			return nil
		},
	}

	cmd.Flags().StringVarP(&specFile, "spec", "s", "volumes.json", "volume spec file")
	cmd.MarkFlagRequired("spec")

	return cmd
}

func newCheckpointListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored checkpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()

			ids, err := env.ckpt.List()
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(ids)
			}
			if len(ids) == 0 {
				fmt.Println("No checkpoints.")
				return nil
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
}
