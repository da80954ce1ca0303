package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openhearth/hearth/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	var specFile string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compute the change list without applying",
		Long: `Compute the ordered change list between the declared volume specs
and the live system, run it through the policy checks, and print it.

Nothing is mutated; no checkpoint is taken.`,
		Example: `  # Show what an apply would do
  hearth plan --spec volumes.json

  # Machine-readable output
  hearth plan --spec volumes.json --json`,
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

			differ := engine.NewDiffer(env.compute, env.logger)
			diff, err := differ.Diff(ctx, desired, current)
			if err != nil {
				return err
			}

			violations, err := env.safety.Evaluate(ctx, diff)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(struct {
					Diff       *engine.DiffResult `json:"diff"`
					Violations interface{}        `json:"violations,omitempty"`
				}{diff, violations})
			}

			renderDiff(diff)
			for _, v := range violations {
				fmt.Printf("policy %s [%s]: %s\n", v.Policy, v.Severity, v.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&specFile, "spec", "s", "volumes.json", "volume spec file")
	cmd.MarkFlagRequired("spec")

	return cmd
}

func renderDiff(diff *engine.DiffResult) {
	if diff.Empty() {
		fmt.Println("No changes. The system matches the declared state.")
		return
	}

	for _, c := range diff.Changes {
		fmt.Printf("  %-8s volume %s\n", c.Kind, c.Path)
		for key, delta := range c.Props {
			if delta.Old == "" {
				fmt.Printf("           %s = %q\n", key, delta.New)
			} else {
				fmt.Printf("           %s: %q -> %q\n", key, delta.Old, delta.New)
			}
		}
	}
	for _, cc := range diff.ContainerChanges {
		line := fmt.Sprintf("  %-8s container %s on %s", cc.Kind, containerLabel(cc), cc.VolumePath)
		if cc.Reason != "" {
			line += " (" + cc.Reason + ")"
		}
		fmt.Println(line)
	}
	if diff.ComputeSkipped {
		fmt.Println("  note: compute state unavailable, attachment changes not evaluated")
	}
}

func containerLabel(cc engine.ContainerChange) string {
	if cc.Name != "" && cc.ID > 0 {
		return fmt.Sprintf("%s (%d)", cc.Name, cc.ID)
	}
	if cc.Name != "" {
		return cc.Name
	}
	return fmt.Sprintf("%d", cc.ID)
}
