package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openhearth/hearth/pkg/ledger"
	"github.com/openhearth/hearth/pkg/stores"
)

func newStatusCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show ledger stats and recent run history",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.close()

			stats := env.ledger.GetStats()
			runs, err := env.store.ListRuns(ctx, limit, 0)
			if err != nil {
				return err
			}
			events, err := env.store.ListEvents(ctx, nil, limit, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(struct {
					Ledger ledger.Stats          `json:"ledger"`
					Runs   []*stores.RunRecord   `json:"runs"`
					Events []*stores.EventRecord `json:"events"`
				}{stats, runs, events})
			}

			fmt.Println("Ledger:")
			fmt.Printf("  managed volumes:    %d (%d created)\n", stats.ManagedVolumes, stats.CreatedVolumes)
			fmt.Printf("  external volumes:   %d\n", stats.ExternalVolumes)
			fmt.Printf("  managed containers: %d\n", stats.ManagedContainers)
			fmt.Printf("  managed mounts:     %d\n", stats.ManagedMounts)
			fmt.Printf("  managed shares:     %d\n", stats.ManagedShares)

			if len(runs) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}

			fmt.Println("Recent runs:")
			for _, run := range runs {
				fmt.Printf("  %s  %-20s  started %s  applied=%d created=%d skipped=%d failed=%d\n",
					run.ID, run.Outcome, run.StartedAt.Format("2006-01-02 15:04:05"),
					run.Applied, run.Created, run.Skipped, run.Failed)
			}

			if len(events) > 0 {
				fmt.Println("Recent events:")
				for _, ev := range events {
					runRef := ""
					if ev.RunID != nil {
						runRef = "  run=" + *ev.RunID
					}
					fmt.Printf("  %s  [%s]%s  %s\n",
						ev.Timestamp.Format("2006-01-02 15:04:05"), ev.Level, runRef, ev.Message)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "number of runs and events to show")

	return cmd
}
