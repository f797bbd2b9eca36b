package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/orgsync/pkg/engine"
	"github.com/openfroyo/orgsync/pkg/report"
	"github.com/openfroyo/orgsync/pkg/stores"
)

func newHistoryCommand(a *app) *cobra.Command {
	var (
		limit        int
		runID        string
		resourceType string
		outcome      string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded runs",
		Long: `List the runs recorded in the history database, most recent first.

With --run, list the record operations of one run instead.`,
		Example: `  # Last ten runs
  orgsync history --limit 10

  # Failed operations of one run
  orgsync history --run 5f0c... --outcome failed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := report.ParseFormat(a.cfg.Output)
			if err != nil {
				return err
			}

			store, err := openHistory(cmd.Context(), a.cfg.History.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			if runID == "" {
				runs, err := store.ListRuns(cmd.Context(), limit, 0)
				if err != nil {
					return err
				}
				return report.RenderHistory(cmd.OutOrStdout(), runs, format)
			}

			if _, err := store.GetRun(cmd.Context(), runID); err != nil {
				return err
			}
			ops, err := store.ListOperations(cmd.Context(), runID, stores.OperationFilter{
				ResourceType: resourceType,
				Outcome:      engine.Outcome(outcome),
				Limit:        limit,
			})
			if err != nil {
				return err
			}
			return report.RenderOperations(cmd.OutOrStdout(), ops, format)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries (0 for all)")
	cmd.Flags().StringVar(&runID, "run", "", "list the operations of this run")
	cmd.Flags().StringVar(&resourceType, "type", "", "with --run, only operations of this resource type")
	cmd.Flags().StringVar(&outcome, "outcome", "", "with --run, only operations with this outcome (succeeded, failed, skipped)")
	return cmd
}
