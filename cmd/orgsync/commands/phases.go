package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/orgsync/pkg/engine"
)

func addCleanupFlag(cmd *cobra.Command) {
	cmd.Flags().String("cleanup", "false", "delete destination records absent from the source (false, true, force)")
}

func newImportCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Import resources from the source account",
		Long: `Fetch every selected resource type from the source account and replace
the local source state with what was fetched.

Records rejected by the configured filters are dropped. When fetching a type
fails its previous state files are kept.`,
		Example: `  # Import everything
  orgsync import --source-api-key $DD_API_KEY --source-app-key $DD_APP_KEY

  # Import only monitors tagged team:core
  orgsync import --resources monitors --filter 'Type=monitors;Expr=.tags | index("team:core")'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPhase(cmd, a, engine.PhaseImport, (*engine.Orchestrator).Import)
		},
	}
}

func newSyncCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Apply the imported state to the destination account",
		Long: `Create or update destination records from the local source state, one
dependency level at a time. References to other resources are rewritten to
the matching destination identifiers before each write.

With --cleanup, destination records whose source record is gone are deleted
afterwards in reverse dependency order. "true" asks for confirmation first,
"force" does not.`,
		Example: `  # Sync everything imported
  orgsync sync --destination-api-key $DD_API_KEY --destination-app-key $DD_APP_KEY

  # Sync and remove records deleted at the source
  orgsync sync --cleanup force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPhase(cmd, a, engine.PhaseSync, (*engine.Orchestrator).Sync)
		},
	}
	addCleanupFlag(cmd)
	return cmd
}

func newMigrateCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Import from the source and sync to the destination in one run",
		Long: `Run import followed by sync as a single run. Requires credentials for
both accounts.`,
		Example: `  orgsync migrate --config orgsync.yaml --cleanup true`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPhase(cmd, a, engine.PhaseMigrate, (*engine.Orchestrator).Migrate)
		},
	}
	addCleanupFlag(cmd)
	return cmd
}

func newDiffsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "diffs",
		Short: "Show what sync would change",
		Long: `Compare the local source state with the local destination state and print
the records sync would create, update or delete. Nothing is written and no
account is contacted.`,
		Example: `  orgsync diffs --resources dashboards,monitors -o json`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPhase(cmd, a, engine.PhaseDiffs, (*engine.Orchestrator).Diffs)
		},
	}
}

func newResetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete every synced record from the destination account",
		Long: `Delete every record of the local destination state from the destination
account in reverse dependency order. Only records created or adopted by a
previous sync are touched.`,
		Example: `  orgsync reset --resources synthetics_tests`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPhase(cmd, a, engine.PhaseReset, (*engine.Orchestrator).Reset)
		},
	}
}
