package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/orgsync/pkg/config"
	"github.com/openfroyo/orgsync/pkg/telemetry"
)

// ErrRunFailed is returned when a run finished but logged errors. The
// report has already been written.
var ErrRunFailed = errors.New("run finished with errors")

// app holds what the persistent pre-run hook prepares for a command.
type app struct {
	version    string
	configPath string

	cfg *config.Config
	tel *telemetry.Telemetry
}

func (a *app) logger() zerolog.Logger {
	return a.tel.Logger.Zerolog()
}

// setup loads the configuration and starts telemetry for cmd.
func (a *app) setup(cmd *cobra.Command) error {
	v, err := config.NewViper(a.configPath)
	if err != nil {
		return err
	}
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	// jq expressions may contain commas, so take --filter values verbatim
	if f := cmd.Flags().Lookup("filter"); f != nil && f.Changed {
		if cfg.Filters, err = cmd.Flags().GetStringArray("filter"); err != nil {
			return err
		}
	}
	if err := cfg.ValidateFor(cmd.Name()); err != nil {
		return err
	}

	tel, err := telemetry.NewTelemetry(cfg.Telemetry(a.version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	tel.StartMetricsServer()

	a.cfg = cfg
	a.tel = tel
	cmd.SetContext(tel.WithContext(cmd.Context()))
	return nil
}

// close flushes telemetry. It is safe to call when setup failed.
func (a *app) close() {
	if a.tel == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		a.tel.Logger.WithError(err).Warn("telemetry shutdown failed")
	}
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	a := &app{version: version}
	defer a.close()

	rootCmd := newRootCommand(a, version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(a *app, version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "orgsync",
		Short: "orgsync - copy monitoring configuration between accounts",
		Long: `orgsync copies configuration resources (monitors, dashboards, roles,
synthetic tests, SLOs, log pipelines and more) from a source account to a
destination account.

Resources are imported into local JSON state, then synced to the destination
in dependency order. Identifiers that reference other resources are
rewritten to the matching destination identifiers.

Configuration is read from flags, ORGSYNC_* environment variables and an
optional config file.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	defaults := config.Defaults
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "config file path (yaml, json or toml)")

	flags.String("source-api-url", defaults["source.api_url"].(string), "source account API URL")
	flags.String("source-api-key", "", "source account API key")
	flags.String("source-app-key", "", "source account application key")
	flags.String("destination-api-url", defaults["destination.api_url"].(string), "destination account API URL")
	flags.String("destination-api-key", "", "destination account API key")
	flags.String("destination-app-key", "", "destination account application key")

	flags.StringSlice("resources", nil, "resource types to process (default: all)")
	flags.String("state-dir", defaults["state_dir"].(string), "directory holding the resource state files")
	flags.Int("max-workers", defaults["max_workers"].(int), "concurrent record operations per resource type")
	flags.Bool("skip-failed-resource-connections", true, "skip writing records whose references could not be resolved")
	flags.Bool("force-missing-dependencies", false, "add missing dependency types to the selected resources")
	flags.StringArray("filter", nil, "record filter Type=<type>;Expr=<jq expression> (repeatable)")
	flags.String("filter-operator", defaults["filter_operator"].(string), "how filters of one type combine (or, and)")
	flags.StringSlice("policy", nil, "Rego policy files or directories guarding writes")
	flags.StringP("output", "o", defaults["output"].(string), "report format (text, json, yaml)")

	flags.Bool("history", true, "record runs in the history database")
	flags.String("history-path", defaults["history.path"].(string), "history database path")

	flags.Duration("http-timeout", defaults["http.timeout"].(time.Duration), "timeout of one HTTP attempt")
	flags.Int("http-retries", defaults["http.max_retries"].(int), "retries of a failed HTTP request")
	flags.Float64("rate-limit", 0, "requests per second per account (0 disables)")

	flags.String("log-level", defaults["log.level"].(string), "log level (trace, debug, info, warn, error)")
	flags.String("log-format", defaults["log.format"].(string), "log format (console, json)")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	flags.Bool("tracing", false, "enable OpenTelemetry tracing")
	flags.String("tracing-exporter", defaults["tracing.exporter"].(string), "trace exporter (otlp, stdout, none)")
	flags.String("tracing-endpoint", "", "OTLP collector endpoint")

	rootCmd.AddCommand(newImportCommand(a))
	rootCmd.AddCommand(newSyncCommand(a))
	rootCmd.AddCommand(newDiffsCommand(a))
	rootCmd.AddCommand(newMigrateCommand(a))
	rootCmd.AddCommand(newResetCommand(a))
	rootCmd.AddCommand(newHistoryCommand(a))
	rootCmd.AddCommand(newTypesCommand(a))

	return rootCmd
}
