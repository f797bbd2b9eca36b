package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/orgsync/pkg/engine"
)

func load(t *testing.T, file string, args ...string) (*Config, error) {
	t.Helper()
	v, err := NewViper(file)
	require.NoError(t, err)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("source-api-key", "", "")
	flags.StringSlice("resources", nil, "")
	flags.StringArray("filter", nil, "")
	flags.Int("max-workers", 10, "")
	flags.String("cleanup", "false", "")
	flags.Bool("history", true, "")
	require.NoError(t, flags.Parse(args))
	require.NoError(t, BindFlags(v, flags))

	return Load(v)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(t, "")
	require.NoError(t, err)

	assert.Equal(t, "https://api.datadoghq.com", cfg.Source.APIURL)
	assert.Equal(t, "resources", cfg.StateDir)
	assert.Equal(t, 10, cfg.MaxWorkers)
	assert.Equal(t, "false", cfg.Cleanup)
	assert.True(t, cfg.SkipFailedResourceConnections)
	assert.Equal(t, "or", cfg.FilterOperator)
	assert.Equal(t, 60*time.Second, cfg.HTTP.Timeout)
	assert.True(t, cfg.History.Enabled)
	assert.Empty(t, cfg.Resources)
}

func TestLoad_File(t *testing.T) {
	file := filepath.Join(t.TempDir(), "orgsync.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
source:
  api_key: src-key
  app_key: src-app
resources: [monitors, roles]
max_workers: 4
cleanup: force
filters:
  - 'Type=monitors;Expr=.tags | index("a,b")'
http:
  timeout: 5s
  rate_limit: 2.5
`), 0o644))

	cfg, err := load(t, file)
	require.NoError(t, err)

	assert.Equal(t, "src-key", cfg.Source.APIKey)
	assert.Equal(t, []string{"monitors", "roles"}, cfg.Resources)
	assert.Equal(t, 4, cfg.MaxWorkers)
	assert.Equal(t, "force", cfg.Cleanup)
	assert.Equal(t, []string{`Type=monitors;Expr=.tags | index("a,b")`}, cfg.Filters)
	assert.Equal(t, 5*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 2.5, cfg.HTTP.RateLimit)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := NewViper(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "orgsync.yaml")
	require.NoError(t, os.WriteFile(file, []byte("max_workers: 4\n"), 0o644))

	t.Setenv("ORGSYNC_MAX_WORKERS", "7")
	t.Setenv("ORGSYNC_DESTINATION_API_KEY", "dst-key")
	t.Setenv("ORGSYNC_RESOURCES", "users, roles")

	cfg, err := load(t, file)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.MaxWorkers)
	assert.Equal(t, "dst-key", cfg.Destination.APIKey)
	assert.Equal(t, []string{"users", "roles"}, cfg.Resources)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("ORGSYNC_MAX_WORKERS", "7")

	cfg, err := load(t, "",
		"--max-workers", "2",
		"--source-api-key", "flag-key",
		"--resources", "monitors,dashboards",
		"--filter", `Type=monitors;Expr=.name == "a,b"`,
		"--history=false",
	)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.MaxWorkers)
	assert.Equal(t, "flag-key", cfg.Source.APIKey)
	assert.Equal(t, []string{"monitors", "dashboards"}, cfg.Resources)
	assert.Equal(t, []string{`Type=monitors;Expr=.name == "a,b"`}, cfg.Filters)
	assert.False(t, cfg.History.Enabled)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"cleanup", map[string]string{"ORGSYNC_CLEANUP": "maybe"}, "cleanup must be one of"},
		{"workers", map[string]string{"ORGSYNC_MAX_WORKERS": "0"}, "max_workers failed gte=1"},
		{"operator", map[string]string{"ORGSYNC_FILTER_OPERATOR": "xor"}, "filter_operator must be one of"},
		{"url", map[string]string{"ORGSYNC_SOURCE_API_URL": "not a url"}, "source.api_url failed url"},
		{"metrics address", map[string]string{"ORGSYNC_METRICS_LISTEN_ADDRESS": "nowhere"}, "metrics.listen_address"},
		{"otlp endpoint", map[string]string{"ORGSYNC_TRACING_ENABLED": "true", "ORGSYNC_TRACING_EXPORTER": "otlp"}, "tracing.endpoint is required"},
		{"log level", map[string]string{"ORGSYNC_LOG_LEVEL": "chatty"}, "log.level must be one of"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := load(t, "")
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateFor(t *testing.T) {
	cfg, err := load(t, "")
	require.NoError(t, err)

	assert.NoError(t, cfg.ValidateFor("types"))
	assert.NoError(t, cfg.ValidateFor("history"))

	err = cfg.ValidateFor("import")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source.api_key is required")
	assert.Contains(t, err.Error(), "source.app_key is required")
	assert.NotContains(t, err.Error(), "destination")

	cfg.Source.APIKey, cfg.Source.AppKey = "k", "a"
	assert.NoError(t, cfg.ValidateFor("import"))

	err = cfg.ValidateFor("migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "destination.api_key is required")

	cfg.Destination.APIKey, cfg.Destination.AppKey = "k", "a"
	for _, cmd := range []string{"sync", "diffs", "reset", "migrate"} {
		assert.NoError(t, cfg.ValidateFor(cmd), cmd)
	}

	cfg.Destination.APIURL = ""
	assert.Error(t, cfg.ValidateFor("sync"))
}

func TestConversions(t *testing.T) {
	cfg, err := load(t, "", "--cleanup", "true", "--max-workers", "3")
	require.NoError(t, err)
	cfg.Destination.APIKey = "dst"
	cfg.HTTP.RateLimit = 5

	cc := cfg.ClientConfig(engine.OriginDestination)
	assert.Equal(t, "https://api.datadoghq.eu", cc.BaseURL)
	assert.Equal(t, "dst", cc.APIKey)
	assert.Equal(t, 3, cc.MaxRetries)
	assert.Equal(t, 5.0, cc.RateLimit)

	opts := cfg.EngineOptions()
	assert.Equal(t, 3, opts.MaxWorkers)
	assert.Equal(t, engine.CleanupConfirm, opts.Cleanup)
	assert.True(t, opts.SkipFailedConnections)

	tc := cfg.Telemetry("1.2.3")
	assert.Equal(t, "1.2.3", tc.ServiceVersion)
	assert.Equal(t, "info", tc.Logging.Level)
	assert.NoError(t, tc.Validate())
}
