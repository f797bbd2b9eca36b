package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/openfroyo/orgsync/pkg/client"
	"github.com/openfroyo/orgsync/pkg/engine"
	"github.com/openfroyo/orgsync/pkg/telemetry"
)

// EnvPrefix prefixes every environment variable read by orgsync, e.g.
// ORGSYNC_SOURCE_API_KEY for source.api_key.
const EnvPrefix = "ORGSYNC"

// Endpoint holds the address and credentials of one account.
type Endpoint struct {
	APIURL string `mapstructure:"api_url" yaml:"api_url" validate:"omitempty,url"`
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
	AppKey string `mapstructure:"app_key" yaml:"app_key"`
}

// HTTPConfig tunes the API clients.
type HTTPConfig struct {
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries" validate:"gte=0,lte=20"`
	RateLimit  float64       `mapstructure:"rate_limit" yaml:"rate_limit" validate:"gte=0"`
	Burst      int           `mapstructure:"burst" yaml:"burst" validate:"gte=0"`
}

// HistoryConfig controls the run ledger.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path" validate:"required_if=Enabled true"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=console json"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address" validate:"omitempty,hostname_port"`
	Path          string `mapstructure:"path" yaml:"path" validate:"omitempty,startswith=/"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled" yaml:"enabled"`
	Exporter     string  `mapstructure:"exporter" yaml:"exporter" validate:"oneof=otlp stdout none"`
	Endpoint     string  `mapstructure:"endpoint" yaml:"endpoint" validate:"required_if=Exporter otlp Enabled true"`
	SamplingRate float64 `mapstructure:"sampling_rate" yaml:"sampling_rate" validate:"gte=0,lte=1"`
}

// Config is the complete orgsync configuration.
type Config struct {
	Source      Endpoint `mapstructure:"source" yaml:"source"`
	Destination Endpoint `mapstructure:"destination" yaml:"destination"`

	// Resources selects the resource types of a run. Empty selects all.
	Resources []string `mapstructure:"resources" yaml:"resources"`

	StateDir   string `mapstructure:"state_dir" yaml:"state_dir" validate:"required"`
	MaxWorkers int    `mapstructure:"max_workers" yaml:"max_workers" validate:"gte=1,lte=1000"`
	Cleanup    string `mapstructure:"cleanup" yaml:"cleanup" validate:"oneof=false true force"`

	SkipFailedResourceConnections bool `mapstructure:"skip_failed_resource_connections" yaml:"skip_failed_resource_connections"`
	ForceMissingDependencies      bool `mapstructure:"force_missing_dependencies" yaml:"force_missing_dependencies"`

	Filters        []string `mapstructure:"filters" yaml:"filters"`
	FilterOperator string   `mapstructure:"filter_operator" yaml:"filter_operator" validate:"oneof=or and OR AND Or And"`

	// Policies are Rego files or directories loaded on top of the built-in
	// write guard policies.
	Policies []string `mapstructure:"policies" yaml:"policies"`

	Output string `mapstructure:"output" yaml:"output" validate:"oneof=text json yaml yml"`

	History HistoryConfig `mapstructure:"history" yaml:"history"`
	HTTP    HTTPConfig    `mapstructure:"http" yaml:"http"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

// Defaults are applied before the config file, environment and flags.
var Defaults = map[string]any{
	"source.api_url":                   "https://api.datadoghq.com",
	"source.api_key":                   "",
	"source.app_key":                   "",
	"destination.api_url":              "https://api.datadoghq.eu",
	"destination.api_key":              "",
	"destination.app_key":              "",
	"resources":                        []string{},
	"state_dir":                        "resources",
	"max_workers":                      10,
	"cleanup":                          "false",
	"skip_failed_resource_connections": true,
	"force_missing_dependencies":       false,
	"filters":                          []string{},
	"filter_operator":                  "or",
	"policies":                         []string{},
	"output":                           "text",
	"history.enabled":                  true,
	"history.path":                     ".orgsync/history.db",
	"http.timeout":                     60 * time.Second,
	"http.max_retries":                 3,
	"http.rate_limit":                  0.0,
	"http.burst":                       1,
	"log.level":                        "info",
	"log.format":                       "console",
	"log.output":                       "stderr",
	"metrics.enabled":                  true,
	"metrics.listen_address":           "",
	"metrics.path":                     "/metrics",
	"tracing.enabled":                  false,
	"tracing.exporter":                 "stdout",
	"tracing.endpoint":                 "",
	"tracing.sampling_rate":            1.0,
}

// FlagKeys maps command line flag names to configuration keys.
var FlagKeys = map[string]string{
	"source-api-url":                   "source.api_url",
	"source-api-key":                   "source.api_key",
	"source-app-key":                   "source.app_key",
	"destination-api-url":              "destination.api_url",
	"destination-api-key":              "destination.api_key",
	"destination-app-key":              "destination.app_key",
	"resources":                        "resources",
	"state-dir":                        "state_dir",
	"max-workers":                      "max_workers",
	"cleanup":                          "cleanup",
	"skip-failed-resource-connections": "skip_failed_resource_connections",
	"force-missing-dependencies":       "force_missing_dependencies",
	"filter":                           "filters",
	"filter-operator":                  "filter_operator",
	"policy":                           "policies",
	"output":                           "output",
	"history":                          "history.enabled",
	"history-path":                     "history.path",
	"http-timeout":                     "http.timeout",
	"http-retries":                     "http.max_retries",
	"rate-limit":                       "http.rate_limit",
	"log-level":                        "log.level",
	"log-format":                       "log.format",
	"metrics-addr":                     "metrics.listen_address",
	"tracing":                          "tracing.enabled",
	"tracing-exporter":                 "tracing.exporter",
	"tracing-endpoint":                 "tracing.endpoint",
}

// NewViper creates a viper instance with defaults and environment binding.
// When file is not empty it is read as the config file.
func NewViper(file string) (*viper.Viper, error) {
	v := viper.New()
	for key, value := range Defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}
	return v, nil
}

// BindFlags binds every flag of flags named in FlagKeys to its key.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range FlagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.Resources = splitList(cfg.Resources)
	cfg.Policies = splitList(cfg.Policies)
	cfg.Filters = trimList(cfg.Filters)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report keys by their configuration names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks the configuration independent of the command being run.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return translate(err)
	}
	return nil
}

// ValidateFor checks that the accounts the command talks to are configured.
func (c *Config) ValidateFor(command string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	var origins []engine.Origin
	switch command {
	case "import":
		origins = []engine.Origin{engine.OriginSource}
	case "sync", "reset":
		origins = []engine.Origin{engine.OriginDestination}
	case "migrate":
		origins = []engine.Origin{engine.OriginSource, engine.OriginDestination}
	}

	var problems []string
	for _, origin := range origins {
		e := c.Endpoint(origin)
		if err := validate.Var(e.APIURL, "required,url"); err != nil {
			problems = append(problems, fmt.Sprintf("%s.api_url must be a valid URL", origin))
		}
		if e.APIKey == "" {
			problems = append(problems, fmt.Sprintf("%s.api_key is required", origin))
		}
		if e.AppKey == "" {
			problems = append(problems, fmt.Sprintf("%s.app_key is required", origin))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration for %s: %s", command, strings.Join(problems, "; "))
	}
	return nil
}

// Endpoint returns the account configuration for origin.
func (c *Config) Endpoint(origin engine.Origin) Endpoint {
	if origin == engine.OriginSource {
		return c.Source
	}
	return c.Destination
}

// ClientConfig returns the API client configuration for origin.
func (c *Config) ClientConfig(origin engine.Origin) client.Config {
	e := c.Endpoint(origin)
	cc := client.DefaultConfig()
	cc.BaseURL = e.APIURL
	cc.APIKey = e.APIKey
	cc.AppKey = e.AppKey
	if c.HTTP.Timeout > 0 {
		cc.Timeout = c.HTTP.Timeout
	}
	cc.MaxRetries = c.HTTP.MaxRetries
	cc.RateLimit = c.HTTP.RateLimit
	cc.Burst = c.HTTP.Burst
	return cc
}

// EngineOptions returns the orchestrator options.
func (c *Config) EngineOptions() engine.Options {
	cleanup, _ := engine.ParseCleanupMode(c.Cleanup)
	return engine.Options{
		MaxWorkers:            c.MaxWorkers,
		Cleanup:               cleanup,
		SkipFailedConnections: c.SkipFailedResourceConnections,
	}
}

// Telemetry returns the telemetry configuration.
func (c *Config) Telemetry(version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version
	tc.Logging.Level = c.Log.Level
	tc.Logging.Format = c.Log.Format
	tc.Logging.Output = c.Log.Output
	tc.Metrics.Enabled = c.Metrics.Enabled
	tc.Metrics.ListenAddress = c.Metrics.ListenAddress
	tc.Metrics.Path = c.Metrics.Path
	tc.Tracing.Enabled = c.Tracing.Enabled
	tc.Tracing.Exporter = c.Tracing.Exporter
	tc.Tracing.Endpoint = c.Tracing.Endpoint
	tc.Tracing.SamplingRate = c.Tracing.SamplingRate
	return tc
}

func translate(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		key := strings.TrimPrefix(fe.Namespace(), "Config.")
		switch fe.Tag() {
		case "required", "required_if":
			msgs = append(msgs, fmt.Sprintf("%s is required", key))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %v", key, fe.Param(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s validation, got %v", key, fe.Tag(), fe.Param(), fe.Value()))
		}
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// splitList flattens comma separated entries, which is how list values
// arrive from environment variables.
func splitList(in []string) []string {
	out := []string{}
	for _, entry := range in {
		for _, part := range strings.Split(entry, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// trimList drops blank entries without splitting; jq filter expressions may
// contain commas.
func trimList(in []string) []string {
	out := []string{}
	for _, entry := range in {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
