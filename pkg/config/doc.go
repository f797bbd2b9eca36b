// Package config loads the orgsync configuration.
//
// Values are resolved by viper in the usual order: command line flags, then
// ORGSYNC_ prefixed environment variables (ORGSYNC_SOURCE_API_KEY sets
// source.api_key), then the optional config file (yaml, json or toml), then
// Defaults. The decoded Config is checked with validator tags; ValidateFor
// adds the per-command requirement that the accounts a command talks to have
// a URL and both keys.
//
// Example config file:
//
//	source:
//	  api_url: https://api.datadoghq.com
//	  api_key: ...
//	  app_key: ...
//	destination:
//	  api_url: https://api.datadoghq.eu
//	  api_key: ...
//	  app_key: ...
//	resources: [monitors, dashboards]
//	cleanup: "false"
//	filters:
//	  - Type=monitors;Expr=.tags | index("team:core")
//	history:
//	  path: .orgsync/history.db
package config
