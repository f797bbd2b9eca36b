package resources

import (
	"github.com/openfroyo/orgsync/pkg/engine"
	"github.com/openfroyo/orgsync/pkg/resolve"
)

func init() {
	Register(Monitors, newMonitors)
}

// monitorsAdapter resolves composite monitor queries token by token: the
// query of a composite monitor is a boolean formula over monitor ids.
type monitorsAdapter struct {
	*restAdapter
}

func newMonitors() engine.Adapter {
	return &monitorsAdapter{restAdapter: newRESTAdapter(&engine.ResourceConfig{
		Type:     Monitors,
		BasePath: "/api/v1/monitor",
		Connections: map[engine.ResourceType][]string{
			Monitors: {"query"},
			Roles:    {"restricted_roles"},
		},
		ExcludedAttributes: []string{
			"id",
			"matching_downtimes",
			"creator",
			"created",
			"created_at",
			"modified",
			"deleted",
			"overall_state",
			"overall_state_modified",
			"org_id",
			"multi",
		},
		NonNullableAttributes: []string{"restricted_roles"},
	}, restSpec{
		// synthetic test monitors are created along with their test
		Skip: func(r engine.Record) bool {
			return r["type"] == "synthetics alert"
		},
	})}
}

// Connect implements engine.Adapter. Only composite queries reference other
// monitors.
func (a *monitorsAdapter) Connect(path string, r engine.Record, target engine.ResourceType, lookup resolve.Lookup) []string {
	if target == Monitors && path == "query" {
		if r["type"] != "composite" {
			return nil
		}
		return resolve.ResolveTokens(path, r, lookup)
	}
	return a.restAdapter.Connect(path, r, target, lookup)
}
