package resources

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cast"

	"github.com/openfroyo/orgsync/pkg/client"
	"github.com/openfroyo/orgsync/pkg/engine"
	"github.com/openfroyo/orgsync/pkg/resolve"
)

func init() {
	Register(SyntheticsPrivateLocations, newSyntheticsPrivateLocations)
	Register(SyntheticsTests, newSyntheticsTests)
}

// privateLocationPrefix marks private location ids; other locations are
// managed regions shared by every account.
const privateLocationPrefix = "pl:"

type privateLocationsAdapter struct {
	*restAdapter
}

func newSyntheticsPrivateLocations() engine.Adapter {
	return &privateLocationsAdapter{restAdapter: newRESTAdapter(&engine.ResourceConfig{
		Type:     SyntheticsPrivateLocations,
		BasePath: "/api/v1/synthetics/private-locations",
		ExcludedAttributes: []string{
			"id",
			"created_at",
			"modified_at",
			"created_by",
			"secrets",
			"config",
		},
	}, restSpec{
		ListPath: "/api/v1/synthetics/locations",
		ListKey:  "locations",
		Skip: func(r engine.Record) bool {
			return !strings.HasPrefix(cast.ToString(r["id"]), privateLocationPrefix)
		},
	})}
}

// Import implements engine.Adapter. The location listing only carries names,
// so each private location is read in full.
func (a *privateLocationsAdapter) Import(ctx context.Context, c engine.APIClient, raw engine.Record) (string, engine.Record, error) {
	id := cast.ToString(raw["id"])
	if id == "" {
		return "", nil, nil
	}
	var full map[string]any
	if err := c.Get(ctx, a.Cfg.BasePath+"/"+url.PathEscape(id), &full); err != nil {
		return id, nil, err
	}
	return id, engine.Record(full), nil
}

// Create implements engine.Adapter. The response wraps the location with its
// worker configuration, which is not kept.
func (a *privateLocationsAdapter) Create(ctx context.Context, c engine.APIClient, _ string, r engine.Record) (engine.Record, error) {
	var resp any
	if err := c.Post(ctx, a.Cfg.BasePath, r, &resp); err != nil {
		return nil, err
	}
	return unwrapRecord(resp, "private_location")
}

type syntheticsTestsAdapter struct {
	*restAdapter
}

func newSyntheticsTests() engine.Adapter {
	return &syntheticsTestsAdapter{restAdapter: newRESTAdapter(&engine.ResourceConfig{
		Type:     SyntheticsTests,
		BasePath: "/api/v1/synthetics/tests",
		IDField:  "public_id",
		Connections: map[engine.ResourceType][]string{
			SyntheticsPrivateLocations: {"locations"},
			SyntheticsGlobalVariables:  {"config.configVariables.id"},
			Roles:                      {"options.restricted_roles"},
		},
		ExcludedAttributes: []string{
			"public_id",
			"monitor_id",
			"created_at",
			"modified_at",
			"creator",
			"created_by",
			"modified_by",
			"deleted_at",
		},
	}, restSpec{
		ListKey: "tests",
	})}
}

// Connect implements engine.Adapter. Only private locations are resolved;
// managed locations are the same in every account.
func (a *syntheticsTestsAdapter) Connect(path string, r engine.Record, target engine.ResourceType, lookup resolve.Lookup) []string {
	if target != SyntheticsPrivateLocations {
		return a.restAdapter.Connect(path, r, target, lookup)
	}
	return resolve.Resolve(path, r, lookup, func(value any, lookup resolve.Lookup) (any, []string) {
		list, ok := value.([]any)
		if !ok {
			return value, nil
		}
		var failed []string
		out := make([]any, len(list))
		for i, v := range list {
			out[i] = v
			s := cast.ToString(v)
			if !strings.HasPrefix(s, privateLocationPrefix) {
				continue
			}
			resolved, f := resolve.Direct(v, lookup)
			out[i] = resolved
			failed = append(failed, f...)
		}
		return out, failed
	})
}

// testKind returns the endpoint segment of the test: api, browser or mobile.
func testKind(r engine.Record) (string, error) {
	kind := cast.ToString(r["type"])
	if kind == "" {
		return "", fmt.Errorf("synthetics test has no type")
	}
	return url.PathEscape(kind), nil
}

// Create implements engine.Adapter.
func (a *syntheticsTestsAdapter) Create(ctx context.Context, c engine.APIClient, _ string, r engine.Record) (engine.Record, error) {
	kind, err := testKind(r)
	if err != nil {
		return nil, err
	}
	var resp map[string]any
	if err := c.Post(ctx, a.Cfg.BasePath+"/"+kind, r, &resp); err != nil {
		return nil, err
	}
	return engine.Record(resp), nil
}

// Update implements engine.Adapter.
func (a *syntheticsTestsAdapter) Update(ctx context.Context, c engine.APIClient, key string, r engine.Record) (engine.Record, error) {
	kind, err := testKind(r)
	if err != nil {
		return nil, err
	}
	id, err := a.destinationID(key)
	if err != nil {
		return nil, err
	}
	var resp map[string]any
	if err := c.Put(ctx, a.Cfg.BasePath+"/"+kind+"/"+url.PathEscape(id), r, &resp); err != nil {
		return nil, err
	}
	return engine.Record(resp), nil
}

// Delete implements engine.Adapter. Tests are deleted in bulk by public id.
func (a *syntheticsTestsAdapter) Delete(ctx context.Context, c engine.APIClient, key string) error {
	id, err := a.destinationID(key)
	if err != nil {
		return err
	}
	err = c.Post(ctx, a.Cfg.BasePath+"/delete", map[string]any{"public_ids": []string{id}}, nil)
	if err != nil && !client.IsNotFound(err) {
		return err
	}
	return nil
}
