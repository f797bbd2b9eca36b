package resources

import (
	"context"
	"fmt"
	"net/url"

	"github.com/spf13/cast"

	"github.com/openfroyo/orgsync/pkg/diff"
	"github.com/openfroyo/orgsync/pkg/engine"
)

func init() {
	Register(Dashboards, newDashboards)
	Register(DashboardLists, newDashboardLists)
}

// dashboardsAdapter lists dashboard summaries and imports each dashboard
// with its full definition.
type dashboardsAdapter struct {
	*restAdapter
}

func newDashboards() engine.Adapter {
	return &dashboardsAdapter{restAdapter: newRESTAdapter(&engine.ResourceConfig{
		Type:     Dashboards,
		BasePath: "/api/v1/dashboard",
		Connections: map[engine.ResourceType][]string{
			Monitors: {
				"widgets.definition.alert_id",
				"widgets.definition.widgets.definition.alert_id",
			},
			ServiceLevelObjectives: {
				"widgets.definition.slo_id",
				"widgets.definition.widgets.definition.slo_id",
			},
			Roles: {"restricted_roles"},
		},
		ExcludedAttributes: []string{
			"id",
			"author_handle",
			"author_name",
			"url",
			"created_at",
			"modified_at",
		},
		NonNullableAttributes: []string{"restricted_roles"},
	}, restSpec{
		ListKey: "dashboards",
	})}
}

// Import implements engine.Adapter.
func (a *dashboardsAdapter) Import(ctx context.Context, c engine.APIClient, raw engine.Record) (string, engine.Record, error) {
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

// dashboardListsAdapter syncs manual dashboard lists. The dashboards of a
// list live behind a separate endpoint and are stored in the record as
// "dashboards".
type dashboardListsAdapter struct {
	*restAdapter
}

const dashboardListItemsPath = "/api/v2/dashboard/lists/manual/%s/dashboards"

func newDashboardLists() engine.Adapter {
	return &dashboardListsAdapter{restAdapter: newRESTAdapter(&engine.ResourceConfig{
		Type:     DashboardLists,
		BasePath: "/api/v1/dashboard/lists/manual",
		Connections: map[engine.ResourceType][]string{
			Dashboards: {"dashboards.id"},
		},
		ExcludedAttributes: []string{
			"id",
			"author",
			"created",
			"modified",
			"is_favorite",
			"dashboard_count",
			"type",
		},
		Comparators: map[string]diff.Comparator{
			"dashboards": diff.UnorderedSet{},
		},
	}, restSpec{
		ListKey: "dashboard_lists",
	})}
}

// Import implements engine.Adapter.
func (a *dashboardListsAdapter) Import(ctx context.Context, c engine.APIClient, raw engine.Record) (string, engine.Record, error) {
	id := cast.ToString(raw["id"])
	if id == "" {
		return "", nil, nil
	}
	items, err := a.items(ctx, c, id)
	if err != nil {
		return id, nil, err
	}
	r := raw.Clone()
	r["dashboards"] = items
	return id, r, nil
}

// Create implements engine.Adapter.
func (a *dashboardListsAdapter) Create(ctx context.Context, c engine.APIClient, _ string, r engine.Record) (engine.Record, error) {
	var created map[string]any
	if err := c.Post(ctx, a.Cfg.BasePath, map[string]any{"name": r["name"]}, &created); err != nil {
		return nil, err
	}
	return a.putItems(ctx, c, engine.Record(created), r)
}

// Update implements engine.Adapter.
func (a *dashboardListsAdapter) Update(ctx context.Context, c engine.APIClient, key string, r engine.Record) (engine.Record, error) {
	id, err := a.destinationID(key)
	if err != nil {
		return nil, err
	}
	var updated map[string]any
	if err := c.Put(ctx, a.Cfg.BasePath+"/"+url.PathEscape(id), map[string]any{"name": r["name"]}, &updated); err != nil {
		return nil, err
	}
	return a.putItems(ctx, c, engine.Record(updated), r)
}

func (a *dashboardListsAdapter) items(ctx context.Context, c engine.APIClient, id string) ([]any, error) {
	var resp map[string]any
	if err := c.Get(ctx, fmt.Sprintf(dashboardListItemsPath, url.PathEscape(id)), &resp); err != nil {
		return nil, err
	}
	return dashboardRefs(resp["dashboards"]), nil
}

// putItems replaces the dashboards of the list and returns list with them.
func (a *dashboardListsAdapter) putItems(ctx context.Context, c engine.APIClient, list, r engine.Record) (engine.Record, error) {
	id := cast.ToString(list["id"])
	if id == "" {
		return nil, fmt.Errorf("dashboard list response has no id")
	}

	refs := dashboardRefs(r["dashboards"])
	var resp map[string]any
	if err := c.Put(ctx, fmt.Sprintf(dashboardListItemsPath, url.PathEscape(id)), map[string]any{"dashboards": refs}, &resp); err != nil {
		return nil, err
	}
	if got, ok := resp["dashboards"]; ok {
		refs = dashboardRefs(got)
	}
	list["dashboards"] = refs
	return list, nil
}

// dashboardRefs reduces dashboard list items to their id and type.
func dashboardRefs(v any) []any {
	list, _ := v.([]any)
	refs := make([]any, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		refs = append(refs, map[string]any{"id": m["id"], "type": m["type"]})
	}
	return refs
}
