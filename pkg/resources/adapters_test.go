package resources

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/orgsync/pkg/engine"
	"github.com/openfroyo/orgsync/pkg/resolve"
)

func TestMonitors_ConnectCompositeQuery(t *testing.T) {
	a := newInit(t, Monitors)
	r := engine.Record{"type": "composite", "query": "( 1 && 2 ) || 11"}

	failed := a.Connect("query", r, Monitors, resolve.MapLookup{"1": 101.0, "2": 102.0, "11": 111.0})
	assert.Empty(t, failed)
	assert.Equal(t, "( 101 && 102 ) || 111", r["query"])
}

func TestMonitors_ConnectCompositeReportsUnknown(t *testing.T) {
	a := newInit(t, Monitors)
	r := engine.Record{"type": "composite", "query": "1 && 3"}

	failed := a.Connect("query", r, Monitors, resolve.MapLookup{"1": 101.0})
	assert.Equal(t, []string{"3"}, failed)
	assert.Equal(t, "101 && 3", r["query"])
}

func TestMonitors_ConnectIgnoresMetricQueries(t *testing.T) {
	a := newInit(t, Monitors)
	query := "avg(last_5m):avg:system.cpu.user{host:1} > 2"
	r := engine.Record{"type": "metric alert", "query": query}

	failed := a.Connect("query", r, Monitors, resolve.MapLookup{"1": 101.0, "2": 102.0})
	assert.Empty(t, failed)
	assert.Equal(t, query, r["query"])
}

func TestMonitors_ConnectRestrictedRoles(t *testing.T) {
	a := newInit(t, Monitors)
	r := engine.Record{"type": "metric alert", "restricted_roles": []any{"r1", "r2"}}

	failed := a.Connect("restricted_roles", r, Roles, resolve.MapLookup{"r1": "d1"})
	assert.Equal(t, []string{"r2"}, failed)
	assert.Equal(t, []any{"d1", "r2"}, r["restricted_roles"])
}

func TestMonitors_FetchSkipsSyntheticsAlerts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/monitor", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []any{
			map[string]any{"id": 1, "type": "metric alert"},
			map[string]any{"id": 2, "type": "synthetics alert"},
			map[string]any{"id": 3, "type": "composite"},
		})
	})
	c := newTestAPI(t, mux)

	items, err := newInit(t, Monitors).Fetch(context.Background(), c)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "composite", items[1]["type"])
}

func TestDashboards_ImportReadsFullDefinition(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/dashboard/abc-def", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"id":      "abc-def",
			"title":   "Overview",
			"widgets": []any{map[string]any{"definition": map[string]any{"type": "alert_graph", "alert_id": "7"}}},
		})
	})
	c := newTestAPI(t, mux)

	key, rec, err := newInit(t, Dashboards).Import(context.Background(), c, engine.Record{"id": "abc-def", "title": "Overview"})
	require.NoError(t, err)
	assert.Equal(t, "abc-def", key)
	assert.Contains(t, rec, "widgets")
}

func TestDashboards_ConnectNestedWidgets(t *testing.T) {
	a := newInit(t, Dashboards)
	r := engine.Record{"widgets": []any{
		map[string]any{"definition": map[string]any{"type": "alert_graph", "alert_id": "7"}},
		map[string]any{"definition": map[string]any{
			"type": "group",
			"widgets": []any{
				map[string]any{"definition": map[string]any{"type": "alert_value", "alert_id": "8"}},
			},
		}},
	}}

	lookup := resolve.MapLookup{"7": 70.0, "8": 80.0}
	var failed []string
	for _, path := range a.Config().Connections[Monitors] {
		failed = append(failed, a.Connect(path, r, Monitors, lookup)...)
	}
	assert.Empty(t, failed)

	widgets := r["widgets"].([]any)
	assert.Equal(t, "70", widgets[0].(map[string]any)["definition"].(map[string]any)["alert_id"])
	inner := widgets[1].(map[string]any)["definition"].(map[string]any)["widgets"].([]any)
	assert.Equal(t, "80", inner[0].(map[string]any)["definition"].(map[string]any)["alert_id"])
}

func TestDashboardLists_ImportAttachesItems(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/dashboard/lists/manual/5/dashboards", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"dashboards": []any{
			map[string]any{"id": "abc", "type": "custom_timeboard", "title": "A", "popularity": 3},
		}})
	})
	c := newTestAPI(t, mux)

	key, rec, err := newInit(t, DashboardLists).Import(context.Background(), c, engine.Record{"id": 5.0, "name": "Team"})
	require.NoError(t, err)
	assert.Equal(t, "5", key)
	assert.Equal(t, []any{map[string]any{"id": "abc", "type": "custom_timeboard"}}, rec["dashboards"])
}

func TestDashboardLists_CreateWritesItems(t *testing.T) {
	var putItems map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/dashboard/lists/manual", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, map[string]any{"name": "Team"}, readJSON(t, r))
		writeJSON(t, w, map[string]any{"id": 9, "name": "Team"})
	})
	mux.HandleFunc("/api/v2/dashboard/lists/manual/9/dashboards", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		putItems = readJSON(t, r)
		writeJSON(t, w, putItems)
	})
	c := newTestAPI(t, mux)

	got, err := newInit(t, DashboardLists).Create(context.Background(), c, "5", engine.Record{
		"name":       "Team",
		"dashboards": []any{map[string]any{"id": "dst-abc", "type": "custom_timeboard"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 9.0, got["id"])
	assert.Equal(t, []any{map[string]any{"id": "dst-abc", "type": "custom_timeboard"}}, putItems["dashboards"])
	assert.Equal(t, putItems["dashboards"], got["dashboards"])
}

func TestPrivateLocations_FetchOnlyPrivate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/synthetics/locations", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"locations": []any{
			map[string]any{"id": "aws:eu-west-1", "name": "Ireland"},
			map[string]any{"id": "pl:office-1a2b", "name": "Office"},
		}})
	})
	c := newTestAPI(t, mux)

	items, err := newInit(t, SyntheticsPrivateLocations).Fetch(context.Background(), c)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "pl:office-1a2b", items[0]["id"])
}

func TestPrivateLocations_CreateUnwraps(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/synthetics/private-locations", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"private_location": map[string]any{"id": "pl:office-dst", "name": "Office"},
			"config":           map[string]any{"accessKey": "secret"},
		})
	})
	c := newTestAPI(t, mux)

	got, err := newInit(t, SyntheticsPrivateLocations).Create(context.Background(), c, "pl:office-1a2b", engine.Record{"name": "Office"})
	require.NoError(t, err)
	assert.Equal(t, engine.Record{"id": "pl:office-dst", "name": "Office"}, got)
}

func TestSyntheticsTests_ConnectOnlyPrivateLocations(t *testing.T) {
	a := newInit(t, SyntheticsTests)
	r := engine.Record{"locations": []any{"aws:eu-west-1", "pl:office-1a2b", "pl:gone"}}

	failed := a.Connect("locations", r, SyntheticsPrivateLocations, resolve.MapLookup{"pl:office-1a2b": "pl:office-dst"})
	assert.Equal(t, []string{"pl:gone"}, failed)
	assert.Equal(t, []any{"aws:eu-west-1", "pl:office-dst", "pl:gone"}, r["locations"])
}

func TestSyntheticsTests_Writes(t *testing.T) {
	var deleted map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/synthetics/tests/browser", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		writeJSON(t, w, map[string]any{"public_id": "dst-xyz", "type": "browser"})
	})
	mux.HandleFunc("/api/v1/synthetics/tests/browser/dst-xyz", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		writeJSON(t, w, map[string]any{"public_id": "dst-xyz", "type": "browser", "name": "renamed"})
	})
	mux.HandleFunc("/api/v1/synthetics/tests/delete", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		deleted = readJSON(t, r)
		writeJSON(t, w, map[string]any{"deleted_tests": []any{}})
	})
	c := newTestAPI(t, mux)
	ctx := context.Background()

	a := newInit(t, SyntheticsTests)
	created, err := a.Create(ctx, c, "src-xyz", engine.Record{"type": "browser", "name": "login"})
	require.NoError(t, err)
	a.Config().Destination.Set("src-xyz", created)

	updated, err := a.Update(ctx, c, "src-xyz", engine.Record{"type": "browser", "name": "renamed"})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated["name"])

	require.NoError(t, a.Delete(ctx, c, "src-xyz"))
	assert.Equal(t, map[string]any{"public_ids": []any{"dst-xyz"}}, deleted)
}

func TestSyntheticsTests_CreateRequiresType(t *testing.T) {
	_, err := newInit(t, SyntheticsTests).Create(context.Background(), nil, "x", engine.Record{"name": "login"})
	require.Error(t, err)
}

func TestSyntheticsGlobalVariables_SkipSecure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/synthetics/variables", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"variables": []any{
			map[string]any{"id": "v1", "value": map[string]any{"value": "x", "secure": false}},
			map[string]any{"id": "v2", "value": map[string]any{"secure": true}},
		}})
	})
	c := newTestAPI(t, mux)

	items, err := newInit(t, SyntheticsGlobalVariables).Fetch(context.Background(), c)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "v1", items[0]["id"])
}

func TestMergeOrder(t *testing.T) {
	wanted := []any{"c", "a", "gone"}
	existing := []any{"a", "integration", "b", "c"}

	assert.Equal(t, []any{"c", "a", "integration", "b"}, mergeOrder(wanted, existing))
	assert.Equal(t, []any{"a", "b"}, mergeOrder(nil, []any{"a", "b"}))
}

func TestPipelinesOrder_ImportDropsReadOnly(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/logs/config/pipelines", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []any{
			map[string]any{"id": "p1", "is_read_only": false},
			map[string]any{"id": "nginx", "is_read_only": true},
			map[string]any{"id": "p2"},
		})
	})
	c := newTestAPI(t, mux)

	key, rec, err := newInit(t, LogsPipelinesOrder).Import(context.Background(), c, engine.Record{
		"pipeline_ids": []any{"nginx", "p2", "p1"},
	})
	require.NoError(t, err)
	assert.Equal(t, pipelineOrderKey, key)
	assert.Equal(t, []any{"p2", "p1"}, rec["pipeline_ids"])
}

func TestPipelinesOrder_UpdateKeepsDestinationPipelines(t *testing.T) {
	var put map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/logs/config/pipeline-order", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(t, w, map[string]any{"pipeline_ids": []any{"d1", "nginx", "d2"}})
		case http.MethodPut:
			put = readJSON(t, r)
			writeJSON(t, w, put)
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	})
	c := newTestAPI(t, mux)

	a := newInit(t, LogsPipelinesOrder)
	got, err := a.Update(context.Background(), c, pipelineOrderKey, engine.Record{"pipeline_ids": []any{"d2", "d1"}})
	require.NoError(t, err)
	assert.Equal(t, []any{"d2", "d1", "nginx"}, put["pipeline_ids"])
	assert.Equal(t, put["pipeline_ids"], got["pipeline_ids"])

	require.NoError(t, a.Delete(context.Background(), c, pipelineOrderKey))
}

func TestHostTags_FetchInvertsListing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/tags/hosts", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "users", r.URL.Query().Get("source"))
		writeJSON(t, w, map[string]any{"tags": map[string]any{
			"env:prod":  []any{"web-1", "web-2"},
			"team:core": []any{"web-1"},
		}})
	})
	c := newTestAPI(t, mux)

	items, err := newInit(t, HostTags).Fetch(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, []engine.Record{
		{"host": "web-1", "tags": []any{"env:prod", "team:core"}},
		{"host": "web-2", "tags": []any{"env:prod"}},
	}, items)
}

func TestHostTags_Writes(t *testing.T) {
	var methods []string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/tags/hosts/web-1", func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		assert.Equal(t, "users", r.URL.Query().Get("source"))
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		body := readJSON(t, r)
		writeJSON(t, w, map[string]any{"host": "web-1", "tags": body["tags"]})
	})
	c := newTestAPI(t, mux)
	ctx := context.Background()

	a := newInit(t, HostTags)
	got, err := a.Create(ctx, c, "web-1", engine.Record{"host": "web-1", "tags": []any{"env:prod"}})
	require.NoError(t, err)
	assert.Equal(t, engine.Record{"host": "web-1", "tags": []any{"env:prod"}}, got)

	_, err = a.Update(ctx, c, "web-1", engine.Record{"host": "web-1", "tags": []any{"env:dev"}})
	require.NoError(t, err)
	require.NoError(t, a.Delete(ctx, c, "web-1"))

	assert.Equal(t, []string{http.MethodPut, http.MethodPut, http.MethodDelete}, methods)
}
