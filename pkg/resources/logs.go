package resources

import (
	"context"

	"github.com/spf13/cast"

	"github.com/openfroyo/orgsync/pkg/diff"
	"github.com/openfroyo/orgsync/pkg/engine"
)

func init() {
	Register(LogsPipelinesOrder, newLogsPipelinesOrder)
}

// pipelineOrderKey is the stable key of the single pipeline order document.
const pipelineOrderKey = "logs-pipeline-order"

// pipelinesOrderAdapter syncs the account-wide order of log pipelines. The
// order is a singleton: it is never created or deleted, only rewritten.
type pipelinesOrderAdapter struct {
	engine.BaseAdapter
}

func newLogsPipelinesOrder() engine.Adapter {
	return &pipelinesOrderAdapter{BaseAdapter: engine.BaseAdapter{Cfg: &engine.ResourceConfig{
		Type:     LogsPipelinesOrder,
		BasePath: "/api/v1/logs/config/pipeline-order",
		Connections: map[engine.ResourceType][]string{
			LogsCustomPipelines: {"pipeline_ids"},
		},
		Comparators: map[string]diff.Comparator{
			// integration pipelines differ between accounts; only the
			// relative order of shared pipelines matters
			"pipeline_ids": diff.SharedOrder{},
		},
	}}}
}

// Fetch implements engine.Adapter.
func (a *pipelinesOrderAdapter) Fetch(ctx context.Context, c engine.APIClient) ([]engine.Record, error) {
	var order map[string]any
	if err := c.Get(ctx, a.Cfg.BasePath, &order); err != nil {
		return nil, err
	}
	return []engine.Record{order}, nil
}

// Import implements engine.Adapter. Read-only integration pipelines are
// dropped from the order since they are not synced.
func (a *pipelinesOrderAdapter) Import(ctx context.Context, c engine.APIClient, raw engine.Record) (string, engine.Record, error) {
	var pipelines []map[string]any
	if err := c.Get(ctx, "/api/v1/logs/config/pipelines", &pipelines); err != nil {
		return pipelineOrderKey, nil, err
	}
	readOnly := make(map[string]bool)
	for _, p := range pipelines {
		if truthy(p, "is_read_only") {
			readOnly[cast.ToString(p["id"])] = true
		}
	}

	ids, _ := raw["pipeline_ids"].([]any)
	kept := make([]any, 0, len(ids))
	for _, id := range ids {
		if !readOnly[cast.ToString(id)] {
			kept = append(kept, id)
		}
	}
	return pipelineOrderKey, engine.Record{"pipeline_ids": kept}, nil
}

// Create implements engine.Adapter.
func (a *pipelinesOrderAdapter) Create(ctx context.Context, c engine.APIClient, key string, r engine.Record) (engine.Record, error) {
	return a.Update(ctx, c, key, r)
}

// Update implements engine.Adapter. The destination order must name every
// destination pipeline, so pipelines unknown to the source keep their
// relative order after the synced ones.
func (a *pipelinesOrderAdapter) Update(ctx context.Context, c engine.APIClient, _ string, r engine.Record) (engine.Record, error) {
	var current map[string]any
	if err := c.Get(ctx, a.Cfg.BasePath, &current); err != nil {
		return nil, err
	}
	existing, _ := current["pipeline_ids"].([]any)
	wanted, _ := r["pipeline_ids"].([]any)

	order := mergeOrder(wanted, existing)

	var resp map[string]any
	if err := c.Put(ctx, a.Cfg.BasePath, map[string]any{"pipeline_ids": order}, &resp); err != nil {
		return nil, err
	}
	return engine.Record(resp), nil
}

// Delete implements engine.Adapter. The order cannot be deleted.
func (a *pipelinesOrderAdapter) Delete(context.Context, engine.APIClient, string) error {
	return nil
}

// mergeOrder returns the ids of wanted that exist in existing, in wanted's
// order, followed by the remaining ids of existing in their order.
func mergeOrder(wanted, existing []any) []any {
	present := make(map[string]bool, len(existing))
	for _, id := range existing {
		present[cast.ToString(id)] = true
	}

	out := make([]any, 0, len(existing))
	placed := make(map[string]bool, len(existing))
	for _, id := range wanted {
		s := cast.ToString(id)
		if present[s] && !placed[s] {
			out = append(out, s)
			placed[s] = true
		}
	}
	for _, id := range existing {
		s := cast.ToString(id)
		if !placed[s] {
			out = append(out, s)
			placed[s] = true
		}
	}
	return out
}
