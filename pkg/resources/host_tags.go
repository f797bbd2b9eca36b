package resources

import (
	"context"
	"net/url"
	"sort"

	"github.com/spf13/cast"

	"github.com/openfroyo/orgsync/pkg/client"
	"github.com/openfroyo/orgsync/pkg/diff"
	"github.com/openfroyo/orgsync/pkg/engine"
)

func init() {
	Register(HostTags, newHostTags)
}

// hostTagsAdapter syncs user-assigned host tags. The API lists tags as
// tag -> hosts; records are kept per host as {"host": h, "tags": [...]}.
type hostTagsAdapter struct {
	engine.BaseAdapter
}

func newHostTags() engine.Adapter {
	return &hostTagsAdapter{BaseAdapter: engine.BaseAdapter{Cfg: &engine.ResourceConfig{
		Type:     HostTags,
		BasePath: "/api/v1/tags/hosts",
		IDField:  "host",
		Comparators: map[string]diff.Comparator{
			"tags": diff.UnorderedSet{},
		},
	}}}
}

// Fetch implements engine.Adapter.
func (a *hostTagsAdapter) Fetch(ctx context.Context, c engine.APIClient) ([]engine.Record, error) {
	var resp struct {
		Tags map[string][]string `json:"tags"`
	}
	if err := c.Get(ctx, withQuery(a.Cfg.BasePath, url.Values{"source": {"users"}}), &resp); err != nil {
		return nil, err
	}
	return invertHostTags(resp.Tags), nil
}

// invertHostTags turns a tag -> hosts listing into one record per host with
// its tags sorted.
func invertHostTags(byTag map[string][]string) []engine.Record {
	byHost := make(map[string][]string)
	for tag, hosts := range byTag {
		for _, h := range hosts {
			byHost[h] = append(byHost[h], tag)
		}
	}

	hosts := make([]string, 0, len(byHost))
	for h := range byHost {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)

	out := make([]engine.Record, 0, len(hosts))
	for _, h := range hosts {
		tags := byHost[h]
		sort.Strings(tags)
		list := make([]any, len(tags))
		for i, t := range tags {
			list[i] = t
		}
		out = append(out, engine.Record{"host": h, "tags": list})
	}
	return out
}

// Import implements engine.Adapter. The key is the host name.
func (a *hostTagsAdapter) Import(_ context.Context, _ engine.APIClient, raw engine.Record) (string, engine.Record, error) {
	return cast.ToString(raw["host"]), raw, nil
}

// Create implements engine.Adapter. Host tags always exist, so creating is
// replacing.
func (a *hostTagsAdapter) Create(ctx context.Context, c engine.APIClient, key string, r engine.Record) (engine.Record, error) {
	return a.put(ctx, c, key, r)
}

// Update implements engine.Adapter.
func (a *hostTagsAdapter) Update(ctx context.Context, c engine.APIClient, key string, r engine.Record) (engine.Record, error) {
	return a.put(ctx, c, key, r)
}

func (a *hostTagsAdapter) put(ctx context.Context, c engine.APIClient, host string, r engine.Record) (engine.Record, error) {
	var resp map[string]any
	body := map[string]any{"tags": r["tags"]}
	if err := c.Put(ctx, a.path(host), body, &resp); err != nil {
		return nil, err
	}
	return engine.Record{"host": host, "tags": resp["tags"]}, nil
}

// Delete implements engine.Adapter.
func (a *hostTagsAdapter) Delete(ctx context.Context, c engine.APIClient, host string) error {
	if err := c.Delete(ctx, a.path(host), nil); err != nil && !client.IsNotFound(err) {
		return err
	}
	return nil
}

func (a *hostTagsAdapter) path(host string) string {
	return withQuery(a.Cfg.BasePath+"/"+url.PathEscape(host), url.Values{"source": {"users"}})
}
