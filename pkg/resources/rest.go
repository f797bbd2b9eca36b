package resources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/openfroyo/orgsync/pkg/client"
	"github.com/openfroyo/orgsync/pkg/engine"
)

// restSpec describes how a resource type maps onto a REST collection.
type restSpec struct {
	// ListPath is the path listing the collection. Defaults to BasePath.
	ListPath string

	// ListKey is the response attribute holding the items. Empty when the
	// response is a bare array.
	ListKey string

	// Envelope wraps write payloads, e.g. {"data": record}.
	Envelope string

	// ResponseKey unwraps write responses. Defaults to Envelope.
	ResponseKey string

	// UpdateMethod is PUT or PATCH. Defaults to PUT.
	UpdateMethod string

	// PageSize enables page[size]/page[number] pagination of the listing.
	PageSize int

	// IDInPayload sends the destination id inside update payloads, as
	// JSON:API endpoints require.
	IDInPayload bool

	// Skip drops fetched items that must not be synced, such as read-only
	// items or items managed by another resource.
	Skip func(r engine.Record) bool

	// MatchBy is a dotted attribute path. Before writing, source records
	// with no destination counterpart adopt the destination item holding
	// the same value, so built-in items are updated instead of duplicated.
	MatchBy string
}

// restAdapter is the adapter of a plain REST collection:
//
//	GET    <list path>        list
//	POST   <base path>        create
//	PUT    <base path>/<id>   update (or PATCH)
//	DELETE <base path>/<id>   delete
type restAdapter struct {
	engine.BaseAdapter
	spec restSpec
}

func newRESTAdapter(cfg *engine.ResourceConfig, spec restSpec) *restAdapter {
	if spec.ListPath == "" {
		spec.ListPath = cfg.BasePath
	}
	if spec.ResponseKey == "" {
		spec.ResponseKey = spec.Envelope
	}
	if spec.UpdateMethod == "" {
		spec.UpdateMethod = http.MethodPut
	}
	return &restAdapter{BaseAdapter: engine.BaseAdapter{Cfg: cfg}, spec: spec}
}

// Fetch implements engine.Adapter.
func (a *restAdapter) Fetch(ctx context.Context, c engine.APIClient) ([]engine.Record, error) {
	if a.spec.PageSize <= 0 {
		var resp any
		if err := c.Get(ctx, a.spec.ListPath, &resp); err != nil {
			return nil, err
		}
		return a.filter(listItems(resp, a.spec.ListKey)), nil
	}

	var out []engine.Record
	for page := 0; ; page++ {
		var resp any
		path := withQuery(a.spec.ListPath, url.Values{
			"page[size]":   {strconv.Itoa(a.spec.PageSize)},
			"page[number]": {strconv.Itoa(page)},
		})
		if err := c.Get(ctx, path, &resp); err != nil {
			return nil, err
		}
		items := listItems(resp, a.spec.ListKey)
		out = append(out, a.filter(items)...)
		if len(items) < a.spec.PageSize {
			return out, nil
		}
	}
}

func (a *restAdapter) filter(items []engine.Record) []engine.Record {
	if a.spec.Skip == nil {
		return items
	}
	out := items[:0]
	for _, r := range items {
		if !a.spec.Skip(r) {
			out = append(out, r)
		}
	}
	return out
}

// PreApply implements engine.Adapter.
func (a *restAdapter) PreApply(ctx context.Context, c engine.APIClient) error {
	if a.spec.MatchBy == "" {
		return nil
	}
	return adopt(ctx, a, c, a.spec.MatchBy)
}

// adopt maps source records without a destination counterpart onto existing
// destination items with the same value at path.
func adopt(ctx context.Context, a engine.Adapter, c engine.APIClient, path string) error {
	cfg := a.Config()

	existing, err := a.Fetch(ctx, c)
	if err != nil {
		return err
	}
	byValue := make(map[string]engine.Record, len(existing))
	for _, r := range existing {
		if v, ok := nested(r, path); ok && v != nil {
			byValue[cast.ToString(v)] = r
		}
	}

	for _, key := range cfg.Source.Keys() {
		if _, ok := cfg.Destination.Get(key); ok {
			continue
		}
		src, _ := cfg.Source.Get(key)
		v, ok := nested(src, path)
		if !ok || v == nil {
			continue
		}
		if match, ok := byValue[cast.ToString(v)]; ok {
			cfg.Destination.Set(key, match)
		}
	}
	return nil
}

// Import implements engine.Adapter. The key is the source id.
func (a *restAdapter) Import(_ context.Context, _ engine.APIClient, raw engine.Record) (string, engine.Record, error) {
	return cast.ToString(raw[a.Cfg.IDField]), raw, nil
}

// Create implements engine.Adapter.
func (a *restAdapter) Create(ctx context.Context, c engine.APIClient, _ string, r engine.Record) (engine.Record, error) {
	var resp any
	if err := c.Post(ctx, a.Cfg.BasePath, a.payload(r), &resp); err != nil {
		return nil, err
	}
	return a.unwrap(resp)
}

// Update implements engine.Adapter.
func (a *restAdapter) Update(ctx context.Context, c engine.APIClient, key string, r engine.Record) (engine.Record, error) {
	id, err := a.destinationID(key)
	if err != nil {
		return nil, err
	}

	body := r
	if a.spec.IDInPayload {
		body = r.Clone()
		body[a.Cfg.IDField] = id
	}

	var resp any
	path := a.Cfg.BasePath + "/" + url.PathEscape(id)
	if a.spec.UpdateMethod == http.MethodPatch {
		err = c.Patch(ctx, path, a.payload(body), &resp)
	} else {
		err = c.Put(ctx, path, a.payload(body), &resp)
	}
	if err != nil {
		return nil, err
	}
	return a.unwrap(resp)
}

// Delete implements engine.Adapter. A counterpart that is already gone counts
// as deleted.
func (a *restAdapter) Delete(ctx context.Context, c engine.APIClient, key string) error {
	id, err := a.destinationID(key)
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, a.Cfg.BasePath+"/"+url.PathEscape(id), nil); err != nil && !client.IsNotFound(err) {
		return err
	}
	return nil
}

func (a *restAdapter) destinationID(key string) (string, error) {
	id, ok := a.Cfg.DestinationID(key)
	if !ok {
		return "", fmt.Errorf("%s/%s has no destination %s", a.Cfg.Type, key, a.Cfg.IDField)
	}
	return cast.ToString(id), nil
}

func (a *restAdapter) payload(r engine.Record) any {
	if a.spec.Envelope == "" {
		return r
	}
	return map[string]any{a.spec.Envelope: r}
}

func (a *restAdapter) unwrap(resp any) (engine.Record, error) {
	return unwrapRecord(resp, a.spec.ResponseKey)
}

// unwrapRecord extracts the record of a write response, under key when set.
// A single element array is accepted in place of an object.
func unwrapRecord(resp any, key string) (engine.Record, error) {
	v := resp
	if key != "" {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unexpected response: expected an object with %q", key)
		}
		v = m[key]
	}
	if list, ok := v.([]any); ok && len(list) == 1 {
		v = list[0]
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected response: expected a resource object, got %T", v)
	}
	return engine.Record(m), nil
}

// listItems extracts the objects of a listing response.
func listItems(resp any, key string) []engine.Record {
	v := resp
	if key != "" {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = m[key]
	}
	list, _ := v.([]any)
	out := make([]engine.Record, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, engine.Record(m))
		}
	}
	return out
}

func withQuery(path string, q url.Values) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + q.Encode()
}

// truthy reports whether the attribute at key is set to a true-ish value.
func truthy(r engine.Record, key string) bool {
	v, ok := r[key]
	if !ok || v == nil {
		return false
	}
	b, err := cast.ToBoolE(v)
	return err == nil && b
}

// nested returns the value at a dotted path of objects.
func nested(r engine.Record, path string) (any, bool) {
	var v any = map[string]any(r)
	for _, k := range strings.Split(path, ".") {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok = m[k]
		if !ok {
			return nil, false
		}
	}
	return v, true
}
