package engine

import (
	"context"
	"sort"

	"github.com/spf13/cast"

	"github.com/openfroyo/orgsync/pkg/diff"
	"github.com/openfroyo/orgsync/pkg/resolve"
)

// DefaultIDField is the attribute holding a record's remote identifier.
const DefaultIDField = "id"

// ResourceConfig describes a resource type and holds its record maps.
type ResourceConfig struct {
	// Type is the resource type tag.
	Type ResourceType

	// BasePath is the API collection path (e.g., "/api/v1/monitor").
	BasePath string

	// IDField is the attribute holding the remote identifier. Defaults to "id".
	IDField string

	// Connections maps a referenced type to the dotted attribute paths that
	// hold its identifiers.
	Connections map[ResourceType][]string

	// ExcludedAttributes are dotted paths stripped before writes and ignored
	// by the diff.
	ExcludedAttributes []string

	// NonNullableAttributes are dotted paths removed when null.
	NonNullableAttributes []string

	// Comparators override equality for selected attribute paths.
	Comparators map[string]diff.Comparator

	// Source and Destination are the stable key to record maps.
	Source      *RecordMap
	Destination *RecordMap
}

// Init fills defaults and allocates empty record maps.
func (c *ResourceConfig) Init() *ResourceConfig {
	if c.IDField == "" {
		c.IDField = DefaultIDField
	}
	if c.Source == nil {
		c.Source = NewRecordMap(nil)
	}
	if c.Destination == nil {
		c.Destination = NewRecordMap(nil)
	}
	return c
}

// Dependencies returns the referenced types other than the type itself,
// sorted.
func (c *ResourceConfig) Dependencies() []ResourceType {
	deps := make([]ResourceType, 0, len(c.Connections))
	for t := range c.Connections {
		if t != c.Type {
			deps = append(deps, t)
		}
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i] < deps[j] })
	return deps
}

// DestinationID returns the remote identifier of the destination counterpart
// of a source key.
func (c *ResourceConfig) DestinationID(key string) (any, bool) {
	r, ok := c.Destination.Get(key)
	if !ok {
		return nil, false
	}
	id, ok := r[c.IDField]
	if !ok || id == nil {
		return nil, false
	}
	return id, true
}

// Lookup returns a resolver from source keys of this type to destination
// identifiers, over the destination map as it is now.
func (c *ResourceConfig) Lookup() resolve.Lookup {
	snapshot := c.Destination.Snapshot()
	ids := make([]string, 0, len(snapshot))
	for _, r := range snapshot {
		if id, ok := r[c.IDField]; ok && id != nil {
			ids = append(ids, cast.ToString(id))
		}
	}
	return resolve.FuncLookup(func(key string) (any, bool) {
		r, ok := snapshot[key]
		if !ok {
			return nil, false
		}
		id, ok := r[c.IDField]
		return id, ok && id != nil
	}, ids)
}

// DiffOptions returns the diff options for this type.
func (c *ResourceConfig) DiffOptions() diff.Options {
	return diff.Options{
		Excluded:    c.ExcludedAttributes,
		Comparators: c.Comparators,
	}
}

// Prepare strips excluded and null non-nullable attributes from r in place.
func (c *ResourceConfig) Prepare(r Record) {
	diff.Prepare(r, c.ExcludedAttributes, c.NonNullableAttributes)
}

// BaseAdapter provides the default hooks of an Adapter. Embed it and
// implement the remote operations.
type BaseAdapter struct {
	Cfg *ResourceConfig
}

// Type implements Adapter.
func (b *BaseAdapter) Type() ResourceType { return b.Cfg.Type }

// Config implements Adapter.
func (b *BaseAdapter) Config() *ResourceConfig { return b.Cfg }

// PreApply implements Adapter.
func (b *BaseAdapter) PreApply(context.Context, APIClient) error { return nil }

// PreAction implements Adapter.
func (b *BaseAdapter) PreAction(context.Context, APIClient, string, Record) error { return nil }

// Connect implements Adapter with direct replacement.
func (b *BaseAdapter) Connect(path string, r Record, _ ResourceType, lookup resolve.Lookup) []string {
	return resolve.ResolveDirect(path, r, lookup)
}
