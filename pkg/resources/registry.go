// Package resources holds the adapters of every supported resource type and
// the registry resolving type tags to adapters.
//
// Adapters register themselves from init. Most types are plain REST
// collections served by restAdapter; types with unusual endpoints wrap it.
package resources

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/openfroyo/orgsync/pkg/engine"
)

// Factory creates a fresh adapter. Every call must return a new adapter with
// its own ResourceConfig so record maps are never shared between runs.
type Factory func() engine.Adapter

var (
	factories    map[engine.ResourceType]Factory
	registryLock sync.Mutex
)

// Register adds the factory of t. Registering a type twice panics.
func Register(t engine.ResourceType, f Factory) {
	registryLock.Lock()
	defer registryLock.Unlock()

	if factories == nil {
		factories = make(map[engine.ResourceType]Factory)
	}
	if _, exists := factories[t]; exists {
		panic(fmt.Sprintf("resources: type %s registered twice", t))
	}
	factories[t] = f
}

// Types returns every registered type in name order.
func Types() []engine.ResourceType {
	registryLock.Lock()
	defer registryLock.Unlock()

	types := make([]engine.ResourceType, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Registered reports whether t has an adapter.
func Registered(t engine.ResourceType) bool {
	registryLock.Lock()
	defer registryLock.Unlock()
	_, ok := factories[t]
	return ok
}

// New creates the adapter of t.
func New(t engine.ResourceType) (engine.Adapter, error) {
	registryLock.Lock()
	f, ok := factories[t]
	registryLock.Unlock()

	if !ok {
		return nil, fmt.Errorf("unknown resource type %q (supported: %s)", t, supported())
	}
	return f(), nil
}

// Build creates the adapters of the selected types; an empty selection means
// every registered type. With forceMissing, the transitive dependencies of
// the selection are added to it.
func Build(selected []string, forceMissing bool) ([]engine.Adapter, error) {
	if len(selected) == 0 {
		selected = make([]string, 0)
		for _, t := range Types() {
			selected = append(selected, string(t))
		}
	}

	adapters := make(map[engine.ResourceType]engine.Adapter)
	queue := make([]engine.ResourceType, 0, len(selected))
	for _, s := range selected {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		queue = append(queue, engine.ResourceType(s))
	}

	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		if _, done := adapters[t]; done {
			continue
		}

		a, err := New(t)
		if err != nil {
			return nil, err
		}
		adapters[t] = a

		if forceMissing {
			for _, dep := range a.Config().Dependencies() {
				if _, done := adapters[dep]; !done && Registered(dep) {
					queue = append(queue, dep)
				}
			}
		}
	}

	out := make([]engine.Adapter, 0, len(adapters))
	for _, a := range adapters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type() < out[j].Type() })
	return out, nil
}

// Dependencies returns the declared dependencies of every registered type.
func Dependencies() map[engine.ResourceType][]engine.ResourceType {
	deps := make(map[engine.ResourceType][]engine.ResourceType)
	for _, t := range Types() {
		a, err := New(t)
		if err != nil {
			continue
		}
		deps[t] = a.Config().Dependencies()
	}
	return deps
}

func supported() string {
	types := Types()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
