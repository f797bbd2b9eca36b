package resolve

import "github.com/spf13/cast"

// MapLookup is a Lookup backed by a fixed source key to destination
// identifier mapping.
type MapLookup map[string]any

// Resolve implements Lookup.
func (m MapLookup) Resolve(key string) (any, bool) {
	id, ok := m[key]
	return id, ok
}

// Resolved implements Lookup.
func (m MapLookup) Resolved(id string) bool {
	for _, v := range m {
		if cast.ToString(v) == id {
			return true
		}
	}
	return false
}

// FuncLookup builds a Lookup from a resolver function and the set of known
// destination identifiers.
func FuncLookup(resolve func(key string) (any, bool), destinationIDs []string) Lookup {
	ids := make(map[string]struct{}, len(destinationIDs))
	for _, id := range destinationIDs {
		ids[id] = struct{}{}
	}
	return funcLookup{resolve: resolve, ids: ids}
}

type funcLookup struct {
	resolve func(string) (any, bool)
	ids     map[string]struct{}
}

func (l funcLookup) Resolve(key string) (any, bool) {
	return l.resolve(key)
}

func (l funcLookup) Resolved(id string) bool {
	_, ok := l.ids[id]
	return ok
}
