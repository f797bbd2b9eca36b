// Package filter selects which imported source records are kept, using jq
// expressions evaluated against each record.
//
// A filter is written as
//
//	Type=<resource type>;Expr=<jq expression>
//
// and keeps a record of that type when the expression yields a truthy value
// (anything but false and null). Types without filters keep every record.
package filter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/itchyny/gojq"

	"github.com/openfroyo/orgsync/pkg/engine"
)

// Operator combines several filters of one type.
type Operator string

const (
	// OperatorOr keeps a record matched by any filter.
	OperatorOr Operator = "or"

	// OperatorAnd keeps a record matched by every filter.
	OperatorAnd Operator = "and"
)

// ParseOperator parses an operator name, case-insensitively. Empty means or.
func ParseOperator(s string) (Operator, error) {
	switch Operator(strings.ToLower(strings.TrimSpace(s))) {
	case "", OperatorOr:
		return OperatorOr, nil
	case OperatorAnd:
		return OperatorAnd, nil
	default:
		return OperatorOr, fmt.Errorf("invalid filter operator %q: must be or or and", s)
	}
}

const (
	typePrefix = "Type="
	exprMarker = ";Expr="
)

// Filter is one compiled filter expression.
type Filter struct {
	Type engine.ResourceType
	Expr string
	code *gojq.Code
}

// Parse parses and compiles one filter entry.
func Parse(entry string) (*Filter, error) {
	entry = strings.TrimSpace(entry)
	if !strings.HasPrefix(entry, typePrefix) {
		return nil, fmt.Errorf("invalid filter %q: expected %s<type>%s<jq>", entry, typePrefix, exprMarker)
	}
	rest := entry[len(typePrefix):]
	i := strings.Index(rest, exprMarker)
	if i < 0 {
		return nil, fmt.Errorf("invalid filter %q: missing Expr", entry)
	}

	t := strings.TrimSpace(rest[:i])
	expr := strings.TrimSpace(rest[i+len(exprMarker):])
	if t == "" {
		return nil, fmt.Errorf("invalid filter %q: empty Type", entry)
	}
	if expr == "" {
		return nil, fmt.Errorf("invalid filter %q: empty Expr", entry)
	}

	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid filter expression for %s: %w", t, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("invalid filter expression for %s: %w", t, err)
	}
	return &Filter{Type: engine.ResourceType(t), Expr: expr, code: code}, nil
}

// Match reports whether r satisfies the filter: some output of the
// expression is neither false nor null.
func (f *Filter) Match(r engine.Record) (bool, error) {
	iter := f.code.Run(normalize(r))
	matched := false
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			if haltErr, ok := err.(*gojq.HaltError); ok && haltErr.Value() == nil {
				break
			}
			return false, fmt.Errorf("filter %q on %s: %w", f.Expr, f.Type, err)
		}
		if v != nil && v != false {
			matched = true
		}
	}
	return matched, nil
}

// Set is the filters of a run grouped by type. It implements
// engine.RecordFilter.
type Set struct {
	byType map[engine.ResourceType][]*Filter
	op     Operator
}

// New parses entries and combines the filters of each type with op.
func New(entries []string, op Operator) (*Set, error) {
	if op == "" {
		op = OperatorOr
	}
	s := &Set{byType: make(map[engine.ResourceType][]*Filter), op: op}
	for _, entry := range entries {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		f, err := Parse(entry)
		if err != nil {
			return nil, err
		}
		s.byType[f.Type] = append(s.byType[f.Type], f)
	}
	return s, nil
}

// Empty reports whether the set holds no filter.
func (s *Set) Empty() bool {
	return len(s.byType) == 0
}

// Types returns the filtered types in name order.
func (s *Set) Types() []engine.ResourceType {
	types := make([]engine.ResourceType, 0, len(s.byType))
	for t := range s.byType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Keep implements engine.RecordFilter.
func (s *Set) Keep(t engine.ResourceType, r engine.Record) (bool, error) {
	filters := s.byType[t]
	if len(filters) == 0 {
		return true, nil
	}

	for _, f := range filters {
		ok, err := f.Match(r)
		if err != nil {
			return false, err
		}
		if ok && s.op == OperatorOr {
			return true, nil
		}
		if !ok && s.op == OperatorAnd {
			return false, nil
		}
	}
	return s.op == OperatorAnd, nil
}

// normalize converts records nested anywhere in v to plain maps, the only
// object type jq accepts.
func normalize(v any) any {
	switch t := v.(type) {
	case engine.Record:
		return normalize(map[string]any(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}
