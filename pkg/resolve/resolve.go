// Package resolve rewrites cross-resource references inside a record from
// source identifiers to destination identifiers.
package resolve

import (
	"regexp"
	"strings"

	"github.com/spf13/cast"
)

// Lookup resolves source keys of one resource type against the destination
// state of that type.
type Lookup interface {
	// Resolve returns the destination identifier synced for the source key.
	Resolve(key string) (any, bool)

	// Resolved reports whether id is already a destination identifier.
	Resolved(id string) bool
}

// Strategy rewrites the value found at the end of a reference path. It returns
// the replacement value and the keys that could not be resolved.
type Strategy func(value any, lookup Lookup) (any, []string)

// Resolve walks record along the dotted path and applies strategy to every
// leaf it reaches. Sequences met along the way are fanned out and their
// failures unioned. A path that does not exist in the record is not a failure.
func Resolve(path string, record map[string]any, lookup Lookup, strategy Strategy) []string {
	if path == "" || record == nil {
		return nil
	}
	return walk(strings.Split(path, "."), record, lookup, strategy)
}

// ResolveDirect is Resolve with the Direct strategy.
func ResolveDirect(path string, record map[string]any, lookup Lookup) []string {
	return Resolve(path, record, lookup, Direct)
}

// ResolveTokens is Resolve with the Tokens strategy.
func ResolveTokens(path string, record map[string]any, lookup Lookup) []string {
	return Resolve(path, record, lookup, Tokens)
}

func walk(keys []string, node any, lookup Lookup, strategy Strategy) []string {
	switch v := node.(type) {
	case []any:
		var failed []string
		for _, item := range v {
			failed = append(failed, walk(keys, item, lookup, strategy)...)
		}
		return failed

	case map[string]any:
		value, ok := v[keys[0]]
		if !ok {
			return nil
		}
		if len(keys) == 1 {
			if empty(value) {
				return nil
			}
			replaced, failed := strategy(value, lookup)
			v[keys[0]] = replaced
			return failed
		}
		return walk(keys[1:], value, lookup, strategy)
	}

	return nil
}

// Direct treats the value as one identifier or a sequence of identifiers and
// replaces each with its destination identifier. A value that is not a known
// source key but is already a destination identifier is left alone. Other
// unresolvable values are left untouched and reported.
func Direct(value any, lookup Lookup) (any, []string) {
	if items, ok := value.([]any); ok {
		out := make([]any, len(items))
		var failed []string
		for i, item := range items {
			replaced, f := Direct(item, lookup)
			out[i] = replaced
			failed = append(failed, f...)
		}
		return out, failed
	}

	key, err := cast.ToStringE(value)
	if err != nil || key == "" {
		return value, nil
	}
	id, ok := lookup.Resolve(key)
	if !ok {
		// already a destination identifier
		if lookup.Resolved(key) {
			return value, nil
		}
		return value, []string{key}
	}
	if _, isString := value.(string); isString {
		return cast.ToString(id), nil
	}
	return id, nil
}

var (
	tokenPattern   = regexp.MustCompile(`\w+`)
	numericPattern = regexp.MustCompile(`^\d+$`)
)

// Tokens rewrites every whole identifier token inside an expression string.
// A token is a maximal run of word characters; anything else, including
// operators, whitespace and parentheses, is a boundary and is copied as is.
// Tokens are matched exactly, so "1" never matches inside "11".
//
// A numeric token that is neither a known source key nor a destination
// identifier is reported as a failure. Other tokens are expression syntax.
func Tokens(value any, lookup Lookup) (any, []string) {
	expr, ok := value.(string)
	if !ok {
		return value, nil
	}

	var failed []string
	out := tokenPattern.ReplaceAllStringFunc(expr, func(token string) string {
		if id, ok := lookup.Resolve(token); ok {
			return cast.ToString(id)
		}
		if numericPattern.MatchString(token) && !lookup.Resolved(token) {
			failed = append(failed, token)
		}
		return token
	})
	return out, failed
}

func empty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case float64:
		return t == 0
	case int:
		return t == 0
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}
