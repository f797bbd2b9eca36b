package diff

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Comparator decides equality for the value found at one attribute path.
// Equal must be symmetric.
type Comparator interface {
	Equal(x, y any) bool
}

// ComparatorFunc adapts a function to the Comparator interface.
type ComparatorFunc func(x, y any) bool

// Equal calls f(x, y).
func (f ComparatorFunc) Equal(x, y any) bool {
	return f(x, y)
}

// SharedOrder compares two sequences by the relative order of the elements
// they have in common. Elements present on only one side are ignored, so an
// ordering document that lists extra destination-only entries is not drift.
type SharedOrder struct{}

// Equal implements Comparator.
func (SharedOrder) Equal(x, y any) bool {
	xs, xok := x.([]any)
	ys, yok := y.([]any)
	if !xok || !yok {
		return reflect.DeepEqual(x, y)
	}

	inX := make(map[string]struct{}, len(xs))
	for _, v := range xs {
		inX[canonical(v)] = struct{}{}
	}
	inY := make(map[string]struct{}, len(ys))
	for _, v := range ys {
		inY[canonical(v)] = struct{}{}
	}

	sharedX := make([]string, 0, len(xs))
	for _, v := range xs {
		k := canonical(v)
		if _, ok := inY[k]; ok {
			sharedX = append(sharedX, k)
		}
	}
	sharedY := make([]string, 0, len(ys))
	for _, v := range ys {
		k := canonical(v)
		if _, ok := inX[k]; ok {
			sharedY = append(sharedY, k)
		}
	}

	if len(sharedX) != len(sharedY) {
		return false
	}
	for i := range sharedX {
		if sharedX[i] != sharedY[i] {
			return false
		}
	}
	return true
}

// UnorderedSet compares two sequences as multisets: order is irrelevant,
// membership and multiplicity are not.
type UnorderedSet struct{}

// Equal implements Comparator.
func (UnorderedSet) Equal(x, y any) bool {
	xs, xok := x.([]any)
	ys, yok := y.([]any)
	if !xok || !yok {
		return reflect.DeepEqual(x, y)
	}
	if len(xs) != len(ys) {
		return false
	}

	counts := make(map[string]int, len(xs))
	for _, v := range xs {
		counts[canonical(v)]++
	}
	for _, v := range ys {
		k := canonical(v)
		if counts[k] == 0 {
			return false
		}
		counts[k]--
	}
	return true
}

// canonical returns a stable text form of v. encoding/json sorts map keys,
// so equal documents always produce equal strings.
func canonical(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(b)
}
