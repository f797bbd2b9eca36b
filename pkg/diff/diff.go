// Package diff compares a destination-shaped record with a source-shaped record
// and reports the structural drift between them.
package diff

import (
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"
)

// ChangeAction represents the type of change detected at a path.
type ChangeAction string

const (
	// ChangeActionAdd indicates the field exists only in the source record.
	ChangeActionAdd ChangeAction = "add"

	// ChangeActionRemove indicates the field exists only in the destination record.
	ChangeActionRemove ChangeAction = "remove"

	// ChangeActionModify indicates the field exists on both sides with different values.
	ChangeActionModify ChangeAction = "modify"
)

// Change represents a single difference between two records.
type Change struct {
	// Path is the dotted path to the field, with slice indexes in brackets
	// (e.g., "options.thresholds.critical", "widgets[0].definition").
	Path string `json:"path" yaml:"path"`

	// Before is the destination value.
	Before any `json:"before,omitempty" yaml:"before,omitempty"`

	// After is the source value.
	After any `json:"after,omitempty" yaml:"after,omitempty"`

	// Action describes the change.
	Action ChangeAction `json:"action" yaml:"action"`
}

// String renders the change on a single line.
func (c Change) String() string {
	switch c.Action {
	case ChangeActionAdd:
		return fmt.Sprintf("+ %s: %v", c.Path, c.After)
	case ChangeActionRemove:
		return fmt.Sprintf("- %s: %v", c.Path, c.Before)
	default:
		return fmt.Sprintf("~ %s: %v -> %v", c.Path, c.Before, c.After)
	}
}

// Result is the outcome of a comparison. An empty result means the records
// are equivalent after exclusions and comparators are applied.
type Result struct {
	Changes []Change `json:"changes,omitempty" yaml:"changes,omitempty"`
}

// Empty reports whether no drift was found.
func (r Result) Empty() bool {
	return len(r.Changes) == 0
}

// Paths returns the paths of all changes in report order.
func (r Result) Paths() []string {
	paths := make([]string, 0, len(r.Changes))
	for _, c := range r.Changes {
		paths = append(paths, c.Path)
	}
	return paths
}

// Options configures a comparison.
type Options struct {
	// Excluded lists dotted attribute paths ignored on both sides. Slice
	// indexes are not part of the path: "widgets.id" matches the id of
	// every widget.
	Excluded []string

	// Comparators overrides equality for the value at a dotted path.
	Comparators map[string]Comparator
}

// Diff compares dest against src and returns every difference that is not
// covered by an excluded path or resolved as equal by a comparator.
func Diff(dest, src any, opts Options) Result {
	reporter := &changeReporter{}
	cmp.Equal(dest, src, append(opts.cmpOptions(), cmp.Reporter(reporter))...)
	return Result{Changes: reporter.changes}
}

// Equal reports whether dest and src are equivalent under opts.
func Equal(dest, src any, opts Options) bool {
	return cmp.Equal(dest, src, opts.cmpOptions()...)
}

func (o Options) cmpOptions() []cmp.Option {
	var options []cmp.Option

	if len(o.Excluded) > 0 {
		excluded := make(map[string]struct{}, len(o.Excluded))
		for _, p := range o.Excluded {
			excluded[p] = struct{}{}
		}
		options = append(options, cmp.FilterPath(func(p cmp.Path) bool {
			path, ok := attributePath(p)
			if !ok {
				return false
			}
			_, hit := excluded[path]
			return hit
		}, cmp.Ignore()))
	}

	for path, comparator := range o.Comparators {
		target := path
		c := comparator
		options = append(options, cmp.FilterPath(func(p cmp.Path) bool {
			got, ok := attributePath(p)
			return ok && got == target
		}, cmp.Comparer(c.Equal)))
	}

	return options
}

// attributePath returns the dotted attribute path for p when its last step
// is a map index.
func attributePath(p cmp.Path) (string, bool) {
	if _, ok := p.Last().(cmp.MapIndex); !ok {
		return "", false
	}
	var keys []string
	for _, step := range p {
		if mi, ok := step.(cmp.MapIndex); ok {
			keys = append(keys, fmt.Sprint(mi.Key().Interface()))
		}
	}
	return strings.Join(keys, "."), true
}

// displayPath renders p with slice indexes for reporting.
func displayPath(p cmp.Path) string {
	var sb strings.Builder
	for _, step := range p {
		switch s := step.(type) {
		case cmp.MapIndex:
			if sb.Len() > 0 {
				sb.WriteByte('.')
			}
			sb.WriteString(fmt.Sprint(s.Key().Interface()))
		case cmp.SliceIndex:
			x, y := s.SplitKeys()
			idx := x
			if idx < 0 {
				idx = y
			}
			fmt.Fprintf(&sb, "[%d]", idx)
		}
	}
	if sb.Len() == 0 {
		return "."
	}
	return sb.String()
}

// changeReporter collects unequal leaves reported by cmp.
type changeReporter struct {
	path    cmp.Path
	changes []Change
}

func (r *changeReporter) PushStep(ps cmp.PathStep) {
	r.path = append(r.path, ps)
}

func (r *changeReporter) Report(rs cmp.Result) {
	if rs.Equal() {
		return
	}
	vx, vy := r.path.Last().Values()
	change := Change{Path: displayPath(r.path)}
	switch {
	case !vx.IsValid():
		change.Action = ChangeActionAdd
		change.After = vy.Interface()
	case !vy.IsValid():
		change.Action = ChangeActionRemove
		change.Before = vx.Interface()
	default:
		change.Action = ChangeActionModify
		change.Before = vx.Interface()
		change.After = vy.Interface()
	}
	r.changes = append(r.changes, change)
}

func (r *changeReporter) PopStep() {
	r.path = r.path[:len(r.path)-1]
}
