// Package report renders run results and run history for the terminal or for
// machine consumption.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/orgsync/pkg/engine"
	"github.com/openfroyo/orgsync/pkg/stores"
)

// Format is an output format.
type Format string

const (
	// FormatText is a human readable table.
	FormatText Format = "text"

	// FormatJSON is indented JSON.
	FormatJSON Format = "json"

	// FormatYAML is YAML.
	FormatYAML Format = "yaml"
)

// ParseFormat parses an output format name. An empty name is text.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported output format %q: must be one of text, json, yaml", s)
	}
}

// Render writes the result of a run in the given format.
func Render(w io.Writer, res *engine.RunResult, f Format) error {
	if res == nil {
		return fmt.Errorf("no run result to render")
	}
	switch f {
	case FormatJSON:
		return writeJSON(w, res)
	case FormatYAML:
		return writeYAML(w, res)
	default:
		return renderText(w, res)
	}
}

// RenderHistory writes recorded runs in the given format.
func RenderHistory(w io.Writer, runs []*stores.Run, f Format) error {
	switch f {
	case FormatJSON:
		return writeJSON(w, runs)
	case FormatYAML:
		return writeYAML(w, runs)
	default:
		return renderHistoryText(w, runs)
	}
}

// RenderOperations writes the recorded operations of one run.
func RenderOperations(w io.Writer, ops []*stores.Operation, f Format) error {
	switch f {
	case FormatJSON:
		return writeJSON(w, ops)
	case FormatYAML:
		return writeYAML(w, ops)
	default:
		return renderOperationsText(w, ops)
	}
}

// TypeInfo describes one registered resource type.
type TypeInfo struct {
	Type                engine.ResourceType   `json:"type" yaml:"type"`
	Level               int                   `json:"level" yaml:"level"`
	Dependencies        []engine.ResourceType `json:"dependencies" yaml:"dependencies"`
	MissingDependencies []engine.ResourceType `json:"missing_dependencies,omitempty" yaml:"missing_dependencies,omitempty"`
}

// RenderTypes writes the resource types of a schedule.
func RenderTypes(w io.Writer, types []TypeInfo, f Format) error {
	switch f {
	case FormatJSON:
		return writeJSON(w, types)
	case FormatYAML:
		return writeYAML(w, types)
	default:
		return renderTypesText(w, types)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON report: %w", err)
	}
	return nil
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode YAML report: %w", err)
	}
	return enc.Close()
}

const summaryRow = "%-32s %5v %8v %8v %7v %7v %7v %9v %7v %6v %7v\n"

func renderText(w io.Writer, res *engine.RunResult) error {
	p := &printer{w: w}

	p.printf("run:      %s\n", res.RunID)
	p.printf("phase:    %s\n", res.Phase)
	p.printf("status:   %s\n", res.Status)
	p.printf("duration: %s\n", res.Duration().Round(time.Millisecond))
	p.printf("errors:   %d\n", res.ErrorCount)
	if res.Cancelled {
		p.printf("cancelled before all resource types were processed\n")
	}

	if len(res.Types) > 0 {
		p.printf("\n")
		p.printf(summaryRow, "TYPE", "LEVEL", "IMPORTED", "FILTERED", "CREATED", "UPDATED", "DELETED", "UNCHANGED", "SKIPPED", "FAILED", "DRIFTED")
		for _, s := range res.Types {
			p.printf(summaryRow, s.Type, s.Level, s.Imported, s.Filtered, s.Created, s.Updated, s.Deleted, s.Unchanged, s.Skipped, s.Failed, s.Drifted)
		}
		for _, s := range res.Types {
			if s.MissingDependency() {
				p.printf("%s: writes skipped, missing dependencies: %s\n", s.Type, joinTypes(s.MissingDependencies))
			}
		}
	}

	if len(res.Diffs) > 0 {
		p.printf("\ndrift:\n")
		for _, d := range res.Diffs {
			p.printf("  %s/%s (%s)\n", d.Type, d.Key, d.Action)
			for _, c := range d.Changes {
				p.printf("    %s\n", c)
			}
		}
	}

	if len(res.FailedConnections) > 0 {
		p.printf("\nfailed connections:\n")
		for _, resource := range sortedKeys(res.FailedConnections) {
			p.printf("  %s\n", resource)
			byType := res.FailedConnections[resource]
			targets := make([]engine.ResourceType, 0, len(byType))
			for t := range byType {
				targets = append(targets, t)
			}
			sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
			for _, t := range targets {
				p.printf("    %s: %s\n", t, strings.Join(byType[t], ", "))
			}
		}
	}

	return p.err
}

const historyRow = "%-36s  %-8s  %-10s  %-20s  %6v  %s\n"

func renderHistoryText(w io.Writer, runs []*stores.Run) error {
	p := &printer{w: w}
	if len(runs) == 0 {
		p.printf("no runs recorded\n")
		return p.err
	}

	p.printf(historyRow, "ID", "PHASE", "STATUS", "STARTED", "ERRORS", "TYPES")
	for _, r := range runs {
		p.printf(historyRow, r.ID, r.Phase, r.Status, r.StartedAt.UTC().Format(time.RFC3339), r.ErrorCount, strings.Join(r.ResourceTypes, ","))
	}
	return p.err
}

const operationRow = "%-32s  %-24s  %-7s  %-9s  %7v  %s\n"

func renderOperationsText(w io.Writer, ops []*stores.Operation) error {
	p := &printer{w: w}
	if len(ops) == 0 {
		p.printf("no operations recorded\n")
		return p.err
	}

	p.printf(operationRow, "TYPE", "KEY", "ACTION", "OUTCOME", "CHANGES", "ERROR")
	for _, op := range ops {
		msg := ""
		if op.Error != nil {
			msg = *op.Error
		}
		p.printf(operationRow, op.ResourceType, op.ResourceKey, op.Action, op.Outcome, op.Changes, msg)
	}
	return p.err
}

const typeRow = "%-32s  %5v  %s\n"

func renderTypesText(w io.Writer, types []TypeInfo) error {
	p := &printer{w: w}
	p.printf(typeRow, "TYPE", "LEVEL", "DEPENDS ON")
	for _, t := range types {
		deps := joinTypes(t.Dependencies)
		if deps == "" {
			deps = "-"
		}
		if len(t.MissingDependencies) > 0 {
			deps += " (missing: " + joinTypes(t.MissingDependencies) + ")"
		}
		p.printf(typeRow, t.Type, t.Level, deps)
	}
	return p.err
}

// printer keeps the first write error so rendering code stays linear.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func joinTypes(types []engine.ResourceType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
