package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/openfroyo/orgsync/pkg/diff"
)

// ResourceType names a kind of synced configuration resource (e.g., "monitors").
type ResourceType string

// Origin identifies which account a record map belongs to.
type Origin string

const (
	// OriginSource is the account configuration is read from.
	OriginSource Origin = "source"

	// OriginDestination is the account configuration is written to.
	OriginDestination Origin = "destination"
)

// Record is one resource document as returned by the remote API.
type Record map[string]any

// Clone returns a deep copy of the record. Nested documents and sequences
// are copied so the clone can be mutated freely.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return Record(cloneValue(map[string]any(r)).(map[string]any))
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case Record:
		return cloneValue(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}

// RecordMap is a stable-key to record map shared by the workers processing one
// resource type. Each worker owns the keys it writes.
type RecordMap struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewRecordMap creates a map holding records. The map is not copied.
func NewRecordMap(records map[string]Record) *RecordMap {
	if records == nil {
		records = make(map[string]Record)
	}
	return &RecordMap{records: records}
}

// Get returns the record stored under key.
func (m *RecordMap) Get(key string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[key]
	return r, ok
}

// Set stores r under key.
func (m *RecordMap) Set(key string, r Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = r
}

// Delete removes key.
func (m *RecordMap) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
}

// Update applies fn to the record under key while holding the lock. The
// record passed to fn is nil when the key is absent; a nil result deletes it.
func (m *RecordMap) Update(key string, fn func(Record) Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := fn(m.records[key]); r != nil {
		m.records[key] = r
	} else {
		delete(m.records, key)
	}
}

// Keys returns all keys in sorted order.
func (m *RecordMap) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of records.
func (m *RecordMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Snapshot returns a shallow copy of the map for persisting or iteration.
func (m *RecordMap) Snapshot() map[string]Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Record, len(m.records))
	for k, v := range m.records {
		out[k] = v
	}
	return out
}

// Replace swaps the contents of the map.
func (m *RecordMap) Replace(records map[string]Record) {
	if records == nil {
		records = make(map[string]Record)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = records
}

// Phase is a top-level operation performed over the configured resource types.
type Phase string

const (
	// PhaseImport fetches the source account into the source maps.
	PhaseImport Phase = "import"

	// PhaseSync applies the source maps to the destination account.
	PhaseSync Phase = "sync"

	// PhaseDiffs reports drift between source and destination without writing.
	PhaseDiffs Phase = "diffs"

	// PhaseMigrate runs import followed by sync.
	PhaseMigrate Phase = "migrate"

	// PhaseReset deletes every destination record in reverse dependency order.
	PhaseReset Phase = "reset"

	// PhaseCleanup deletes destination records no longer present in the source.
	PhaseCleanup Phase = "cleanup"
)

// IsWrite reports whether the phase may issue remote writes.
func (p Phase) IsWrite() bool {
	return p == PhaseSync || p == PhaseMigrate || p == PhaseReset || p == PhaseCleanup
}

// CleanupMode controls deletion of destination records absent from the source.
type CleanupMode string

const (
	// CleanupOff never deletes.
	CleanupOff CleanupMode = "false"

	// CleanupConfirm deletes after an interactive confirmation.
	CleanupConfirm CleanupMode = "true"

	// CleanupForce deletes without asking.
	CleanupForce CleanupMode = "force"
)

// Enabled reports whether cleanup runs at all.
func (m CleanupMode) Enabled() bool {
	return m == CleanupConfirm || m == CleanupForce
}

// ParseCleanupMode parses the textual cleanup mode.
func ParseCleanupMode(s string) (CleanupMode, error) {
	switch CleanupMode(s) {
	case "", CleanupOff:
		return CleanupOff, nil
	case CleanupConfirm, CleanupForce:
		return CleanupMode(s), nil
	default:
		return CleanupOff, fmt.Errorf("invalid cleanup mode %q: must be one of false, true, force", s)
	}
}

// TypeSummary counts the outcome of one phase for one resource type.
type TypeSummary struct {
	Type ResourceType `json:"type" yaml:"type"`

	// Level is the scheduler frontier the type was processed in.
	Level int `json:"level" yaml:"level"`

	Fetched   int `json:"fetched,omitempty" yaml:"fetched,omitempty"`
	Imported  int `json:"imported,omitempty" yaml:"imported,omitempty"`
	Filtered  int `json:"filtered,omitempty" yaml:"filtered,omitempty"`
	Created   int `json:"created,omitempty" yaml:"created,omitempty"`
	Updated   int `json:"updated,omitempty" yaml:"updated,omitempty"`
	Deleted   int `json:"deleted,omitempty" yaml:"deleted,omitempty"`
	Unchanged int `json:"unchanged,omitempty" yaml:"unchanged,omitempty"`
	Skipped   int `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Failed    int `json:"failed,omitempty" yaml:"failed,omitempty"`
	Drifted   int `json:"drifted,omitempty" yaml:"drifted,omitempty"`

	// MissingDependencies lists declared dependencies absent from the run.
	MissingDependencies []ResourceType `json:"missing_dependencies,omitempty" yaml:"missing_dependencies,omitempty"`

	Duration time.Duration `json:"duration" yaml:"duration"`
}

// MissingDependency reports whether the type was write-skipped.
func (s TypeSummary) MissingDependency() bool {
	return len(s.MissingDependencies) > 0
}

// RecordDiff is the drift found for one record.
type RecordDiff struct {
	Type    ResourceType  `json:"type" yaml:"type"`
	Key     string        `json:"key" yaml:"key"`
	Action  Action        `json:"action" yaml:"action"`
	Changes []diff.Change `json:"changes,omitempty" yaml:"changes,omitempty"`
}

// RunResult is the outcome of one phase across all resource types.
type RunResult struct {
	RunID       string        `json:"run_id" yaml:"run_id"`
	Phase       Phase         `json:"phase" yaml:"phase"`
	Status      RunStatus     `json:"status" yaml:"status"`
	StartedAt   time.Time     `json:"started_at" yaml:"started_at"`
	CompletedAt time.Time     `json:"completed_at" yaml:"completed_at"`
	Types       []TypeSummary `json:"types" yaml:"types"`
	Diffs       []RecordDiff  `json:"diffs,omitempty" yaml:"diffs,omitempty"`

	// FailedConnections maps "<type>/<key>" to the unresolved references of
	// that record grouped by referenced type.
	FailedConnections map[string]map[ResourceType][]string `json:"failed_connections,omitempty" yaml:"failed_connections,omitempty"`

	// ErrorCount is the number of errors logged during the run.
	ErrorCount int `json:"error_count" yaml:"error_count"`

	// Cancelled is set when the run context was cancelled before all types
	// were processed.
	Cancelled bool `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
}

// ExitCode returns the process exit status for the run: zero only when no
// error was logged and the run was not cancelled.
func (r *RunResult) ExitCode() int {
	if r == nil {
		return 1
	}
	if r.ErrorCount > 0 || r.Cancelled {
		return 1
	}
	return 0
}

// Summary returns the summary for t, if the type was processed.
func (r *RunResult) Summary(t ResourceType) (TypeSummary, bool) {
	for _, s := range r.Types {
		if s.Type == t {
			return s, true
		}
	}
	return TypeSummary{}, false
}

// Duration returns the wall time of the run.
func (r *RunResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}
