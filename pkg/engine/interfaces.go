package engine

import (
	"context"
	"time"

	"github.com/openfroyo/orgsync/pkg/resolve"
)

// APIClient issues requests against one account. Paths are relative to the
// account's API base URL and may carry a query string. A nil out discards the
// response body. Non-2xx responses are returned as errors carrying the status
// code and body.
type APIClient interface {
	Get(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, body, out any) error
	Put(ctx context.Context, path string, body, out any) error
	Patch(ctx context.Context, path string, body, out any) error
	Delete(ctx context.Context, path string, out any) error
}

// Adapter maps one resource type onto the remote API.
//
// Adapter methods are called concurrently for different keys of the same
// type. Errors returned from record operations are logged by the caller and
// never abort sibling records.
type Adapter interface {
	// Type returns the resource type tag.
	Type() ResourceType

	// Config returns the resource configuration, including the record maps.
	Config() *ResourceConfig

	// Fetch lists the current remote state.
	Fetch(ctx context.Context, c APIClient) ([]Record, error)

	// Import normalizes a fetched item and returns its stable key. An empty
	// key skips the item.
	Import(ctx context.Context, c APIClient, raw Record) (string, Record, error)

	// PreApply runs once per type before records are written.
	PreApply(ctx context.Context, c APIClient) error

	// PreAction runs before each create or update on the record about to be
	// written.
	PreAction(ctx context.Context, c APIClient, key string, r Record) error

	// Create creates the record and returns the destination representation.
	Create(ctx context.Context, c APIClient, key string, r Record) (Record, error)

	// Update updates the destination counterpart of key.
	Update(ctx context.Context, c APIClient, key string, r Record) (Record, error)

	// Delete deletes the destination counterpart of key.
	Delete(ctx context.Context, c APIClient, key string) error

	// Connect resolves one reference path of r against the target type and
	// returns the keys that failed to resolve.
	Connect(path string, r Record, target ResourceType, lookup resolve.Lookup) []string
}

// StateStore loads and persists record maps.
type StateStore interface {
	// Load returns the source and destination maps of t. Absent or malformed
	// files yield empty maps.
	Load(t ResourceType) (source, destination map[string]Record, err error)

	// Persist overwrites the file for (t, origin) with records.
	Persist(t ResourceType, origin Origin, records map[string]Record) error
}

// WriteRequest describes a planned remote write.
type WriteRequest struct {
	RunID   string       `json:"run_id"`
	Phase   Phase        `json:"phase"`
	Type    ResourceType `json:"type"`
	Key     string       `json:"key"`
	Action  Action       `json:"action"`
	Record  Record       `json:"record,omitempty"`
	Cleanup CleanupMode  `json:"cleanup"`
}

// WriteGuard vets planned writes. A non-nil error blocks the write.
type WriteGuard interface {
	CheckWrite(ctx context.Context, req WriteRequest) error
}

// RecordFilter decides whether an imported source record is kept.
type RecordFilter interface {
	Keep(t ResourceType, r Record) (bool, error)
}

// Confirmer asks the operator to approve a destructive step.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

// OperationRecord is one completed record operation.
type OperationRecord struct {
	RunID     string
	Type      ResourceType
	Key       string
	Action    Action
	Outcome   Outcome
	Changes   int
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// RunRecorder receives the lifecycle of a run, e.g. for a history ledger.
type RunRecorder interface {
	RunStarted(ctx context.Context, runID string, phase Phase, types []ResourceType) error
	OperationCompleted(ctx context.Context, op OperationRecord) error
	RunFinished(ctx context.Context, result *RunResult) error
}

// Metrics receives orchestrator measurements. Implementations must accept
// concurrent calls.
type Metrics interface {
	RecordRun(phase string, status string, duration time.Duration)
	RecordOperation(resourceType, action, outcome string, duration time.Duration)
	RecordDrift(resourceType string, count int)
	RecordMissingDependency(resourceType string)
	RecordError(class, code string)
}
