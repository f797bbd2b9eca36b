package stores

import (
	"context"
	"time"

	"github.com/openfroyo/orgsync/pkg/engine"
)

// Run is one recorded orchestrator run.
type Run struct {
	ID            string           `json:"id" yaml:"id"`
	Phase         engine.Phase     `json:"phase" yaml:"phase"`
	Status        engine.RunStatus `json:"status" yaml:"status"`
	ResourceTypes []string         `json:"resource_types" yaml:"resource_types"`
	StartedAt     time.Time        `json:"started_at" yaml:"started_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	ErrorCount    int              `json:"error_count" yaml:"error_count"`
	Summary       string           `json:"summary" yaml:"summary"` // JSON array of type summaries
	CreatedAt     time.Time        `json:"created_at" yaml:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at" yaml:"updated_at"`
}

// Operation is one recorded record operation of a run.
type Operation struct {
	ID           int64          `json:"id" yaml:"id"`
	RunID        string         `json:"run_id" yaml:"run_id"`
	ResourceType string         `json:"resource_type" yaml:"resource_type"`
	ResourceKey  string         `json:"resource_key" yaml:"resource_key"`
	Action       engine.Action  `json:"action" yaml:"action"`
	Outcome      engine.Outcome `json:"outcome" yaml:"outcome"`
	Changes      int            `json:"changes" yaml:"changes"`
	Error        *string        `json:"error,omitempty" yaml:"error,omitempty"`
	DurationMs   int64          `json:"duration_ms" yaml:"duration_ms"`
	Timestamp    time.Time      `json:"timestamp" yaml:"timestamp"`
}

// OperationFilter narrows ListOperations. Empty fields match everything.
type OperationFilter struct {
	ResourceType string
	Outcome      engine.Outcome
	Limit        int
	Offset       int
}

// Store defines the interface for the run history ledger.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, id string, status engine.RunStatus, errorCount int, summary string) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Operation operations
	AppendOperation(ctx context.Context, op *Operation) error
	ListOperations(ctx context.Context, runID string, filter OperationFilter) ([]*Operation, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
