package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openfroyo/orgsync/pkg/engine"
)

// Recorder writes the run lifecycle to a Store. It implements
// engine.RunRecorder.
type Recorder struct {
	store Store
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// RunStarted implements engine.RunRecorder.
func (r *Recorder) RunStarted(ctx context.Context, runID string, phase engine.Phase, types []engine.ResourceType) error {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return r.store.CreateRun(ctx, &Run{
		ID:            runID,
		Phase:         phase,
		Status:        engine.RunStatusRunning,
		ResourceTypes: names,
		StartedAt:     time.Now().UTC(),
	})
}

// OperationCompleted implements engine.RunRecorder.
func (r *Recorder) OperationCompleted(ctx context.Context, op engine.OperationRecord) error {
	var errMsg *string
	if op.Error != "" {
		errMsg = &op.Error
	}
	return r.store.AppendOperation(ctx, &Operation{
		RunID:        op.RunID,
		ResourceType: string(op.Type),
		ResourceKey:  op.Key,
		Action:       op.Action,
		Outcome:      op.Outcome,
		Changes:      op.Changes,
		Error:        errMsg,
		DurationMs:   op.Duration.Milliseconds(),
		Timestamp:    op.Timestamp.UTC(),
	})
}

// RunFinished implements engine.RunRecorder.
func (r *Recorder) RunFinished(ctx context.Context, result *engine.RunResult) error {
	summary, err := json.Marshal(result.Types)
	if err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}
	return r.store.FinishRun(ctx, result.RunID, result.Status, result.ErrorCount, string(summary))
}
