package engine

import (
	"encoding/json"
	"fmt"
)

// RunStatus represents the overall status of a run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates the run completed without logged errors.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates a fatal error stopped the run.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run was cancelled by the user.
	RunStatusCancelled RunStatus = "cancelled"

	// RunStatusPartial indicates the run completed but some records failed.
	RunStatusPartial RunStatus = "partial"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed ||
		s == RunStatusCancelled || s == RunStatusPartial
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed,
		RunStatusCancelled, RunStatusPartial:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}

// Action is the operation performed on a single record.
type Action string

const (
	// ActionImport indicates a source record was imported.
	ActionImport Action = "import"

	// ActionCreate indicates a new destination record should be created.
	ActionCreate Action = "create"

	// ActionUpdate indicates an existing destination record should be updated.
	ActionUpdate Action = "update"

	// ActionDelete indicates a destination record should be deleted.
	ActionDelete Action = "delete"

	// ActionNoop indicates the destination already matches the source.
	ActionNoop Action = "noop"
)

// IsMutating returns true if the action changes remote state.
func (a Action) IsMutating() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

// Validate checks if the action is valid.
func (a Action) Validate() error {
	switch a {
	case ActionImport, ActionCreate, ActionUpdate, ActionDelete, ActionNoop:
		return nil
	default:
		return fmt.Errorf("invalid action: %s", a)
	}
}

// Outcome is the result of one record operation.
type Outcome string

const (
	// OutcomeSucceeded indicates the operation completed.
	OutcomeSucceeded Outcome = "succeeded"

	// OutcomeFailed indicates the operation failed and was logged.
	OutcomeFailed Outcome = "failed"

	// OutcomeSkipped indicates the operation was not attempted.
	OutcomeSkipped Outcome = "skipped"
)

// TypeState is the scheduling state of a resource type within one phase.
type TypeState string

const (
	// TypeStatePending indicates the type waits on its dependencies.
	TypeStatePending TypeState = "PENDING"

	// TypeStateReady indicates every dependency is done.
	TypeStateReady TypeState = "READY"

	// TypeStateInFlight indicates the type's records have been dispatched.
	TypeStateInFlight TypeState = "IN_FLIGHT"

	// TypeStateDone indicates every record operation of the type completed.
	TypeStateDone TypeState = "DONE"
)

// IsTerminal returns true if the state is final.
func (s TypeState) IsTerminal() bool {
	return s == TypeStateDone
}
