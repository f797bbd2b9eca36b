package policy

import (
	"time"

	"github.com/openfroyo/orgsync/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that should block operations.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of this severity block the write.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. The policy reports violations
	// through a "deny" set rule.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Resource is the "<type>/<key>" of the record being written.
	Resource string `json:"resource,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result represents the result of policy evaluation.
type Result struct {
	// Allowed indicates if the write is allowed.
	Allowed bool `json:"allowed"`

	// Violations lists the blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists violations that don't block the write, and policies
	// that failed to evaluate.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input is the document policies see as "input".
type Input struct {
	RunID   string              `json:"run_id"`
	Phase   engine.Phase        `json:"phase"`
	Type    engine.ResourceType `json:"type"`
	Key     string              `json:"key"`
	Action  engine.Action       `json:"action"`
	Cleanup engine.CleanupMode  `json:"cleanup"`

	// Record is the payload about to be written, or the destination record
	// about to be deleted.
	Record map[string]any `json:"record,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// NewInput builds the policy input of a planned write.
func NewInput(req engine.WriteRequest) *Input {
	return &Input{
		RunID:     req.RunID,
		Phase:     req.Phase,
		Type:      req.Type,
		Key:       req.Key,
		Action:    req.Action,
		Cleanup:   req.Cleanup,
		Record:    req.Record,
		Timestamp: time.Now(),
	}
}
