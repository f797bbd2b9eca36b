package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: network timeouts, 5xx responses.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting or quota exhaustion.
	// Should be retried with exponential backoff.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict indicates a resource state conflict.
	// Examples: concurrent modifications of the same destination resource.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: invalid payload, permission denied, unresolved references.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the "<type>/<key>" of the record that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Resource != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (resource=%s, operation=%s): %s",
			e.Class, e.Message, e.Resource, e.Operation, e.unwrapMessage())
	}
	if e.Resource != "" {
		return fmt.Sprintf("[%s] %s (resource=%s): %s",
			e.Class, e.Message, e.Resource, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassThrottled,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConflict,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resourceID string) *EngineError {
	e.Resource = resourceID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassThrottled
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if the error can be retried.
// Transient, throttled, and conflict errors are retryable.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err) || IsConflict(err)
}

// Common error codes.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeAlreadyExists     = "ALREADY_EXISTS"
	ErrCodePermissionDenied  = "PERMISSION_DENIED"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInternal          = "INTERNAL_ERROR"
	ErrCodeAdapterFailed     = "ADAPTER_FAILED"
	ErrCodeDependencyFailed  = "DEPENDENCY_FAILED"
	ErrCodeMissingDependency = "MISSING_DEPENDENCY"
	ErrCodeConnection        = "CONNECTION_FAILED"
	ErrCodeStateIO           = "STATE_IO"
	ErrCodePolicyDenied      = "POLICY_DENIED"
)

// statusCoder is implemented by transport errors carrying an HTTP status,
// such as client.ClientError.
type statusCoder interface {
	HTTPStatus() int
}

// ClassifyError wraps err in an EngineError whose class and code follow the
// transport status it carries. An already classified error is returned as a
// copy so the builders never modify an error the caller still holds.
func ClassifyError(message string, err error) *EngineError {
	if err == nil {
		return nil
	}

	var ee *EngineError
	if errors.As(err, &ee) {
		cp := *ee
		if ee.Details != nil {
			cp.Details = make(map[string]interface{}, len(ee.Details))
			for k, v := range ee.Details {
				cp.Details[k] = v
			}
		}
		return &cp
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewTransientError(message, err).WithCode(ErrCodeTimeout)
	}

	var sc statusCoder
	if !errors.As(err, &sc) {
		return NewPermanentError(message, err).WithCode(ErrCodeAdapterFailed)
	}

	status := sc.HTTPStatus()
	switch {
	case status == 429:
		return NewThrottledError(message, err).WithCode(ErrCodeRateLimited).WithDetail("status", status)
	case status == 409:
		return NewConflictError(message, err).WithCode(ErrCodeConflict).WithDetail("status", status)
	case status >= 500:
		return NewTransientError(message, err).WithCode(ErrCodeInternal).WithDetail("status", status)
	case status == 404:
		return NewPermanentError(message, err).WithCode(ErrCodeNotFound).WithDetail("status", status)
	case status == 401 || status == 403:
		return NewPermanentError(message, err).WithCode(ErrCodePermissionDenied).WithDetail("status", status)
	default:
		return NewPermanentError(message, err).WithCode(ErrCodeAdapterFailed).WithDetail("status", status)
	}
}

// ClassifyClientError is ClassifyError for transport failures.
func ClassifyClientError(err error) *EngineError {
	return ClassifyError("request failed", err)
}

// ErrAlreadyReported marks an error that has already been written to the
// run's error log. Callers further up the stack must not report it again.
var ErrAlreadyReported = errors.New("error already reported")

type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }

func (e *reportedError) Unwrap() []error { return []error{e.err, ErrAlreadyReported} }

// MarkReported wraps err so that errors.Is(err, ErrAlreadyReported) holds.
func MarkReported(err error) error {
	if err == nil || errors.Is(err, ErrAlreadyReported) {
		return err
	}
	return &reportedError{err: err}
}

// ConnectionError reports the references of one record that could not be
// resolved, grouped by the referenced resource type.
type ConnectionError struct {
	Type   ResourceType
	Key    string
	Failed map[ResourceType][]string
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	targets := make([]string, 0, len(e.Failed))
	for t := range e.Failed {
		targets = append(targets, string(t))
	}
	sort.Strings(targets)

	parts := make([]string, 0, len(targets))
	for _, t := range targets {
		parts = append(parts, fmt.Sprintf("%s: [%s]", t, strings.Join(e.Failed[ResourceType(t)], ", ")))
	}
	return fmt.Sprintf("failed to connect resource %s/%s: %s", e.Type, e.Key, strings.Join(parts, "; "))
}

// NewConnectionFailure classifies a ConnectionError as a permanent engine error.
func NewConnectionFailure(ce *ConnectionError) *EngineError {
	return NewPermanentError("unresolved references", ce).
		WithCode(ErrCodeConnection).
		WithResource(fmt.Sprintf("%s/%s", ce.Type, ce.Key)).
		WithOperation("connect")
}
