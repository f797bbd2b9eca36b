package engine

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ErrorLog accumulates the errors logged during one run. The run's exit
// status is derived from it.
type ErrorLog struct {
	logger  zerolog.Logger
	metrics Metrics

	mu     sync.Mutex
	errors []error
}

// NewErrorLog creates an error log writing to logger.
func NewErrorLog(logger zerolog.Logger, metrics Metrics) *ErrorLog {
	return &ErrorLog{logger: logger, metrics: metrics}
}

// Report logs and records err. Errors already marked with ErrAlreadyReported
// are neither logged nor counted again. The returned error is marked as
// reported.
func (l *ErrorLog) Report(err error, fields map[string]any) error {
	if err == nil || errors.Is(err, ErrAlreadyReported) {
		return err
	}

	l.mu.Lock()
	l.errors = append(l.errors, err)
	l.mu.Unlock()

	event := l.logger.Error().Err(err).Fields(fields)
	var ee *EngineError
	if errors.As(err, &ee) {
		event = event.Str("class", string(ee.Class))
		if ee.Code != "" {
			event = event.Str("code", ee.Code)
		}
		if ee.Resource != "" {
			event = event.Str("resource", ee.Resource)
		}
		if ee.Operation != "" {
			event = event.Str("operation", ee.Operation)
		}
		if l.metrics != nil {
			l.metrics.RecordError(string(ee.Class), ee.Code)
		}
	} else if l.metrics != nil {
		l.metrics.RecordError(string(ErrorClassPermanent), "")
	}
	event.Msg("operation failed")

	return MarkReported(err)
}

// Count returns the number of recorded errors.
func (l *ErrorLog) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

// HasErrors reports whether any error was recorded.
func (l *ErrorLog) HasErrors() bool {
	return l.Count() > 0
}

// Errors returns a copy of the recorded errors.
func (l *ErrorLog) Errors() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]error, len(l.errors))
	copy(out, l.errors)
	return out
}
