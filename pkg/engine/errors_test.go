package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class ErrorClass
		code  string
	}{
		{"throttled", &statusError{status: 429}, ErrorClassThrottled, ErrCodeRateLimited},
		{"conflict", &statusError{status: 409}, ErrorClassConflict, ErrCodeConflict},
		{"server error", &statusError{status: 502}, ErrorClassTransient, ErrCodeInternal},
		{"not found", &statusError{status: 404}, ErrorClassPermanent, ErrCodeNotFound},
		{"forbidden", &statusError{status: 403}, ErrorClassPermanent, ErrCodePermissionDenied},
		{"bad request", &statusError{status: 400}, ErrorClassPermanent, ErrCodeAdapterFailed},
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), ErrorClassTransient, ErrCodeTimeout},
		{"plain", errors.New("boom"), ErrorClassPermanent, ErrCodeAdapterFailed},
		{"wrapped status", fmt.Errorf("post: %w", &statusError{status: 429}), ErrorClassThrottled, ErrCodeRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ee := ClassifyError("request failed", tt.err)
			require.NotNil(t, ee)
			assert.Equal(t, tt.class, ee.Class)
			assert.Equal(t, tt.code, ee.Code)
			assert.ErrorIs(t, ee, tt.err)
		})
	}
}

func TestClassifyError_KeepsClassified(t *testing.T) {
	original := NewConflictError("stale version", nil).
		WithCode(ErrCodeConflict).
		WithDetail("version", 3)

	ee := ClassifyError("ignored", fmt.Errorf("wrap: %w", original)).
		WithResource("monitors/1").
		WithOperation("update").
		WithDetail("attempt", 2)

	assert.NotSame(t, original, ee)
	assert.Equal(t, ErrorClassConflict, ee.Class)
	assert.Equal(t, ErrCodeConflict, ee.Code)
	assert.Equal(t, "stale version", ee.Message)
	assert.Equal(t, "monitors/1", ee.Resource)

	// the classified input is left as it was
	assert.Empty(t, original.Resource)
	assert.Empty(t, original.Operation)
	assert.Equal(t, map[string]interface{}{"version": 3}, original.Details)

	assert.Nil(t, ClassifyError("nil", nil))
}

func TestMarkReported(t *testing.T) {
	base := errors.New("boom")
	marked := MarkReported(base)

	assert.ErrorIs(t, marked, ErrAlreadyReported)
	assert.ErrorIs(t, marked, base)
	assert.Equal(t, "boom", marked.Error())
	assert.Same(t, marked, MarkReported(marked))
	assert.NoError(t, MarkReported(nil))
}

func TestConnectionError(t *testing.T) {
	ce := &ConnectionError{
		Type: "users",
		Key:  "u1",
		Failed: map[ResourceType][]string{
			"teams": {"t1"},
			"roles": {"r1", "r2"},
		},
	}
	assert.Equal(t, "failed to connect resource users/u1: roles: [r1, r2]; teams: [t1]", ce.Error())

	ee := NewConnectionFailure(ce)
	assert.True(t, IsPermanent(ee))
	assert.Equal(t, ErrCodeConnection, ee.Code)
	assert.Equal(t, "users/u1", ee.Resource)

	var target *ConnectionError
	require.True(t, errors.As(ee, &target))
	assert.Same(t, ce, target)
}

type countingMetrics struct {
	errors map[string]int
}

func (m *countingMetrics) RecordRun(string, string, time.Duration) {}
func (m *countingMetrics) RecordOperation(string, string, string, time.Duration) {}
func (m *countingMetrics) RecordDrift(string, int) {}
func (m *countingMetrics) RecordMissingDependency(string) {}
func (m *countingMetrics) RecordError(class, code string) {
	m.errors[class+"/"+code]++
}

func TestErrorLog_ReportsOnce(t *testing.T) {
	metrics := &countingMetrics{errors: map[string]int{}}
	log := NewErrorLog(zerolog.Nop(), metrics)

	err := log.Report(ClassifyError("create failed", &statusError{status: 500}), map[string]any{"key": "m1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyReported)

	// reporting the returned error again is a no-op
	again := log.Report(err, nil)
	assert.Same(t, err, again)

	assert.NoError(t, log.Report(nil, nil))
	log.Report(errors.New("unclassified"), nil)

	assert.Equal(t, 2, log.Count())
	assert.True(t, log.HasErrors())
	assert.Len(t, log.Errors(), 2)
	assert.Equal(t, 1, metrics.errors["transient/"+ErrCodeInternal])
	assert.Equal(t, 1, metrics.errors["permanent/"])
}
