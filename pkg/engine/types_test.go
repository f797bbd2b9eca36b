package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_Clone(t *testing.T) {
	original := Record{
		"name": "cpu",
		"options": map[string]any{
			"thresholds": map[string]any{"critical": 90.0},
		},
		"tags": []any{"env:prod", map[string]any{"k": "v"}},
	}

	clone := original.Clone()
	clone["options"].(map[string]any)["thresholds"].(map[string]any)["critical"] = 50.0
	clone["tags"].([]any)[0] = "env:dev"
	clone["tags"].([]any)[1].(map[string]any)["k"] = "changed"

	assert.Equal(t, 90.0, original["options"].(map[string]any)["thresholds"].(map[string]any)["critical"])
	assert.Equal(t, "env:prod", original["tags"].([]any)[0])
	assert.Equal(t, "v", original["tags"].([]any)[1].(map[string]any)["k"])

	assert.Nil(t, Record(nil).Clone())
}

func TestRecordMap(t *testing.T) {
	m := NewRecordMap(nil)
	assert.Equal(t, 0, m.Len())

	m.Set("b", Record{"id": 2})
	m.Set("a", Record{"id": 1})
	assert.Equal(t, []string{"a", "b"}, m.Keys())

	r, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, r["id"])

	m.Update("a", func(r Record) Record {
		r["seen"] = true
		return r
	})
	r, _ = m.Get("a")
	assert.Equal(t, true, r["seen"])

	m.Update("b", func(Record) Record { return nil })
	_, ok = m.Get("b")
	assert.False(t, ok)

	snap := m.Snapshot()
	m.Delete("a")
	assert.Contains(t, snap, "a")
	assert.Equal(t, 0, m.Len())

	m.Replace(map[string]Record{"z": {}})
	assert.Equal(t, []string{"z"}, m.Keys())
	m.Replace(nil)
	assert.Equal(t, 0, m.Len())
}

func TestRecordMap_ConcurrentWriters(t *testing.T) {
	m := NewRecordMap(nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i))
			m.Set(key, Record{"i": i})
			_, _ = m.Get(key)
			_ = m.Keys()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, m.Len())
}

func TestParseCleanupMode(t *testing.T) {
	tests := []struct {
		in      string
		want    CleanupMode
		enabled bool
		wantErr bool
	}{
		{"", CleanupOff, false, false},
		{"false", CleanupOff, false, false},
		{"true", CleanupConfirm, true, false},
		{"force", CleanupForce, true, false},
		{"yes", CleanupOff, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCleanupMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.enabled, got.Enabled())
		})
	}
}

func TestRunResult_ExitCode(t *testing.T) {
	var nilResult *RunResult
	assert.Equal(t, 1, nilResult.ExitCode())
	assert.Equal(t, 0, (&RunResult{}).ExitCode())
	assert.Equal(t, 1, (&RunResult{ErrorCount: 2}).ExitCode())
	assert.Equal(t, 1, (&RunResult{Cancelled: true}).ExitCode())
}

func TestPhase_IsWrite(t *testing.T) {
	assert.True(t, PhaseSync.IsWrite())
	assert.True(t, PhaseReset.IsWrite())
	assert.False(t, PhaseImport.IsWrite())
	assert.False(t, PhaseDiffs.IsWrite())
}
