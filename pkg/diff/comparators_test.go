package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSharedOrder(t *testing.T) {
	tests := []struct {
		name string
		x, y []any
		want bool
	}{
		{"identical", []any{"a", "b", "c"}, []any{"a", "b", "c"}, true},
		{"extra elements ignored", []any{"a", "x", "b"}, []any{"a", "b", "y"}, true},
		{"shared elements reordered", []any{"a", "b"}, []any{"b", "a"}, false},
		{"disjoint", []any{"a"}, []any{"b"}, true},
		{"both empty", []any{}, []any{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SharedOrder{}.Equal(tt.x, tt.y))
			assert.Equal(t, tt.want, SharedOrder{}.Equal(tt.y, tt.x))
		})
	}
}

func TestUnorderedSet(t *testing.T) {
	tests := []struct {
		name string
		x, y []any
		want bool
	}{
		{"same order", []any{"a", "b"}, []any{"a", "b"}, true},
		{"different order", []any{"a", "b", "c"}, []any{"c", "a", "b"}, true},
		{"different members", []any{"a", "b"}, []any{"a", "c"}, false},
		{"different lengths", []any{"a"}, []any{"a", "a"}, false},
		{"documents", []any{
			map[string]any{"type": "custom_timeboard", "id": "abc"},
			map[string]any{"type": "custom_screenboard", "id": "def"},
		}, []any{
			map[string]any{"id": "def", "type": "custom_screenboard"},
			map[string]any{"id": "abc", "type": "custom_timeboard"},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UnorderedSet{}.Equal(tt.x, tt.y))
			assert.Equal(t, tt.want, UnorderedSet{}.Equal(tt.y, tt.x))
		})
	}
}

func TestComparators_NonSequenceFallback(t *testing.T) {
	assert.True(t, SharedOrder{}.Equal("a", "a"))
	assert.False(t, UnorderedSet{}.Equal("a", []any{"a"}))
}

func TestPrepare(t *testing.T) {
	record := map[string]any{
		"id":      "1",
		"creator": map[string]any{"email": "a@example.com"},
		"attributes": map[string]any{
			"creator":     "someone",
			"description": nil,
			"name":        "n",
		},
		"steps": []any{
			map[string]any{"id": "s1", "timeout": nil},
			map[string]any{"id": "s2", "timeout": 5.0},
		},
		"options": nil,
	}

	Prepare(record,
		[]string{"id", "attributes.creator", "steps.id", "missing.path"},
		[]string{"attributes.description", "steps.timeout", "options.notify", "attributes.name"},
	)

	assert.NotContains(t, record, "id")
	assert.Contains(t, record, "creator")
	attrs := record["attributes"].(map[string]any)
	assert.NotContains(t, attrs, "creator")
	assert.NotContains(t, attrs, "description")
	assert.Equal(t, "n", attrs["name"])

	steps := record["steps"].([]any)
	assert.Equal(t, map[string]any{}, steps[0])
	assert.Equal(t, map[string]any{"timeout": 5.0}, steps[1])
	assert.Contains(t, record, "options")
}
