package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/orgsync/pkg/engine"
)

func TestParse(t *testing.T) {
	f, err := Parse(`Type=monitors;Expr=.tags | index("team:core") != null`)
	require.NoError(t, err)
	assert.Equal(t, engine.ResourceType("monitors"), f.Type)
	assert.Equal(t, `.tags | index("team:core") != null`, f.Expr)
}

func TestParse_ExpressionWithSemicolons(t *testing.T) {
	f, err := Parse(`Type=dashboards;Expr=.title | test("^prod"; "i")`)
	require.NoError(t, err)
	assert.Equal(t, `.title | test("^prod"; "i")`, f.Expr)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		entry string
		want  string
	}{
		{"no type", `Expr=.a`, "expected Type="},
		{"no expr", `Type=monitors`, "missing Expr"},
		{"empty type", `Type=;Expr=.a`, "empty Type"},
		{"empty expr", `Type=monitors;Expr= `, "empty Expr"},
		{"bad jq", `Type=monitors;Expr=.a |`, "invalid filter expression for monitors"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.entry)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFilter_Match(t *testing.T) {
	f, err := Parse(`Type=monitors;Expr=.name | startswith("prod")`)
	require.NoError(t, err)

	ok, err := f.Match(engine.Record{"name": "prod cpu"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.Match(engine.Record{"name": "staging cpu"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFilter_MatchTruthiness(t *testing.T) {
	f, err := Parse(`Type=monitors;Expr=.priority`)
	require.NoError(t, err)

	for _, tt := range []struct {
		value any
		want  bool
	}{
		{nil, false},
		{false, false},
		{0.0, true},
		{"", true},
		{3.0, true},
	} {
		ok, err := f.Match(engine.Record{"priority": tt.value})
		require.NoError(t, err)
		assert.Equal(t, tt.want, ok, "priority=%v", tt.value)
	}
}

func TestFilter_MatchNestedRecords(t *testing.T) {
	f, err := Parse(`Type=users;Expr=.attributes.handle | endswith("@example.com")`)
	require.NoError(t, err)

	ok, err := f.Match(engine.Record{"attributes": engine.Record{"handle": "a@example.com"}})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFilter_MatchRuntimeError(t *testing.T) {
	f, err := Parse(`Type=monitors;Expr=.name | startswith("prod")`)
	require.NoError(t, err)

	_, err = f.Match(engine.Record{"name": 5.0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitors")
}

func TestSet_KeepOr(t *testing.T) {
	s, err := New([]string{
		`Type=monitors;Expr=.name == "a"`,
		`Type=monitors;Expr=.name == "b"`,
	}, OperatorOr)
	require.NoError(t, err)

	for name, want := range map[string]bool{"a": true, "b": true, "c": false} {
		ok, err := s.Keep("monitors", engine.Record{"name": name})
		require.NoError(t, err)
		assert.Equal(t, want, ok, name)
	}
}

func TestSet_KeepAnd(t *testing.T) {
	s, err := New([]string{
		`Type=monitors;Expr=.type == "metric alert"`,
		`Type=monitors;Expr=.tags | index("env:prod") != null`,
	}, OperatorAnd)
	require.NoError(t, err)

	ok, err := s.Keep("monitors", engine.Record{"type": "metric alert", "tags": []any{"env:prod"}})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Keep("monitors", engine.Record{"type": "metric alert", "tags": []any{"env:dev"}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSet_UnfilteredTypesKeepAll(t *testing.T) {
	s, err := New([]string{`Type=monitors;Expr=false`}, OperatorOr)
	require.NoError(t, err)

	ok, err := s.Keep("dashboards", engine.Record{"title": "x"})
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, []engine.ResourceType{"monitors"}, s.Types())
	assert.False(t, s.Empty())
}

func TestNew_SkipsBlankEntries(t *testing.T) {
	s, err := New([]string{"", "  "}, "")
	require.NoError(t, err)
	assert.True(t, s.Empty())
}

func TestParseOperator(t *testing.T) {
	op, err := ParseOperator("")
	require.NoError(t, err)
	assert.Equal(t, OperatorOr, op)

	op, err = ParseOperator("AND")
	require.NoError(t, err)
	assert.Equal(t, OperatorAnd, op)

	_, err = ParseOperator("xor")
	assert.Error(t, err)
}
