package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_InvalidExpression(t *testing.T) {
	_, err := Compile(".foo[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid jq expression")
}

func TestProgram_Match(t *testing.T) {
	input := map[string]any{
		"method":      "POST",
		"status_code": float64(500),
		"request_headers": map[string]any{
			"Content-Type": "application/json",
		},
	}

	tests := []struct {
		expr string
		want bool
	}{
		{`.method == "POST"`, true},
		{`.method == "GET"`, false},
		{`.status_code >= 500`, true},
		{`.request_headers["Content-Type"] | test("json")`, true},
		{`.missing`, false}, // null is falsy
		{`.method`, true},   // non-bool values are truthy
		{`empty`, false},    // no output
		{`.status_code > 400 and .method == "POST"`, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			prog, err := Compile(tt.expr)
			require.NoError(t, err)

			got, err := prog.Match(input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProgram_MatchRuntimeError(t *testing.T) {
	prog, err := Compile(`.method | keys`)
	require.NoError(t, err)

	ok, err := prog.Match(map[string]any{"method": "GET"})
	assert.False(t, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "predicate")
}

func TestEngine_Query_Simple(t *testing.T) {
	engine := NewEngine()

	result, err := engine.Query([]byte(`{"name": "John", "age": 30}`), ".name", false, 0)
	require.NoError(t, err)
	assert.Equal(t, []any{"John"}, result.Values)
	assert.Equal(t, 1, result.RawCount)
}

func TestEngine_Query_Deduplicate(t *testing.T) {
	engine := NewEngine()

	data := []byte(`{"items": [{"name": "a"}, {"name": "a"}, {"name": "b"}]}`)

	result, err := engine.Query(data, ".items[].name", true, 0)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, result.Values)
	assert.Equal(t, 3, result.RawCount)
}

func TestEngine_Query_MaxResults(t *testing.T) {
	engine := NewEngine()

	result, err := engine.Query([]byte(`{"items": [1, 2, 3, 4, 5]}`), ".items[]", false, 3)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2), float64(3)}, result.Values)
}

func TestEngine_QueryLabeled_Errors(t *testing.T) {
	engine := NewEngine()

	docs := [][]byte{
		[]byte(`{"items": [1]}`),
		[]byte(`not json`),
		[]byte(`{"items": null}`),
	}

	result, err := engine.QueryLabeled(docs, []string{"r1", "r2", "r3"}, ".items[]", false, 0)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1)}, result.Values)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "r2: invalid JSON")
	assert.Contains(t, result.Errors[1], "r3")
	assert.Contains(t, result.Errors[1], "path may not exist")
}

func TestToInput(t *testing.T) {
	type sample struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	v, err := ToInput(sample{Name: "x", Count: 2})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "x", "count": float64(2)}, v)
}
