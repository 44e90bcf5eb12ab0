package jsoncompact

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBody_JSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		opts    Options
		want    string
		changed bool
	}{
		{
			name:    "array trimmed",
			body:    `{"items": [1, 2, 3, 4, 5]}`,
			opts:    Options{MaxArrayItems: 3},
			want:    `{"items":[1,2,3,"... (2 more items)"]}`,
			changed: true,
		},
		{
			name: "within limits",
			body: `{"items": [1, 2]}`,
			opts: DefaultOptions(),
			want: `{"items":[1,2]}`,
		},
		{
			name:    "nested arrays",
			body:    `[{"tags": ["a", "b", "c"]}, {"tags": []}, {"tags": ["x"]}]`,
			opts:    Options{MaxArrayItems: 2},
			want:    `[{"tags":["a","b","... (1 more items)"]},{"tags":[]},"... (1 more items)"]`,
			changed: true,
		},
		{
			name:    "long string",
			body:    `{"s": "abcdefghij"}`,
			opts:    Options{MaxStringLen: 4},
			want:    `{"s":"abcd... (6 more chars)"}`,
			changed: true,
		},
		{
			name:    "max depth",
			body:    `{"a": {"b": {"c": 1}}, "n": 1}`,
			opts:    Options{MaxDepth: 2},
			want:    `{"a":{"b":"[max depth]"},"n":1}`,
			changed: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := Body(tt.body, tt.opts)
			assert.JSONEq(t, tt.want, got)
			assert.Equal(t, tt.changed, changed)
		})
	}
}

func TestBody_Text(t *testing.T) {
	got, changed := Body("plain text body", Options{MaxTextLen: 5})
	assert.True(t, changed)
	assert.Equal(t, "plain... (10 more chars)", got)

	got, changed = Body("{not json", Options{MaxTextLen: 100})
	assert.False(t, changed)
	assert.Equal(t, "{not json", got)

	got, changed = Body("   ", DefaultOptions())
	assert.False(t, changed)
	assert.Equal(t, "   ", got)
}

func TestCut_UTF8Boundary(t *testing.T) {
	s := "héllo"
	got := cut(s, 2) // 'é' occupies bytes 1-2
	assert.True(t, strings.HasPrefix(got, "h..."))
	assert.Equal(t, "h... (5 more chars)", got)
}

func TestValue(t *testing.T) {
	in := map[string]any{"list": []any{"a", "b", "c"}}
	out := Value(in, Options{MaxArrayItems: 1})
	assert.Equal(t, map[string]any{"list": []any{"a", "... (2 more items)"}}, out)
	assert.Len(t, in["list"], 3, "input is not modified")
}
