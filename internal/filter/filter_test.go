package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usestring/trafficlab/pkg/types"
)

func sampleEvents() []*types.TrafficEvent {
	return []*types.TrafficEvent{
		{ID: "1", Method: "GET", Host: "api.example.com", Path: "/users"},
		{ID: "2", Method: "POST", Host: "API.Example.com:8443", Path: "/login", StatusCode: 200,
			RequestHeaders: map[string]string{"Content-Type": "application/json"}},
		{ID: "3", StatusCode: 404, Host: "cdn.example.org"},
		{ID: "4", Method: "DELETE"},
		{},
	}
}

func TestMatches_EmptyFilterMatchesEverything(t *testing.T) {
	for _, ev := range sampleEvents() {
		assert.True(t, Matches(ev, types.TrafficFilter{}), "event %q", ev.ID)
		assert.True(t, MatchAll.Matches(ev))
	}
}

func TestMatches_Dimensions(t *testing.T) {
	tests := []struct {
		name   string
		filter types.TrafficFilter
		want   []string
	}{
		{
			name:   "domain case-insensitive with port",
			filter: types.TrafficFilter{Domains: []string{"api.example.com"}},
			want:   []string{"1", "2"},
		},
		{
			name:   "wildcard domain",
			filter: types.TrafficFilter{Domains: []string{"*.example.org"}},
			want:   []string{"3"},
		},
		{
			name:   "method case-insensitive",
			filter: types.TrafficFilter{Methods: []string{"post", "delete"}},
			want:   []string{"2", "4"},
		},
		{
			name:   "status codes exclude requests",
			filter: types.TrafficFilter{StatusCodes: []int{200, 404}},
			want:   []string{"2", "3"},
		},
		{
			name:   "dimensions are ANDed",
			filter: types.TrafficFilter{Domains: []string{"api.example.com"}, Methods: []string{"GET"}},
			want:   []string{"1"},
		},
		{
			name:   "header exists",
			filter: types.TrafficFilter{Headers: []types.HeaderPredicate{{Name: "content-type"}}},
			want:   []string{"2"},
		},
		{
			name: "header contains",
			filter: types.TrafficFilter{Headers: []types.HeaderPredicate{
				{Name: "Content-Type", Value: "JSON", Op: types.HeaderOpContains},
			}},
			want: []string{"2"},
		},
		{
			name: "header equals mismatch",
			filter: types.TrafficFilter{Headers: []types.HeaderPredicate{
				{Name: "Content-Type", Value: "text/html"},
			}},
			want: nil,
		},
		{
			name:   "jq expression",
			filter: types.TrafficFilter{Expr: `.path | startswith("/log")`},
			want:   []string{"2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Compile(tt.filter)
			require.NoError(t, err)

			var got []string
			for _, ev := range sampleEvents() {
				if c.Matches(ev) {
					got = append(got, ev.ID)
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatches_NoHostFailsDomainFilter(t *testing.T) {
	ev := &types.TrafficEvent{Method: "GET"}
	assert.False(t, Matches(ev, types.TrafficFilter{Domains: []string{"example.com"}}))
}

// A filter excludes an event exactly when one of its non-empty dimensions does.
func TestMatches_ExclusionIsPerDimension(t *testing.T) {
	ev := &types.TrafficEvent{Method: "GET", Host: "api.example.com", StatusCode: 200}

	dims := []types.TrafficFilter{
		{Domains: []string{"api.example.com"}},
		{Methods: []string{"GET"}},
		{StatusCodes: []int{200}},
	}
	excluding := []types.TrafficFilter{
		{Domains: []string{"other.example.com"}},
		{Methods: []string{"POST"}},
		{StatusCodes: []int{500}},
	}

	combined := types.TrafficFilter{}
	for _, d := range dims {
		assert.True(t, Matches(ev, d))
		combined.Domains = append(combined.Domains, d.Domains...)
		combined.Methods = append(combined.Methods, d.Methods...)
		combined.StatusCodes = append(combined.StatusCodes, d.StatusCodes...)
	}
	assert.True(t, Matches(ev, combined))

	for i, ex := range excluding {
		f := combined
		switch i {
		case 0:
			f.Domains = ex.Domains
		case 1:
			f.Methods = ex.Methods
		case 2:
			f.StatusCodes = ex.StatusCodes
		}
		assert.False(t, Matches(ev, f), "dimension %d", i)
	}
}

func TestCompile_Errors(t *testing.T) {
	_, err := Compile(types.TrafficFilter{Expr: ".method =="})
	assert.ErrorIs(t, err, ErrInvalidFilter)

	_, err = Compile(types.TrafficFilter{Headers: []types.HeaderPredicate{{Name: ""}}})
	assert.ErrorIs(t, err, ErrInvalidFilter)

	_, err = Compile(types.TrafficFilter{Headers: []types.HeaderPredicate{{Name: "x", Op: "regex"}}})
	assert.ErrorIs(t, err, ErrInvalidFilter)

	assert.False(t, Matches(&types.TrafficEvent{Method: "GET"}, types.TrafficFilter{Expr: ".method =="}))
}

func TestCompiled_FilterRoundTrip(t *testing.T) {
	f := types.TrafficFilter{Methods: []string{"GET"}}
	c, err := Compile(f)
	require.NoError(t, err)
	assert.Equal(t, f, c.Filter())
}

func TestSelect(t *testing.T) {
	events := []*types.TrafficEvent{
		{ID: "1", Method: "GET", Host: "api.example.com"},
		{ID: "2", Method: "POST", Host: "api.example.com"},
		{ID: "3", Method: "GET", Host: "cdn.other.net"},
	}

	got, err := Select(events, types.TrafficFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = Select(events, types.TrafficFilter{Methods: []string{"get"}, Domains: []string{"*.example.com"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].ID)

	_, err = Select(events, types.TrafficFilter{Expr: "(("})
	assert.ErrorIs(t, err, ErrInvalidFilter)
}
