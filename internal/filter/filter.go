// Package filter evaluates traffic filters against captured events.
package filter

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/usestring/trafficlab/internal/query"
	"github.com/usestring/trafficlab/pkg/types"
)

// Compiled is a TrafficFilter prepared for repeated evaluation. It is
// immutable and safe for concurrent use.
type Compiled struct {
	filter   types.TrafficFilter
	domains  []string // lowercased; "*.x" entries kept as ".x" suffixes
	methods  map[string]struct{}
	statuses map[int]struct{}
	headers  []types.HeaderPredicate
	expr     *query.Program
}

// ErrInvalidFilter is returned by Compile for filters that cannot be
// evaluated.
var ErrInvalidFilter = errors.New("invalid filter")

// MatchAll is the compiled empty filter.
var MatchAll = &Compiled{}

// Compile validates f and prepares it for evaluation. Only the jq
// expression can fail to compile.
func Compile(f types.TrafficFilter) (*Compiled, error) {
	c := &Compiled{filter: f}

	for _, d := range f.Domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if strings.HasPrefix(d, "*.") {
			d = d[1:]
		}
		c.domains = append(c.domains, d)
	}

	if len(f.Methods) > 0 {
		c.methods = make(map[string]struct{}, len(f.Methods))
		for _, m := range f.Methods {
			c.methods[strings.ToUpper(strings.TrimSpace(m))] = struct{}{}
		}
	}

	if len(f.StatusCodes) > 0 {
		c.statuses = make(map[int]struct{}, len(f.StatusCodes))
		for _, s := range f.StatusCodes {
			c.statuses[s] = struct{}{}
		}
	}

	for _, h := range f.Headers {
		if strings.TrimSpace(h.Name) == "" {
			return nil, fmt.Errorf("%w: header predicate requires a name", ErrInvalidFilter)
		}
		switch h.Op {
		case "", types.HeaderOpExists, types.HeaderOpEquals, types.HeaderOpContains:
		default:
			return nil, fmt.Errorf("%w: unknown header predicate op %q", ErrInvalidFilter, h.Op)
		}
		c.headers = append(c.headers, h)
	}

	if expr := strings.TrimSpace(f.Expr); expr != "" {
		prog, err := query.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidFilter, err)
		}
		c.expr = prog
	}

	return c, nil
}

// Filter returns the source filter.
func (c *Compiled) Filter() types.TrafficFilter {
	return c.filter
}

// Matches reports whether ev passes every constrained dimension.
func (c *Compiled) Matches(ev *types.TrafficEvent) bool {
	if c == nil {
		return true
	}
	if len(c.domains) > 0 && !c.matchDomain(ev.Host) {
		return false
	}
	if c.methods != nil {
		if _, ok := c.methods[strings.ToUpper(ev.Method)]; !ok {
			return false
		}
	}
	if c.statuses != nil {
		if ev.StatusCode == 0 {
			return false
		}
		if _, ok := c.statuses[ev.StatusCode]; !ok {
			return false
		}
	}
	for _, h := range c.headers {
		if !matchHeader(ev, h) {
			return false
		}
	}
	if c.expr != nil {
		input, err := query.ToInput(ev)
		if err != nil {
			return false
		}
		ok, err := c.expr.Match(input)
		if err != nil {
			slog.Debug("filter expression failed",
				slog.String("expr", c.expr.String()),
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
			return false
		}
		return ok
	}
	return true
}

func (c *Compiled) matchDomain(host string) bool {
	if host == "" {
		return false
	}
	host = strings.ToLower(host)
	bare := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		bare = h
	}
	for _, d := range c.domains {
		if strings.HasPrefix(d, ".") {
			if strings.HasSuffix(bare, d) || bare == d[1:] {
				return true
			}
			continue
		}
		if d == host || d == bare {
			return true
		}
	}
	return false
}

func matchHeader(ev *types.TrafficEvent, h types.HeaderPredicate) bool {
	v, ok := types.HeaderValue(ev.RequestHeaders, h.Name)
	if !ok {
		v, ok = types.HeaderValue(ev.ResponseHeaders, h.Name)
	}
	if !ok {
		return false
	}

	op := h.Op
	if op == "" {
		op = types.HeaderOpEquals
		if h.Value == "" {
			op = types.HeaderOpExists
		}
	}
	switch op {
	case types.HeaderOpExists:
		return true
	case types.HeaderOpContains:
		return strings.Contains(strings.ToLower(v), strings.ToLower(h.Value))
	default:
		return v == h.Value
	}
}

// Matches is the one-shot form of Compile(f).Matches(ev). A filter whose
// expression does not compile matches nothing.
func Matches(ev *types.TrafficEvent, f types.TrafficFilter) bool {
	c, err := Compile(f)
	if err != nil {
		return false
	}
	return c.Matches(ev)
}

// Select returns the events matching f, in input order.
func Select(events []*types.TrafficEvent, f types.TrafficFilter) ([]*types.TrafficEvent, error) {
	if f.IsEmpty() {
		return events, nil
	}
	c, err := Compile(f)
	if err != nil {
		return nil, err
	}
	out := make([]*types.TrafficEvent, 0, len(events))
	for _, ev := range events {
		if c.Matches(ev) {
			out = append(out, ev)
		}
	}
	return out, nil
}
