package bodyquery

import (
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/usestring/trafficlab/internal/query"
)

// Mode is a query language.
type Mode string

const (
	ModeJQ    Mode = "jq"
	ModeCSS   Mode = "css"
	ModeXPath Mode = "xpath"
	ModeRegex Mode = "regex"
	ModeForm  Mode = "form"
)

var (
	// ErrUnknownMode is returned for a mode outside the supported set.
	ErrUnknownMode = errors.New("unknown query mode")
	// ErrEmptyExpression is returned when no expression is given.
	ErrEmptyExpression = errors.New("query expression is required")
	// ErrBinaryBody is returned when a text query targets a binary body.
	ErrBinaryBody = errors.New("body is binary")
)

// Request describes one extraction.
type Request struct {
	Body        []byte
	ContentType string
	Expression  string
	Mode        Mode // Empty selects DefaultMode for the detected kind
	Limit       int  // 0 means unlimited
}

// Result holds the extracted values.
type Result struct {
	Mode      Mode     `json:"mode"`
	Kind      Kind     `json:"kind"`
	Values    []any    `json:"values"`
	Count     int      `json:"count"`
	Truncated bool     `json:"truncated,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// Engine runs body queries. It is safe for concurrent use.
type Engine struct {
	jq *query.Engine
}

// NewEngine creates an Engine.
func NewEngine() *Engine {
	return &Engine{jq: query.NewEngine()}
}

// Query runs req against its body.
func (e *Engine) Query(req Request) (*Result, error) {
	if req.Expression == "" {
		return nil, ErrEmptyExpression
	}
	kind := Classify(req.ContentType, req.Body)
	mode := req.Mode
	if mode == "" {
		mode = DefaultMode(kind)
	}
	if kind == KindBinary && mode != ModeRegex {
		return nil, fmt.Errorf("%w: %s queries need a text body", ErrBinaryBody, mode)
	}

	c := &collector{limit: req.Limit, values: []any{}}
	var err error
	switch mode {
	case ModeJQ:
		err = e.queryJQ(c, req.Body, kind, req.Expression)
	case ModeCSS:
		err = queryCSS(c, req.Body, req.Expression)
	case ModeXPath:
		err = queryXPath(c, req.Body, kind, req.Expression)
	case ModeRegex:
		err = queryRegex(c, req.Body, req.Expression)
	case ModeForm:
		err = queryForm(c, req.Body, req.Expression)
	default:
		return nil, fmt.Errorf("%w: %q (valid: jq, css, xpath, regex, form)", ErrUnknownMode, mode)
	}
	if err != nil {
		return nil, err
	}

	return &Result{
		Mode:      mode,
		Kind:      kind,
		Values:    c.values,
		Count:     len(c.values),
		Truncated: c.truncated,
		Errors:    c.errors,
	}, nil
}

// queryJQ runs jq over JSON, converting YAML bodies first.
func (e *Engine) queryJQ(c *collector, body []byte, kind Kind, expr string) error {
	doc := body
	if kind == KindYAML {
		var v any
		if err := yaml.Unmarshal(body, &v); err != nil {
			return fmt.Errorf("parsing YAML: %w", err)
		}
		var err error
		if doc, err = json.Marshal(jsonCompatible(v)); err != nil {
			return fmt.Errorf("converting YAML: %w", err)
		}
	}

	// Ask for one extra value so truncation is observable
	limit := 0
	if c.limit > 0 {
		limit = c.limit + 1
	}
	res, err := e.jq.Query(doc, expr, false, limit)
	if err != nil {
		return err
	}
	for _, v := range res.Values {
		if !c.add(v) {
			break
		}
	}
	c.errors = append(c.errors, res.Errors...)
	return nil
}

// jsonCompatible rewrites YAML maps with non-string keys into string-keyed
// maps that encoding/json accepts.
func jsonCompatible(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = jsonCompatible(item)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = jsonCompatible(item)
		}
		return out
	case []any:
		for i, item := range val {
			val[i] = jsonCompatible(item)
		}
		return val
	default:
		return v
	}
}

// collector accumulates values up to a limit.
type collector struct {
	limit     int
	values    []any
	errors    []string
	truncated bool
}

// add appends v and reports whether more values are wanted.
func (c *collector) add(v any) bool {
	if c.limit > 0 && len(c.values) >= c.limit {
		c.truncated = true
		return false
	}
	c.values = append(c.values, v)
	return true
}
