// Package query provides jq expressions over traffic events and bodies.
package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/itchyny/gojq"
)

// Program is a compiled jq expression. It is safe for concurrent use.
type Program struct {
	expr string
	code *gojq.Code
}

// Compile parses and compiles a jq expression.
func Compile(expression string) (*Program, error) {
	q, err := gojq.Parse(expression)
	if err != nil {
		var parseErr *gojq.ParseError
		if errors.As(err, &parseErr) {
			return nil, fmt.Errorf("invalid jq expression at position %d: %w", parseErr.Offset, err)
		}
		return nil, fmt.Errorf("invalid jq expression: %w", err)
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq expression: %w", err)
	}
	return &Program{expr: expression, code: code}, nil
}

// String returns the source expression.
func (p *Program) String() string {
	return p.expr
}

// Match evaluates the program as a predicate. The first output decides:
// false and null are falsy, everything else is truthy. No output is falsy.
func (p *Program) Match(input any) (bool, error) {
	iter := p.code.Run(input)
	v, ok := iter.Next()
	if !ok {
		return false, nil
	}
	if err, isErr := v.(error); isErr {
		return false, errors.New(formatJQError("predicate", err))
	}
	switch b := v.(type) {
	case nil:
		return false, nil
	case bool:
		return b, nil
	default:
		return true, nil
	}
}

// Result contains the values produced by a query.
type Result struct {
	Values   []any    `json:"values"`           // Extracted values
	Errors   []string `json:"errors,omitempty"` // Per-input errors (e.g., type mismatch)
	RawCount int      `json:"raw_count"`        // Count before deduplication
}

// Engine executes jq queries against JSON documents.
type Engine struct{}

// NewEngine creates a new query engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Query executes a jq expression against JSON data.
func (e *Engine) Query(data []byte, expression string, deduplicate bool, maxResults int) (*Result, error) {
	return e.QueryLabeled([][]byte{data}, []string{"body"}, expression, deduplicate, maxResults)
}

// QueryLabeled executes a jq expression against several JSON documents.
// Labels identify each document in error messages.
func (e *Engine) QueryLabeled(docs [][]byte, labels []string, expression string, deduplicate bool, maxResults int) (*Result, error) {
	prog, err := Compile(expression)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Values: make([]any, 0),
		Errors: make([]string, 0),
	}
	seen := make(map[string]bool)
	seenErrors := make(map[string]bool)

	for i, data := range docs {
		if maxResults > 0 && len(result.Values) >= maxResults {
			break
		}

		label := fmt.Sprintf("body[%d]", i)
		if i < len(labels) && labels[i] != "" {
			label = labels[i]
		}

		var input any
		if err := json.Unmarshal(data, &input); err != nil {
			addError(result, seenErrors, fmt.Sprintf("%s: invalid JSON: %v", label, err))
			continue
		}

		iter := prog.code.Run(input)
		for {
			if maxResults > 0 && len(result.Values) >= maxResults {
				break
			}
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, isErr := v.(error); isErr {
				addError(result, seenErrors, formatJQError(label, err))
				continue
			}
			if v == nil {
				continue
			}

			result.RawCount++
			if deduplicate {
				key := valueKey(v)
				if seen[key] {
					continue
				}
				seen[key] = true
			}
			result.Values = append(result.Values, v)
		}
	}

	return result, nil
}

func addError(r *Result, seen map[string]bool, msg string) {
	if seen[msg] {
		return
	}
	seen[msg] = true
	r.Errors = append(r.Errors, msg)
}

// ToInput converts a typed value into the generic form gojq operates on
// (maps, slices, float64, string, bool, nil).
func ToInput(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// formatJQError creates a helpful error message for jq execution errors.
//
// Runtime errors (like "cannot iterate over: null") are plain errors without
// typed wrappers in gojq, so hints are chosen by message text.
func formatJQError(label string, err error) string {
	var haltErr *gojq.HaltError
	if errors.As(err, &haltErr) {
		if haltErr.Value() == nil {
			return fmt.Sprintf("%s: query halted", label)
		}
		return fmt.Sprintf("%s: query halted with: %v", label, haltErr.Value())
	}

	errStr := err.Error()

	var hint string
	switch {
	case strings.Contains(errStr, "cannot iterate over: null"):
		hint = " (the path may not exist in this document)"
	case strings.Contains(errStr, "cannot index") && strings.Contains(errStr, "with"):
		hint = " (field not found or wrong type)"
	case strings.Contains(errStr, "object") && strings.Contains(errStr, "cannot be iterated"):
		hint = " (expected array but got object, try removing '[]')"
	case strings.Contains(errStr, "array") && strings.Contains(errStr, "cannot be indexed"):
		hint = " (expected object but got array, try adding '[]')"
	}

	return fmt.Sprintf("%s: %s%s", label, errStr, hint)
}

// valueKey creates a string key for deduplication.
func valueKey(v any) string {
	switch val := v.(type) {
	case string:
		return "s:" + val
	case float64:
		return fmt.Sprintf("n:%v", val)
	case bool:
		return fmt.Sprintf("b:%v", val)
	case nil:
		return "null"
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("?:%v", val)
		}
		return "j:" + string(b)
	}
}
