// Package jsoncompact shortens HTTP bodies for display in tool output.
// JSON bodies keep their structure with long arrays and strings trimmed;
// other text is cut at a length limit.
package jsoncompact

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Default limits.
const (
	DefaultMaxArrayItems = 3
	DefaultMaxStringLen  = 500
	DefaultMaxDepth      = 0 // unlimited
	DefaultMaxTextLen    = 4096
)

// Options sets the trimming limits. Zero disables a limit.
type Options struct {
	MaxArrayItems int
	MaxStringLen  int
	MaxDepth      int
	MaxTextLen    int // Applies to non-JSON bodies
}

// DefaultOptions returns the default limits.
func DefaultOptions() Options {
	return Options{
		MaxArrayItems: DefaultMaxArrayItems,
		MaxStringLen:  DefaultMaxStringLen,
		MaxDepth:      DefaultMaxDepth,
		MaxTextLen:    DefaultMaxTextLen,
	}
}

// Body returns a display form of body and whether anything was trimmed.
func Body(body string, opts Options) (string, bool) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return body, false
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			t := trimmer{opts: opts}
			out, err := json.Marshal(t.walk(v, 0))
			if err == nil {
				return string(out), t.changed
			}
		}
	}
	if opts.MaxTextLen > 0 && len(body) > opts.MaxTextLen {
		return cut(body, opts.MaxTextLen), true
	}
	return body, false
}

// Value trims an already decoded JSON value.
func Value(v any, opts Options) any {
	t := trimmer{opts: opts}
	return t.walk(v, 0)
}

type trimmer struct {
	opts    Options
	changed bool
}

func (t *trimmer) walk(v any, depth int) any {
	if t.opts.MaxDepth > 0 && depth >= t.opts.MaxDepth {
		switch v.(type) {
		case map[string]any, []any:
			t.changed = true
			return "[max depth]"
		}
	}

	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = t.walk(item, depth+1)
		}
		return out
	case []any:
		keep := len(val)
		if t.opts.MaxArrayItems > 0 && keep > t.opts.MaxArrayItems {
			keep = t.opts.MaxArrayItems
		}
		out := make([]any, 0, keep+1)
		for _, item := range val[:keep] {
			out = append(out, t.walk(item, depth+1))
		}
		if rest := len(val) - keep; rest > 0 {
			t.changed = true
			out = append(out, fmt.Sprintf("... (%d more items)", rest))
		}
		return out
	case string:
		if t.opts.MaxStringLen > 0 && len(val) > t.opts.MaxStringLen {
			t.changed = true
			return cut(val, t.opts.MaxStringLen)
		}
		return val
	default:
		return v
	}
}

// cut truncates s to n bytes without splitting a UTF-8 sequence.
func cut(s string, n int) string {
	end := n
	for end > 0 && end < len(s) && s[end]&0xC0 == 0x80 {
		end--
	}
	return s[:end] + fmt.Sprintf("... (%d more chars)", len(s)-end)
}
