package tools

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// AddTool registers a tool after checking that its output type round-trips
// through the schema the SDK infers for it. A tool whose empty result would be
// rejected by the client panics here, at startup.
func AddTool[In, Out any](srv *sdkmcp.Server, t *sdkmcp.Tool, h sdkmcp.ToolHandlerFor[In, Out]) {
	CheckOutputSchema[Out](t.Name)
	sdkmcp.AddTool(srv, t, h)
}

// CheckOutputSchema panics when the zero value of T does not validate against
// its inferred schema, or when T carries json.RawMessage anywhere.
//
// The usual culprits are slice and map fields without omitzero/omitempty:
// json.Marshal writes them as null while the schema demands an array or
// object. json.RawMessage is inferred as an array of integers but marshals as
// arbitrary JSON; store such values as any (see types.ToAny).
//
// The untyped any output is accepted as is. Inference failures are left to
// the SDK, which reports them from AddTool.
func CheckOutputSchema[T any](toolName string) {
	rt := reflect.TypeFor[T]()
	if rt == reflect.TypeFor[any]() {
		return
	}
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}

	if raw := rawMessagePaths(rt); len(raw) > 0 {
		panic(fmt.Sprintf("tool %q: output %s holds json.RawMessage at %s; use any and types.ToAny instead",
			toolName, rt, strings.Join(raw, ", ")))
	}

	data, err := zeroValueJSON(rt)
	if err != nil {
		return
	}
	schema, err := jsonschema.ForType(rt, &jsonschema.ForOptions{})
	if err != nil {
		return
	}
	resolved, err := schema.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return
	}
	if err := resolved.Validate(&data); err != nil {
		panic(fmt.Sprintf("tool %q: empty %s fails its output schema: %v\n  JSON: %s\n  add omitzero to slice fields and omitempty to map fields",
			toolName, rt, err, mustJSON(data)))
	}
}

func zeroValueJSON(rt reflect.Type) (map[string]any, error) {
	b, err := json.Marshal(reflect.Zero(rt).Interface())
	if err != nil {
		return nil, err
	}
	var v map[string]any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func mustJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

var rawMessageType = reflect.TypeFor[json.RawMessage]()

// rawMessagePaths lists the dotted field paths under rt that resolve to
// json.RawMessage. Slice elements are written as [] and map values as [value].
func rawMessagePaths(rt reflect.Type) []string {
	var found []string
	seen := map[reflect.Type]bool{}

	var walk func(t reflect.Type, path string)
	walk = func(t reflect.Type, path string) {
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if t == rawMessageType {
			found = append(found, strings.TrimPrefix(path, "."))
			return
		}
		if seen[t] {
			return
		}
		seen[t] = true
		defer delete(seen, t)

		switch t.Kind() {
		case reflect.Struct:
			for f := range fields(t) {
				walk(f.Type, path+"."+f.Name)
			}
		case reflect.Slice, reflect.Array:
			walk(t.Elem(), path+".[]")
		case reflect.Map:
			walk(t.Elem(), path+".[value]")
		}
	}
	walk(rt, "")
	return found
}

// fields yields the exported fields of a struct type.
func fields(t reflect.Type) func(yield func(reflect.StructField) bool) {
	return func(yield func(reflect.StructField) bool) {
		for i := range t.NumField() {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			if !yield(f) {
				return
			}
		}
	}
}
