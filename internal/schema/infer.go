package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	invopop "github.com/invopop/jsonschema"
)

// ErrNoSamples is returned when none of the inputs is a JSON document.
var ErrNoSamples = errors.New("no JSON samples")

// Inferred is a schema derived from sample documents.
type Inferred struct {
	Schema  *invopop.Schema `json:"schema"`
	Samples int             `json:"samples"`
	Skipped int             `json:"skipped,omitempty"`
}

// Infer derives a schema that accepts every sample. An object property is
// required when it is present and non-null in every object seen at its
// position. Integers and floats at one position widen to "number".
func Infer(samples ...[]byte) (*Inferred, error) {
	root := &shape{}
	out := &Inferred{}
	for _, data := range samples {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			out.Skipped++
			continue
		}
		root.add(v)
		out.Samples++
	}
	if out.Samples == 0 {
		return nil, ErrNoSamples
	}
	out.Schema = root.schema()
	out.Schema.Version = invopop.Version
	return out, nil
}

// shape accumulates the values observed at one position of the documents.
type shape struct {
	kinds   map[string]int
	objects int
	props   map[string]*shape
	present map[string]int // objects containing the property with a non-null value
	items   *shape
}

func (s *shape) add(v any) {
	if s.kinds == nil {
		s.kinds = make(map[string]int)
	}
	kind := kindOf(v)
	s.kinds[kind]++

	switch val := v.(type) {
	case map[string]any:
		s.objects++
		if s.props == nil {
			s.props = make(map[string]*shape)
			s.present = make(map[string]int)
		}
		for k, child := range val {
			p, ok := s.props[k]
			if !ok {
				p = &shape{}
				s.props[k] = p
			}
			p.add(child)
			if child != nil {
				s.present[k]++
			}
		}
	case []any:
		if len(val) > 0 && s.items == nil {
			s.items = &shape{}
		}
		for _, item := range val {
			s.items.add(item)
		}
	}
}

func kindOf(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number:
		if strings.ContainsAny(val.String(), ".eE") {
			return "number"
		}
		return "integer"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return ""
	}
}

func (s *shape) schema() *invopop.Schema {
	kinds := make([]string, 0, len(s.kinds))
	for k := range s.kinds {
		if k == "integer" && s.kinds["number"] > 0 {
			continue
		}
		if k != "" {
			kinds = append(kinds, k)
		}
	}
	sort.Strings(kinds)

	switch len(kinds) {
	case 0:
		return &invopop.Schema{}
	case 1:
		return s.typed(kinds[0])
	}
	anyOf := make([]*invopop.Schema, 0, len(kinds))
	for _, k := range kinds {
		anyOf = append(anyOf, s.typed(k))
	}
	return &invopop.Schema{AnyOf: anyOf}
}

func (s *shape) typed(kind string) *invopop.Schema {
	out := &invopop.Schema{Type: kind}
	switch kind {
	case "object":
		out.Properties = invopop.NewProperties()
		keys := make([]string, 0, len(s.props))
		for k := range s.props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out.Properties.Set(k, s.props[k].schema())
			if s.present[k] == s.objects {
				out.Required = append(out.Required, k)
			}
		}
	case "array":
		if s.items != nil {
			out.Items = s.items.schema()
		}
	}
	return out
}
