// Package schema compiles JSON Schemas and validates documents against them.
// Schemas come from raw JSON, from reflected Go types, or from inference over
// sample bodies.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/usestring/trafficlab/pkg/types"
)

const resourceName = "schema.json"

// Validator validates JSON data against a compiled schema.
type Validator struct {
	schema *jsonschema.Schema
	source any
}

// NewValidator compiles a raw JSON Schema document.
func NewValidator(schemaJSON []byte) (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parsing JSON Schema: %w", err)
	}
	return compile(doc)
}

// NewValidatorFromType reflects a schema from a Go value's type. Struct
// fields without omitempty are required and unknown properties are allowed,
// so documents carrying vendor extensions still validate.
func NewValidatorFromType(v any) (*Validator, error) {
	r := &invopop.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}
	return NewValidatorFromSchema(r.Reflect(v))
}

// NewValidatorFromSchema compiles an in-memory schema.
func NewValidatorFromSchema(s *invopop.Schema) (*Validator, error) {
	if s == nil {
		return nil, errors.New("nil schema")
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshaling schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshaling schema: %w", err)
	}
	return compile(doc)
}

func compile(doc any) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	// doc must be a decoded JSON value, not an io.Reader
	if err := compiler.AddResource(resourceName, doc); err != nil {
		return nil, fmt.Errorf("adding schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	return &Validator{schema: compiled, source: doc}, nil
}

// Source returns the schema document the validator was compiled from.
func (v *Validator) Source() any {
	return v.source
}

// Validate validates a JSON document.
func (v *Validator) Validate(data []byte) *types.ValidationResult {
	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return &types.ValidationResult{Errors: []string{"invalid JSON: " + err.Error()}}
	}
	return v.ValidateValue(value)
}

// ValidateValue validates an already decoded value.
func (v *Validator) ValidateValue(value any) *types.ValidationResult {
	if v == nil || v.schema == nil {
		return &types.ValidationResult{Errors: []string{"schema not compiled"}}
	}
	if err := v.schema.Validate(value); err != nil {
		return &types.ValidationResult{Errors: validationMessages(err)}
	}
	return &types.ValidationResult{Valid: true}
}

var printer = message.NewPrinter(language.English)

// validationMessages flattens a validation error into "path: message" lines,
// deduplicated and sorted by path.
func validationMessages(err error) []string {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []string{err.Error()}
	}

	seen := make(map[string]bool)
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if e.ErrorKind != nil && len(e.Causes) == 0 {
			msg := e.ErrorKind.LocalizedString(printer)
			// Reference hops carry no information of their own
			if !strings.HasPrefix(msg, "$ref ") && !strings.HasPrefix(msg, "doesn't validate with") {
				line := msg
				if len(e.InstanceLocation) > 0 {
					line = "/" + strings.Join(e.InstanceLocation, "/") + ": " + msg
				}
				if !seen[line] {
					seen[line] = true
					out = append(out, line)
				}
			}
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)

	if len(out) == 0 {
		out = append(out, verr.Error())
	}
	sort.Strings(out)
	return out
}
