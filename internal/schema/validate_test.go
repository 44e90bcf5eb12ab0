package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_RawSchema(t *testing.T) {
	v, err := NewValidator([]byte(`{
		"type": "object",
		"properties": {"name": {"type": "string"}, "age": {"type": "integer"}},
		"required": ["name"]
	}`))
	require.NoError(t, err)

	assert.True(t, v.Validate([]byte(`{"name": "Alice", "age": 30}`)).Valid)

	res := v.Validate([]byte(`{"age": 30}`))
	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "name")

	res = v.Validate([]byte(`{"name": "Alice", "age": "thirty"}`))
	assert.False(t, res.Valid)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "/age")
}

func TestValidator_InvalidInput(t *testing.T) {
	_, err := NewValidator([]byte(`{not json`))
	assert.ErrorContains(t, err, "parsing JSON Schema")

	_, err = NewValidator([]byte(`{"type": 12}`))
	assert.ErrorContains(t, err, "compiling schema")

	v, err := NewValidator([]byte(`{"type": "object"}`))
	require.NoError(t, err)
	res := v.Validate([]byte(`nope`))
	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], "invalid JSON")
}

type reflectedItem struct {
	ID    int      `json:"id"`
	Name  string   `json:"name"`
	Tags  []string `json:"tags,omitempty"`
	Owner *struct {
		Login string `json:"login"`
	} `json:"owner,omitempty"`
}

func TestNewValidatorFromType(t *testing.T) {
	v, err := NewValidatorFromType(&reflectedItem{})
	require.NoError(t, err)

	assert.True(t, v.Validate([]byte(`{"id": 1, "name": "a"}`)).Valid)
	assert.True(t, v.Validate([]byte(`{"id": 1, "name": "a", "_vendor": true}`)).Valid, "extra properties allowed")

	res := v.Validate([]byte(`{"name": "a"}`))
	assert.False(t, res.Valid)

	res = v.Validate([]byte(`{"id": 1, "name": "a", "owner": {}}`))
	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], "/owner")
}

func TestNewValidatorFromSchema_Nil(t *testing.T) {
	_, err := NewValidatorFromSchema(nil)
	assert.Error(t, err)
}

func TestValidator_Nil(t *testing.T) {
	var v *Validator
	res := v.ValidateValue(map[string]any{})
	assert.False(t, res.Valid)
	assert.Equal(t, []string{"schema not compiled"}, res.Errors)
}
