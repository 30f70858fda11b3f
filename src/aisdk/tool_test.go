package aisdk

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	jsonschema "github.com/swaggest/jsonschema-go"
)

type weatherInput struct {
	City  string `json:"city" required:"true" description:"City name"`
	Units string `json:"units,omitempty" enum:"metric,imperial"`
}

func TestNewTool(t *testing.T) {
	tool, err := NewTool[weatherInput]("weather", "Look up the weather")
	require.NoError(t, err)
	assert.Equal(t, "weather", tool.Name)
	require.NotNil(t, tool.Parameters)

	data, err := json.Marshal(tool.Parameters)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "object", decoded["type"])
	assert.Equal(t, []any{"city"}, decoded["required"])
	props := decoded["properties"].(map[string]any)
	assert.Contains(t, props, "city")
	assert.Contains(t, props, "units")
}

func TestNewToolRejectsNonStruct(t *testing.T) {
	_, err := NewTool[string]("bad", "")
	assert.Error(t, err)
	_, err = NewTool[any]("bad", "")
	assert.Error(t, err)
}

func TestObjectSchema(t *testing.T) {
	s := ObjectSchema(map[string]*jsonschema.Schema{"q": StringSchema("query")}, []string{"q"})
	require.NotNil(t, s.Type)
	assert.Equal(t, jsonschema.Object, *s.Type.SimpleTypes)
	assert.Len(t, s.Properties, 1)
	assert.Equal(t, "query", *s.Properties["q"].TypeObject.Description)

	empty := ObjectSchema(nil, nil)
	data, err := json.Marshal(empty)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"object"}`, string(data))
}
