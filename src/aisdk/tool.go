package aisdk

import (
	"fmt"
	"reflect"

	jsonschema "github.com/swaggest/jsonschema-go"
)

// NewTool describes a tool whose arguments decode into T. T must be a struct; its
// parameter schema is reflected from the struct's json tags.
func NewTool[T any](name, description string) (*Tool, error) {
	var input T
	if t := reflect.TypeOf(input); t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("tool %s: input type must be a struct, got %T", name, input)
	}

	reflector := jsonschema.Reflector{}
	schema, err := reflector.Reflect(input)
	if err != nil {
		return nil, fmt.Errorf("tool %s: failed to generate schema: %w", name, err)
	}
	return &Tool{Name: name, Description: description, Parameters: &schema}, nil
}

// StringSchema creates a JSON schema for a string field
func StringSchema(description string) *jsonschema.Schema {
	strType := jsonschema.String
	return &jsonschema.Schema{
		Type:        &jsonschema.Type{SimpleTypes: &strType},
		Description: &description,
	}
}

// ObjectSchema creates a JSON schema for an object with properties and required fields
func ObjectSchema(properties map[string]*jsonschema.Schema, required []string) *jsonschema.Schema {
	objType := jsonschema.Object
	s := &jsonschema.Schema{
		Type:     &jsonschema.Type{SimpleTypes: &objType},
		Required: required,
	}
	if len(properties) > 0 {
		s.Properties = make(map[string]jsonschema.SchemaOrBool, len(properties))
		for name, prop := range properties {
			s.Properties[name] = jsonschema.SchemaOrBool{TypeObject: prop}
		}
	}
	return s
}
