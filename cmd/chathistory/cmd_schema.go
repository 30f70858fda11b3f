package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	jsonschema "github.com/swaggest/jsonschema-go"

	"github.com/elee1766/chathistory/src/aisdk"
)

// SchemaCmd prints JSON schemas of the wire types
type SchemaCmd struct {
	Type string `arg:"" optional:"" help:"Type to describe (chunk, call-options)" enum:"chunk,call-options" default:"chunk"`
}

// Run executes the schema command
func (c *SchemaCmd) Run() error {
	return writeSchema(os.Stdout, c.Type)
}

func writeSchema(w io.Writer, name string) error {
	var v any
	switch name {
	case "chunk", "":
		v = aisdk.Chunk{}
	case "call-options":
		v = aisdk.CallOptions{}
	default:
		return fmt.Errorf("invalid schema type: %s", name)
	}

	reflector := jsonschema.Reflector{}
	schema, err := reflector.Reflect(v)
	if err != nil {
		return fmt.Errorf("failed to reflect %s schema: %w", name, err)
	}
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
