package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaValidator checks tool arguments against the JSON schema each
// tool declares. Schemas are compiled once per tool name and cached.
type SchemaValidator struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{compiled: make(map[string]*jsonschema.Schema)}
}

// Validate returns an error describing the first violation, or nil. An
// empty schema accepts anything.
func (v *SchemaValidator) Validate(toolName string, schema json.RawMessage, args map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	compiled, err := v.schemaFor(toolName, schema)
	if err != nil {
		return err
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := compiled.Validate(map[string]any(args)); err != nil {
		return fmt.Errorf("arguments for %s: %w", toolName, err)
	}
	return nil
}

func (v *SchemaValidator) schemaFor(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.compiled[name]; ok {
		return s, nil
	}
	compiler := jsonschema.NewCompiler()
	url := "tool:///" + name + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("schema for %s: %w", name, err)
	}
	s, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema for %s: %w", name, err)
	}
	v.compiled[name] = s
	return s, nil
}
