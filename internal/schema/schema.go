// Package schema validates decoded JSON and YAML documents against JSON schemas.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is a compiled JSON schema.
type Schema struct {
	id       string
	compiled *jsonschema.Schema
}

// Compile compiles a schema document registered under id.
func Compile(id string, document []byte) (*Schema, error) {
	if len(document) == 0 {
		return nil, fmt.Errorf("schema is empty")
	}
	resourceID := schemaID(id)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceID, bytes.NewReader(document)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceID)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Schema{id: id, compiled: compiled}, nil
}

// MustCompile is Compile for package level schemas.
func MustCompile(id string, document []byte) *Schema {
	s, err := Compile(id, document)
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", id, err))
	}
	return s
}

// Validate checks value, which may be raw JSON bytes or an already decoded
// document.
func (s *Schema) Validate(value any) error {
	payload, err := normalizeValue(value)
	if err != nil {
		return fmt.Errorf("normalize payload: %w", err)
	}
	if err := s.compiled.Validate(payload); err != nil {
		return fmt.Errorf("%s validation failed: %w", s.id, err)
	}
	return nil
}

func normalizeValue(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return decode(v)
	case []byte:
		return decode(v)
	default:
		return value, nil
	}
}

func decode(data []byte) (any, error) {
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

func schemaID(id string) string {
	if id == "" {
		id = "schema"
	}
	return "inmemory://" + id
}
