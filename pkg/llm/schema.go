package llm

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/swaggest/jsonschema-go"
)

// ResponseSchema names the JSON schema a structured call must satisfy
type ResponseSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
}

// SchemaFromStruct generates a JSON Schema from a Go struct using the swaggest/jsonschema-go library.
// Nested definitions are inlined, since providers reject $ref.
//
// Example:
//
//	type Person struct {
//	    Name string `json:"name" required:"true" description:"Full name"`
//	    Age  int    `json:"age" minimum:"0" maximum:"150"`
//	}
//	schema, err := SchemaFromStruct(Person{})
func SchemaFromStruct(structType any) (jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{}

	schema, err := reflector.Reflect(structType, jsonschema.InlineRefs)
	if err != nil {
		return jsonschema.Schema{}, fmt.Errorf("failed to reflect struct to JSON schema: %w", err)
	}

	return schema, nil
}

// SchemaFromStructAsMap generates a JSON Schema as a generic map
func SchemaFromStructAsMap(structType any) (map[string]any, error) {
	schema, err := SchemaFromStruct(structType)
	if err != nil {
		return nil, err
	}

	jsonBytes, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema to JSON: %w", err)
	}

	var schemaMap map[string]any
	if err := json.Unmarshal(jsonBytes, &schemaMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema JSON to map: %w", err)
	}
	delete(schemaMap, "$schema")
	delete(schemaMap, "definitions")

	return schemaMap, nil
}

// ResponseSchemaFor builds the response schema of output type T
func ResponseSchemaFor[T any]() (ResponseSchema, error) {
	var zero T
	schema, err := SchemaFromStructAsMap(zero)
	if err != nil {
		return ResponseSchema{}, err
	}
	return ResponseSchema{Name: TypeName[T](), Schema: schema}, nil
}

// TypeName returns the bare name of T, used to label schemas and events
func TypeName[T any]() string {
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}
