package mirror

import (
	"encoding/json"
	"fmt"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator checks a raw payload before it enters the reactive layer.
// Implementations return a *ValidationError (or any error) to have the row
// skipped and logged; the surrounding load or batch continues.
type Validator interface {
	Validate(key string, payload json.RawMessage) error
}

// Passthrough accepts every payload. It is the default validator for
// collections configured without a schema.
type Passthrough struct{}

// Validate implements Validator.
func (Passthrough) Validate(string, json.RawMessage) error { return nil }

// SchemaValidator validates payloads against a JSON schema compiled once at
// construction time.
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// NewSchemaValidator compiles the given JSON schema document. An error is
// returned only if the schema itself is invalid.
func NewSchemaValidator(schema []byte) (*SchemaValidator, error) {
	c := jsonschema.NewCompiler()
	var doc any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	if err := c.AddResource("mem://schema.json", doc); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	sch, err := c.Compile("mem://schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return &SchemaValidator{schema: sch}, nil
}

// Validate implements Validator. Payloads that fail to decode or do not
// conform to the schema come back as a *ValidationError.
func (v *SchemaValidator) Validate(key string, payload json.RawMessage) error {
	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return &ValidationError{Key: key, Reason: "payload is not valid JSON", Err: err}
	}
	if err := v.schema.Validate(value); err != nil {
		return &ValidationError{Key: key, Reason: "payload does not match schema", Err: err}
	}
	return nil
}
