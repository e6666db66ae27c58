package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaValidator validates decoded objects against a JSON schema compiled once.
type SchemaValidator struct {
	once   sync.Once
	raw    map[string]any
	schema *jsonschema.Schema
	err    error
}

func NewSchemaValidator(schemaMap map[string]any) *SchemaValidator {
	return &SchemaValidator{raw: schemaMap}
}

func (v *SchemaValidator) compile() {
	b, err := json.Marshal(v.raw)
	if err != nil {
		v.err = fmt.Errorf("marshal schema: %w", err)
		return
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		v.err = fmt.Errorf("add schema: %w", err)
		return
	}
	v.schema, v.err = compiler.Compile("schema.json")
	if v.err != nil {
		v.err = fmt.Errorf("compile schema: %w", v.err)
	}
}

// Validate checks a decoded JSON value (map[string]any from encoding/json).
func (v *SchemaValidator) Validate(doc any) error {
	v.once.Do(v.compile)
	if v.err != nil {
		return v.err
	}
	// Round-trip so Go-typed values (float64 vs int, []string) match JSON types.
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := v.schema.Validate(generic); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

// ValidateJSONAgainstSchema validates "data" against "schemaMap".
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	return NewSchemaValidator(schemaMap).Validate(v)
}
