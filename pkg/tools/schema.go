package tools

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaFor reflects a JSON schema for the given argument struct. The schema
// is inlined (no $ref indirection) because model services expect a
// self-contained object schema.
func SchemaFor[T any]() (any, error) {
	reflector := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(new(T))

	// Round-trip through JSON to a plain map so providers can embed the
	// schema without depending on the reflector's types.
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshaling reflected schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshaling reflected schema: %w", err)
	}
	return out, nil
}

// MustSchemaFor is SchemaFor for static tool definitions.
func MustSchemaFor[T any]() any {
	schema, err := SchemaFor[T]()
	if err != nil {
		panic(err)
	}
	return schema
}
