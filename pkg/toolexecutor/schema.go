package toolexecutor

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateSchema reflects a JSON Schema for T from its struct tags.
// Field descriptions and constraints come from jsonschema tags; fields
// without omitempty are required. The result is a plain map so it can
// be attached to tool definitions and shipped to hosted agents as-is.
func GenerateSchema[T any]() map[string]interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)

	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]interface{}{"type": "object"}
	}

	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]interface{}{"type": "object"}
	}

	delete(out, "$schema")
	delete(out, "$id")

	return out
}

// DecodeParams converts loosely typed tool parameters into T through a
// JSON round trip, so handlers work with real types instead of digging
// through map[string]interface{}.
func DecodeParams[T any](params map[string]interface{}) (T, error) {
	var out T

	data, err := json.Marshal(params)
	if err != nil {
		return out, fmt.Errorf("failed to encode parameters: %w", err)
	}

	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to decode parameters: %w", err)
	}

	return out, nil
}
