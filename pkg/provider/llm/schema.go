package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/invopop/jsonschema"
)

// ErrNoJSON is returned by [DecodeJSON] when the model output contains no
// JSON object at all.
var ErrNoJSON = errors.New("llm: no JSON object in model output")

// SchemaFor reflects T into a JSON schema compatible with strict structured
// outputs: every object forbids additional properties and lists all of its
// properties as required, in sorted order so the schema is stable.
func SchemaFor[T any]() (*ResponseSchema, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	b, err := reflector.Reflect(v).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("llm: marshal schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("llm: decode schema: %w", err)
	}
	delete(m, "$schema")
	strictify(m)
	return &ResponseSchema{Schema: m}, nil
}

func strictify(schema map[string]any) {
	if t, ok := schema["type"].(string); ok && t == "object" {
		schema["additionalProperties"] = false
		if props, ok := schema["properties"].(map[string]any); ok && len(props) > 0 {
			schema["required"] = slices.Sorted(maps.Keys(props))
		}
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		for _, prop := range props {
			if pm, ok := prop.(map[string]any); ok {
				strictify(pm)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		strictify(items)
	}
}

// DecodeJSON unmarshals model output into v. Output that wraps the object in
// prose or code fences is tolerated by decoding the span between the first
// '{' and the last '}'.
func DecodeJSON(output string, v any) error {
	s := strings.TrimSpace(output)
	if s == "" {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end <= start {
		return fmt.Errorf("%w (len=%d)", ErrNoJSON, len(s))
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return fmt.Errorf("llm: unmarshal extracted JSON: %w", err)
	}
	return nil
}
