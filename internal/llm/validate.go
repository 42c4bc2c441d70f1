package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidateJSONAgainstSchema validates "data" against "schemaMap".
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	schema, err := CompileSchema(schemaMap)
	if err != nil {
		return err
	}
	return validate(schema, data)
}

// CompileSchema compiles a schema once so hot paths can reuse it.
func CompileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func validate(schema *jsonschema.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

// CleanJSON strips markdown code fences some models wrap around JSON output.
func CleanJSON(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return []byte(strings.TrimSpace(s))
}

// Decode cleans the model output, validates it against schema, and unmarshals into out.
// Any mismatch is an error; callers never see a partially-typed value.
func Decode(raw []byte, schema *jsonschema.Schema, out any) error {
	data := CleanJSON(raw)
	if len(data) == 0 {
		return fmt.Errorf("empty model response")
	}
	if schema != nil {
		if err := validate(schema, data); err != nil {
			return err
		}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode model response: %w", err)
	}
	return nil
}

// WholeNumber reads an integer the way JSON Schema counts one: 3 and 3.0 both give 3.
// ok is false for an empty, fractional or out-of-range number.
func WholeNumber(n json.Number) (v int, ok bool) {
	if n == "" {
		return 0, false
	}
	if i, err := n.Int64(); err == nil {
		return int(i), int64(int(i)) == i
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}
