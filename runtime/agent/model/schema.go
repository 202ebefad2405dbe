package model

import (
	"sort"
)

// MaxResponseFormatProperties is the largest number of properties backends
// accept in a strict response format. Larger schemas must be requested
// through a forced function call instead.
const MaxResponseFormatProperties = 100

// ConvertFunctionToResponseFormat turns the parameters schema of fn into a
// strict response format: every object property becomes required,
// additionalProperties is set to false and nested objects (including arrays
// of objects) are transformed recursively. It also returns the total number
// of properties found across the schema tree. fn is not modified.
func ConvertFunctionToResponseFormat(fn *FunctionDefinition) (*ResponseFormat, int) {
	schema := deepCopy(fn.Parameters)
	m, _ := schema.(map[string]any)
	if m == nil {
		m = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	count := strictObject(m)
	return &ResponseFormat{Name: fn.Name, Schema: m, Strict: true}, count
}

// strictObject rewrites schema in place and returns its property count.
func strictObject(schema map[string]any) int {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return 0
	}
	count := len(props)
	required := make([]string, 0, len(props))
	for name, raw := range props {
		required = append(required, name)
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		switch prop["type"] {
		case "object":
			count += strictObject(prop)
		case "array":
			if items, ok := prop["items"].(map[string]any); ok && items["type"] == "object" {
				count += strictObject(items)
			}
		}
	}
	sort.Strings(required)
	schema["required"] = required
	schema["additionalProperties"] = false
	return count
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = deepCopy(e)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}
