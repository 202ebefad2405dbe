package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/symposium/runtime/agent/model"
)

// CompileParameters compiles the parameters schema of fn. The schema must be
// a valid JSON schema describing an object.
func CompileParameters(fn *model.FunctionDefinition) (*jsonschema.Schema, error) {
	if fn == nil {
		return nil, model.NewValidationError("function definition is required")
	}
	if fn.Name == "" {
		return nil, model.NewValidationError("function name is required")
	}
	params := fn.Parameters
	if params == nil {
		params = map[string]any{"type": "object"}
	}
	if params["type"] != "object" {
		return nil, model.NewValidationError("function %q: parameters must have type object", fn.Name)
	}
	doc, err := normalize(params)
	if err != nil {
		return nil, model.NewValidationError("function %q: parameters are not JSON: %v", fn.Name, err)
	}
	url := fn.Name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, model.NewValidationError("function %q: %v", fn.Name, err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, model.NewValidationError("function %q: invalid parameters schema: %v", fn.Name, err)
	}
	return schema, nil
}

// ValidateArguments checks args against schema.
func ValidateArguments(name string, schema *jsonschema.Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	inst, err := normalize(args)
	if err != nil {
		return &ArgumentError{Function: name, Issues: []FieldIssue{{Field: "/", Message: err.Error()}}}
	}
	if err := schema.Validate(inst); err != nil {
		return &ArgumentError{Function: name, Issues: issuesFrom(err)}
	}
	return nil
}

// normalize round-trips v through JSON so that the validator sees the same
// value shapes a decoded document would have.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return doc, nil
}
