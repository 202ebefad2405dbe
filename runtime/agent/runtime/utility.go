package runtime

import (
	"encoding/json"
	"fmt"

	"goa.design/symposium/runtime/agent/model"
	"goa.design/symposium/runtime/agent/tools"
)

type (
	// UtilityType selects the kind of value Run produces.
	UtilityType string

	// Utility describes the value produced by Run.
	//
	//	a, _ := runtime.New(opts, runtime.WithUtility(runtime.Utility{
	//		Type:     runtime.UtilityJSON,
	//		Function: extractDate,
	//	}))
	//	v, err := a.Run(ctx, "", "remind me next tuesday")
	Utility struct {
		// Type is the kind of value.
		Type UtilityType
		// Function describes the value for json and function utilities. Its
		// parameters must be an object schema.
		Function *model.FunctionDefinition
	}
)

const (
	// UtilityText returns the first text the model produces.
	UtilityText UtilityType = "text"
	// UtilityJSON returns a JSON object matching Function parameters, using
	// structured output when the model supports it.
	UtilityJSON UtilityType = "json"
	// UtilityFunction returns the arguments of a forced call to Function.
	UtilityFunction UtilityType = "function"
)

// Validate returns a ValidationError when the descriptor is malformed.
func (u Utility) Validate() error {
	switch u.Type {
	case UtilityText:
		return nil
	case UtilityJSON, UtilityFunction:
		if u.Function == nil {
			return model.NewValidationError("%s utility requires a function", u.Type)
		}
		if u.Function.Name == "" {
			return model.NewValidationError("%s utility function name is required", u.Type)
		}
		if _, err := tools.CompileParameters(u.Function); err != nil {
			return err
		}
		return nil
	default:
		return model.NewValidationError("unknown utility type %q", u.Type)
	}
}

// apply sets the request options that make the model produce the utility
// value. Schemas with more properties than backends accept in a response
// format are requested through a forced function call.
func (u Utility) apply(req *model.Request) error {
	if err := u.Validate(); err != nil {
		return err
	}
	if u.Type == UtilityText {
		return nil
	}
	if u.Type == UtilityJSON && req.Model.StructuredOutput {
		rf, count := model.ConvertFunctionToResponseFormat(u.Function)
		if count <= model.MaxResponseFormatProperties {
			req.ResponseFormat = rf
			return nil
		}
	}
	if req.FunctionNamed(u.Function.Name) != nil {
		return model.NewValidationError("utility function %q collides with a tool function", u.Function.Name)
	}
	req.Functions = append(req.Functions, u.Function)
	req.ForceFunction = u.Function.Name
	return nil
}

// parseText decodes text produced under a response format.
func parseText(text string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("decode structured output: %w", err)
	}
	return v, nil
}
