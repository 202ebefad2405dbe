package tools

import (
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

type (
	// FieldIssue is a single argument validation failure.
	FieldIssue struct {
		// Field is the JSON pointer of the offending value, "/" for the root.
		Field string `json:"field"`
		// Message describes the violated constraint.
		Message string `json:"message"`
	}

	// ArgumentError reports arguments that do not match the function schema.
	// It is returned to the model as the call's error result.
	ArgumentError struct {
		Function string
		Issues   []FieldIssue
	}
)

func (e *ArgumentError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		parts[i] = fmt.Sprintf("%s: %s", is.Field, is.Message)
	}
	return fmt.Sprintf("invalid arguments for %s: %s", e.Function, strings.Join(parts, "; "))
}

// issuesFrom flattens a jsonschema validation error into field issues.
func issuesFrom(err error) []FieldIssue {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []FieldIssue{{Field: "/", Message: err.Error()}}
	}
	var out []FieldIssue
	for _, unit := range verr.BasicOutput().Errors {
		if unit.Error == nil {
			continue
		}
		field := unit.InstanceLocation
		if field == "" {
			field = "/"
		}
		out = append(out, FieldIssue{Field: field, Message: unit.Error.String()})
	}
	if len(out) == 0 {
		out = append(out, FieldIssue{Field: "/", Message: verr.Error()})
	}
	return out
}
