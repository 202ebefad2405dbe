package tools

import (
	"slices"

	"goa.design/symposium/runtime/agent/model"
)

// StateAuthorizedFunctions is the thread state key listing the functions
// the user approved for the rest of the thread.
const StateAuthorizedFunctions = "authorized_functions"

// StandingApproved reports whether name was approved for the rest of thread.
func StandingApproved(thread *model.Thread, name string) bool {
	return slices.Contains(approvedFunctions(thread), name)
}

// RecordStandingApproval adds name to the approved functions of thread.
func RecordStandingApproval(thread *model.Thread, name string) {
	names := approvedFunctions(thread)
	if slices.Contains(names, name) {
		return
	}
	names = append(names, name)
	slices.Sort(names)
	thread.SetState(map[string]any{StateAuthorizedFunctions: names})
}

// approvedFunctions reads the state value, which is a []string when set in
// process and a []any once the thread went through JSON.
func approvedFunctions(thread *model.Thread) []string {
	switch v := thread.State[StateAuthorizedFunctions].(type) {
	case []string:
		return slices.Clone(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
