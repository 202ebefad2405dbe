// Package tools defines the tool contract and the dispatcher the engine uses
// to authorize and execute the function calls requested by a model.
package tools

import (
	"context"

	"goa.design/symposium/runtime/agent/model"
)

type (
	// Tool exposes one or more functions to the model.
	Tool interface {
		// Name identifies the tool in logs and errors.
		Name() string
		// Functions lists the functions the tool serves. It is called once,
		// the first time the dispatcher needs its function table.
		Functions(ctx context.Context) ([]*model.FunctionDefinition, error)
		// Call invokes the function name with decoded arguments. The returned
		// value must be JSON serializable.
		Call(ctx context.Context, thread *model.Thread, name string, args map[string]any) (any, error)
	}

	// Authorizer is implemented by tools that require approval before some
	// of their calls run.
	Authorizer interface {
		// Authorize reports whether call may run without confirmation.
		Authorize(ctx context.Context, thread *model.Thread, call model.ToolCall) (bool, error)
	}

	// StandingAuthorizer is implemented by tools that must be told when a
	// user approves a function for the rest of the thread.
	StandingAuthorizer interface {
		AuthorizeAlways(ctx context.Context, thread *model.Thread, call model.ToolCall) error
	}

	// Func adapts a function to a single function Tool.
	Func struct {
		Definition *model.FunctionDefinition
		Handler    func(ctx context.Context, thread *model.Thread, args map[string]any) (any, error)
	}
)

// Name implements Tool.
func (f *Func) Name() string { return f.Definition.Name }

// Functions implements Tool.
func (f *Func) Functions(context.Context) ([]*model.FunctionDefinition, error) {
	return []*model.FunctionDefinition{f.Definition}, nil
}

// Call implements Tool.
func (f *Func) Call(ctx context.Context, thread *model.Thread, _ string, args map[string]any) (any, error) {
	return f.Handler(ctx, thread, args)
}
