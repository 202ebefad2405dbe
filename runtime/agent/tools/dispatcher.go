package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/sync/errgroup"

	"goa.design/symposium/runtime/agent/model"
	"goa.design/symposium/runtime/agent/stream"
)

type (
	// Dispatcher resolves function names to tools, runs the authorization
	// gate and executes calls. It is safe for concurrent use.
	Dispatcher struct {
		tools []Tool

		mu     sync.Mutex
		built  bool
		funcs  []*model.FunctionDefinition
		byName map[string]binding
	}

	// Emitter receives tool events. *stream.Channel implements it.
	Emitter interface {
		Emit(name stream.EventType, payload any)
	}

	binding struct {
		tool   Tool
		def    *model.FunctionDefinition
		schema *jsonschema.Schema
	}
)

// NewDispatcher returns a dispatcher serving the functions of tools.
func NewDispatcher(tools ...Tool) *Dispatcher {
	return &Dispatcher{tools: tools}
}

// Functions returns the function definitions of every tool. The table is
// built on first use; two tools exposing the same function name is a
// ValidationError.
func (d *Dispatcher) Functions(ctx context.Context) ([]*model.FunctionDefinition, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.built {
		return d.funcs, nil
	}
	var funcs []*model.FunctionDefinition
	byName := make(map[string]binding)
	for _, t := range d.tools {
		defs, err := t.Functions(ctx)
		if err != nil {
			return nil, fmt.Errorf("list functions of tool %q: %w", t.Name(), err)
		}
		for _, def := range defs {
			if prev, ok := byName[def.Name]; ok {
				return nil, model.NewValidationError("function %q is exposed by both %q and %q", def.Name, prev.tool.Name(), t.Name())
			}
			schema, err := CompileParameters(def)
			if err != nil {
				return nil, err
			}
			byName[def.Name] = binding{tool: t, def: def, schema: schema}
			funcs = append(funcs, def)
		}
	}
	d.funcs, d.byName, d.built = funcs, byName, true
	return funcs, nil
}

// Lookup returns the tool serving name.
func (d *Dispatcher) Lookup(ctx context.Context, name string) (Tool, error) {
	b, err := d.binding(ctx, name)
	if err != nil {
		return nil, err
	}
	return b.tool, nil
}

func (d *Dispatcher) binding(ctx context.Context, name string) (binding, error) {
	if _, err := d.Functions(ctx); err != nil {
		return binding{}, err
	}
	d.mu.Lock()
	b, ok := d.byName[name]
	d.mu.Unlock()
	if !ok {
		return binding{}, model.NewValidationError("unknown function %q", name)
	}
	return b, nil
}

// Authorize returns the calls that need confirmation before they can run.
// Calls approved for the rest of the thread and calls to tools that do not
// implement Authorizer are authorized.
func (d *Dispatcher) Authorize(ctx context.Context, thread *model.Thread, calls []model.ToolCall) ([]model.ToolCall, error) {
	var pending []model.ToolCall
	for _, call := range calls {
		b, err := d.binding(ctx, call.Name)
		if err != nil {
			return nil, err
		}
		if StandingApproved(thread, call.Name) {
			continue
		}
		auth, ok := b.tool.(Authorizer)
		if !ok {
			continue
		}
		allowed, err := auth.Authorize(ctx, thread, call)
		if err != nil {
			return nil, fmt.Errorf("authorize %s: %w", call.Name, err)
		}
		if !allowed {
			pending = append(pending, call)
		}
	}
	return pending, nil
}

// ApproveAlways records a standing approval for each call's function and
// notifies the tools implementing StandingAuthorizer.
func (d *Dispatcher) ApproveAlways(ctx context.Context, thread *model.Thread, calls []model.ToolCall) error {
	for _, call := range calls {
		b, err := d.binding(ctx, call.Name)
		if err != nil {
			return err
		}
		if sa, ok := b.tool.(StandingAuthorizer); ok {
			if err := sa.AuthorizeAlways(ctx, thread, call); err != nil {
				return fmt.Errorf("authorize %s: %w", call.Name, err)
			}
		}
		RecordStandingApproval(thread, call.Name)
	}
	return nil
}

// Dispatch runs calls concurrently and returns their responses in call
// order. A failed, panicking or invalid call yields {"error": message}
// without affecting its siblings. emit may be nil.
func (d *Dispatcher) Dispatch(ctx context.Context, thread *model.Thread, calls []model.ToolCall, emit Emitter) []any {
	results := make([]any, len(calls))
	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			if emit != nil {
				emit.Emit(stream.EventToolInvoked, stream.ToolInvokedPayload{Call: call})
			}
			res, err := d.call(ctx, thread, call)
			payload := stream.ToolRespondedPayload{Call: call, Response: res}
			if err != nil {
				res = ErrorResponse(err.Error())
				payload.Response, payload.Error = res, err.Error()
			}
			results[i] = res
			if emit != nil {
				emit.Emit(stream.EventToolResponded, payload)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Dispatcher) call(ctx context.Context, thread *model.Thread, call model.ToolCall) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("function %s panicked: %v", call.Name, r)
		}
	}()
	b, err := d.binding(ctx, call.Name)
	if err != nil {
		return nil, err
	}
	if err := ValidateArguments(call.Name, b.schema, call.Arguments); err != nil {
		return nil, err
	}
	return b.tool.Call(ctx, thread, call.Name, call.Arguments)
}

// ErrorResponse is the response recorded for a failed call.
func ErrorResponse(msg string) map[string]any {
	return map[string]any{"error": msg}
}
