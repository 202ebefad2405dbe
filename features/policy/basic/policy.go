// Package basic provides a tool gate that enforces optional allow and block
// lists on the functions a tool exposes and requires user confirmation for
// selected functions. It covers the common case where deployments want
// lightweight filtering without writing a bespoke Authorizer for each tool.
package basic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"goa.design/symposium/runtime/agent/model"
	"goa.design/symposium/runtime/agent/tools"
)

// Options configures a Gate.
type Options struct {
	// AllowFunctions restricts the tool to these functions. Empty means no
	// allowlist.
	AllowFunctions []string
	// BlockFunctions hides these functions. Takes precedence over
	// AllowFunctions.
	BlockFunctions []string
	// ConfirmFunctions lists the functions whose calls require user
	// confirmation. Calls to other functions defer to the wrapped tool when
	// it implements tools.Authorizer.
	ConfirmFunctions []string
}

// Gate wraps a tool with allow, block and confirmation lists. It implements
// tools.Tool, tools.Authorizer and tools.StandingAuthorizer.
type Gate struct {
	tool    tools.Tool
	allow   map[string]struct{}
	block   map[string]struct{}
	confirm map[string]struct{}
}

var (
	_ tools.Tool               = (*Gate)(nil)
	_ tools.Authorizer         = (*Gate)(nil)
	_ tools.StandingAuthorizer = (*Gate)(nil)
)

// New wraps tool using the supplied options.
func New(tool tools.Tool, opts Options) (*Gate, error) {
	if tool == nil {
		return nil, errors.New("policy: tool is required")
	}
	return &Gate{
		tool:    tool,
		allow:   toSet(opts.AllowFunctions),
		block:   toSet(opts.BlockFunctions),
		confirm: toSet(opts.ConfirmFunctions),
	}, nil
}

// Name implements tools.Tool.
func (g *Gate) Name() string { return g.tool.Name() }

// Functions returns the functions of the wrapped tool that pass the allow
// and block lists.
func (g *Gate) Functions(ctx context.Context) ([]*model.FunctionDefinition, error) {
	fns, err := g.tool.Functions(ctx)
	if err != nil {
		return nil, err
	}
	filtered := make([]*model.FunctionDefinition, 0, len(fns))
	for _, fn := range fns {
		if g.isAllowed(fn.Name) {
			filtered = append(filtered, fn)
		}
	}
	return filtered, nil
}

// Call implements tools.Tool. Calls to filtered functions fail.
func (g *Gate) Call(ctx context.Context, thread *model.Thread, name string, args map[string]any) (any, error) {
	if !g.isAllowed(name) {
		return nil, fmt.Errorf("function %q is not allowed", name)
	}
	return g.tool.Call(ctx, thread, name, args)
}

// Authorize implements tools.Authorizer.
func (g *Gate) Authorize(ctx context.Context, thread *model.Thread, call model.ToolCall) (bool, error) {
	if _, ok := g.confirm[call.Name]; ok {
		return false, nil
	}
	if auth, ok := g.tool.(tools.Authorizer); ok {
		return auth.Authorize(ctx, thread, call)
	}
	return true, nil
}

// AuthorizeAlways implements tools.StandingAuthorizer by forwarding to the
// wrapped tool when it cares.
func (g *Gate) AuthorizeAlways(ctx context.Context, thread *model.Thread, call model.ToolCall) error {
	if sa, ok := g.tool.(tools.StandingAuthorizer); ok {
		return sa.AuthorizeAlways(ctx, thread, call)
	}
	return nil
}

func (g *Gate) isAllowed(name string) bool {
	if _, blocked := g.block[name]; blocked {
		return false
	}
	if len(g.allow) > 0 {
		_, ok := g.allow[name]
		return ok
	}
	return true
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}
