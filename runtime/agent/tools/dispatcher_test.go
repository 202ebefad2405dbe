package tools_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/symposium/runtime/agent/model"
	"goa.design/symposium/runtime/agent/stream"
	"goa.design/symposium/runtime/agent/tools"
)

type todoTool struct {
	mu       sync.Mutex
	created  []string
	deny     map[string]bool
	always   []string
	delays   map[string]time.Duration
	panicked bool
}

func (t *todoTool) Name() string { return "todos" }

func (t *todoTool) Functions(context.Context) ([]*model.FunctionDefinition, error) {
	obj := func(props map[string]any, required ...string) map[string]any {
		schema := map[string]any{"type": "object"}
		if props != nil {
			schema["properties"] = props
		}
		if len(required) > 0 {
			schema["required"] = required
		}
		return schema
	}
	title := map[string]any{"title": map[string]any{"type": "string"}}
	return []*model.FunctionDefinition{
		{Name: "create_todo", Description: "Create a todo", Parameters: obj(title, "title")},
		{Name: "delete_todo", Description: "Delete a todo", Parameters: obj(title, "title")},
		{Name: "explode", Parameters: obj(nil)},
	}, nil
}

func (t *todoTool) Call(_ context.Context, _ *model.Thread, name string, args map[string]any) (any, error) {
	title, _ := args["title"].(string)
	if d := t.delays[title]; d > 0 {
		time.Sleep(d)
	}
	switch name {
	case "create_todo":
		t.mu.Lock()
		t.created = append(t.created, title)
		t.mu.Unlock()
		return map[string]any{"created": title}, nil
	case "delete_todo":
		return nil, errors.New("todo is locked")
	default:
		panic("boom")
	}
}

func (t *todoTool) Authorize(_ context.Context, _ *model.Thread, call model.ToolCall) (bool, error) {
	return !t.deny[call.Name], nil
}

func (t *todoTool) AuthorizeAlways(_ context.Context, _ *model.Thread, call model.ToolCall) error {
	t.always = append(t.always, call.Name)
	return nil
}

type otherTool struct{}

func (otherTool) Name() string { return "other" }
func (otherTool) Functions(context.Context) ([]*model.FunctionDefinition, error) {
	return []*model.FunctionDefinition{{Name: "create_todo", Parameters: map[string]any{"type": "object"}}}, nil
}
func (otherTool) Call(context.Context, *model.Thread, string, map[string]any) (any, error) {
	return nil, nil
}

func TestFunctionsRejectsCollisions(t *testing.T) {
	d := tools.NewDispatcher(&todoTool{}, otherTool{})
	_, err := d.Functions(context.Background())
	require.True(t, model.IsValidationError(err))
}

func TestLookup(t *testing.T) {
	tool := &todoTool{}
	d := tools.NewDispatcher(tool)
	got, err := d.Lookup(context.Background(), "create_todo")
	require.NoError(t, err)
	require.Same(t, tool, got)
	_, err = d.Lookup(context.Background(), "missing")
	require.True(t, model.IsValidationError(err))
}

func TestDispatchKeepsCallOrderAndIsolatesFailures(t *testing.T) {
	tool := &todoTool{delays: map[string]time.Duration{"first": 30 * time.Millisecond}}
	d := tools.NewDispatcher(tool)
	ch := stream.NewChannel("t1")
	calls := []model.ToolCall{
		{ID: "1", Name: "create_todo", Arguments: map[string]any{"title": "first"}},
		{ID: "2", Name: "create_todo", Arguments: map[string]any{"title": "second"}},
		{ID: "3", Name: "delete_todo", Arguments: map[string]any{"title": "x"}},
		{ID: "4", Name: "explode", Arguments: map[string]any{}},
		{ID: "5", Name: "create_todo", Arguments: map[string]any{"title": 7}},
	}

	results := d.Dispatch(context.Background(), model.NewThread("t1", "a"), calls, ch)

	require.Len(t, results, 5)
	require.Equal(t, map[string]any{"created": "first"}, results[0])
	require.Equal(t, map[string]any{"created": "second"}, results[1])
	require.Equal(t, tools.ErrorResponse("todo is locked"), results[2])
	require.Contains(t, results[3].(map[string]any)["error"], "panicked")
	require.Contains(t, results[4].(map[string]any)["error"], "invalid arguments for create_todo")
	require.ElementsMatch(t, []string{"first", "second"}, tool.created)

	require.Equal(t, 5, ch.Buffered(stream.EventToolInvoked))
	require.Equal(t, 5, ch.Buffered(stream.EventToolResponded))
	var failed int
	ch.Subscribe(stream.EventToolResponded, func(e stream.Event) {
		if e.Payload.(stream.ToolRespondedPayload).Error != "" {
			failed++
		}
	})
	require.Equal(t, 3, failed)
}

func TestAuthorizeAndStandingApproval(t *testing.T) {
	ctx := context.Background()
	tool := &todoTool{deny: map[string]bool{"delete_todo": true}}
	d := tools.NewDispatcher(tool)
	thread := model.NewThread("t1", "a")
	calls := []model.ToolCall{
		{ID: "1", Name: "create_todo", Arguments: map[string]any{"title": "a"}},
		{ID: "2", Name: "delete_todo", Arguments: map[string]any{"title": "a"}},
	}

	pending, err := d.Authorize(ctx, thread, calls)
	require.NoError(t, err)
	require.Equal(t, []model.ToolCall{calls[1]}, pending)

	require.NoError(t, d.ApproveAlways(ctx, thread, pending))
	require.Equal(t, []string{"delete_todo"}, tool.always)
	require.True(t, tools.StandingApproved(thread, "delete_todo"))

	// Approvals survive persistence.
	raw, err := json.Marshal(thread.Record())
	require.NoError(t, err)
	var rec model.Record
	require.NoError(t, json.Unmarshal(raw, &rec))
	restored := model.ThreadFromRecord("t1", "a", &rec)

	pending, err = d.Authorize(ctx, restored, calls)
	require.NoError(t, err)
	require.Empty(t, pending)

	_, err = d.Authorize(ctx, restored, []model.ToolCall{{Name: "missing"}})
	require.True(t, model.IsValidationError(err))
}

func TestCompileParameters(t *testing.T) {
	_, err := tools.CompileParameters(&model.FunctionDefinition{Name: "f", Parameters: map[string]any{"type": "string"}})
	require.True(t, model.IsValidationError(err))

	_, err = tools.CompileParameters(&model.FunctionDefinition{Name: "f", Parameters: map[string]any{
		"type":       "object",
		"properties": map[string]any{"a": map[string]any{"type": "nope"}},
	}})
	require.True(t, model.IsValidationError(err))

	schema, err := tools.CompileParameters(&model.FunctionDefinition{Name: "f", Parameters: map[string]any{
		"type":       "object",
		"properties": map[string]any{"n": map[string]any{"type": "integer"}},
		"required":   []string{"n"},
	}})
	require.NoError(t, err)
	require.NoError(t, tools.ValidateArguments("f", schema, map[string]any{"n": 3}))

	err = tools.ValidateArguments("f", schema, map[string]any{})
	var argErr *tools.ArgumentError
	require.ErrorAs(t, err, &argErr)
	require.NotEmpty(t, argErr.Issues)
}
