package basic_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/symposium/features/policy/basic"
	"goa.design/symposium/runtime/agent/model"
	"goa.design/symposium/runtime/agent/tools"
)

type fileTool struct {
	called []string
}

func (f *fileTool) Name() string { return "files" }

func (f *fileTool) Functions(context.Context) ([]*model.FunctionDefinition, error) {
	return []*model.FunctionDefinition{
		{Name: "read_file", Parameters: map[string]any{"type": "object"}},
		{Name: "write_file", Parameters: map[string]any{"type": "object"}},
		{Name: "delete_file", Parameters: map[string]any{"type": "object"}},
	}, nil
}

func (f *fileTool) Call(_ context.Context, _ *model.Thread, name string, _ map[string]any) (any, error) {
	f.called = append(f.called, name)
	return "ok", nil
}

func names(fns []*model.FunctionDefinition) []string {
	out := make([]string, len(fns))
	for i, fn := range fns {
		out[i] = fn.Name
	}
	return out
}

func TestGateFiltersFunctions(t *testing.T) {
	gate, err := basic.New(&fileTool{}, basic.Options{
		AllowFunctions: []string{"read_file", "delete_file"},
		BlockFunctions: []string{"delete_file"},
	})
	require.NoError(t, err)
	fns, err := gate.Functions(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"read_file"}, names(fns))
}

func TestGateRejectsBlockedCalls(t *testing.T) {
	inner := &fileTool{}
	gate, err := basic.New(inner, basic.Options{BlockFunctions: []string{" delete_file "}})
	require.NoError(t, err)
	_, err = gate.Call(context.Background(), model.NewThread("t", "assistant"), "delete_file", nil)
	require.Error(t, err)
	res, err := gate.Call(context.Background(), model.NewThread("t", "assistant"), "write_file", nil)
	require.NoError(t, err)
	require.Equal(t, "ok", res)
	require.Equal(t, []string{"write_file"}, inner.called)
}

func TestGateRequiresConfirmation(t *testing.T) {
	gate, err := basic.New(&fileTool{}, basic.Options{ConfirmFunctions: []string{"write_file"}})
	require.NoError(t, err)
	d := tools.NewDispatcher(gate)
	thread := model.NewThread("t", "assistant")
	pending, err := d.Authorize(context.Background(), thread, []model.ToolCall{
		{ID: "1", Name: "read_file"},
		{ID: "2", Name: "write_file"},
	})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "write_file", pending[0].Name)

	require.NoError(t, d.ApproveAlways(context.Background(), thread, pending))
	pending, err = d.Authorize(context.Background(), thread, []model.ToolCall{{ID: "3", Name: "write_file"}})
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestNewRequiresTool(t *testing.T) {
	_, err := basic.New(nil, basic.Options{})
	require.Error(t, err)
}
