package textcall

import (
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/symposium/runtime/agent/model"
)

var createTodo = &model.FunctionDefinition{
	Name:        "create_todo",
	Description: "Create a todo item",
	Parameters: map[string]any{
		"type":       "object",
		"properties": map[string]any{"title": map[string]any{"type": "string"}},
	},
}

func TestPromptIsDeterministic(t *testing.T) {
	p1 := Prompt([]*model.FunctionDefinition{createTodo}, "")
	p2 := Prompt([]*model.FunctionDefinition{createTodo}, "")
	require.Equal(t, p1, p2)
	require.Contains(t, p1, "- name: create_todo")
	require.Contains(t, p1, "description: Create a todo item")
	require.NotContains(t, p1, "MUST")

	forced := Prompt([]*model.FunctionDefinition{createTodo}, "create_todo")
	require.Contains(t, forced, "You MUST call the function create_todo and nothing else")
}

func TestParseRoundTrip(t *testing.T) {
	calls := []model.ToolCall{
		{Name: "create_todo", Arguments: map[string]any{"title": "x"}},
		{Name: "list_todos", Arguments: map[string]any{}},
	}
	parts := Parse("Sure.\n\n" + RenderCalls(calls))
	require.Len(t, parts, 2)
	require.Equal(t, model.TextPart{Text: "Sure."}, parts[0])
	got := parts[1].(model.ToolCallsPart).Calls
	require.Len(t, got, 2)
	for i := range calls {
		require.Equal(t, calls[i].Name, got[i].Name)
		require.Equal(t, calls[i].Arguments, got[i].Arguments)
		require.NotEmpty(t, got[i].ID)
	}
	require.NotEqual(t, got[0].ID, got[1].ID)

	again := Parse("Sure.\n\n" + RenderCalls(calls))
	require.Equal(t, parts, again)
}

func TestParseKeepsMalformedBlocksAsText(t *testing.T) {
	text := "```CALL \ncreate_todo\n{not json}\n```"
	require.Equal(t, []model.Part{model.TextPart{Text: text}}, Parse(text))
	require.Nil(t, Parse(""))
	require.Equal(t, []model.Part{model.TextPart{Text: "plain"}}, Parse("plain"))
}

func TestApply(t *testing.T) {
	msgs := []*model.Message{
		model.TextMessage(model.RoleSystem, "be brief"),
		model.TextMessage(model.RoleUser, "add x"),
		{Role: model.RoleAssistant, Parts: []model.Part{model.ToolCallsPart{Calls: []model.ToolCall{{ID: "c1", Name: "create_todo", Arguments: map[string]any{"title": "x"}}}}}},
		{Role: model.RoleTool, Name: "create_todo", Parts: []model.Part{model.ToolResultPart{ID: "c1", Name: "create_todo", Response: map[string]any{"success": true}}}},
	}
	req := &model.Request{
		Model:         model.Descriptor{Name: "deepseek-reasoner"},
		Messages:      msgs,
		Functions:     []*model.FunctionDefinition{createTodo},
		ForceFunction: "create_todo",
	}
	out := Apply(req)
	require.Empty(t, out.Functions)
	require.Empty(t, out.ForceFunction)
	require.Len(t, out.Messages, 5)
	require.Equal(t, model.RoleSystem, out.Messages[1].Role)
	require.Contains(t, out.Messages[1].Text(), "You MUST call the function create_todo")
	require.Equal(t, "```CALL \ncreate_todo\n{\"title\":\"x\"}\n```", out.Messages[3].Text())
	require.Equal(t, model.RoleUser, out.Messages[4].Role)
	require.Equal(t, "FUNCTION RESPONSE:\n{\"success\":true}", out.Messages[4].Text())

	// The original request is untouched.
	require.Len(t, req.Messages, 4)
	require.IsType(t, model.ToolCallsPart{}, req.Messages[2].Parts[0])

	native := &model.Request{Model: model.Descriptor{Tools: true}, Functions: req.Functions}
	require.Same(t, native, Apply(native))
}
