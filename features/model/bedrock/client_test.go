package bedrock_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	"goa.design/symposium/features/model/bedrock"
	"goa.design/symposium/runtime/agent/model"
)

var claude = model.Descriptor{Name: "anthropic.claude-sonnet-4-5", Provider: "bedrock", MaxTokens: 200000, Tools: true}

func TestGenerate(t *testing.T) {
	mock := &mockRuntime{output: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role: brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{
				&brtypes.ContentBlockMemberText{Value: "hello"},
				&brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
					Name:      aws.String("todo_create"),
					ToolUseId: aws.String("tu1"),
					Input:     document.NewLazyDocument(&map[string]any{"title": "milk"}),
				}},
			},
		}},
		StopReason: brtypes.StopReasonToolUse,
	}}
	client, err := bedrock.New(bedrock.Options{Runtime: mock, MaxTokens: 512})
	require.NoError(t, err)

	msgs, err := client.Generate(context.Background(), &model.Request{
		Model: claude,
		Messages: []*model.Message{
			model.TextMessage(model.RoleSystem, "You are smart."),
			model.TextMessage(model.RoleUser, "hi"),
		},
		Functions: []*model.FunctionDefinition{{
			Name:        "todo.create",
			Description: "Create a todo",
			Parameters:  map[string]any{"type": "object"},
		}},
		ForceFunction: "todo.create",
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "hello", msgs[0].Text())
	calls := msgs[0].ToolCalls()
	require.Len(t, calls, 1)
	require.Equal(t, "todo.create", calls[0].Name)
	require.Equal(t, "tu1", calls[0].ID)
	require.Equal(t, "milk", calls[0].Arguments["title"])

	in := mock.converse
	require.Equal(t, "anthropic.claude-sonnet-4-5", aws.ToString(in.ModelId))
	require.Len(t, in.System, 1)
	require.Len(t, in.Messages, 1)
	require.Equal(t, int32(512), aws.ToInt32(in.InferenceConfig.MaxTokens))
	require.Len(t, in.ToolConfig.Tools, 1)
	spec := in.ToolConfig.Tools[0].(*brtypes.ToolMemberToolSpec).Value
	require.Equal(t, "todo_create", aws.ToString(spec.Name))
	choice := in.ToolConfig.ToolChoice.(*brtypes.ToolChoiceMemberTool).Value
	require.Equal(t, "todo_create", aws.ToString(choice.Name))
}

func TestGenerateEncodesToolHistory(t *testing.T) {
	mock := &mockRuntime{output: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: "done"}},
		}},
	}}
	client, err := bedrock.New(bedrock.Options{Runtime: mock})
	require.NoError(t, err)

	call := model.ToolCall{ID: "run/1/call", Name: "lookup", Arguments: map[string]any{"q": "go"}}
	_, err = client.Generate(context.Background(), &model.Request{
		Model: claude,
		Messages: []*model.Message{
			model.TextMessage(model.RoleUser, "search"),
			{Role: model.RoleAssistant, Parts: []model.Part{model.ToolCallsPart{Calls: []model.ToolCall{call}}}},
			{Role: model.RoleTool, Parts: []model.Part{model.ToolResultPart{ID: call.ID, Name: "lookup", Response: map[string]any{"error": "boom"}}}},
		},
		Functions: []*model.FunctionDefinition{{Name: "lookup", Parameters: map[string]any{"type": "object"}}},
	})
	require.NoError(t, err)
	msgs := mock.converse.Messages
	require.Len(t, msgs, 3)
	use := msgs[1].Content[0].(*brtypes.ContentBlockMemberToolUse).Value
	result := msgs[2].Content[0].(*brtypes.ContentBlockMemberToolResult).Value
	require.Equal(t, aws.ToString(use.ToolUseId), aws.ToString(result.ToolUseId))
	require.NotContains(t, aws.ToString(use.ToolUseId), "/")
	require.Equal(t, brtypes.ToolResultStatusError, result.Status)
}

func TestGenerateMapsThrottling(t *testing.T) {
	mock := &mockRuntime{err: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}}
	client, err := bedrock.New(bedrock.Options{Runtime: mock})
	require.NoError(t, err)
	_, err = client.Generate(context.Background(), &model.Request{
		Model:    claude,
		Messages: []*model.Message{model.TextMessage(model.RoleUser, "hi")},
	})
	te, ok := model.AsTransportError(err)
	require.True(t, ok)
	require.True(t, te.RateLimited())
	require.Equal(t, "slow down", te.Body())
}

func TestGenerateRejectsURLImages(t *testing.T) {
	client, err := bedrock.New(bedrock.Options{Runtime: &mockRuntime{}})
	require.NoError(t, err)
	_, err = client.Generate(context.Background(), &model.Request{
		Model: claude,
		Messages: []*model.Message{{Role: model.RoleUser, Parts: []model.Part{
			model.ImagePart{Source: model.ImageURL, Data: "https://example.com/cat.png"},
		}}},
	})
	require.True(t, model.IsValidationError(err))
}

func TestCountTokens(t *testing.T) {
	mock := &mockRuntime{tokens: 17}
	client, err := bedrock.New(bedrock.Options{Runtime: mock})
	require.NoError(t, err)
	n, err := client.CountTokens(context.Background(), claude, []*model.Message{model.TextMessage(model.RoleUser, "hi")})
	require.NoError(t, err)
	require.Equal(t, 17, n)
	require.Equal(t, claude.Name, aws.ToString(mock.count.ModelId))
}

func TestSanitizeToolName(t *testing.T) {
	require.Equal(t, "todo_create", bedrock.SanitizeToolName("todo.create"))
	long := bedrock.SanitizeToolName(string(make([]byte, 100)))
	require.Len(t, long, 64)
	require.NotEqual(t, bedrock.SanitizeToolName("a"+string(make([]byte, 100))), long)
}

type mockRuntime struct {
	output   *bedrockruntime.ConverseOutput
	err      error
	tokens   int32
	converse *bedrockruntime.ConverseInput
	count    *bedrockruntime.CountTokensInput
}

func (m *mockRuntime) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	m.converse = in
	if m.err != nil {
		return nil, m.err
	}
	if m.output == nil {
		return nil, errors.New("no output configured")
	}
	return m.output, nil
}

func (m *mockRuntime) CountTokens(_ context.Context, in *bedrockruntime.CountTokensInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.CountTokensOutput, error) {
	m.count = in
	return &bedrockruntime.CountTokensOutput{InputTokens: aws.Int32(m.tokens)}, nil
}

func TestGenerateKeepsBlockOrder(t *testing.T) {
	toolUse := func(id, name string) brtypes.ContentBlock {
		return &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
			Name:      aws.String(name),
			ToolUseId: aws.String(id),
			Input:     document.NewLazyDocument(&map[string]any{}),
		}}
	}
	mock := &mockRuntime{output: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role: brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{
				&brtypes.ContentBlockMemberText{Value: "first"},
				toolUse("tu1", "todo_create"),
				&brtypes.ContentBlockMemberText{Value: "then"},
				toolUse("tu2", "todo_list"),
				toolUse("tu3", "todo_list"),
			},
		}},
		StopReason: brtypes.StopReasonToolUse,
	}}
	client, err := bedrock.New(bedrock.Options{Runtime: mock})
	require.NoError(t, err)

	msgs, err := client.Generate(context.Background(), &model.Request{
		Model:    claude,
		Messages: []*model.Message{model.TextMessage(model.RoleUser, "hi")},
		Functions: []*model.FunctionDefinition{
			{Name: "todo.create", Parameters: map[string]any{"type": "object"}},
			{Name: "todo.list", Parameters: map[string]any{"type": "object"}},
		},
	})
	require.NoError(t, err)
	parts := msgs[0].Parts
	require.Len(t, parts, 4)
	require.Equal(t, model.TextPart{Text: "first"}, parts[0])
	require.Equal(t, []string{"tu1"}, callIDs(t, parts[1]))
	require.Equal(t, model.TextPart{Text: "then"}, parts[2])
	require.Equal(t, []string{"tu2", "tu3"}, callIDs(t, parts[3]))
	require.Equal(t, "todo.list", msgs[0].ToolCalls()[1].Name)
}

func callIDs(t *testing.T, p model.Part) []string {
	t.Helper()
	tc, ok := p.(model.ToolCallsPart)
	require.True(t, ok, "expected tool calls, got %T", p)
	ids := make([]string, len(tc.Calls))
	for i, c := range tc.Calls {
		ids[i] = c.ID
	}
	return ids
}
