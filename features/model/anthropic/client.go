// Package anthropic provides a model.Adapter implementation backed by the
// Anthropic Claude Messages API. It translates normalized requests into
// Messages calls using github.com/anthropics/anthropic-sdk-go and maps
// responses (text, tool use, thinking) back into model messages.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"goa.design/symposium/features/model/textcall"
	"goa.design/symposium/runtime/agent/model"
)

type (
	// MessagesClient captures the subset of the Anthropic SDK client used by the
	// adapter. It is satisfied by *sdk.MessageService so callers can pass either a
	// real client or a mock in tests.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
		CountTokens(ctx context.Context, body sdk.MessageCountTokensParams, opts ...option.RequestOption) (*sdk.MessageTokensCount, error)
	}

	// Options configures optional Anthropic adapter behavior.
	Options struct {
		// MaxTokens sets the completion cap when a request does not specify
		// MaxOutputTokens. Defaults to 4096.
		MaxTokens int

		// ThinkingBudget enables extended thinking with the given token budget
		// when positive. It must be at least 1024 and lower than the completion
		// cap. Thinking is disabled on requests that force a function since the
		// API rejects that combination.
		ThinkingBudget int64
	}

	// Client implements model.Adapter on top of Anthropic Claude Messages.
	Client struct {
		msg    MessagesClient
		maxTok int
		think  int64
	}
)

const (
	provider         = "anthropic"
	defaultMaxTokens = 4096
)

// New builds an Anthropic backed adapter from the provided Messages client
// and configuration options.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if opts.ThinkingBudget > 0 {
		if opts.ThinkingBudget < 1024 {
			return nil, fmt.Errorf("anthropic: thinking budget %d must be >= 1024", opts.ThinkingBudget)
		}
		if opts.ThinkingBudget >= int64(maxTokens) {
			return nil, fmt.Errorf("anthropic: thinking budget %d must be less than max_tokens %d", opts.ThinkingBudget, maxTokens)
		}
	}
	return &Client{msg: msg, maxTok: maxTokens, think: opts.ThinkingBudget}, nil
}

// NewFromAPIKey constructs an adapter using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, opts)
}

// Generate issues a Messages.New request and translates the response into a
// single assistant message.
func (c *Client) Generate(ctx context.Context, req *model.Request) ([]*model.Message, error) {
	params, provToCanon, emulated, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return nil, transportError("messages.new", err)
	}
	out, err := translateResponse(msg, provToCanon)
	if err != nil {
		return nil, err
	}
	if emulated {
		textcall.ParseMessages(out)
	}
	return out, nil
}

// CountTokens asks the Messages count_tokens endpoint for the size of msgs.
func (c *Client) CountTokens(ctx context.Context, desc model.Descriptor, msgs []*model.Message) (int, error) {
	conv, system, err := encodeMessages(msgs, nil, desc)
	if err != nil {
		return 0, err
	}
	params := sdk.MessageCountTokensParams{
		Model:    sdk.Model(desc.Name),
		Messages: conv,
	}
	if len(system) > 0 {
		params.System = sdk.MessageCountTokensParamsSystemUnion{OfTextBlockArray: system}
	}
	res, err := c.msg.CountTokens(ctx, params)
	if err != nil {
		return 0, transportError("messages.count_tokens", err)
	}
	return int(res.InputTokens), nil
}

func (c *Client) prepareRequest(req *model.Request) (*sdk.MessageNewParams, map[string]string, bool, error) {
	if len(req.Messages) == 0 {
		return nil, nil, false, model.NewValidationError("messages are required")
	}
	if req.Model.Name == "" {
		return nil, nil, false, model.NewValidationError("model identifier is required")
	}
	if req.ResponseFormat != nil {
		return nil, nil, false, model.NewValidationError("model %q does not support structured output", req.Model.Name)
	}
	emulated := textcall.Needed(req)
	if emulated {
		req = textcall.Apply(req)
	}
	tools, canonToProv, provToCanon, err := encodeTools(req.Functions)
	if err != nil {
		return nil, nil, false, err
	}
	msgs, system, err := encodeMessages(req.Messages, canonToProv, req.Model)
	if err != nil {
		return nil, nil, false, err
	}
	maxTokens := c.maxTok
	if req.MaxOutputTokens > 0 {
		maxTokens = req.MaxOutputTokens
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(req.Model.Name),
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if req.ForceFunction != "" {
		sanitized, ok := canonToProv[req.ForceFunction]
		if !ok {
			return nil, nil, false, model.NewValidationError("forced function %q is not declared", req.ForceFunction)
		}
		params.ToolChoice = sdk.ToolChoiceParamOfTool(sanitized)
	} else if c.think > 0 && int64(maxTokens) > c.think {
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(c.think)
	}
	return &params, provToCanon, emulated, nil
}

// encodeMessages converts msgs into the Messages conversation and system
// blocks. Tool results travel in user turns and consecutive turns of the same
// role are merged.
func encodeMessages(msgs []*model.Message, nameMap map[string]string, desc model.Descriptor) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	system := make([]sdk.TextBlockParam, 0, len(msgs))

	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Role == model.RoleSystem {
			if text := m.Text(); text != "" {
				system = append(system, sdk.TextBlockParam{Text: text})
			}
			continue
		}

		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case model.ToolCallsPart:
				for _, call := range v.Calls {
					name := call.Name
					if sanitized, ok := nameMap[name]; ok {
						name = sanitized
					}
					blocks = append(blocks, sdk.NewToolUseBlock(call.ID, call.Arguments, name))
				}
			case model.ToolResultPart:
				blocks = append(blocks, encodeToolResult(v))
			case model.ImagePart:
				if v.Source == model.ImageURL {
					blocks = append(blocks, sdk.NewImageBlock(sdk.URLImageSourceParam{URL: v.Data}))
					continue
				}
				mime := v.MIME
				if mime == "" {
					mime = "image/png"
				}
				blocks = append(blocks, sdk.NewImageBlockBase64(mime, v.Data))
			case model.AudioPart:
				if v.Transcription == "" {
					return nil, nil, model.NewValidationError("model %q does not accept audio and the audio has no transcription", desc.Name)
				}
				blocks = append(blocks, sdk.NewTextBlock(textcall.TranscribedPrefix+v.Transcription))
			case model.ReasoningPart:
				// Thinking blocks are only valid when replayed to the provider
				// that signed them.
				if m.Role != model.RoleAssistant || v.Provider != provider || v.Signature == "" {
					continue
				}
				blocks = append(blocks, sdk.NewThinkingBlock(v.Signature, v.Text))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		role := sdk.MessageParamRoleUser
		if m.Role == model.RoleAssistant {
			role = sdk.MessageParamRoleAssistant
		}
		if n := len(conversation); n > 0 && conversation[n-1].Role == role {
			conversation[n-1].Content = append(conversation[n-1].Content, blocks...)
			continue
		}
		conversation = append(conversation, sdk.MessageParam{Role: role, Content: blocks})
	}
	if len(conversation) == 0 {
		return nil, nil, model.NewValidationError("at least one user or assistant message is required")
	}
	return conversation, system, nil
}

func encodeToolResult(v model.ToolResultPart) sdk.ContentBlockParamUnion {
	var content string
	isErr := false
	switch c := v.Response.(type) {
	case nil:
		content = ""
	case string:
		content = c
	default:
		if m, ok := c.(map[string]any); ok {
			_, isErr = m["error"]
		}
		if data, err := json.Marshal(c); err == nil {
			content = string(data)
		}
	}
	return sdk.NewToolResultBlock(v.ID, content, isErr)
}

func encodeTools(defs []*model.FunctionDefinition) ([]sdk.ToolUnionParam, map[string]string, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil, nil
	}
	toolList := make([]sdk.ToolUnionParam, 0, len(defs))
	canonToSan := make(map[string]string, len(defs))
	sanToCanon := make(map[string]string, len(defs))

	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		sanitized := sanitizeToolName(def.Name)
		if prev, ok := sanToCanon[sanitized]; ok && prev != def.Name {
			return nil, nil, nil, model.NewValidationError(
				"tool name %q sanitizes to %q which collides with %q", def.Name, sanitized, prev)
		}
		sanToCanon[sanitized] = def.Name
		canonToSan[def.Name] = sanitized
		u := sdk.ToolUnionParamOfTool(toolInputSchema(def.Parameters), sanitized)
		if u.OfTool != nil && def.Description != "" {
			u.OfTool.Description = sdk.String(def.Description)
		}
		toolList = append(toolList, u)
	}
	return toolList, canonToSan, sanToCanon, nil
}

func toolInputSchema(schema map[string]any) sdk.ToolInputSchemaParam {
	if len(schema) == 0 {
		return sdk.ToolInputSchemaParam{}
	}
	return sdk.ToolInputSchemaParam{ExtraFields: schema}
}

// sanitizeToolName maps a function name to the characters allowed by
// Anthropic tool naming constraints by replacing any disallowed rune with '_'.
func sanitizeToolName(in string) string {
	out := make([]rune, 0, len(in))
	for _, r := range in {
		if (r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '_' || r == '-' {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	if len(out) > 64 {
		out = out[:64]
	}
	return string(out)
}

func translateResponse(msg *sdk.Message, nameMap map[string]string) ([]*model.Message, error) {
	if msg == nil {
		return nil, model.NewTransportError(provider, "messages.new", 0, "response message is nil", nil)
	}
	out := &model.Message{Role: model.RoleAssistant}
	for _, block := range msg.Content {
		switch block.Type {
		case "thinking":
			out.Parts = append(out.Parts, model.ReasoningPart{
				Text:      block.Thinking,
				Signature: block.Signature,
				Provider:  provider,
			})
		case "text":
			if block.Text != "" {
				out.Parts = append(out.Parts, model.TextPart{Text: block.Text})
			}
		case "tool_use":
			name := block.Name
			// A hallucinated name is surfaced as is so the dispatcher can
			// answer with an unknown function error.
			if canonical, ok := nameMap[name]; ok {
				name = canonical
			}
			args := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					args = map[string]any{"raw": string(block.Input)}
				}
			}
			out.AppendToolCall(model.ToolCall{ID: block.ID, Name: name, Arguments: args})
		}
	}
	return []*model.Message{out}, nil
}

func transportError(operation string, err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return model.NewTransportError(provider, operation, apiErr.StatusCode, apiErr.RawJSON(), err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return model.NewTransportError(provider, operation, 0, err.Error(), err)
}
