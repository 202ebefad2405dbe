// Package bedrock provides a model.Adapter implementation backed by the AWS
// Bedrock Converse API. It splits system and conversational messages, encodes
// function schemas into Bedrock's ToolConfiguration and translates Converse
// responses (text, reasoning and tool_use blocks) back into model messages.
package bedrock

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"goa.design/symposium/features/model/textcall"
	"goa.design/symposium/runtime/agent/model"
	"goa.design/symposium/runtime/agent/telemetry"
)

const provider = "bedrock"

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client required
// by the adapter. It matches *bedrockruntime.Client so callers can pass either
// the real client or a mock in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	CountTokens(ctx context.Context, params *bedrockruntime.CountTokensInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.CountTokensOutput, error)
}

// Options configures the Bedrock client adapter.
type Options struct {
	// Runtime provides access to the Bedrock runtime. Required.
	Runtime RuntimeClient

	// MaxTokens sets the completion cap when a request does not specify
	// MaxOutputTokens. When zero Bedrock uses its own default.
	MaxTokens int

	// Logger is used for non-fatal diagnostics. Defaults to a no-op logger.
	Logger telemetry.Logger
}

// Client implements model.Adapter on top of AWS Bedrock Converse.
type Client struct {
	runtime RuntimeClient
	maxTok  int
	logger  telemetry.Logger
}

type requestParts struct {
	messages    []brtypes.Message
	system      []brtypes.SystemContentBlock
	toolConfig  *brtypes.ToolConfiguration
	provToCanon map[string]string
	emulated    bool
}

// New initializes a Bedrock backed adapter.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Client{runtime: opts.Runtime, maxTok: opts.MaxTokens, logger: logger}, nil
}

// NewFromConfig builds an adapter on a runtime client created from cfg.
func NewFromConfig(cfg aws.Config, opts Options) (*Client, error) {
	opts.Runtime = bedrockruntime.NewFromConfig(cfg)
	return New(opts)
}

// Generate issues a Converse request and translates the response into a
// single assistant message.
func (c *Client) Generate(ctx context.Context, req *model.Request) ([]*model.Message, error) {
	parts, err := c.prepareRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:    aws.String(req.Model.Name),
		Messages:   parts.messages,
		ToolConfig: parts.toolConfig,
	}
	if len(parts.system) > 0 {
		input.System = parts.system
	}
	maxTokens := c.maxTok
	if req.MaxOutputTokens > 0 {
		maxTokens = req.MaxOutputTokens
	}
	if maxTokens > 0 {
		input.InferenceConfig = &brtypes.InferenceConfiguration{MaxTokens: aws.Int32(int32(maxTokens))}
	}
	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return nil, wrapBedrockError("converse", err)
	}
	msg, err := translateResponse(output, parts.provToCanon)
	if err != nil {
		return nil, err
	}
	if parts.emulated {
		textcall.ParseMessages([]*model.Message{msg})
	}
	return []*model.Message{msg}, nil
}

// CountTokens asks Bedrock for the input token count of msgs as a Converse
// request.
func (c *Client) CountTokens(ctx context.Context, desc model.Descriptor, msgs []*model.Message) (int, error) {
	req := &model.Request{Model: desc, Messages: msgs}
	parts, err := c.prepareRequest(ctx, req)
	if err != nil {
		return 0, err
	}
	out, err := c.runtime.CountTokens(ctx, &bedrockruntime.CountTokensInput{
		ModelId: aws.String(desc.Name),
		Input: &brtypes.CountTokensInputMemberConverse{Value: brtypes.ConverseTokensRequest{
			Messages: parts.messages,
			System:   parts.system,
		}},
	})
	if err != nil {
		return 0, wrapBedrockError("count_tokens", err)
	}
	return int(aws.ToInt32(out.InputTokens)), nil
}

func (c *Client) prepareRequest(ctx context.Context, req *model.Request) (*requestParts, error) {
	if len(req.Messages) == 0 {
		return nil, model.NewValidationError("messages are required")
	}
	if req.Model.Name == "" {
		return nil, model.NewValidationError("model identifier is required")
	}
	if req.ResponseFormat != nil {
		return nil, model.NewValidationError("model %q does not support structured output", req.Model.Name)
	}
	parts := &requestParts{emulated: textcall.Needed(req)}
	if parts.emulated {
		req = textcall.Apply(req)
	}
	cfg, canonToProv, provToCanon, err := c.encodeTools(ctx, req)
	if err != nil {
		return nil, err
	}
	msgs, system, err := encodeMessages(req.Messages, canonToProv, req.Model)
	if err != nil {
		return nil, err
	}
	parts.messages = msgs
	parts.system = system
	parts.toolConfig = cfg
	parts.provToCanon = provToCanon
	return parts, nil
}

func encodeMessages(msgs []*model.Message, nameMap map[string]string, desc model.Descriptor) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	conversation := make([]brtypes.Message, 0, len(msgs))
	system := make([]brtypes.SystemContentBlock, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == model.RoleSystem {
			if text := m.Text(); text != "" {
				system = append(system, &brtypes.SystemContentBlockMemberText{Value: text})
			}
			continue
		}
		blocks := make([]brtypes.ContentBlock, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				if v.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v.Text})
				}
			case model.ReasoningPart:
				if m.Role != model.RoleAssistant || v.Provider != provider || v.Signature == "" || v.Text == "" {
					continue
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberReasoningContent{
					Value: &brtypes.ReasoningContentBlockMemberReasoningText{
						Value: brtypes.ReasoningTextBlock{
							Text:      aws.String(v.Text),
							Signature: aws.String(v.Signature),
						},
					},
				})
			case model.ImagePart:
				block, err := encodeImage(v)
				if err != nil {
					return nil, nil, err
				}
				blocks = append(blocks, block)
			case model.AudioPart:
				if v.Transcription == "" {
					return nil, nil, model.NewValidationError("model %q does not accept audio and the audio has no transcription", desc.Name)
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: textcall.TranscribedPrefix + v.Transcription})
			case model.ToolCallsPart:
				for _, call := range v.Calls {
					name := call.Name
					if sanitized, ok := nameMap[name]; ok {
						name = sanitized
					} else {
						name = SanitizeToolName(name)
					}
					blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
						Name:      aws.String(name),
						ToolUseId: aws.String(safeToolUseID(call.ID)),
						Input:     lazyDocument(call.Arguments),
					}})
				}
			case model.ToolResultPart:
				tr := brtypes.ToolResultBlock{ToolUseId: aws.String(safeToolUseID(v.ID))}
				if s, ok := v.Response.(string); ok {
					tr.Content = []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: s}}
				} else {
					tr.Content = []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberJson{Value: lazyDocument(v.Response)}}
				}
				if r, ok := v.Response.(map[string]any); ok {
					if _, failed := r["error"]; failed {
						tr.Status = brtypes.ToolResultStatusError
					}
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{Value: tr})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		role := brtypes.ConversationRoleUser
		if m.Role == model.RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		if n := len(conversation); n > 0 && conversation[n-1].Role == role {
			conversation[n-1].Content = append(conversation[n-1].Content, blocks...)
			continue
		}
		conversation = append(conversation, brtypes.Message{Role: role, Content: blocks})
	}
	if len(conversation) == 0 {
		return nil, nil, model.NewValidationError("at least one user or assistant message is required")
	}
	return conversation, system, nil
}

func encodeImage(p model.ImagePart) (brtypes.ContentBlock, error) {
	if p.Source != model.ImageBase64 {
		return nil, model.NewValidationError("bedrock only accepts inline images")
	}
	var format brtypes.ImageFormat
	switch strings.TrimPrefix(p.MIME, "image/") {
	case "png", "":
		format = brtypes.ImageFormatPng
	case "jpeg", "jpg":
		format = brtypes.ImageFormatJpeg
	case "gif":
		format = brtypes.ImageFormatGif
	case "webp":
		format = brtypes.ImageFormatWebp
	default:
		return nil, model.NewValidationError("unsupported image format %q", p.MIME)
	}
	data, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return nil, model.NewValidationError("image data is not valid base64: %v", err)
	}
	return &brtypes.ContentBlockMemberImage{Value: brtypes.ImageBlock{
		Format: format,
		Source: &brtypes.ImageSourceMemberBytes{Value: data},
	}}, nil
}

func (c *Client) encodeTools(ctx context.Context, req *model.Request) (*brtypes.ToolConfiguration, map[string]string, map[string]string, error) {
	if len(req.Functions) == 0 {
		if hasToolBlocks(req.Messages) {
			// Converse rejects tool blocks without a tool configuration.
			c.logger.Warn(ctx, "history contains function calls but no function is declared", "model", req.Model.Name)
		}
		return nil, nil, nil, nil
	}
	toolList := make([]brtypes.Tool, 0, len(req.Functions))
	canonToSan := make(map[string]string, len(req.Functions))
	sanToCanon := make(map[string]string, len(req.Functions))
	for _, def := range req.Functions {
		sanitized := SanitizeToolName(def.Name)
		if prev, ok := sanToCanon[sanitized]; ok && prev != def.Name {
			return nil, nil, nil, model.NewValidationError(
				"tool name %q sanitizes to %q which collides with %q", def.Name, sanitized, prev)
		}
		sanToCanon[sanitized] = def.Name
		canonToSan[def.Name] = sanitized
		schema := def.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		desc := def.Description
		if desc == "" {
			desc = def.Name
		}
		toolList = append(toolList, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
			Name:        aws.String(sanitized),
			Description: aws.String(desc),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: lazyDocument(schema)},
		}})
	}
	cfg := &brtypes.ToolConfiguration{Tools: toolList}
	if req.ForceFunction != "" {
		sanitized, ok := canonToSan[req.ForceFunction]
		if !ok {
			return nil, nil, nil, model.NewValidationError("forced function %q is not declared", req.ForceFunction)
		}
		cfg.ToolChoice = &brtypes.ToolChoiceMemberTool{Value: brtypes.SpecificToolChoice{Name: aws.String(sanitized)}}
	}
	return cfg, canonToSan, sanToCanon, nil
}

func translateResponse(output *bedrockruntime.ConverseOutput, nameMap map[string]string) (*model.Message, error) {
	if output == nil {
		return nil, model.NewTransportError(provider, "converse", 0, "response is nil", nil)
	}
	out := &model.Message{Role: model.RoleAssistant}
	msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return out, nil
	}
	for _, block := range msg.Value.Content {
		switch v := block.(type) {
		case *brtypes.ContentBlockMemberReasoningContent:
			if rt, ok := v.Value.(*brtypes.ReasoningContentBlockMemberReasoningText); ok {
				out.Parts = append(out.Parts, model.ReasoningPart{
					Text:      aws.ToString(rt.Value.Text),
					Signature: aws.ToString(rt.Value.Signature),
					Provider:  provider,
				})
			}
		case *brtypes.ContentBlockMemberText:
			if v.Value != "" {
				out.Parts = append(out.Parts, model.TextPart{Text: v.Value})
			}
		case *brtypes.ContentBlockMemberToolUse:
			name := aws.ToString(v.Value.Name)
			if canonical, ok := nameMap[name]; ok {
				name = canonical
			}
			out.AppendToolCall(model.ToolCall{
				ID:        aws.ToString(v.Value.ToolUseId),
				Name:      name,
				Arguments: decodeArguments(v.Value.Input),
			})
		}
	}
	return out, nil
}

func decodeArguments(doc document.Interface) map[string]any {
	args := map[string]any{}
	if doc == nil {
		return args
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil || len(data) == 0 {
		return args
	}
	if err := json.Unmarshal(data, &args); err != nil {
		return map[string]any{"raw": string(data)}
	}
	return args
}

// wrapBedrockError maps a Converse failure to a TransportError. Throttling
// codes are reported as HTTP 429 whatever the transport status.
func wrapBedrockError(operation string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var (
		status int
		body   = err.Error()
	)
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		body = apiErr.ErrorMessage()
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			status = http.StatusTooManyRequests
		}
	}
	return model.NewTransportError(provider, operation, status, body, err)
}

func lazyDocument(v any) document.Interface {
	return document.NewLazyDocument(&v)
}

func hasToolBlocks(msgs []*model.Message) bool {
	for _, m := range msgs {
		for _, p := range m.Parts {
			switch p.(type) {
			case model.ToolCallsPart, model.ToolResultPart:
				return true
			}
		}
	}
	return false
}
