// Package openai provides a model.Adapter implementation backed by the OpenAI
// Chat Completions API. It translates normalized requests into chat
// completion calls using github.com/openai/openai-go and maps responses back
// to model messages.
//
// The same adapter serves every OpenAI compatible backend (DeepSeek, Grok,
// Groq, Ollama, ...): configure the base URL through NewFromAPIKey. Models
// without native function calling are driven through the textcall protocol.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"goa.design/symposium/features/model/textcall"
	"goa.design/symposium/runtime/agent/model"
)

type (
	// ChatClient captures the subset of the openai-go client used by the
	// adapter.
	ChatClient interface {
		New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	}

	// ImageClient captures the image generation endpoint used to emulate
	// image generation on chat models.
	ImageClient interface {
		Generate(ctx context.Context, body openai.ImageGenerateParams, opts ...option.RequestOption) (*openai.ImagesResponse, error)
	}

	// Tokenizer counts the tokens of text for a given encoding or model name.
	Tokenizer interface {
		Count(encoding, text string) (int, error)
	}

	// Options configures the OpenAI adapter.
	Options struct {
		// Client is the chat completion client. Required.
		Client ChatClient
		// Images generates images for models advertising ImageGeneration.
		// Optional.
		Images ImageClient
		// ImageModel is the image model used with Images. Defaults to
		// gpt-image-1.
		ImageModel string
		// Tokenizer counts tokens. Defaults to a tiktoken based tokenizer.
		Tokenizer Tokenizer
		// Provider names the backend in errors. Defaults to "openai".
		Provider string
	}

	// Client implements model.Adapter via the Chat Completions API.
	Client struct {
		chat       ChatClient
		images     ImageClient
		imageModel string
		tokenizer  Tokenizer
		provider   string
	}
)

const (
	// DefaultBaseURL is the OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"
	// DeepSeekBaseURL is the DeepSeek OpenAI compatible endpoint.
	DeepSeekBaseURL = "https://api.deepseek.com"
	// GrokBaseURL is the xAI OpenAI compatible endpoint.
	GrokBaseURL = "https://api.x.ai/v1"
	// GroqBaseURL is the Groq OpenAI compatible endpoint.
	GroqBaseURL = "https://api.groq.com/openai/v1"
	// OllamaBaseURL is the default local Ollama OpenAI compatible endpoint.
	OllamaBaseURL = "http://localhost:11434/v1"

	// GenerateImageFunction is the function exposed to chat models to request
	// an image when image generation is enabled.
	GenerateImageFunction = "generate_image"

	defaultImageModel = "gpt-image-1"
)

// New builds an OpenAI backed adapter from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	provider := opts.Provider
	if provider == "" {
		provider = "openai"
	}
	tok := opts.Tokenizer
	if tok == nil {
		tok = NewTiktoken()
	}
	imageModel := opts.ImageModel
	if imageModel == "" {
		imageModel = defaultImageModel
	}
	return &Client{
		chat:       opts.Client,
		images:     opts.Images,
		imageModel: imageModel,
		tokenizer:  tok,
		provider:   provider,
	}, nil
}

// NewFromAPIKey constructs an adapter using the default openai-go HTTP
// client. baseURL selects an OpenAI compatible backend; empty means OpenAI.
func NewFromAPIKey(provider, apiKey, baseURL string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	c := openai.NewClient(opts...)
	return New(Options{
		Client:   &c.Chat.Completions,
		Images:   &c.Images,
		Provider: provider,
	})
}

// Generate renders a chat completion for req.
func (c *Client) Generate(ctx context.Context, req *model.Request) ([]*model.Message, error) {
	if len(req.Messages) == 0 {
		return nil, model.NewValidationError("messages are required")
	}
	if req.ResponseFormat != nil && !req.Model.StructuredOutput {
		return nil, model.NewValidationError("model %q does not support structured output", req.Model.Name)
	}
	emulated := textcall.Needed(req)
	if req.ImageGeneration && req.Model.ImageGeneration && c.images != nil {
		req = withImageFunction(req)
	}
	if emulated {
		req = textcall.Apply(req)
	}

	params, err := c.encodeRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return nil, c.transportError("chat_completion", err)
	}
	if len(resp.Choices) == 0 {
		return nil, model.NewTransportError(c.provider, "chat_completion", 0, "response has no choices", nil)
	}

	msg := translateMessage(resp.Choices[0].Message, c.provider)
	if emulated {
		textcall.ParseMessages([]*model.Message{msg})
	}
	if err := c.generateImages(ctx, msg); err != nil {
		return nil, err
	}
	return []*model.Message{msg}, nil
}

func (c *Client) encodeRequest(req *model.Request) (openai.ChatCompletionNewParams, error) {
	msgs, err := encodeMessages(req.Messages, req.Model)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model.Name),
		Messages: msgs,
	}
	if req.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	if len(req.Functions) > 0 {
		params.Tools = encodeTools(req.Functions)
	}
	if req.ForceFunction != "" {
		if req.FunctionNamed(req.ForceFunction) == nil {
			return params, model.NewValidationError("forced function %q is not declared", req.ForceFunction)
		}
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: req.ForceFunction},
			},
		}
	}
	if rf := req.ResponseFormat; rf != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   rf.Name,
					Schema: rf.Schema,
					Strict: openai.Bool(rf.Strict),
				},
			},
		}
	}
	return params, nil
}

func encodeMessages(msgs []*model.Message, desc model.Descriptor) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for i, m := range msgs {
		switch m.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(m.Text()))
		case model.RoleUser:
			parts, err := encodeUserParts(m, desc)
			if err != nil {
				return nil, fmt.Errorf("message %d: %w", i, err)
			}
			out = append(out, openai.UserMessage(parts))
		case model.RoleAssistant:
			out = append(out, encodeAssistant(m))
		case model.RoleTool:
			for _, p := range m.Parts {
				res, ok := p.(model.ToolResultPart)
				if !ok {
					continue
				}
				out = append(out, openai.ToolMessage(textcall.RenderResponse(res.Response), res.ID))
			}
		default:
			return nil, model.NewValidationError("message %d: unsupported role %q", i, m.Role)
		}
	}
	return out, nil
}

func encodeUserParts(m *model.Message, desc model.Descriptor) ([]openai.ChatCompletionContentPartUnionParam, error) {
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch v := p.(type) {
		case model.TextPart:
			parts = append(parts, openai.TextContentPart(v.Text))
		case model.ImagePart:
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL:    imageURL(v),
				Detail: imageDetail(v.Detail),
			}))
		case model.AudioPart:
			if desc.Audio {
				parts = append(parts, openai.InputAudioContentPart(openai.ChatCompletionContentPartInputAudioInputAudioParam{
					Data:   v.Data,
					Format: audioFormat(v.MIME),
				}))
				continue
			}
			if v.Transcription == "" {
				return nil, model.NewValidationError("model %q does not accept audio and the audio has no transcription", desc.Name)
			}
			parts = append(parts, openai.TextContentPart(textcall.TranscribedPrefix+v.Transcription))
		case model.ReasoningPart:
			// Reasoning traces are never sent back to chat completion models.
		default:
			return nil, model.NewValidationError("unsupported user content %T", p)
		}
	}
	return parts, nil
}

func encodeAssistant(m *model.Message) openai.ChatCompletionMessageParamUnion {
	var asst openai.ChatCompletionAssistantMessageParam
	if text := m.Text(); text != "" {
		asst.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
	}
	for _, call := range m.ToolCalls() {
		args, err := json.Marshal(call.Arguments)
		if err != nil {
			args = []byte("{}")
		}
		asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: call.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      call.Name,
				Arguments: string(args),
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &asst}
}

func encodeTools(defs []*model.FunctionDefinition) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		params := def.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		fn := shared.FunctionDefinitionParam{
			Name:       def.Name,
			Parameters: shared.FunctionParameters(params),
		}
		if def.Description != "" {
			fn.Description = openai.String(def.Description)
		}
		tools = append(tools, openai.ChatCompletionToolParam{Function: fn})
	}
	return tools
}

// translateMessage converts a completion message into a single assistant
// message: reasoning first, then text, then the requested calls.
func translateMessage(msg openai.ChatCompletionMessage, provider string) *model.Message {
	out := &model.Message{Role: model.RoleAssistant}
	if reasoning := reasoningContent(msg.RawJSON()); reasoning != "" {
		out.Parts = append(out.Parts, model.ReasoningPart{Text: reasoning, Provider: provider})
	}
	if msg.Content != "" {
		out.Parts = append(out.Parts, model.TextPart{Text: msg.Content})
	} else if msg.Refusal != "" {
		out.Parts = append(out.Parts, model.TextPart{Text: msg.Refusal})
	}
	if len(msg.ToolCalls) > 0 {
		calls := make([]model.ToolCall, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			calls = append(calls, model.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: parseToolArguments(tc.Function.Arguments),
			})
		}
		out.Parts = append(out.Parts, model.ToolCallsPart{Calls: calls})
	}
	return out
}

// reasoningContent extracts the reasoning_content extension returned by
// DeepSeek style backends.
func reasoningContent(raw string) string {
	if raw == "" {
		return ""
	}
	var ext struct {
		ReasoningContent string `json:"reasoning_content"`
	}
	if err := json.Unmarshal([]byte(raw), &ext); err != nil {
		return ""
	}
	return ext.ReasoningContent
}

// parseToolArguments decodes the argument string of a call. Malformed
// arguments are surfaced under "raw" so the tool can report a useful error.
func parseToolArguments(raw string) map[string]any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
		return map[string]any{"raw": trimmed}
	}
	if args == nil {
		return map[string]any{}
	}
	return args
}

func (c *Client) transportError(operation string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		body := apiErr.Message
		if body == "" {
			body = apiErr.RawJSON()
		}
		return model.NewTransportError(c.provider, operation, apiErr.StatusCode, body, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return model.NewTransportError(c.provider, operation, 0, err.Error(), err)
}

func imageURL(p model.ImagePart) string {
	if p.Source == model.ImageURL {
		return p.Data
	}
	mime := p.MIME
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + p.Data
}

func imageDetail(detail string) string {
	switch detail {
	case "low", "high":
		return detail
	default:
		return "auto"
	}
}

func audioFormat(mime string) string {
	if strings.Contains(mime, "wav") {
		return "wav"
	}
	return "mp3"
}
