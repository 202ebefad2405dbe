// Package model defines the normalized conversation model shared by every
// Symposium component: messages, their content parts, threads, and the
// provider-agnostic adapter contract. Adapters (OpenAI, Anthropic, Bedrock,
// ...) translate these types into provider wire formats; the execution engine
// and the memory compressor only ever operate on this package's types.
package model

import (
	"encoding/json"
	"fmt"
)

type (
	// Role identifies the author of a message.
	Role string

	// Message is one conversational turn. Parts are ordered and the order is
	// significant: every transformation (adapters, compressor, persistence)
	// must preserve it.
	Message struct {
		// Role is the message author.
		Role Role
		// Parts is the ordered list of content blocks.
		Parts []Part
		// Name optionally correlates the message with a tool or function.
		Name string
		// Tags marks synthetic content (summaries, planned prompts) so it can
		// be located or removed later.
		Tags []string
	}

	// Part is a content block. The set of implementations is closed: TextPart,
	// ToolCallsPart, ToolResultPart, ImagePart, AudioPart and ReasoningPart.
	// Only adapters interpret part payloads; the engine dispatches on type.
	Part interface {
		// PartType returns the discriminator used in persisted JSON.
		PartType() PartType
	}

	// PartType is the JSON discriminator of a content block.
	PartType string

	// TextPart carries plain text.
	TextPart struct {
		Text string `json:"content"`
	}

	// ToolCallsPart carries the function calls requested by the model in a
	// single step.
	ToolCallsPart struct {
		Calls []ToolCall `json:"content"`
	}

	// ToolCall is a single function invocation requested by the model.
	ToolCall struct {
		// ID correlates the call with its ToolResultPart. Providers without
		// native call identifiers get a generated one.
		ID string `json:"id,omitempty"`
		// Name is the function name.
		Name string `json:"name"`
		// Arguments is the decoded JSON argument object.
		Arguments map[string]any `json:"arguments"`
	}

	// ToolResultPart carries the outcome of a function call. Response holds
	// either the tool's return value or an {"error": ...} object.
	ToolResultPart struct {
		ID       string `json:"id,omitempty"`
		Name     string `json:"name"`
		Response any    `json:"response"`
	}

	// ImagePart carries an inline (base64) or referenced (URL) image.
	ImagePart struct {
		Source ImageSource `json:"source"`
		MIME   string      `json:"mime,omitempty"`
		Data   string      `json:"data"`
		// Detail is the resolution hint forwarded to providers that accept one.
		Detail string `json:"detail,omitempty"`
		// Meta is set on images produced by a provider-side image generation
		// call so they can be sent back as the same call on the next turn.
		Meta *ImageMeta `json:"meta,omitempty"`
	}

	// ImageMeta describes a generated image.
	ImageMeta struct {
		ID     string `json:"id,omitempty"`
		Status string `json:"status,omitempty"`
		Prompt string `json:"prompt,omitempty"`
		Size   string `json:"size,omitempty"`
	}

	// ImageSource tells how ImagePart.Data must be interpreted.
	ImageSource string

	// AudioPart carries base64 encoded audio. Transcription is filled when the
	// audio has been transcribed so that backends without audio input can
	// still consume it.
	AudioPart struct {
		MIME          string `json:"mime"`
		Data          string `json:"data"`
		Transcription string `json:"transcription,omitempty"`
	}

	// ReasoningPart carries a model reasoning trace. Original and Signature
	// are opaque provider payloads kept for round-tripping.
	ReasoningPart struct {
		Text      string          `json:"content,omitempty"`
		Signature string          `json:"signature,omitempty"`
		Original  json.RawMessage `json:"original,omitempty"`
		Provider  string          `json:"provider,omitempty"`
	}
)

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

const (
	PartText       PartType = "text"
	PartToolCalls  PartType = "function"
	PartToolResult PartType = "function_response"
	PartImage      PartType = "image"
	PartAudio      PartType = "audio"
	PartReasoning  PartType = "reasoning"
)

const (
	// ImageBase64 means ImagePart.Data holds base64 encoded bytes.
	ImageBase64 ImageSource = "base64"
	// ImageURL means ImagePart.Data holds a URL.
	ImageURL ImageSource = "url"
)

// Tags used on synthetic messages.
const (
	TagSummary = "summary"
	TagPlanned = "planned"
)

func (TextPart) PartType() PartType       { return PartText }
func (ToolCallsPart) PartType() PartType  { return PartToolCalls }
func (ToolResultPart) PartType() PartType { return PartToolResult }
func (ImagePart) PartType() PartType      { return PartImage }
func (AudioPart) PartType() PartType      { return PartAudio }
func (ReasoningPart) PartType() PartType  { return PartReasoning }

// NewMessage builds a message from content. A string becomes a single
// TextPart, a Part is used as the single block and a []Part is used as given.
// Any other shape is rejected with a ValidationError.
func NewMessage(role Role, content any, tags ...string) (*Message, error) {
	if err := role.Validate(); err != nil {
		return nil, err
	}
	var parts []Part
	switch c := content.(type) {
	case string:
		parts = []Part{TextPart{Text: c}}
	case Part:
		parts = []Part{c}
	case []Part:
		parts = append(parts, c...)
	default:
		return nil, NewValidationError("unsupported message content of type %T", content)
	}
	return &Message{Role: role, Parts: parts, Tags: tags}, nil
}

// TextMessage is a convenience constructor for a single text block message.
func TextMessage(role Role, text string, tags ...string) *Message {
	return &Message{Role: role, Parts: []Part{TextPart{Text: text}}, Tags: tags}
}

// Validate returns a ValidationError if r is not a known role.
func (r Role) Validate() error {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return nil
	default:
		return NewValidationError("unknown role %q", string(r))
	}
}

// HasTag reports whether the message carries tag.
func (m *Message) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Text concatenates the text blocks of the message.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if t, ok := p.(TextPart); ok {
			out += t.Text
		}
	}
	return out
}

// ToolCalls returns the function calls requested by the message in order.
func (m *Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range m.Parts {
		if tc, ok := p.(ToolCallsPart); ok {
			calls = append(calls, tc.Calls...)
		}
	}
	return calls
}

// AppendToolCall adds c to the trailing ToolCallsPart of the message, or
// starts a new one when the last part is not a call list. Parts keep the
// order the model produced them in.
func (m *Message) AppendToolCall(c ToolCall) {
	if n := len(m.Parts); n > 0 {
		if tc, ok := m.Parts[n-1].(ToolCallsPart); ok {
			tc.Calls = append(tc.Calls, c)
			m.Parts[n-1] = tc
			return
		}
	}
	m.Parts = append(m.Parts, ToolCallsPart{Calls: []ToolCall{c}})
}

// Clone returns a copy of the message. Parts are immutable values and are
// shared.
func (m *Message) Clone() *Message {
	out := *m
	out.Parts = append([]Part(nil), m.Parts...)
	out.Tags = append([]string(nil), m.Tags...)
	return &out
}

// ExtractFunctionArguments returns the arguments of every function call found
// in msgs, in order.
func ExtractFunctionArguments(msgs []*Message) []map[string]any {
	var out []map[string]any
	for _, m := range msgs {
		for _, c := range m.ToolCalls() {
			out = append(out, c.Arguments)
		}
	}
	return out
}

func (p ToolCall) String() string {
	return fmt.Sprintf("%s(%s)", p.Name, p.ID)
}
