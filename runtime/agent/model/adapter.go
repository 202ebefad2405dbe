package model

import (
	"context"
)

type (
	// Adapter normalizes one backend family's wire protocol to and from the
	// shared message model. Implementations must be safe for concurrent use:
	// a single adapter serves every thread bound to its models.
	Adapter interface {
		// Generate sends the request to the backend and returns the normalized
		// assistant messages. Failures are reported as *TransportError (the
		// backend could not be reached or answered with an error status) or
		// *ValidationError (the request cannot be expressed for this model).
		Generate(ctx context.Context, req *Request) ([]*Message, error)

		// CountTokens returns the number of tokens msgs occupy in the given
		// model's context window, using the backend's own tokenization rules.
		CountTokens(ctx context.Context, model Descriptor, msgs []*Message) (int, error)
	}

	// Descriptor is the static capability record of a model.
	Descriptor struct {
		// Name is the identifier sent to the backend and the registry key.
		Name string `yaml:"name" json:"name"`
		// Label is a human friendly name used when selecting a model.
		Label string `yaml:"label,omitempty" json:"label,omitempty"`
		// Provider names the adapter family (openai, anthropic, bedrock, ...).
		Provider string `yaml:"provider" json:"provider"`
		// MaxTokens is the context window size.
		MaxTokens int `yaml:"tokens" json:"tokens"`
		// Tools reports native function calling support. When false adapters
		// emulate function calls through text.
		Tools bool `yaml:"tools,omitempty" json:"tools,omitempty"`
		// StructuredOutput reports support for schema constrained output.
		StructuredOutput bool `yaml:"structured_output,omitempty" json:"structured_output,omitempty"`
		// Audio reports support for inline audio input.
		Audio bool `yaml:"audio,omitempty" json:"audio,omitempty"`
		// ImageGeneration reports support for provider side image generation.
		ImageGeneration bool `yaml:"image_generation,omitempty" json:"image_generation,omitempty"`
		// Tokenizer optionally names the encoding used to count tokens when it
		// differs from Name.
		Tokenizer string `yaml:"tokenizer,omitempty" json:"tokenizer,omitempty"`
	}

	// Request is the normalized input of Adapter.Generate.
	Request struct {
		// Model is the descriptor of the target model.
		Model Descriptor
		// Messages is the ordered history.
		Messages []*Message
		// Functions lists the callable functions exposed to the model.
		Functions []*FunctionDefinition
		// ForceFunction, when set, requires the model to call exactly that
		// function.
		ForceFunction string
		// ResponseFormat, when set, constrains the text output to a JSON
		// schema. Only valid for models with StructuredOutput.
		ResponseFormat *ResponseFormat
		// ImageGeneration enables provider side image generation.
		ImageGeneration bool
		// MaxOutputTokens caps the completion length. Zero uses the adapter
		// default.
		MaxOutputTokens int
	}

	// FunctionDefinition describes a callable function with a JSON schema for
	// its parameters.
	FunctionDefinition struct {
		Name        string         `json:"name" yaml:"name"`
		Description string         `json:"description,omitempty" yaml:"description,omitempty"`
		Parameters  map[string]any `json:"parameters" yaml:"parameters"`
	}

	// ResponseFormat is a named, strict JSON schema output constraint.
	ResponseFormat struct {
		Name   string
		Schema map[string]any
		Strict bool
	}
)

// Supports reports whether the model can consume the given part without
// emulation.
func (d Descriptor) Supports(p Part) bool {
	switch p.(type) {
	case AudioPart:
		return d.Audio
	case ToolCallsPart, ToolResultPart:
		return d.Tools
	default:
		return true
	}
}

// FunctionNamed returns the function named name, or nil.
func (r *Request) FunctionNamed(name string) *FunctionDefinition {
	for _, f := range r.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}
