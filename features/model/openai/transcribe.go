package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"goa.design/symposium/runtime/agent/model"
)

type (
	// TranscriptionClient captures the audio transcription endpoint.
	TranscriptionClient interface {
		New(ctx context.Context, body openai.AudioTranscriptionNewParams, opts ...option.RequestOption) (*openai.Transcription, error)
	}

	// Transcriber converts audio parts to text using an OpenAI speech to text
	// model.
	Transcriber struct {
		client   TranscriptionClient
		model    string
		provider string
	}
)

// DefaultTranscriptionModel is the model used when none is configured.
const DefaultTranscriptionModel = "gpt-4o-transcribe"

// NewTranscriber returns a transcriber using client and the given model.
func NewTranscriber(client TranscriptionClient, modelName string) (*Transcriber, error) {
	if client == nil {
		return nil, errors.New("transcription client is required")
	}
	if modelName == "" {
		modelName = DefaultTranscriptionModel
	}
	return &Transcriber{client: client, model: modelName, provider: "openai"}, nil
}

// NewTranscriberFromAPIKey builds a transcriber on the default HTTP client.
func NewTranscriberFromAPIKey(apiKey, modelName string) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return NewTranscriber(&c.Audio.Transcriptions, modelName)
}

// Transcribe returns the text spoken in audio. prompt optionally guides the
// model with context from the conversation.
func (t *Transcriber) Transcribe(ctx context.Context, audio model.AudioPart, prompt string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(audio.Data)
	if err != nil {
		return "", model.NewValidationError("audio data is not valid base64: %v", err)
	}
	mime := audio.MIME
	if mime == "" {
		mime = "audio/mpeg"
	}
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(data), "audio."+audioFormat(mime), mime),
		Model: openai.AudioModel(t.model),
	}
	if prompt != "" {
		params.Prompt = openai.String(prompt)
	}
	res, err := t.client.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", model.NewTransportError(t.provider, "transcription", apiErr.StatusCode, apiErr.Message, err)
		}
		return "", model.NewTransportError(t.provider, "transcription", 0, err.Error(), err)
	}
	if res == nil {
		return "", fmt.Errorf("transcription returned no result")
	}
	return res.Text, nil
}
