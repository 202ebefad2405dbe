package openai_test

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/require"

	openaimodel "goa.design/symposium/features/model/openai"
	"goa.design/symposium/runtime/agent/model"
)

type stubTranscriptions struct {
	params openai.AudioTranscriptionNewParams
	audio  []byte
	err    error
}

func (s *stubTranscriptions) New(_ context.Context, body openai.AudioTranscriptionNewParams, _ ...option.RequestOption) (*openai.Transcription, error) {
	s.params = body
	data, err := io.ReadAll(body.File)
	if err != nil {
		return nil, err
	}
	s.audio = data
	if s.err != nil {
		return nil, s.err
	}
	return &openai.Transcription{Text: "hello there"}, nil
}

func TestTranscribe(t *testing.T) {
	stub := &stubTranscriptions{}
	tr, err := openaimodel.NewTranscriber(stub, "")
	require.NoError(t, err)

	audio := model.AudioPart{MIME: "audio/wav", Data: base64.StdEncoding.EncodeToString([]byte("RIFF"))}
	text, err := tr.Transcribe(context.Background(), audio, "assistant")
	require.NoError(t, err)
	require.Equal(t, "hello there", text)
	require.Equal(t, []byte("RIFF"), stub.audio)
	require.Equal(t, openai.AudioModel(openaimodel.DefaultTranscriptionModel), stub.params.Model)
	require.Equal(t, "assistant", stub.params.Prompt.Value)
}

func TestTranscribeRejectsInvalidAudio(t *testing.T) {
	tr, err := openaimodel.NewTranscriber(&stubTranscriptions{}, "whisper-1")
	require.NoError(t, err)
	_, err = tr.Transcribe(context.Background(), model.AudioPart{Data: "not base64!"}, "")
	require.True(t, model.IsValidationError(err))
}

func TestTranscribeMapsTransportErrors(t *testing.T) {
	tr, err := openaimodel.NewTranscriber(&stubTranscriptions{err: errors.New("connection reset")}, "whisper-1")
	require.NoError(t, err)
	_, err = tr.Transcribe(context.Background(), model.AudioPart{Data: base64.StdEncoding.EncodeToString([]byte("x"))}, "")
	te, ok := model.AsTransportError(err)
	require.True(t, ok)
	require.True(t, te.Retryable())
	require.Equal(t, "transcription", te.Operation())
}

func TestNewTranscriberRequiresClient(t *testing.T) {
	_, err := openaimodel.NewTranscriber(nil, "")
	require.Error(t, err)
}
