package openai

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"goa.design/symposium/runtime/agent/model"
)

// fallbackEncoding is used for models tiktoken does not know about, which
// includes every OpenAI compatible third party model.
const fallbackEncoding = "o200k_base"

// Tiktoken is a Tokenizer backed by tiktoken-go. Encoders are cached per
// name.
type Tiktoken struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
}

// NewTiktoken returns an empty tokenizer cache.
func NewTiktoken() *Tiktoken {
	return &Tiktoken{encoders: make(map[string]*tiktoken.Tiktoken)}
}

// Count implements Tokenizer. name is either a model name or an encoding
// name.
func (t *Tiktoken) Count(name, text string) (int, error) {
	enc, err := t.encoder(name)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

func (t *Tiktoken) encoder(name string) (*tiktoken.Tiktoken, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if enc, ok := t.encoders[name]; ok {
		return enc, nil
	}
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		enc, err = tiktoken.GetEncoding(name)
	}
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
	}
	if err != nil {
		return nil, err
	}
	t.encoders[name] = enc
	return enc, nil
}

// CountTokens counts the tokens of the text rendering of msgs. Non text parts
// are counted through their JSON encoding.
func (c *Client) CountTokens(_ context.Context, desc model.Descriptor, msgs []*model.Message) (int, error) {
	name := desc.Tokenizer
	if name == "" {
		name = desc.Name
	}
	return c.tokenizer.Count(name, renderForCount(msgs))
}

func renderForCount(msgs []*model.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		for _, p := range m.Parts {
			switch v := p.(type) {
			case model.TextPart:
				b.WriteString(v.Text)
			case model.AudioPart:
				b.WriteString(v.Transcription)
			case model.ImagePart:
				// Images are billed by tile and do not scale with the base64
				// payload.
				b.WriteString(v.Detail)
			default:
				raw, err := json.Marshal(p)
				if err == nil {
					b.Write(raw)
				}
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}
