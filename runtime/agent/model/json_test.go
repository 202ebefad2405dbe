package model

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestPartMarshalJSONIncludesType(t *testing.T) {
	cases := []struct {
		name string
		part Part
		typ  string
	}{
		{name: "text", part: TextPart{Text: "hello"}, typ: "text"},
		{name: "function", part: ToolCallsPart{Calls: []ToolCall{{ID: "c1", Name: "search", Arguments: map[string]any{"q": "golang"}}}}, typ: "function"},
		{name: "function_response", part: ToolResultPart{ID: "c1", Name: "search", Response: map[string]any{"hits": "1"}}, typ: "function_response"},
		{name: "image", part: ImagePart{Source: ImageURL, Data: "https://example.com/a.png"}, typ: "image"},
		{name: "audio", part: AudioPart{MIME: "audio/wav", Data: "AAAA"}, typ: "audio"},
		{name: "reasoning", part: ReasoningPart{Text: "think"}, typ: "reasoning"},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.part)
			require.NoError(t, err)
			var obj map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(raw, &obj))

			var typ string
			require.NoError(t, json.Unmarshal(obj["type"], &typ))
			require.Equal(t, tt.typ, typ)

			decoded, err := decodePart(raw)
			require.NoError(t, err)
			require.Equal(t, tt.part, decoded)
		})
	}
}

func TestMessageJSONShape(t *testing.T) {
	m := &Message{
		Role:  RoleTool,
		Name:  "create_todo",
		Parts: []Part{ToolResultPart{ID: "call-1", Name: "create_todo", Response: map[string]any{"success": true}}},
	}
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"role": "tool",
		"name": "create_todo",
		"tags": [],
		"content": [{"type": "function_response", "content": {"id": "call-1", "name": "create_todo", "response": {"success": true}}}]
	}`, string(raw))
}

func TestDecodeRejectsUnknownBlocks(t *testing.T) {
	_, err := decodePart([]byte(`{"type":"video","content":"x"}`))
	require.ErrorContains(t, err, "unknown content block type")

	_, err = decodePart([]byte(`{"content":"x"}`))
	require.Error(t, err)

	var m Message
	require.Error(t, json.Unmarshal([]byte(`{"role":"robot","content":[]}`), &m))
}

func TestRecordRoundTripPreservesOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("encode then decode yields identical messages", prop.ForAll(
		func(msgs []*Message) bool {
			rec := &Record{State: map[string]any{StateModel: "gpt-4o"}, Messages: msgs}
			raw, err := json.Marshal(rec)
			if err != nil {
				return false
			}
			var decoded Record
			if err := json.Unmarshal(raw, &decoded); err != nil {
				return false
			}
			if len(decoded.Messages) != len(msgs) {
				return false
			}
			for i := range msgs {
				if !reflect.DeepEqual(msgs[i], decoded.Messages[i]) {
					return false
				}
			}
			return decoded.State[StateModel] == "gpt-4o"
		},
		gen.SliceOfN(6, genMessage()),
	))

	properties.TestingRun(t)
}

func genMessage() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf(RoleSystem, RoleUser, RoleAssistant, RoleTool),
		gen.SliceOfN(4, gen.AlphaString()),
		gen.SliceOfN(2, gen.OneConstOf(TagSummary, TagPlanned, "reasoning")),
		gen.IntRange(0, 5),
	).Map(func(vals []any) *Message {
		texts := vals[1].([]string)
		offset := vals[3].(int)
		parts := make([]Part, 0, len(texts))
		for i, text := range texts {
			parts = append(parts, genPart((i+offset)%6, text))
		}
		return &Message{
			Role:  vals[0].(Role),
			Parts: parts,
			Tags:  vals[2].([]string),
		}
	})
}

func genPart(kind int, text string) Part {
	switch kind {
	case 0:
		return TextPart{Text: text}
	case 1:
		return ToolCallsPart{Calls: []ToolCall{{ID: "id-" + text, Name: "fn" + text, Arguments: map[string]any{"q": text}}}}
	case 2:
		return ToolResultPart{ID: "id-" + text, Name: "fn" + text, Response: map[string]any{"success": true, "echo": text}}
	case 3:
		return ImagePart{Source: ImageBase64, MIME: "image/png", Data: text}
	case 4:
		return AudioPart{MIME: "audio/mpeg", Data: text, Transcription: text}
	default:
		return ReasoningPart{Text: text}
	}
}
