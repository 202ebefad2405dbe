// Package sessiontest provides a conformance suite shared by session.Store
// implementations.
package sessiontest

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"goa.design/symposium/runtime/agent/model"
	"goa.design/symposium/runtime/agent/session"
)

// Run exercises store: missing keys, overwrites and a property based round
// trip of generated threads.
func Run(t *testing.T, store session.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		_, err := store.Get(ctx, session.ThreadKey("agent", "missing"))
		require.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("overwrite", func(t *testing.T) {
		key := session.ThreadKey("agent", "overwrite")
		first := &model.Record{State: map[string]any{model.StateModel: "gpt-4o"}, Messages: []*model.Message{
			model.TextMessage(model.RoleUser, "Hello"),
		}}
		require.NoError(t, store.Set(ctx, key, first, 0))
		second := &model.Record{State: map[string]any{model.StateModel: "grok-4"}}
		require.NoError(t, store.Set(ctx, key, second, time.Hour))
		got, err := store.Get(ctx, key)
		require.NoError(t, err)
		require.Equal(t, "grok-4", got.State[model.StateModel])
		require.Empty(t, got.Messages)
	})

	t.Run("round trip", func(t *testing.T) {
		params := gopter.DefaultTestParameters()
		params.MinSuccessfulTests = 25
		properties := gopter.NewProperties(params)
		seq := 0
		properties.Property("stored threads reload with identical messages", prop.ForAll(
			func(msgs []*model.Message) bool {
				seq++
				thread := model.NewThread(fmt.Sprintf("rt-%d", seq), "agent")
				thread.SetState(map[string]any{model.StateModel: "claude-4.5-sonnet", "authorized_functions": []any{"create_todo"}})
				for _, m := range msgs {
					thread.AddMessage(m)
				}
				key := session.ThreadKey(thread.Agent, thread.ID)
				if err := store.Set(ctx, key, thread.Record(), time.Hour); err != nil {
					t.Logf("set: %v", err)
					return false
				}
				rec, err := store.Get(ctx, key)
				if err != nil {
					t.Logf("get: %v", err)
					return false
				}
				loaded := model.ThreadFromRecord(thread.ID, thread.Agent, rec)
				return reflect.DeepEqual(thread.Messages, loaded.Messages) &&
					reflect.DeepEqual(thread.State, loaded.State)
			},
			gen.SliceOfN(5, Message()),
		))
		properties.TestingRun(t)
	})
}

// Message generates messages covering every content block type.
func Message() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf(model.RoleSystem, model.RoleUser, model.RoleAssistant, model.RoleTool),
		gen.SliceOfN(3, gen.AlphaString()),
		gen.IntRange(0, 5),
		gen.Bool(),
	).Map(func(vals []any) *model.Message {
		texts := vals[1].([]string)
		offset := vals[2].(int)
		m := &model.Message{Role: vals[0].(model.Role)}
		for i, text := range texts {
			m.Parts = append(m.Parts, part((i+offset)%6, text))
		}
		if vals[3].(bool) {
			m.Tags = []string{model.TagSummary}
		}
		return m
	})
}

func part(kind int, text string) model.Part {
	switch kind {
	case 0:
		return model.TextPart{Text: text}
	case 1:
		return model.ToolCallsPart{Calls: []model.ToolCall{{ID: "call-" + text, Name: "create_todo", Arguments: map[string]any{"title": text}}}}
	case 2:
		return model.ToolResultPart{ID: "call-" + text, Name: "create_todo", Response: map[string]any{"success": true}}
	case 3:
		return model.ImagePart{Source: model.ImageURL, Data: "https://example.com/" + text + ".png"}
	case 4:
		return model.AudioPart{MIME: "audio/mpeg", Data: "AAAA", Transcription: text}
	default:
		return model.ReasoningPart{Text: text, Signature: "sig", Provider: "anthropic"}
	}
}
