package inmem

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/symposium/runtime/agent/runlog"
)

func TestStoreLogAndList(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	for i := range 3 {
		s.Log(ctx, "assistant", runlog.EventUserMessage, map[string]any{"n": i})
	}
	s.Log(ctx, "other", runlog.EventError, map[string]any{"error": "boom"})

	page1, err := s.List(ctx, "assistant", "", 2)
	require.NoError(t, err)
	require.Len(t, page1.Entries, 2)
	require.Equal(t, "1", page1.Entries[0].ID)
	require.Equal(t, "2", page1.Entries[1].ID)
	require.Equal(t, "2", page1.NextCursor)
	require.JSONEq(t, `{"n":0}`, string(page1.Entries[0].Payload))

	page2, err := s.List(ctx, "assistant", page1.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, page2.Entries, 1)
	require.Equal(t, "3", page2.Entries[0].ID)
	require.Empty(t, page2.NextCursor)

	other, err := s.List(ctx, "other", "", 10)
	require.NoError(t, err)
	require.Len(t, other.Entries, 1)
	require.Equal(t, runlog.EventError, other.Entries[0].Type)
}

func TestStoreListValidation(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	_, err := s.List(ctx, "", "", 10)
	require.Error(t, err)

	_, err = s.List(ctx, "a", "", 0)
	require.Error(t, err)

	_, err = s.List(ctx, "a", "not-an-int", 10)
	require.Error(t, err)
}

func TestStoreListeners(t *testing.T) {
	t.Parallel()

	s := New()
	var got []runlog.EventType
	cancel := s.Listen(func(e *runlog.Entry) { got = append(got, e.Type) })
	s.Log(context.Background(), "a", runlog.EventFunctionCall, nil)
	cancel()
	s.Log(context.Background(), "a", runlog.EventFunctionResponse, nil)
	require.Equal(t, []runlog.EventType{runlog.EventFunctionCall}, got)
}

func TestUnencodablePayload(t *testing.T) {
	t.Parallel()

	e := runlog.NewEntry("a", runlog.EventAIMessage, func() {}, New().now())
	var payload map[string]string
	require.NoError(t, json.Unmarshal(e.Payload, &payload))
	require.Contains(t, payload["error"], "unsupported type")
}
