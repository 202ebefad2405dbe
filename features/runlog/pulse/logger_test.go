package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/symposium/runtime/agent/runlog"
)

func TestPublishWritesEntryToAgentStream(t *testing.T) {
	cli := newStubClient()
	l, err := New(Options{Client: cli})
	require.NoError(t, err)

	id, err := l.Publish(context.Background(), "assistant", runlog.EventFunctionCall, map[string]any{"name": "create_todo"})
	require.NoError(t, err)
	require.Equal(t, "1-0", id)

	str := cli.stream("agent/assistant")
	require.NotNil(t, str)
	require.Len(t, str.added, 1)
	require.Equal(t, "function_call", str.added[0].event)

	var entry runlog.Entry
	require.NoError(t, json.Unmarshal(str.added[0].payload, &entry))
	require.Equal(t, "assistant", entry.Agent)
	require.Equal(t, runlog.EventFunctionCall, entry.Type)
	require.JSONEq(t, `{"name":"create_todo"}`, string(entry.Payload))
	require.False(t, entry.Timestamp.IsZero())
}

func TestLogSwallowsPublishErrors(t *testing.T) {
	cli := newStubClient()
	cli.err = errors.New("redis down")
	logs := &recordingLogger{}
	l, err := New(Options{Client: cli, Logger: logs})
	require.NoError(t, err)

	l.Log(context.Background(), "assistant", runlog.EventError, map[string]string{"error": "x"})
	require.NoError(t, l.Close(context.Background()))
	require.Equal(t, []string{"run log publish failed"}, logs.warnings())
}

func TestCustomStreamID(t *testing.T) {
	cli := newStubClient()
	l, err := New(Options{Client: cli, StreamID: func(a string) string { return "custom/" + a }})
	require.NoError(t, err)
	l.Log(context.Background(), "bot", runlog.EventUserMessage, "hi")
	require.NoError(t, l.Close(context.Background()))
	require.NotNil(t, cli.stream("custom/bot"))
}

func TestPublishRequiresAgent(t *testing.T) {
	l, err := New(Options{Client: newStubClient()})
	require.NoError(t, err)
	_, err = l.Publish(context.Background(), "", runlog.EventUserMessage, "hi")
	require.Error(t, err)
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	_, err = NewSubscriber(SubscriberOptions{})
	require.Error(t, err)
}

func TestClose(t *testing.T) {
	cli := newStubClient()
	l, err := New(Options{Client: cli})
	require.NoError(t, err)
	require.NoError(t, l.Close(context.Background()))
	require.True(t, cli.closed)
}

func TestLogDoesNotWaitForPublish(t *testing.T) {
	cli := newStubClient()
	str := &stubStream{release: make(chan struct{})}
	cli.streams["agent/assistant"] = str
	l, err := New(Options{Client: cli})
	require.NoError(t, err)

	returned := make(chan struct{})
	go func() {
		l.Log(context.Background(), "assistant", runlog.EventUserMessage, "one")
		l.Log(context.Background(), "assistant", runlog.EventAIMessage, "two")
		l.Log(context.Background(), "assistant", runlog.EventFunctionCall, "three")
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Log blocked on a stalled stream")
	}
	require.Empty(t, str.events())

	close(str.release)
	require.NoError(t, l.Close(context.Background()))
	require.Equal(t, []string{"user_message", "ai_message", "function_call"}, str.events())
}

func TestLogAppliesPublishTimeout(t *testing.T) {
	cli := newStubClient()
	cli.streams["agent/assistant"] = &stubStream{release: make(chan struct{})}
	logs := &recordingLogger{}
	l, err := New(Options{Client: cli, Logger: logs, PublishTimeout: 10 * time.Millisecond})
	require.NoError(t, err)

	l.Log(context.Background(), "assistant", runlog.EventUserMessage, "hi")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, l.Close(ctx))
	require.Equal(t, []string{"run log publish failed"}, logs.warnings())
}

func TestLogDropsWhenQueueFull(t *testing.T) {
	cli := newStubClient()
	str := &stubStream{release: make(chan struct{})}
	cli.streams["agent/assistant"] = str
	logs := &recordingLogger{}
	l, err := New(Options{Client: cli, Logger: logs, QueueSize: 1})
	require.NoError(t, err)

	for range 5 {
		l.Log(context.Background(), "assistant", runlog.EventUserMessage, "hi")
	}
	close(str.release)
	require.NoError(t, l.Close(context.Background()))
	require.NotEmpty(t, logs.warnings())
	require.Contains(t, logs.warnings(), "run log queue full, entry dropped")
	require.Less(t, len(str.events()), 5)
}

func TestLogAfterCloseIsIgnored(t *testing.T) {
	cli := newStubClient()
	l, err := New(Options{Client: cli})
	require.NoError(t, err)
	require.NoError(t, l.Close(context.Background()))
	l.Log(context.Background(), "assistant", runlog.EventUserMessage, "late")
	require.Nil(t, cli.stream("agent/assistant"))
}

func TestPurgeDestroysAgentStream(t *testing.T) {
	cli := newStubClient()
	l, err := New(Options{Client: cli})
	require.NoError(t, err)
	_, err = l.Publish(context.Background(), "assistant", runlog.EventUserMessage, "hi")
	require.NoError(t, err)

	require.NoError(t, l.Purge(context.Background(), "assistant"))
	str := cli.stream("agent/assistant")
	require.Equal(t, 1, str.destroyed)
	require.Empty(t, str.events())
	require.Error(t, l.Purge(context.Background(), ""))
}
