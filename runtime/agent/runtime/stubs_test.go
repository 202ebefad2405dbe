package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/symposium/runtime/agent/model"
	"goa.design/symposium/runtime/agent/stream"
)

var testModel = model.Descriptor{Name: "test-model", Provider: "test", MaxTokens: 1000, Tools: true}

type (
	reply struct {
		msgs []*model.Message
		err  error
	}

	scriptedAdapter struct {
		mu       sync.Mutex
		replies  []reply
		requests []*model.Request
		tokens   func([]*model.Message) int
	}

	todoTool struct {
		mu        sync.Mutex
		authorize bool
		calls     []map[string]any
		always    []string
	}

	stubTranscriber struct {
		prompts []string
	}
)

func (s *scriptedAdapter) Generate(_ context.Context, req *model.Request) ([]*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.replies) == 0 {
		return nil, errors.New("no scripted reply")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r.msgs, r.err
}

func (s *scriptedAdapter) CountTokens(_ context.Context, _ model.Descriptor, msgs []*model.Message) (int, error) {
	if s.tokens == nil {
		return 0, nil
	}
	return s.tokens(msgs), nil
}

func (s *scriptedAdapter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *scriptedAdapter) request(i int) *model.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

func (t *todoTool) Name() string { return "todos" }

func (t *todoTool) Functions(context.Context) ([]*model.FunctionDefinition, error) {
	return []*model.FunctionDefinition{createTodo()}, nil
}

func (t *todoTool) Call(_ context.Context, _ *model.Thread, _ string, args map[string]any) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, args)
	return map[string]any{"success": true}, nil
}

func (t *todoTool) Authorize(context.Context, *model.Thread, model.ToolCall) (bool, error) {
	return t.authorize, nil
}

func (t *todoTool) AuthorizeAlways(_ context.Context, _ *model.Thread, call model.ToolCall) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.always = append(t.always, call.Name)
	return nil
}

func (t *todoTool) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func (s *stubTranscriber) Transcribe(_ context.Context, _ model.AudioPart, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return "hello from audio", nil
}

func createTodo() *model.FunctionDefinition {
	return &model.FunctionDefinition{
		Name:        "create_todo",
		Description: "Create a todo",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"title": map[string]any{"type": "string"}},
			"required":   []any{"title"},
		},
	}
}

func text(s string) reply {
	return reply{msgs: []*model.Message{model.TextMessage(model.RoleAssistant, s)}}
}

func call(id, name string, args map[string]any) reply {
	return reply{msgs: []*model.Message{{
		Role:  model.RoleAssistant,
		Parts: []model.Part{model.ToolCallsPart{Calls: []model.ToolCall{{ID: id, Name: name, Arguments: args}}}},
	}}}
}

func failure(status int) reply {
	return reply{err: model.NewTransportError("test", "generate", status, "unavailable", nil)}
}

// newTestAgent returns an agent on adapter whose retry pauses are counted
// instead of slept.
func newTestAgent(t *testing.T, adapter model.Adapter, opts Options) (*Agent, *int) {
	t.Helper()
	reg := model.NewRegistry()
	desc := testModel
	if opts.DefaultModel != "" {
		desc.Name = opts.DefaultModel
	}
	require.NoError(t, reg.Register(desc, adapter))
	opts.Registry = reg
	opts.DefaultModel = desc.Name
	a, err := New(opts)
	require.NoError(t, err)
	pauses := 0
	a.sleep = func(context.Context, time.Duration) error {
		pauses++
		return nil
	}
	return a, &pauses
}

// events waits for the turn on ch and returns the events of type name.
func events(t *testing.T, ch *stream.Channel, name stream.EventType) []stream.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ch.Wait(ctx))
	var out []stream.Event
	ch.Subscribe(name, func(e stream.Event) { out = append(out, e) })
	return out
}
