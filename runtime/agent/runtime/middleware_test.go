package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/symposium/runtime/agent/model"
	"goa.design/symposium/runtime/agent/stream"
	"goa.design/symposium/runtime/agent/tools"
)

// recorder appends the hooks it sees to a shared trace.
type recorder struct {
	mu    *sync.Mutex
	trace *[]string
}

func (r recorder) middleware(name string) MiddlewareFuncs {
	record := func(hook string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		*r.trace = append(*r.trace, name+"."+hook)
	}
	return MiddlewareFuncs{
		BeforeAddFunc: func(context.Context, *model.Thread, *model.Message) (bool, error) {
			record("before_add")
			return true, nil
		},
		BeforeExecuteFunc: func(context.Context, *model.Thread) (bool, error) {
			record("before_execute")
			return true, nil
		},
		AfterExecuteFunc: func(context.Context, *model.Thread, []*model.Message) (bool, error) {
			record("after_execute")
			return true, nil
		},
	}
}

func TestMiddlewareOrder(t *testing.T) {
	var trace []string
	r := recorder{mu: &sync.Mutex{}, trace: &trace}
	adapter := &scriptedAdapter{replies: []reply{
		call("call_1", "create_todo", map[string]any{"title": "x"}),
		text("Done"),
	}}
	a, _ := newTestAgent(t, adapter, Options{
		Tools:      []tools.Tool{&todoTool{authorize: true}},
		Middleware: []Middleware{r.middleware("a"), r.middleware("b")},
	})

	ch, err := a.Chat(context.Background(), "t1", "add x")
	require.NoError(t, err)
	require.Empty(t, events(t, ch, stream.EventError))
	require.Equal(t, []string{
		"a.before_add", "b.before_add",
		"a.before_execute", "b.before_execute",
		"b.after_execute", "a.after_execute",
		"b.after_execute", "a.after_execute",
	}, trace)
}

func TestMiddlewareBeforeAddStops(t *testing.T) {
	adapter := &scriptedAdapter{replies: []reply{text("Hi")}}
	var seen *model.Message
	a, _ := newTestAgent(t, adapter, Options{}.withMiddleware(MiddlewareFuncs{
		BeforeAddFunc: func(_ context.Context, _ *model.Thread, msg *model.Message) (bool, error) {
			seen = msg
			return false, nil
		},
	}))

	ch, err := a.Chat(context.Background(), "t1", "/help")
	require.NoError(t, err)
	require.Empty(t, events(t, ch, stream.EventError))
	require.Empty(t, events(t, ch, stream.EventOutput))
	require.NotNil(t, seen)
	require.Equal(t, "/help", seen.Text())
	require.Equal(t, 0, adapter.calls())

	thread, err := a.Thread(context.Background(), "t1")
	require.NoError(t, err)
	require.Empty(t, thread.Messages)

	_, err = a.Run(context.Background(), "t2", "/help")
	require.ErrorIs(t, err, ErrStopped)
	require.Equal(t, 0, adapter.calls())
}

func TestMiddlewareBeforeExecuteStops(t *testing.T) {
	adapter := &scriptedAdapter{replies: []reply{text("Hi")}}
	a, _ := newTestAgent(t, adapter, Options{}.withMiddleware(MiddlewareFuncs{
		BeforeExecuteFunc: func(_ context.Context, thread *model.Thread) (bool, error) {
			thread.SetState(map[string]any{"handled": true})
			return false, nil
		},
	}))

	ch, err := a.Chat(context.Background(), "t1", "Hello")
	require.NoError(t, err)
	require.Empty(t, events(t, ch, stream.EventError))
	require.Equal(t, 0, adapter.calls())

	thread, err := a.Thread(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, thread.Messages, 1)
	require.Equal(t, "Hello", thread.Messages[0].Text())
	require.Equal(t, true, thread.State["handled"])

	_, err = a.Run(context.Background(), "t2", "Hello")
	require.ErrorIs(t, err, ErrStopped)
	require.Equal(t, 0, adapter.calls())
}

func TestMiddlewareAfterExecuteStopsFunctionLoop(t *testing.T) {
	adapter := &scriptedAdapter{replies: []reply{
		call("call_1", "create_todo", map[string]any{"title": "x"}),
		text("Done"),
	}}
	todos := &todoTool{authorize: true}
	var produced [][]*model.Message
	stop := MiddlewareFuncs{
		AfterExecuteFunc: func(_ context.Context, _ *model.Thread, msgs []*model.Message) (bool, error) {
			produced = append(produced, msgs)
			return false, nil
		},
	}
	a, _ := newTestAgent(t, adapter, Options{
		Tools:      []tools.Tool{todos},
		Middleware: []Middleware{stop},
	})

	ch, err := a.Chat(context.Background(), "t1", "add x")
	require.NoError(t, err)
	require.Empty(t, events(t, ch, stream.EventError))
	require.Equal(t, 1, adapter.calls())
	require.Equal(t, 1, todos.callCount())
	require.Len(t, produced, 1)
	require.Len(t, produced[0][0].ToolCalls(), 1)

	thread, err := a.Thread(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, thread.Messages, 3)
	require.Equal(t, model.RoleTool, thread.Messages[2].Role)
}

func TestMiddlewareAfterExecuteKeepsResponse(t *testing.T) {
	adapter := &scriptedAdapter{replies: []reply{text("42")}}
	a, _ := newTestAgent(t, adapter, Options{}.withMiddleware(MiddlewareFuncs{
		AfterExecuteFunc: func(context.Context, *model.Thread, []*model.Message) (bool, error) {
			return false, nil
		},
	}))

	v, err := a.Run(context.Background(), "t1", "answer")
	require.NoError(t, err)
	require.Equal(t, "42", v)
}

func TestMiddlewareErrorFailsTurn(t *testing.T) {
	adapter := &scriptedAdapter{replies: []reply{text("Hi")}}
	boom := errors.New("boom")
	a, _ := newTestAgent(t, adapter, Options{}.withMiddleware(MiddlewareFuncs{
		BeforeAddFunc: func(context.Context, *model.Thread, *model.Message) (bool, error) {
			return false, boom
		},
	}))

	ch, err := a.Chat(context.Background(), "t1", "Hello")
	require.NoError(t, err)
	errs := events(t, ch, stream.EventError)
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Payload.(stream.ErrorPayload).Message, "boom")
	require.Equal(t, 0, adapter.calls())
}

func (o Options) withMiddleware(m ...Middleware) Options {
	WithMiddleware(m...)(&o)
	return o
}
