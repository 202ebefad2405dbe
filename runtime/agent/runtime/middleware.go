package runtime

import (
	"context"
	"errors"
	"fmt"

	"goa.design/symposium/runtime/agent/model"
	"goa.design/symposium/runtime/agent/runlog"
)

type (
	// Middleware intercepts the turn loop. Each hook reports whether the
	// turn proceeds; returning false ends the turn without error. Hooks run
	// in registration order except AfterExecute, which runs in reverse.
	Middleware interface {
		// BeforeAdd runs before the input message is appended to the
		// thread. msg is nil when the turn has no input. The thread is not
		// modified when the turn stops here.
		BeforeAdd(ctx context.Context, thread *model.Thread, msg *model.Message) (bool, error)
		// BeforeExecute runs once per turn after the thread is compressed
		// and before the first completion request. The thread is persisted
		// when the turn stops here.
		BeforeExecute(ctx context.Context, thread *model.Thread) (bool, error)
		// AfterExecute runs after each completion has been classified. msgs
		// are the messages the model produced. Stopping here skips the
		// completion request that would have followed the function
		// responses.
		AfterExecute(ctx context.Context, thread *model.Thread, msgs []*model.Message) (bool, error)
	}

	// MiddlewareFuncs adapts functions to Middleware. Nil fields proceed.
	MiddlewareFuncs struct {
		BeforeAddFunc     func(ctx context.Context, thread *model.Thread, msg *model.Message) (bool, error)
		BeforeExecuteFunc func(ctx context.Context, thread *model.Thread) (bool, error)
		AfterExecuteFunc  func(ctx context.Context, thread *model.Thread, msgs []*model.Message) (bool, error)
	}
)

// ErrStopped is returned by Run when a middleware stopped the turn before
// the model produced a value.
var ErrStopped = errors.New("turn stopped by middleware")

// WithMiddleware appends middleware to the agent.
func WithMiddleware(m ...Middleware) Option {
	return func(o *Options) { o.Middleware = append(o.Middleware, m...) }
}

// BeforeAdd implements Middleware.
func (m MiddlewareFuncs) BeforeAdd(ctx context.Context, thread *model.Thread, msg *model.Message) (bool, error) {
	if m.BeforeAddFunc == nil {
		return true, nil
	}
	return m.BeforeAddFunc(ctx, thread, msg)
}

// BeforeExecute implements Middleware.
func (m MiddlewareFuncs) BeforeExecute(ctx context.Context, thread *model.Thread) (bool, error) {
	if m.BeforeExecuteFunc == nil {
		return true, nil
	}
	return m.BeforeExecuteFunc(ctx, thread)
}

// AfterExecute implements Middleware.
func (m MiddlewareFuncs) AfterExecute(ctx context.Context, thread *model.Thread, msgs []*model.Message) (bool, error) {
	if m.AfterExecuteFunc == nil {
		return true, nil
	}
	return m.AfterExecuteFunc(ctx, thread, msgs)
}

// add runs the BeforeAdd hooks and appends msg when they all proceed.
func (a *Agent) add(ctx context.Context, t *turn, msg *model.Message) error {
	for _, m := range a.middleware {
		ok, err := m.BeforeAdd(ctx, t.thread, msg)
		if err != nil {
			return fmt.Errorf("before add: %w", err)
		}
		if !ok {
			t.stopped = true
			return nil
		}
	}
	if msg != nil {
		t.thread.AddMessage(msg)
		a.log(ctx, t, runlog.EventUserMessage, map[string]any{"content": contentOf(msg)})
	}
	return nil
}

func (a *Agent) middlewareBeforeExecute(ctx context.Context, t *turn) error {
	for _, m := range a.middleware {
		ok, err := m.BeforeExecute(ctx, t.thread)
		if err != nil {
			return fmt.Errorf("before execute: %w", err)
		}
		if !ok {
			t.stopped = true
			return a.persist(ctx, t.thread)
		}
	}
	return nil
}

// middlewareAfterExecute runs the AfterExecute hooks in reverse order and
// reports whether the turn proceeds.
func (a *Agent) middlewareAfterExecute(ctx context.Context, t *turn, msgs []*model.Message) (bool, error) {
	for i := len(a.middleware) - 1; i >= 0; i-- {
		ok, err := a.middleware[i].AfterExecute(ctx, t.thread, msgs)
		if err != nil {
			return false, fmt.Errorf("after execute: %w", err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
