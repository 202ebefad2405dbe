package runtime

import (
	"context"
	"errors"
	"fmt"

	"goa.design/symposium/runtime/agent/model"
	"goa.design/symposium/runtime/agent/session"
)

// Thread loads thread id, initializing and persisting it when it does not
// exist yet.
func (a *Agent) Thread(ctx context.Context, id string) (*model.Thread, error) {
	if id == "" {
		return nil, model.NewValidationError("thread id is required")
	}
	defer a.lock(id)()
	return a.load(ctx, id)
}

// Reset empties thread id, restores its default state, runs InitThread
// again and persists it. Standing approvals are dropped with the state.
func (a *Agent) Reset(ctx context.Context, id string) (*model.Thread, error) {
	if id == "" {
		return nil, model.NewValidationError("thread id is required")
	}
	defer a.lock(id)()
	thread, err := a.load(ctx, id)
	if err != nil {
		return nil, err
	}
	thread.Flush()
	if err := a.initialize(ctx, thread); err != nil {
		return nil, err
	}
	a.logger.Info(ctx, "thread reset", "agent", a.name, "thread", id)
	return thread, nil
}

// SetModel switches thread id to the model registered under name or label.
// Unknown models are rejected with a ValidationError.
func (a *Agent) SetModel(ctx context.Context, id, name string) (*model.Thread, error) {
	entry, err := a.registry.Lookup(name)
	if err != nil {
		return nil, model.NewValidationError("%v", err)
	}
	if id == "" {
		return nil, model.NewValidationError("thread id is required")
	}
	defer a.lock(id)()
	thread, err := a.load(ctx, id)
	if err != nil {
		return nil, err
	}
	thread.SetState(map[string]any{model.StateModel: entry.Descriptor.Name})
	if err := a.persist(ctx, thread); err != nil {
		return nil, err
	}
	return thread, nil
}

// load must be called with the thread lock held.
func (a *Agent) load(ctx context.Context, id string) (*model.Thread, error) {
	rec, err := a.store.Get(ctx, session.ThreadKey(a.name, id))
	if err == nil {
		return model.ThreadFromRecord(id, a.name, rec), nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("load thread %q: %w", id, err)
	}
	thread := model.NewThread(id, a.name)
	if err := a.initialize(ctx, thread); err != nil {
		return nil, err
	}
	return thread, nil
}

// initialize replaces the thread state with the default state, runs
// InitThread and persists the result.
func (a *Agent) initialize(ctx context.Context, thread *model.Thread) error {
	thread.State = a.defaultState()
	if a.initThread != nil {
		if err := a.initThread(ctx, thread); err != nil {
			return fmt.Errorf("init thread %q: %w", thread.ID, err)
		}
	}
	return a.persist(ctx, thread)
}

func (a *Agent) defaultState() map[string]any {
	return map[string]any{model.StateModel: a.defaultModel}
}

func (a *Agent) persist(ctx context.Context, thread *model.Thread) error {
	if err := a.store.Set(ctx, session.ThreadKey(a.name, thread.ID), thread.Record(), a.ttl); err != nil {
		return fmt.Errorf("persist thread %q: %w", thread.ID, err)
	}
	return nil
}

// entry resolves the model of thread.
func (a *Agent) entry(thread *model.Thread) (model.Entry, error) {
	name := thread.Model()
	if name == "" {
		name = a.defaultModel
	}
	e, err := a.registry.Lookup(name)
	if err != nil {
		return model.Entry{}, model.NewValidationError("thread %q: %v", thread.ID, err)
	}
	return e, nil
}
