package stream

import (
	"context"
	"errors"
	"sync"
)

type (
	// Channel is a named-event publish/subscribe primitive with buffering.
	// Emit delivers to the current subscribers of the event type, or queues
	// the event when there are none. Subscribe first flushes the queued events
	// of its type (in emission order) and then registers the handler for
	// future emissions.
	//
	// Channel is safe for concurrent use. Deliveries go through a single
	// queue drained by one goroutine at a time, so subscribers observe events
	// in emission order and handlers never run concurrently. The caller that
	// finds the queue idle drains it before returning; a caller that finds it
	// busy returns once its delivery is queued. Handlers may call Emit and
	// Subscribe on the channel that invokes them.
	Channel struct {
		threadID string

		mu       sync.Mutex
		subs     map[EventType][]*subscription
		buffer   map[EventType][]Event
		queue    []delivery
		draining bool
		closed   bool
		finished bool
		done     chan struct{}
		endOnce  sync.Once
	}

	// Subscription is returned by Subscribe. Close stops delivery to the
	// handler; it is idempotent.
	Subscription interface {
		Close() error
	}

	subscription struct {
		ch      *Channel
		name    EventType
		handler Handler
		once    sync.Once
	}

	// delivery is a batch of events for a set of handlers.
	delivery struct {
		events   []Event
		handlers []Handler
		// last marks the done event.
		last bool
	}
)

// ErrClosed is returned by Wait when the channel is closed before the turn
// completes.
var ErrClosed = errors.New("stream: channel closed")

// NewChannel returns an empty channel for the given thread.
func NewChannel(threadID string) *Channel {
	return &Channel{
		threadID: threadID,
		subs:     make(map[EventType][]*subscription),
		buffer:   make(map[EventType][]Event),
		done:     make(chan struct{}),
	}
}

// ThreadID returns the thread the channel streams.
func (c *Channel) ThreadID() string { return c.threadID }

// Emit publishes payload under name. Emit after Close is a no-op.
func (c *Channel) Emit(name EventType, payload any) {
	event := Event{Type: name, ThreadID: c.threadID, Payload: payload}

	c.mu.Lock()
	if c.closed || c.finished {
		c.mu.Unlock()
		return
	}
	d := delivery{events: []Event{event}, last: name == EventDone}
	for _, s := range c.subs[name] {
		d.handlers = append(d.handlers, s.handler)
	}
	if len(d.handlers) == 0 {
		c.buffer[name] = append(c.buffer[name], event)
	}
	if d.last {
		// No event can follow done: release the handlers but keep the
		// buffer for late subscribers.
		c.finished = true
		c.subs = make(map[EventType][]*subscription)
	}
	c.queue = append(c.queue, d)
	c.drain()
}

// Subscribe registers handler for name after flushing the buffered events of
// that type to it. The flushed events are removed from the buffer. Once the
// turn is done Subscribe only flushes.
func (c *Channel) Subscribe(name EventType, handler Handler) Subscription {
	s := &subscription{ch: c, name: name, handler: handler}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return s
	}
	pending := c.buffer[name]
	delete(c.buffer, name)
	if !c.finished {
		c.subs[name] = append(c.subs[name], s)
	}
	if len(pending) > 0 {
		c.queue = append(c.queue, delivery{events: pending, handlers: []Handler{handler}})
	}
	c.drain()
	return s
}

// drain delivers the queued batches unless another goroutine is already
// doing so. It must be called with c.mu held and releases it.
func (c *Channel) drain() {
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	var ended bool
	for len(c.queue) > 0 && !c.closed {
		d := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()
		for _, e := range d.events {
			for _, h := range d.handlers {
				h(e)
			}
		}
		ended = ended || d.last
		c.mu.Lock()
	}
	c.queue = nil
	c.draining = false
	c.mu.Unlock()
	if ended {
		c.endOnce.Do(func() { close(c.done) })
	}
}

// Forward subscribes sink to the given event types. Send errors are reported
// to onError when it is not nil.
func (c *Channel) Forward(ctx context.Context, sink Sink, onError func(error), names ...EventType) []Subscription {
	subs := make([]Subscription, 0, len(names))
	for _, name := range names {
		subs = append(subs, c.Subscribe(name, func(e Event) {
			if err := sink.Send(ctx, e); err != nil && onError != nil {
				onError(err)
			}
		}))
	}
	return subs
}

// Buffered returns the number of queued events for name.
func (c *Channel) Buffered(name EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer[name])
}

// Wait blocks until EventDone has been delivered, the channel is closed or
// ctx is done. Subscribe calls made after Wait returns nil deliver the
// remaining buffered events before returning.
func (c *Channel) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		c.mu.Lock()
		finished := c.finished
		c.mu.Unlock()
		if !finished {
			return ErrClosed
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed once the turn is over and its events have
// been delivered.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Close drops every subscriber, buffered event and pending delivery. The
// channel retains no handler references afterwards.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.subs = make(map[EventType][]*subscription)
	c.buffer = make(map[EventType][]Event)
	c.queue = nil
	c.closed = true
	c.mu.Unlock()
	c.endOnce.Do(func() { close(c.done) })
	return nil
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		c := s.ch
		c.mu.Lock()
		defer c.mu.Unlock()
		subs := c.subs[s.name]
		for i, cur := range subs {
			if cur == s {
				c.subs[s.name] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(c.subs[s.name]) == 0 {
			delete(c.subs, s.name)
		}
	})
	return nil
}
