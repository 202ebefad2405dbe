// Package pulse opens the goa.design/pulse streams that carry agent run logs.
// Stream handles are cached per name so the run log publisher, which opens
// the agent stream for every entry, does not rebuild them.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

type (
	// Options configures the Pulse client.
	Options struct {
		// Redis backs the streams. Required; the caller owns the connection.
		Redis *redis.Client
		// StreamMaxLen caps the entries kept per agent stream. Zero keeps the
		// Pulse default.
		StreamMaxLen int
		// OperationTimeout bounds each Add and Destroy. Zero applies no
		// timeout beyond the caller context.
		OperationTimeout time.Duration
	}

	// Client opens run log streams.
	Client interface {
		// Stream returns the named stream. opts apply when the stream is
		// first opened by this client.
		Stream(name string, opts ...streamopts.Stream) (Stream, error)
		// Close forgets the opened streams. The Redis connection is left
		// open.
		Close(ctx context.Context) error
	}

	// Stream is one agent run log stream.
	Stream interface {
		// Add appends an entry and returns the ID Redis assigned to it.
		Add(ctx context.Context, event string, payload []byte) (string, error)
		// NewSink joins the consumer group name on the stream.
		NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error)
		// Destroy deletes the stream with all its entries. The next Stream
		// call for the same name opens a fresh stream.
		Destroy(ctx context.Context) error
	}

	// Sink reads the entries of a stream as a member of a consumer group.
	Sink interface {
		Subscribe() <-chan *streaming.Event
		Ack(context.Context, *streaming.Event) error
		Close(context.Context)
	}

	client struct {
		redis   *redis.Client
		maxLen  int
		timeout time.Duration

		mu      sync.Mutex
		streams map[string]*stream
	}

	stream struct {
		name    string
		owner   *client
		pulse   *streaming.Stream
		timeout time.Duration
	}

	sink struct {
		*streaming.Sink
	}
)

// New returns a client on the given Redis connection.
func New(opts Options) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	return &client{
		redis:   opts.Redis,
		maxLen:  opts.StreamMaxLen,
		timeout: opts.OperationTimeout,
		streams: make(map[string]*stream),
	}, nil
}

func (c *client) Stream(name string, opts ...streamopts.Stream) (Stream, error) {
	if name == "" {
		return nil, errors.New("stream name is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.streams[name]; ok {
		return s, nil
	}
	var all []streamopts.Stream
	if c.maxLen > 0 {
		all = append(all, streamopts.WithStreamMaxLen(c.maxLen))
	}
	ps, err := streaming.NewStream(name, c.redis, append(all, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("open run log stream %q: %w", name, err)
	}
	s := &stream{name: name, owner: c, pulse: ps, timeout: c.timeout}
	c.streams[name] = s
	return s, nil
}

func (c *client) Close(context.Context) error {
	c.mu.Lock()
	clear(c.streams)
	c.mu.Unlock()
	return nil
}

func (c *client) forget(s *stream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streams[s.name] == s {
		delete(c.streams, s.name)
	}
}

func (s *stream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if event == "" {
		return "", errors.New("event name is required")
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	id, err := s.pulse.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("append to %q: %w", s.name, err)
	}
	return id, nil
}

func (s *stream) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error) {
	ps, err := s.pulse.NewSink(ctx, name, opts...)
	if err != nil {
		return nil, fmt.Errorf("join %q on %q: %w", name, s.name, err)
	}
	return sink{Sink: ps}, nil
}

func (s *stream) Destroy(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	s.owner.forget(s)
	if err := s.pulse.Destroy(ctx); err != nil {
		return fmt.Errorf("destroy %q: %w", s.name, err)
	}
	return nil
}

func (s *stream) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Close drops the error-free signature of streaming.Sink.Close.
func (s sink) Close(ctx context.Context) {
	s.Sink.Close(ctx)
}
