package pulse

import (
	"context"
	"errors"
	"sync"

	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	clientspulse "goa.design/symposium/features/runlog/pulse/clients/pulse"
)

type (
	stubClient struct {
		mu      sync.Mutex
		streams map[string]*stubStream
		err     error
		closed  bool
	}

	stubStream struct {
		mu        sync.Mutex
		added     []added
		addErr    error
		sink      *stubSink
		sinkAs    string
		destroyed int
		// release, when set, holds Add until it is closed or the context
		// of the call is done.
		release chan struct{}
	}

	added struct {
		event   string
		payload []byte
	}

	stubSink struct {
		ch     chan *streaming.Event
		mu     sync.Mutex
		acked  []string
		ackErr error
		closed bool
	}
)

func newStubClient() *stubClient {
	return &stubClient{streams: make(map[string]*stubStream)}
}

func (c *stubClient) Stream(name string, _ ...streamopts.Stream) (clientspulse.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	s, ok := c.streams[name]
	if !ok {
		s = &stubStream{}
		c.streams[name] = s
	}
	return s, nil
}

func (c *stubClient) Close(context.Context) error {
	c.closed = true
	return nil
}

func (c *stubClient) stream(name string) *stubStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[name]
}

func (s *stubStream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addErr != nil {
		return "", s.addErr
	}
	s.added = append(s.added, added{event: event, payload: payload})
	return "1-0", nil
}

func (s *stubStream) NewSink(_ context.Context, name string, _ ...streamopts.Sink) (clientspulse.Sink, error) {
	if s.sink == nil {
		return nil, errors.New("no sink")
	}
	s.sinkAs = name
	return s.sink, nil
}

func (s *stubStream) Destroy(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed++
	s.added = nil
	return nil
}

func (s *stubStream) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.added))
	for i, a := range s.added {
		out[i] = a.event
	}
	return out
}

func (s *stubSink) Subscribe() <-chan *streaming.Event { return s.ch }

func (s *stubSink) Ack(_ context.Context, evt *streaming.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ackErr != nil {
		return s.ackErr
	}
	s.acked = append(s.acked, evt.ID)
	return nil
}

func (s *stubSink) Close(context.Context) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Debug(context.Context, string, ...any) {}
func (l *recordingLogger) Info(context.Context, string, ...any)  {}
func (l *recordingLogger) Error(context.Context, string, ...any) {}
func (l *recordingLogger) Warn(_ context.Context, msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warns...)
}
