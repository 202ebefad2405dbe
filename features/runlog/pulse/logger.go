// Package pulse publishes agent run log entries to goa.design/pulse streams
// so other processes can follow what an agent is doing. Each agent writes to
// its own stream named "agent/<name>".
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	clientspulse "goa.design/symposium/features/runlog/pulse/clients/pulse"
	"goa.design/symposium/runtime/agent/runlog"
	"goa.design/symposium/runtime/agent/telemetry"
)

type (
	// Options configures the Pulse run log.
	Options struct {
		// Client is the Pulse client used to publish entries. Required.
		Client clientspulse.Client
		// StreamID derives the target stream from the agent name. Defaults to
		// "agent/<name>".
		StreamID func(agent string) string
		// Logger reports publish failures. Defaults to a no-op logger.
		Logger telemetry.Logger
		// QueueSize bounds the entries Log buffers while earlier entries are
		// published. Entries logged while the queue is full are dropped.
		// Defaults to DefaultQueueSize.
		QueueSize int
		// PublishTimeout bounds the publication of one entry queued by Log.
		// Defaults to DefaultPublishTimeout.
		PublishTimeout time.Duration
	}

	// Logger implements runlog.Logger on top of Pulse streams. Log queues
	// entries and a single worker publishes them in order, so a slow or
	// unreachable Redis never stalls the caller. It is safe for concurrent
	// use.
	Logger struct {
		client   clientspulse.Client
		streamID func(string) string
		logger   telemetry.Logger
		timeout  time.Duration
		now      func() time.Time

		mu     sync.RWMutex
		closed bool
		queue  chan queued
		done   chan struct{}
	}

	queued struct {
		ctx   context.Context
		agent string
		event runlog.EventType
		body  []byte
	}
)

// Defaults.
const (
	DefaultQueueSize      = 1024
	DefaultPublishTimeout = 5 * time.Second
)

// New returns a Pulse backed run log. Close stops its publishing worker.
func New(opts Options) (*Logger, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	l := &Logger{
		client:   opts.Client,
		streamID: StreamID,
		logger:   opts.Logger,
		timeout:  opts.PublishTimeout,
		now:      time.Now,
		queue:    make(chan queued, size),
		done:     make(chan struct{}),
	}
	if opts.StreamID != nil {
		l.streamID = opts.StreamID
	}
	if l.logger == nil {
		l.logger = telemetry.NewNoopLogger()
	}
	if l.timeout <= 0 {
		l.timeout = DefaultPublishTimeout
	}
	go l.run()
	return l, nil
}

// StreamID returns the default stream name for agent.
func StreamID(agent string) string {
	return "agent/" + agent
}

// Log implements runlog.Logger. The entry is stamped and encoded before Log
// returns and published in the background. Publish failures are logged and
// dropped, as are entries logged after Close.
func (l *Logger) Log(ctx context.Context, agent string, eventType runlog.EventType, payload any) {
	body, err := l.encode(agent, eventType, payload)
	if err != nil {
		l.logger.Warn(ctx, "run log publish failed", "agent", agent, "event", string(eventType), "err", err)
		return
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- queued{ctx: context.WithoutCancel(ctx), agent: agent, event: eventType, body: body}:
	default:
		l.logger.Warn(ctx, "run log queue full, entry dropped", "agent", agent, "event", string(eventType))
	}
}

// Publish writes one entry synchronously and returns the Redis assigned
// entry ID.
func (l *Logger) Publish(ctx context.Context, agent string, eventType runlog.EventType, payload any) (string, error) {
	body, err := l.encode(agent, eventType, payload)
	if err != nil {
		return "", err
	}
	return l.add(ctx, agent, eventType, body)
}

// Purge deletes the stream of agent with every entry it holds.
func (l *Logger) Purge(ctx context.Context, agent string) error {
	if agent == "" {
		return errors.New("agent name is required")
	}
	str, err := l.client.Stream(l.streamID(agent))
	if err != nil {
		return err
	}
	return str.Destroy(ctx)
}

// Close publishes the queued entries, stops the worker and releases the
// Pulse client. Entries still queued when ctx is done are dropped.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()
	select {
	case <-l.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return l.client.Close(ctx)
}

func (l *Logger) run() {
	defer close(l.done)
	for q := range l.queue {
		ctx, cancel := context.WithTimeout(q.ctx, l.timeout)
		if _, err := l.add(ctx, q.agent, q.event, q.body); err != nil {
			l.logger.Warn(ctx, "run log publish failed", "agent", q.agent, "event", string(q.event), "err", err)
		}
		cancel()
	}
}

func (l *Logger) encode(agent string, eventType runlog.EventType, payload any) ([]byte, error) {
	if agent == "" {
		return nil, errors.New("agent name is required")
	}
	return json.Marshal(runlog.NewEntry(agent, eventType, payload, l.now()))
}

func (l *Logger) add(ctx context.Context, agent string, eventType runlog.EventType, body []byte) (string, error) {
	str, err := l.client.Stream(l.streamID(agent))
	if err != nil {
		return "", err
	}
	return str.Add(ctx, string(eventType), body)
}
