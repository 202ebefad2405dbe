package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	streamopts "goa.design/pulse/streaming/options"

	clientspulse "goa.design/symposium/features/runlog/pulse/clients/pulse"
	"goa.design/symposium/runtime/agent/runlog"
)

type (
	// SubscriberOptions configures a Pulse-backed run log subscriber.
	SubscriberOptions struct {
		// Client is the Pulse client used to consume entries. Required.
		Client clientspulse.Client
		// SinkName identifies the Pulse consumer group. Defaults to "symposium_runlog".
		SinkName string
		// Buffer specifies the entry channel capacity. Defaults to 64.
		Buffer int
		// StreamID derives the stream from the agent name. Defaults to StreamID.
		StreamID func(agent string) string
	}

	// Subscriber follows the run log of an agent.
	Subscriber struct {
		client   clientspulse.Client
		buffer   int
		name     string
		streamID func(string) string
	}
)

// NewSubscriber constructs a Pulse-backed subscriber.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	s := &Subscriber{client: opts.Client, buffer: opts.Buffer, name: opts.SinkName, streamID: opts.StreamID}
	if s.name == "" {
		s.name = "symposium_runlog"
	}
	if s.buffer <= 0 {
		s.buffer = 64
	}
	if s.streamID == nil {
		s.streamID = StreamID
	}
	return s, nil
}

// Subscribe opens a consumer group on the agent stream and returns channels
// of entries and errors. The returned cancel function stops consumption,
// closes the sink and both channels.
//
//	entries, errs, cancel, err := sub.Subscribe(ctx, "assistant")
//	defer cancel()
//	for e := range entries {
//	    fmt.Println(e.Type, string(e.Payload))
//	}
func (s *Subscriber) Subscribe(
	ctx context.Context,
	agent string,
	opts ...streamopts.Sink,
) (<-chan *runlog.Entry, <-chan error, context.CancelFunc, error) {
	str, err := s.client.Stream(s.streamID(agent))
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, s.name, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	entries := make(chan *runlog.Entry, s.buffer)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	go consume(runCtx, sink, entries, errs)
	return entries, errs, func() {
		cancel()
		sink.Close(context.Background())
	}, nil
}

func consume(ctx context.Context, sink clientspulse.Sink, out chan<- *runlog.Entry, errs chan<- error) {
	defer close(out)
	defer close(errs)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			var entry runlog.Entry
			if err := json.Unmarshal(evt.Payload, &entry); err != nil {
				errs <- fmt.Errorf("pulse decode payload: %w", err)
				return
			}
			entry.ID = evt.ID
			select {
			case out <- &entry:
			case <-ctx.Done():
				return
			}
			if err := sink.Ack(ctx, evt); err != nil {
				errs <- fmt.Errorf("pulse ack: %w", err)
				return
			}
		}
	}
}
