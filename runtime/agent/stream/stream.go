// Package stream provides the buffered event channel used to deliver turn
// output to callers. The execution engine emits output, reasoning, tool
// activity, confirmation requests and errors on a Channel as soon as they are
// produced; callers subscribe by event type whenever they are ready and
// receive every event emitted before they attached, in order.
//
// A Sink forwards channel events to an external transport (for example a
// Pulse stream) so that processes other than the caller can follow a turn.
package stream

import (
	"context"

	"goa.design/symposium/runtime/agent/model"
)

type (
	// EventType names a channel event.
	EventType string

	// Event is a single channel emission.
	Event struct {
		// Type is the event name subscribers filter on.
		Type EventType `json:"type"`
		// ThreadID identifies the thread whose turn produced the event.
		ThreadID string `json:"thread_id"`
		// Payload is one of the *Payload types defined in this package.
		Payload any `json:"payload,omitempty"`
	}

	// Handler receives events. Handlers may subscribe and emit on the channel
	// that invokes them; such events are delivered once the current handler
	// returns.
	Handler func(Event)

	// Sink delivers events to an external transport. Implementations must be
	// safe for concurrent use.
	Sink interface {
		// Send publishes an event.
		Send(ctx context.Context, event Event) error
		// Close releases resources owned by the sink.
		Close(ctx context.Context) error
	}

	// OutputPayload carries assistant text or a generated image.
	OutputPayload struct {
		Text  string           `json:"text,omitempty"`
		Image *model.ImagePart `json:"image,omitempty"`
	}

	// ReasoningPayload carries a reasoning trace.
	ReasoningPayload struct {
		Text string `json:"text"`
	}

	// ToolInvokedPayload is emitted before a function call executes.
	ToolInvokedPayload struct {
		Call model.ToolCall `json:"call"`
	}

	// ToolRespondedPayload is emitted after a function call completes. Error
	// is set when the call failed; Response then holds the {error} object
	// appended to the thread.
	ToolRespondedPayload struct {
		Call     model.ToolCall `json:"call"`
		Response any            `json:"response,omitempty"`
		Error    string         `json:"error,omitempty"`
	}

	// ConfirmPayload is emitted when a turn is suspended because some calls
	// need external authorization.
	ConfirmPayload struct {
		ThreadID string           `json:"thread_id"`
		Calls    []model.ToolCall `json:"calls"`
	}

	// ErrorPayload carries a fatal turn error in chat mode.
	ErrorPayload struct {
		Err error `json:"-"`
		// Message is Err.Error(), kept for serialization.
		Message string `json:"message"`
	}
)

const (
	// EventOutput carries assistant output.
	EventOutput EventType = "output"
	// EventReasoning carries a reasoning trace.
	EventReasoning EventType = "reasoning"
	// EventToolInvoked precedes a function call.
	EventToolInvoked EventType = "tool_invoked"
	// EventToolResponded follows a function call.
	EventToolResponded EventType = "tool_responded"
	// EventConfirm signals a suspended turn awaiting authorization.
	EventConfirm EventType = "confirm"
	// EventError carries a fatal turn error.
	EventError EventType = "error"
	// EventDone is the last event of a turn.
	EventDone EventType = "done"
)

// NewErrorPayload builds an ErrorPayload from err.
func NewErrorPayload(err error) ErrorPayload {
	return ErrorPayload{Err: err, Message: err.Error()}
}
