// Package runlog records what agents do: user input, model output, function
// calls and their responses, and errors.
//
// Logging is fire-and-forget. Implementations must not block turns and
// report their own failures out of band.
package runlog

import (
	"context"
	"encoding/json"
	"time"
)

type (
	// EventType names a logged event.
	EventType string

	// Entry is a single immutable log entry.
	//
	// Store implementations assign the ID when persisting the entry. IDs are
	// opaque, monotonically ordered within an agent, and suitable for
	// cursor-based pagination.
	Entry struct {
		// ID is the store-assigned opaque identifier for this entry.
		ID string `json:"id,omitempty"`
		// Agent is the name of the agent that logged the entry.
		Agent string `json:"agent"`
		// Type is the event type.
		Type EventType `json:"type"`
		// Payload is the JSON encoded event payload.
		Payload json.RawMessage `json:"payload,omitempty"`
		// Timestamp is the event time.
		Timestamp time.Time `json:"timestamp"`
	}

	// Page is a forward page of entries.
	Page struct {
		// Entries are ordered oldest-first.
		Entries []*Entry
		// NextCursor is the cursor to use to fetch the next page.
		// It is empty when there are no further entries.
		NextCursor string
	}

	// Logger receives agent events.
	Logger interface {
		Log(ctx context.Context, agent string, eventType EventType, payload any)
	}

	noop struct{}
)

const (
	EventUserMessage      EventType = "user_message"
	EventAIMessage        EventType = "ai_message"
	EventFunctionCall     EventType = "function_call"
	EventFunctionResponse EventType = "function_response"
	EventError            EventType = "error"
)

// Noop returns a Logger that discards every event.
func Noop() Logger { return noop{} }

func (noop) Log(context.Context, string, EventType, any) {}

// NewEntry encodes payload into an entry stamped with now. Payloads that
// cannot be encoded are recorded as {"error": message}.
func NewEntry(agent string, eventType EventType, payload any, now time.Time) *Entry {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw, _ = json.Marshal(map[string]string{"error": err.Error()})
	}
	return &Entry{Agent: agent, Type: eventType, Payload: raw, Timestamp: now.UTC()}
}
