package model

import (
	"maps"
)

type (
	// Thread is one conversation: a free-form state map (which always names
	// the selected model under StateModel), the message history and messages
	// planned for the next turn. A thread is owned by a single engine turn at
	// a time and is not safe for concurrent mutation.
	Thread struct {
		// ID is the caller provided thread identifier.
		ID string
		// Agent names the agent that owns the thread. Threads never hold a
		// pointer to their agent; owners are resolved by name.
		Agent string
		// State is persisted alongside the messages.
		State map[string]any
		// Messages is the ordered history sent to the model.
		Messages []*Message
		// Planned holds messages queued for the next turn and not yet merged
		// into Messages.
		Planned []*Message
	}

	// Record is the persisted shape of a thread.
	Record struct {
		State    map[string]any `json:"state"`
		Messages []*Message     `json:"messages"`
	}
)

// StateModel is the thread state key holding the selected model name.
const StateModel = "model"

// NewThread returns an empty thread owned by agent.
func NewThread(id, agent string) *Thread {
	return &Thread{ID: id, Agent: agent, State: make(map[string]any)}
}

// ThreadFromRecord rehydrates a thread from its persisted record.
func ThreadFromRecord(id, agent string, rec *Record) *Thread {
	t := NewThread(id, agent)
	if rec == nil {
		return t
	}
	if rec.State != nil {
		t.State = maps.Clone(rec.State)
	}
	t.Messages = append(t.Messages, rec.Messages...)
	return t
}

// Record returns the persisted form of the thread. Planned messages are not
// part of the record.
func (t *Thread) Record() *Record {
	return &Record{
		State:    maps.Clone(t.State),
		Messages: append([]*Message(nil), t.Messages...),
	}
}

// Model returns the model name stored in the thread state.
func (t *Thread) Model() string {
	if v, ok := t.State[StateModel].(string); ok {
		return v
	}
	return ""
}

// SetState merges values into the thread state.
func (t *Thread) SetState(values map[string]any) {
	if t.State == nil {
		t.State = make(map[string]any, len(values))
	}
	maps.Copy(t.State, values)
}

// Clone returns a copy of the thread sharing the state map. When keepMessages
// is false the copy has an empty history.
func (t *Thread) Clone(keepMessages bool) *Thread {
	out := &Thread{ID: t.ID, Agent: t.Agent, State: t.State}
	if keepMessages {
		out.Messages = append([]*Message(nil), t.Messages...)
	}
	return out
}

// Flush empties the history and the planned queue.
func (t *Thread) Flush() {
	t.Messages = nil
	t.Planned = nil
}

// AddMessage appends m to the history.
func (t *Thread) AddMessage(m *Message) {
	t.Messages = append(t.Messages, m)
}

// AddSystemMessage appends a system text message.
func (t *Thread) AddSystemMessage(text string, tags ...string) {
	t.AddMessage(TextMessage(RoleSystem, text, tags...))
}

// AddUserMessage appends a user message built from content (see NewMessage).
func (t *Thread) AddUserMessage(content any, tags ...string) error {
	m, err := NewMessage(RoleUser, content, tags...)
	if err != nil {
		return err
	}
	t.AddMessage(m)
	return nil
}

// AddAssistantMessage appends an assistant message built from content.
func (t *Thread) AddAssistantMessage(content any, tags ...string) error {
	m, err := NewMessage(RoleAssistant, content, tags...)
	if err != nil {
		return err
	}
	t.AddMessage(m)
	return nil
}

// AddToolMessage appends a tool role message carrying the response to call.
func (t *Thread) AddToolMessage(call ToolCall, response any) {
	t.AddMessage(&Message{
		Role:  RoleTool,
		Name:  call.Name,
		Parts: []Part{ToolResultPart{ID: call.ID, Name: call.Name, Response: response}},
	})
}

// Plan queues m for the next turn.
func (t *Thread) Plan(m *Message) {
	t.Planned = append(t.Planned, m)
}

// MergePlanned appends the planned messages to the history and empties the
// queue.
func (t *Thread) MergePlanned() {
	t.Messages = append(t.Messages, t.Planned...)
	t.Planned = nil
}

// RemoveMessagesWithTag drops every message tagged with tag.
func (t *Thread) RemoveMessagesWithTag(tag string) {
	kept := t.Messages[:0]
	for _, m := range t.Messages {
		if !m.HasTag(tag) {
			kept = append(kept, m)
		}
	}
	for i := len(kept); i < len(t.Messages); i++ {
		t.Messages[i] = nil
	}
	t.Messages = kept
}

// LeadingSystemCount returns the length of the leading run of system
// messages.
func LeadingSystemCount(msgs []*Message) int {
	for i, m := range msgs {
		if m.Role != RoleSystem {
			return i
		}
	}
	return len(msgs)
}
