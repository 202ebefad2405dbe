package textcall

import (
	"goa.design/symposium/runtime/agent/model"
)

// Needed reports whether req must be emulated: the model has no native tool
// support and the request either exposes functions or replays past calls.
func Needed(req *model.Request) bool {
	if req.Model.Tools {
		return false
	}
	if len(req.Functions) > 0 || req.ForceFunction != "" {
		return true
	}
	for _, m := range req.Messages {
		for _, p := range m.Parts {
			switch p.(type) {
			case model.ToolCallsPart, model.ToolResultPart:
				return true
			}
		}
	}
	return false
}

// Apply returns a copy of req rewritten for a model without native tools:
// past calls and responses are lowered to text, the function instruction is
// inserted after the leading system messages, and Functions/ForceFunction
// are cleared. req is returned unchanged when emulation is not needed.
func Apply(req *model.Request) *model.Request {
	if !Needed(req) {
		return req
	}
	out := *req
	out.Messages = Lower(req.Messages)
	if len(req.Functions) > 0 {
		out.Messages = Inject(out.Messages, model.TextMessage(model.RoleSystem, Prompt(req.Functions, req.ForceFunction)))
	}
	out.Functions = nil
	out.ForceFunction = ""
	return &out
}

// Inject inserts m right after the leading run of system messages.
func Inject(msgs []*model.Message, m *model.Message) []*model.Message {
	n := model.LeadingSystemCount(msgs)
	out := make([]*model.Message, 0, len(msgs)+1)
	out = append(out, msgs[:n]...)
	out = append(out, m)
	out = append(out, msgs[n:]...)
	return out
}

// Lower rewrites function call and function response parts as text. Tool
// role messages become user messages since the model has no tool role.
func Lower(msgs []*model.Message) []*model.Message {
	out := make([]*model.Message, 0, len(msgs))
	for _, m := range msgs {
		lowered := &model.Message{Role: m.Role, Name: m.Name, Tags: m.Tags}
		if m.Role == model.RoleTool {
			lowered.Role = model.RoleUser
		}
		for _, p := range m.Parts {
			switch v := p.(type) {
			case model.ToolCallsPart:
				lowered.Parts = append(lowered.Parts, model.TextPart{Text: RenderCalls(v.Calls)})
			case model.ToolResultPart:
				lowered.Parts = append(lowered.Parts, model.TextPart{Text: RenderResponse(v.Response)})
			default:
				lowered.Parts = append(lowered.Parts, p)
			}
		}
		out = append(out, lowered)
	}
	return out
}

// ParseMessages runs Parse over the text parts of msgs, keeping every other
// part in place.
func ParseMessages(msgs []*model.Message) []*model.Message {
	for _, m := range msgs {
		parts := make([]model.Part, 0, len(m.Parts))
		for _, p := range m.Parts {
			if t, ok := p.(model.TextPart); ok {
				parts = append(parts, Parse(t.Text)...)
				continue
			}
			parts = append(parts, p)
		}
		m.Parts = parts
	}
	return msgs
}
