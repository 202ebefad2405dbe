package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// UnmarshalJSON decodes a Message while materializing the concrete Part
// implementations stored in its content list.
func (m *Message) UnmarshalJSON(data []byte) error {
	var tmp struct {
		Role    Role              `json:"role"`
		Name    string            `json:"name"`
		Tags    []string          `json:"tags"`
		Content []json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	if err := tmp.Role.Validate(); err != nil {
		return err
	}
	m.Role = tmp.Role
	m.Name = tmp.Name
	m.Tags = nil
	if len(tmp.Tags) > 0 {
		m.Tags = tmp.Tags
	}
	m.Parts = nil
	if len(tmp.Content) == 0 {
		return nil
	}
	m.Parts = make([]Part, 0, len(tmp.Content))
	for i, raw := range tmp.Content {
		part, err := decodePart(raw)
		if err != nil {
			return fmt.Errorf("decode content[%d]: %w", i, err)
		}
		m.Parts = append(m.Parts, part)
	}
	return nil
}

func decodePart(raw json.RawMessage) (Part, error) {
	var head struct {
		Type    PartType        `json:"type"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode part object: %w", err)
	}
	switch head.Type {
	case PartText:
		var p TextPart
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode text: %w", err)
		}
		return p, nil
	case PartToolCalls:
		var p ToolCallsPart
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode function: %w", err)
		}
		for _, c := range p.Calls {
			if c.Name == "" {
				return nil, errors.New("function call requires name")
			}
		}
		return p, nil
	case PartToolResult:
		var p ToolResultPart
		if err := json.Unmarshal(head.Content, &p); err != nil {
			return nil, fmt.Errorf("decode function_response: %w", err)
		}
		return p, nil
	case PartImage:
		var p ImagePart
		if err := json.Unmarshal(head.Content, &p); err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
		return p, nil
	case PartAudio:
		var p AudioPart
		if err := json.Unmarshal(head.Content, &p); err != nil {
			return nil, fmt.Errorf("decode audio: %w", err)
		}
		return p, nil
	case PartReasoning:
		var p ReasoningPart
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode reasoning: %w", err)
		}
		return p, nil
	case "":
		return nil, errors.New("content block without type")
	default:
		return nil, fmt.Errorf("unknown content block type %q", head.Type)
	}
}
