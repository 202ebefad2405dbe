package model

import "encoding/json"

// MarshalJSON encodes the message in its persisted shape:
// {role, name?, tags[], content[]} where each content block carries a "type"
// discriminator.
func (m Message) MarshalJSON() ([]byte, error) {
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	parts := m.Parts
	if parts == nil {
		parts = []Part{}
	}
	return json.Marshal(struct {
		Role    Role     `json:"role"`
		Name    string   `json:"name,omitempty"`
		Tags    []string `json:"tags"`
		Content []Part   `json:"content"`
	}{
		Role:    m.Role,
		Name:    m.Name,
		Tags:    tags,
		Content: parts,
	})
}

// MarshalJSON encodes TextPart with its type discriminator.
func (p TextPart) MarshalJSON() ([]byte, error) {
	type alias TextPart
	return json.Marshal(struct {
		Type PartType `json:"type"`
		alias
	}{Type: PartText, alias: alias(p)})
}

// MarshalJSON encodes ToolCallsPart with its type discriminator.
func (p ToolCallsPart) MarshalJSON() ([]byte, error) {
	type alias ToolCallsPart
	return json.Marshal(struct {
		Type PartType `json:"type"`
		alias
	}{Type: PartToolCalls, alias: alias(p)})
}

// MarshalJSON encodes ToolResultPart with its type discriminator. The call
// identity and response are nested under "content" to keep a uniform block
// shape.
func (p ToolResultPart) MarshalJSON() ([]byte, error) {
	type alias ToolResultPart
	return json.Marshal(struct {
		Type    PartType `json:"type"`
		Content alias    `json:"content"`
	}{Type: PartToolResult, Content: alias(p)})
}

// MarshalJSON encodes ImagePart with its type discriminator.
func (p ImagePart) MarshalJSON() ([]byte, error) {
	type alias ImagePart
	return json.Marshal(struct {
		Type    PartType `json:"type"`
		Content alias    `json:"content"`
	}{Type: PartImage, Content: alias(p)})
}

// MarshalJSON encodes AudioPart with its type discriminator.
func (p AudioPart) MarshalJSON() ([]byte, error) {
	type alias AudioPart
	return json.Marshal(struct {
		Type    PartType `json:"type"`
		Content alias    `json:"content"`
	}{Type: PartAudio, Content: alias(p)})
}

// MarshalJSON encodes ReasoningPart with its type discriminator.
func (p ReasoningPart) MarshalJSON() ([]byte, error) {
	type alias ReasoningPart
	return json.Marshal(struct {
		Type PartType `json:"type"`
		alias
	}{Type: PartReasoning, alias: alias(p)})
}
