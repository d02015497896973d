package types

import (
	"encoding/json"
	"fmt"
)

// Part kinds.
const (
	PartText      = "text"
	PartReasoning = "reasoning"
	PartTool      = "tool"
	PartFile      = "file"
)

// Part represents a component of a message.
type Part interface {
	PartType() string
	PartID() string
	PartMessageID() string
}

// PartTime contains timing information for a message part.
type PartTime struct {
	Start *int64 `json:"start,omitempty"`
	End   *int64 `json:"end,omitempty"`
}

// TextPart represents a text content part.
type TextPart struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID"`
	MessageID string   `json:"messageID"`
	Type      string   `json:"type"` // always "text"
	Text      string   `json:"text"`
	Time      PartTime `json:"time,omitempty"`
}

func (p *TextPart) PartType() string      { return PartText }
func (p *TextPart) PartID() string        { return p.ID }
func (p *TextPart) PartMessageID() string { return p.MessageID }

func (p TextPart) MarshalJSON() ([]byte, error) {
	type alias TextPart
	a := alias(p)
	a.Type = PartText
	return json.Marshal(a)
}

// ReasoningPart represents extended thinking/reasoning content.
type ReasoningPart struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID"`
	MessageID string   `json:"messageID"`
	Type      string   `json:"type"` // always "reasoning"
	Text      string   `json:"text"`
	Time      PartTime `json:"time"`
}

func (p *ReasoningPart) PartType() string      { return PartReasoning }
func (p *ReasoningPart) PartID() string        { return p.ID }
func (p *ReasoningPart) PartMessageID() string { return p.MessageID }

func (p ReasoningPart) MarshalJSON() ([]byte, error) {
	type alias ReasoningPart
	a := alias(p)
	a.Type = PartReasoning
	return json.Marshal(a)
}

// ToolPart represents a tool call and its lifecycle state.
type ToolPart struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionID"`
	MessageID string    `json:"messageID"`
	Type      string    `json:"type"` // always "tool"
	CallID    string    `json:"callID"`
	Tool      string    `json:"tool"`
	State     ToolState `json:"state"`
}

func (p *ToolPart) PartType() string      { return PartTool }
func (p *ToolPart) PartID() string        { return p.ID }
func (p *ToolPart) PartMessageID() string { return p.MessageID }

func (p ToolPart) MarshalJSON() ([]byte, error) {
	type alias ToolPart
	a := alias(p)
	a.Type = PartTool
	return json.Marshal(a)
}

func (p *ToolPart) UnmarshalJSON(data []byte) error {
	type alias ToolPart
	aux := struct {
		*alias
		State json.RawMessage `json:"state"`
	}{alias: (*alias)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.State) == 0 || string(aux.State) == "null" {
		p.State = nil
		return nil
	}
	state, err := UnmarshalToolState(aux.State)
	if err != nil {
		return err
	}
	p.State = state
	return nil
}

// FilePart represents a file attachment.
type FilePart struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	Type      string `json:"type"` // always "file"
	Filename  string `json:"filename,omitempty"`
	Mime      string `json:"mime"`
	URL       string `json:"url"`
}

func (p *FilePart) PartType() string      { return PartFile }
func (p *FilePart) PartID() string        { return p.ID }
func (p *FilePart) PartMessageID() string { return p.MessageID }

func (p FilePart) MarshalJSON() ([]byte, error) {
	type alias FilePart
	a := alias(p)
	a.Type = PartFile
	return json.Marshal(a)
}

// UnmarshalPart unmarshals a JSON part into the appropriate type.
func UnmarshalPart(data []byte) (Part, error) {
	var raw struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	var p Part
	switch raw.Type {
	case PartText:
		p = &TextPart{}
	case PartReasoning:
		p = &ReasoningPart{}
	case PartTool:
		p = &ToolPart{}
	case PartFile:
		p = &FilePart{}
	default:
		return nil, fmt.Errorf("unknown part type %q", raw.Type)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, err
	}
	return p, nil
}
