package types

import (
	"encoding/json"
	"fmt"
)

// Tool call statuses.
const (
	ToolStatusPending   = "pending"
	ToolStatusRunning   = "running"
	ToolStatusCompleted = "completed"
)

// ToolState is the lifecycle state of a tool call: one of
// *ToolStatePending, *ToolStateRunning or *ToolStateCompleted.
type ToolState interface {
	Status() string
	ToolInput() map[string]any
}

// ToolStatePending is a tool call whose input is still streaming.
type ToolStatePending struct {
	Input map[string]any `json:"input"`
	Raw   string         `json:"raw"`
}

func (s *ToolStatePending) Status() string            { return ToolStatusPending }
func (s *ToolStatePending) ToolInput() map[string]any { return s.Input }

func (s ToolStatePending) MarshalJSON() ([]byte, error) {
	type alias ToolStatePending
	return marshalWithStatus(ToolStatusPending, alias(s))
}

// ToolStateRunning is a tool call that has been authorized and is executing.
type ToolStateRunning struct {
	Input    map[string]any `json:"input"`
	Title    *string        `json:"title,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Time     PartTime       `json:"time"`
}

func (s *ToolStateRunning) Status() string            { return ToolStatusRunning }
func (s *ToolStateRunning) ToolInput() map[string]any { return s.Input }

func (s ToolStateRunning) MarshalJSON() ([]byte, error) {
	type alias ToolStateRunning
	return marshalWithStatus(ToolStatusRunning, alias(s))
}

// ToolStateCompleted is a finished tool call with its output.
type ToolStateCompleted struct {
	Input    map[string]any `json:"input"`
	Output   string         `json:"output"`
	Title    *string        `json:"title,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Time     PartTime       `json:"time"`
}

func (s *ToolStateCompleted) Status() string            { return ToolStatusCompleted }
func (s *ToolStateCompleted) ToolInput() map[string]any { return s.Input }

func (s ToolStateCompleted) MarshalJSON() ([]byte, error) {
	type alias ToolStateCompleted
	return marshalWithStatus(ToolStatusCompleted, alias(s))
}

// marshalWithStatus adds the "status" discriminator to an encoded state.
func marshalWithStatus(status string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	fields["status"], _ = json.Marshal(status)
	return json.Marshal(fields)
}

// UnmarshalToolState decodes a tool state by its "status" discriminator.
func UnmarshalToolState(data []byte) (ToolState, error) {
	var raw struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	var s ToolState
	switch raw.Status {
	case ToolStatusPending:
		s = &ToolStatePending{}
	case ToolStatusRunning:
		s = &ToolStateRunning{}
	case ToolStatusCompleted:
		s = &ToolStateCompleted{}
	default:
		return nil, fmt.Errorf("unknown tool status %q", raw.Status)
	}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}
