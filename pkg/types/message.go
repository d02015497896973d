package types

import (
	"encoding/json"
	"fmt"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents either a User or Assistant message in a conversation.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionID"`
	Role      string      `json:"role"` // "user" | "assistant"
	Time      MessageTime `json:"time"`

	// User-specific fields
	Agent  string    `json:"agent,omitempty"`
	Model  *ModelRef `json:"model,omitempty"`
	System *string   `json:"system,omitempty"`

	// Assistant-specific fields
	ParentID   string        `json:"parentID,omitempty"` // Links to the user message that prompted this
	ModelID    string        `json:"modelID,omitempty"`
	ProviderID string        `json:"providerID,omitempty"`
	Finish     *string       `json:"finish,omitempty"`
	Cost       float64       `json:"cost"`
	Tokens     *TokenUsage   `json:"tokens,omitempty"`
	Error      *MessageError `json:"error,omitempty"`
}

// IsUser reports whether the message was authored by the user.
func (m *Message) IsUser() bool { return m.Role == RoleUser }

// MessageTime contains timestamps for a message.
type MessageTime struct {
	Created   int64  `json:"created"`
	Completed *int64 `json:"completed,omitempty"`
}

// ModelRef references a specific model from a provider.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// TokenUsage contains token usage statistics for a message.
type TokenUsage struct {
	Input     int        `json:"input"`
	Output    int        `json:"output"`
	Reasoning int        `json:"reasoning"`
	Cache     CacheUsage `json:"cache"`
}

// CacheUsage contains cache hit/write statistics.
type CacheUsage struct {
	Read  int `json:"read"`
	Write int `json:"write"`
}

// MessageError represents an error that occurred during message processing.
type MessageError struct {
	Name string           `json:"name"`
	Data MessageErrorData `json:"data"`
}

// MessageErrorData contains the error details.
type MessageErrorData struct {
	Message string `json:"message"`
}

// NewUnknownError creates a new UnknownError.
func NewUnknownError(message string) *MessageError {
	return &MessageError{
		Name: "UnknownError",
		Data: MessageErrorData{Message: message},
	}
}

// MessageWithParts is one entry of a session's message log.
type MessageWithParts struct {
	Info  Message `json:"info"`
	Parts []Part  `json:"parts"`
}

// UnmarshalJSON decodes the parts through UnmarshalPart.
func (m *MessageWithParts) UnmarshalJSON(data []byte) error {
	var raw struct {
		Info  Message           `json:"info"`
		Parts []json.RawMessage `json:"parts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Info = raw.Info
	m.Parts = make([]Part, 0, len(raw.Parts))
	for _, p := range raw.Parts {
		part, err := UnmarshalPart(p)
		if err != nil {
			return err
		}
		m.Parts = append(m.Parts, part)
	}
	return nil
}

// Clone returns an independent deep copy, so a forked log never
// shares mutable state with its parent.
func (m MessageWithParts) Clone() (MessageWithParts, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return MessageWithParts{}, fmt.Errorf("failed to marshal message: %w", err)
	}
	var c MessageWithParts
	if err := json.Unmarshal(data, &c); err != nil {
		return MessageWithParts{}, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return c, nil
}
