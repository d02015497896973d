package event

import (
	"time"

	"github.com/evmts/agentcore/pkg/types"
)

// SessionCreatedData is the data for session.created events.
type SessionCreatedData struct {
	Info *types.Session `json:"info"`
}

// SessionUpdatedData is the data for session.updated events.
type SessionUpdatedData struct {
	Info *types.Session `json:"info"`
}

// SessionDeletedData is the data for session.deleted events.
type SessionDeletedData struct {
	Info *types.Session `json:"info"`
}

// MessageUpdatedData is the data for message.updated events.
type MessageUpdatedData struct {
	Info *types.Message `json:"info"`
}

// MessageRemovedData is the data for message.removed events.
type MessageRemovedData struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
}

// PartUpdatedData is the data for part.updated events.
type PartUpdatedData struct {
	Part  types.Part `json:"part"`
	Delta string     `json:"delta,omitempty"` // For streaming text
}

// PermissionRequestedData is the data for permission.requested events.
type PermissionRequestedData struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"sessionID"`
	MessageID   string         `json:"messageID"`
	CallID      string         `json:"callID,omitempty"`
	Operation   string         `json:"operation"` // "bash" | "edit" | "webfetch"
	Details     map[string]any `json:"details,omitempty"`
	IsDangerous bool           `json:"isDangerous"`
	Warning     string         `json:"warning,omitempty"`
	RequestedAt time.Time      `json:"requestedAt"`
}

// PermissionRespondedData is the data for permission.responded events.
type PermissionRespondedData struct {
	RequestID string `json:"requestID"`
	SessionID string `json:"sessionID"`
	Action    string `json:"action"` // "once" | "always" | "deny" | "pattern"
	Pattern   string `json:"pattern,omitempty"`
	Approved  bool   `json:"approved"`
}
