package permission

import (
	"context"
	"errors"

	"github.com/evmts/agentcore/internal/logging"
)

// ShouldSkipChecks reports whether gating is disabled for a session.
func ShouldSkipChecks(bypassMode bool) bool {
	if bypassMode {
		logging.Warn().Msg("bypass mode enabled: skipping permission checks")
	}
	return bypassMode
}

// ToolCall is the part of a tool invocation the gate needs.
type ToolCall struct {
	CallID string
	Tool   string
	Input  map[string]any
}

// Gate authorizes tool calls for one session turn.
type Gate struct {
	checker   *Checker
	sessionID string
	messageID string
	bypass    bool
}

// NewGate binds a checker to a session and the assistant message whose
// tool calls it will see.
func NewGate(checker *Checker, sessionID, messageID string, bypass bool) *Gate {
	return &Gate{
		checker:   checker,
		sessionID: sessionID,
		messageID: messageID,
		bypass:    bypass,
	}
}

// Authorize returns nil when the call may run and a *RejectedError otherwise.
// Tools outside bash/edit/webfetch are not gated.
func (g *Gate) Authorize(ctx context.Context, call ToolCall) error {
	if ShouldSkipChecks(g.bypass) {
		return nil
	}

	op, subject, ok := classify(call)
	if !ok {
		return nil
	}

	var level Level
	switch op {
	case OpBash:
		level = g.checker.CheckBash(subject, g.sessionID)
	case OpEdit:
		level = g.checker.CheckEdit(subject, g.sessionID)
	case OpWebFetch:
		level = g.checker.CheckWebFetch(subject, g.sessionID)
	}

	if level == LevelAllow && g.checker.doom != nil && g.checker.doom.Observe(g.sessionID, call.Tool, call.Input) {
		logging.Warn().
			Str("sessionID", g.sessionID).
			Str("tool", call.Tool).
			Msg("repeated identical tool call, asking for confirmation")
		level = LevelAsk
	}

	switch level {
	case LevelAllow:
		return nil
	case LevelDeny:
		return &RejectedError{
			SessionID: g.sessionID,
			Operation: op,
			CallID:    call.CallID,
			Message:   "Permission denied by configuration",
		}
	}

	approved, err := g.checker.RequestPermission(ctx, op, call.Input, g.sessionID, g.messageID, call.CallID)
	if err != nil {
		msg := "Permission request failed"
		if errors.Is(err, ErrTimeout) {
			msg = "Permission request timed out"
		}
		return &RejectedError{
			SessionID: g.sessionID,
			Operation: op,
			CallID:    call.CallID,
			Message:   msg,
			Err:       err,
		}
	}
	if !approved {
		return &RejectedError{
			SessionID: g.sessionID,
			Operation: op,
			CallID:    call.CallID,
			Message:   "Permission rejected by user",
		}
	}
	return nil
}

// classify maps a tool call to the operation it is gated as and the subject
// the checker looks at.
func classify(call ToolCall) (Operation, string, bool) {
	str := func(key string) string {
		s, _ := call.Input[key].(string)
		return s
	}
	switch call.Tool {
	case "bash":
		return OpBash, str("command"), true
	case "edit", "write", "patch":
		path := str("filePath")
		if path == "" {
			path = str("file_path")
		}
		return OpEdit, path, true
	case "webfetch":
		return OpWebFetch, str("url"), true
	}
	return "", "", false
}
