package permission

import (
	"errors"
	"fmt"
	"time"

	"github.com/evmts/agentcore/pkg/types"
)

// Level is the static classification of an operation.
type Level string

const (
	LevelAsk   Level = "ask"
	LevelAllow Level = "allow"
	LevelDeny  Level = "deny"
)

// ParseLevel converts a config string to a Level. Unknown values map to fallback.
func ParseLevel(s string, fallback Level) Level {
	switch Level(s) {
	case LevelAsk, LevelAllow, LevelDeny:
		return Level(s)
	}
	return fallback
}

// Action is the reviewer's answer to a Request.
type Action string

const (
	ActionOnce    Action = "once"
	ActionAlways  Action = "always"
	ActionDeny    Action = "deny"
	ActionPattern Action = "pattern"
)

// Approves reports whether the action lets the operation run.
func (a Action) Approves() bool {
	return a == ActionOnce || a == ActionAlways || a == ActionPattern
}

// Operation names the class of tool operation being gated.
type Operation string

const (
	OpBash     Operation = "bash"
	OpEdit     Operation = "edit"
	OpWebFetch Operation = "webfetch"
)

// BashPermission is the bash section of a Config.
type BashPermission struct {
	Default  Level            `json:"default"`
	Patterns map[string]Level `json:"patterns"`
}

// Config is the per-session permission table.
type Config struct {
	Edit     Level          `json:"edit"`
	Bash     BashPermission `json:"bash"`
	WebFetch Level          `json:"webfetch"`
}

// DefaultConfig asks for edits and bash and allows web fetches.
func DefaultConfig() Config {
	return Config{
		Edit:     LevelAsk,
		Bash:     BashPermission{Default: LevelAsk, Patterns: map[string]Level{}},
		WebFetch: LevelAllow,
	}
}

// ConfigFromTypes builds a Config from the loaded configuration file section,
// falling back to DefaultConfig for anything unset.
func ConfigFromTypes(pc *types.PermissionConfig) Config {
	cfg := DefaultConfig()
	if pc == nil {
		return cfg
	}
	cfg.Edit = ParseLevel(pc.Edit, cfg.Edit)
	cfg.WebFetch = ParseLevel(pc.WebFetch, cfg.WebFetch)
	if pc.Bash != nil {
		cfg.Bash.Default = ParseLevel(pc.Bash.Default, cfg.Bash.Default)
		for pattern, level := range pc.Bash.Patterns {
			l := ParseLevel(level, "")
			if l == "" {
				continue
			}
			cfg.Bash.Patterns[pattern] = l
		}
	}
	return cfg
}

// Clone returns a deep copy so callers can't mutate stored pattern tables.
func (c Config) Clone() Config {
	out := c
	out.Bash.Patterns = make(map[string]Level, len(c.Bash.Patterns))
	for k, v := range c.Bash.Patterns {
		out.Bash.Patterns[k] = v
	}
	return out
}

// Request is a pending "ask" decision.
type Request struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"sessionID"`
	MessageID   string         `json:"messageID"`
	CallID      string         `json:"callID,omitempty"`
	Operation   Operation      `json:"operation"`
	Details     map[string]any `json:"details"`
	IsDangerous bool           `json:"isDangerous"`
	Warning     string         `json:"warning,omitempty"`
	RequestedAt time.Time      `json:"requestedAt"`
}

// Command returns details["command"] for bash requests.
func (r Request) Command() string {
	s, _ := r.Details["command"].(string)
	return s
}

// Response answers a Request.
type Response struct {
	RequestID string `json:"requestID"`
	Action    Action `json:"action"`
	Pattern   string `json:"pattern,omitempty"`
}

// ErrTimeout is returned when no Response arrives within the checker's window.
var ErrTimeout = errors.New("permission request timed out")

// RejectedError is returned when permission is denied.
type RejectedError struct {
	SessionID string
	Operation Operation
	CallID    string
	Message   string
	Err       error
}

func (e *RejectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// IsRejectedError checks if an error is a permission rejection.
func IsRejectedError(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}
