package permission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/evmts/agentcore/internal/event"
	"github.com/evmts/agentcore/internal/logging"
)

// DefaultTimeout bounds how long RequestPermission waits for a Response.
const DefaultTimeout = 300 * time.Second

// Checker classifies tool operations and runs the ask/respond protocol.
type Checker struct {
	store   *Store
	bus     event.Publisher
	timeout time.Duration
	doom    *DoomLoopDetector

	mu      sync.Mutex
	waiters map[string]chan Response // requestID -> single-slot response channel
}

// Option configures a Checker.
type Option func(*Checker)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithDoomLoopDetection enables escalation of repeated identical tool calls.
func WithDoomLoopDetection(enabled bool) Option {
	return func(c *Checker) {
		if enabled {
			c.doom = NewDoomLoopDetector()
		} else {
			c.doom = nil
		}
	}
}

// NewChecker creates a new permission checker.
func NewChecker(store *Store, bus event.Publisher, opts ...Option) *Checker {
	c := &Checker{
		store:   store,
		bus:     bus,
		timeout: DefaultTimeout,
		waiters: make(map[string]chan Response),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the checker's permission store.
func (c *Checker) Store() *Store {
	return c.store
}

// Timeout returns the response window.
func (c *Checker) Timeout() time.Duration {
	return c.timeout
}

// CheckBash classifies a bash command for a session.
func (c *Checker) CheckBash(command, sessionID string) Level {
	cfg := c.store.GetConfig(sessionID)
	if level, _, ok := MatchBash(command, cfg.Bash.Patterns); ok {
		return level
	}
	return cfg.Bash.Default
}

// CheckEdit classifies a file edit. There is no per-path table.
func (c *Checker) CheckEdit(path, sessionID string) Level {
	return c.store.GetConfig(sessionID).Edit
}

// CheckWebFetch classifies a URL fetch. There is no per-URL table.
func (c *Checker) CheckWebFetch(url, sessionID string) Level {
	return c.store.GetConfig(sessionID).WebFetch
}

// RequestPermission publishes a permission.requested event and waits for a
// Response, the timeout, or ctx. It reports whether the response approves
// the operation. On timeout it returns an error wrapping ErrTimeout.
// The pending entry is removed on every return path.
func (c *Checker) RequestPermission(ctx context.Context, op Operation, details map[string]any, sessionID, messageID, callID string) (bool, error) {
	req := Request{
		ID:          "per_" + ulid.Make().String(),
		SessionID:   sessionID,
		MessageID:   messageID,
		CallID:      callID,
		Operation:   op,
		Details:     details,
		RequestedAt: time.Now(),
	}
	if op == OpBash {
		req.IsDangerous, req.Warning = IsDangerousBashCommand(req.Command())
	}

	ch := make(chan Response, 1)
	c.mu.Lock()
	c.waiters[req.ID] = ch
	c.mu.Unlock()
	c.store.AddPending(req)

	defer func() {
		c.mu.Lock()
		delete(c.waiters, req.ID)
		c.mu.Unlock()
		c.store.RemovePending(req.ID)
	}()

	c.publish(event.Event{
		Type: event.PermissionRequested,
		Properties: event.PermissionRequestedData{
			ID:          req.ID,
			SessionID:   req.SessionID,
			MessageID:   req.MessageID,
			CallID:      req.CallID,
			Operation:   string(req.Operation),
			Details:     req.Details,
			IsDangerous: req.IsDangerous,
			Warning:     req.Warning,
			RequestedAt: req.RequestedAt,
		},
	})

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		c.store.ApplyResponse(req, resp)
		approved := resp.Action.Approves()
		c.publish(event.Event{
			Type: event.PermissionResponded,
			Properties: event.PermissionRespondedData{
				RequestID: req.ID,
				SessionID: req.SessionID,
				Action:    string(resp.Action),
				Pattern:   resp.Pattern,
				Approved:  approved,
			},
		})
		return approved, nil
	case <-timer.C:
		logging.Warn().Str("requestID", req.ID).Dur("timeout", c.timeout).Msg("permission request timed out")
		return false, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
	case <-ctx.Done():
		logging.Debug().Str("requestID", req.ID).Msg("permission request cancelled")
		return false, ctx.Err()
	}
}

// Respond resolves a pending request. It reports whether a waiter took the
// response; unknown, expired and already-answered IDs are logged and ignored.
func (c *Checker) Respond(resp Response) bool {
	c.mu.Lock()
	ch, ok := c.waiters[resp.RequestID]
	c.mu.Unlock()

	if !ok {
		logging.Warn().Str("requestID", resp.RequestID).Msg("response for unknown permission request")
		return false
	}

	select {
	case ch <- resp:
		logging.Debug().Str("requestID", resp.RequestID).Str("action", string(resp.Action)).Msg("permission response received")
		return true
	default:
		logging.Warn().Str("requestID", resp.RequestID).Msg("permission request already answered")
		return false
	}
}

// ClearSession drops the session's learned rules and loop history.
func (c *Checker) ClearSession(sessionID string) {
	c.store.ClearSession(sessionID)
	if c.doom != nil {
		c.doom.Clear(sessionID)
	}
}

func (c *Checker) publish(e event.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}
