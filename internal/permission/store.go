package permission

import (
	"sort"
	"sync"

	"github.com/evmts/agentcore/internal/logging"
)

// Store holds per-session permission tables and the pending-request table.
// Sessions without an explicit table start from a copy of the base config.
type Store struct {
	mu      sync.RWMutex
	base    Config
	configs map[string]Config
	pending map[string]Request
}

// NewStore creates a store whose sessions start from base.
func NewStore(base Config) *Store {
	if base.Bash.Patterns == nil {
		base.Bash.Patterns = map[string]Level{}
	}
	return &Store{
		base:    base.Clone(),
		configs: make(map[string]Config),
		pending: make(map[string]Request),
	}
}

// config returns the live table for a session, creating it on first use.
// Caller must hold the write lock.
func (s *Store) config(sessionID string) Config {
	cfg, ok := s.configs[sessionID]
	if !ok {
		cfg = s.base.Clone()
		s.configs[sessionID] = cfg
	}
	return cfg
}

// GetConfig returns a copy of the session's permission table.
func (s *Store) GetConfig(sessionID string) Config {
	s.mu.RLock()
	cfg, ok := s.configs[sessionID]
	s.mu.RUnlock()
	if ok {
		return cfg.Clone()
	}
	return s.base.Clone()
}

// UpdateConfig replaces the session's permission table.
func (s *Store) UpdateConfig(sessionID string, cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[sessionID] = cfg.Clone()
}

// AddBashPattern installs a bash rule for a session.
func (s *Store) AddBashPattern(sessionID, pattern string, level Level) {
	s.mu.Lock()
	cfg := s.config(sessionID)
	cfg.Bash.Patterns[pattern] = level
	s.mu.Unlock()

	logging.Info().
		Str("sessionID", sessionID).
		Str("pattern", pattern).
		Str("level", string(level)).
		Msg("added bash pattern")
}

// ClearSession drops the session's table so it falls back to the base config.
func (s *Store) ClearSession(sessionID string) {
	s.mu.Lock()
	_, ok := s.configs[sessionID]
	delete(s.configs, sessionID)
	s.mu.Unlock()
	if ok {
		logging.Info().Str("sessionID", sessionID).Msg("cleared session permissions")
	}
}

// AddPending tracks a pending request.
func (s *Store) AddPending(req Request) {
	s.mu.Lock()
	s.pending[req.ID] = req
	s.mu.Unlock()
	logging.Debug().Str("requestID", req.ID).Msg("added pending request")
}

// GetPending returns a pending request by ID.
func (s *Store) GetPending(requestID string) (Request, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.pending[requestID]
	return req, ok
}

// RemovePending removes a pending request. Removing an unknown ID is a no-op.
func (s *Store) RemovePending(requestID string) {
	s.mu.Lock()
	_, ok := s.pending[requestID]
	delete(s.pending, requestID)
	s.mu.Unlock()
	if ok {
		logging.Debug().Str("requestID", requestID).Msg("removed pending request")
	}
}

// PendingRequests lists a session's pending requests, oldest first.
// An empty sessionID lists every pending request.
func (s *Store) PendingRequests(sessionID string) []Request {
	s.mu.RLock()
	out := make([]Request, 0, len(s.pending))
	for _, req := range s.pending {
		if sessionID == "" || req.SessionID == sessionID {
			out = append(out, req)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out
}

// ApplyResponse updates the session's table for approvals that persist.
// "always" installs the literal bash command as an allow rule; "pattern"
// installs the supplied glob. Other actions and non-bash operations leave
// the table untouched.
func (s *Store) ApplyResponse(req Request, resp Response) {
	switch resp.Action {
	case ActionAlways:
		if req.Operation != OpBash {
			logging.Info().
				Str("operation", string(req.Operation)).
				Msg("always-allow only persists for bash; approving once")
			return
		}
		if cmd := req.Command(); cmd != "" {
			s.AddBashPattern(req.SessionID, cmd, LevelAllow)
		}
	case ActionPattern:
		if resp.Pattern == "" {
			return
		}
		if req.Operation != OpBash {
			logging.Warn().
				Str("operation", string(req.Operation)).
				Msg("pattern approval only supported for bash")
			return
		}
		s.AddBashPattern(req.SessionID, resp.Pattern, LevelAllow)
	}
}
