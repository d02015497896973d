package session

import (
	"context"
	"sort"
	"sync"

	"github.com/evmts/agentcore/pkg/types"
)

// Turn brackets one user message and the assistant response to it.
// Start and End are the snapshot hashes tracked around the turn; either is
// empty when tracking was unavailable.
type Turn struct {
	Number            int      `json:"number"`
	UserMessageID     string   `json:"userMessageID"`
	FirstMessageIndex int      `json:"firstMessageIndex"`
	Start             string   `json:"start,omitempty"`
	End               string   `json:"end,omitempty"`
	Ghost             string   `json:"ghost,omitempty"`
	Time              TurnTime `json:"time"`
}

// TurnTime holds turn timestamps in Unix milliseconds.
type TurnTime struct {
	Started   int64 `json:"started"`
	Completed int64 `json:"completed,omitempty"`
}

// Open reports whether the turn has not been ended yet.
func (t Turn) Open() bool {
	return t.Time.Completed == 0
}

// Store holds session metadata, message logs, turn records and snapshot
// history. Getters return copies the caller may modify.
type Store interface {
	Get(ctx context.Context, sessionID string) (*types.Session, error)
	Put(ctx context.Context, session *types.Session) error
	// Delete removes the session together with everything recorded for it.
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]*types.Session, error)

	Messages(ctx context.Context, sessionID string) ([]types.MessageWithParts, error)
	// PutMessage replaces the message with the same ID in place, or appends it.
	PutMessage(ctx context.Context, sessionID string, msg types.MessageWithParts) error
	// TruncateMessages keeps the first keep messages.
	TruncateMessages(ctx context.Context, sessionID string, keep int) error

	Turns(ctx context.Context, sessionID string) ([]Turn, error)
	PutTurn(ctx context.Context, sessionID string, turn Turn) error
	TruncateTurns(ctx context.Context, sessionID string, keep int) error

	History(ctx context.Context, sessionID string) ([]string, error)
	AppendHistory(ctx context.Context, sessionID string, hash string) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session
	messages map[string][]types.MessageWithParts
	turns    map[string][]Turn
	history  map[string][]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*types.Session),
		messages: make(map[string][]types.MessageWithParts),
		turns:    make(map[string][]Turn),
		history:  make(map[string][]string),
	}
}

func (m *MemoryStore) Get(ctx context.Context, sessionID string) (*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, notFound("session", sessionID)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Put(ctx context.Context, session *types.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session.Clone()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return notFound("session", sessionID)
	}
	delete(m.sessions, sessionID)
	delete(m.messages, sessionID)
	delete(m.turns, sessionID)
	delete(m.history, sessionID)
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Messages(ctx context.Context, sessionID string) ([]types.MessageWithParts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.MessageWithParts(nil), m.messages[sessionID]...), nil
}

func (m *MemoryStore) PutMessage(ctx context.Context, sessionID string, msg types.MessageWithParts) error {
	c, err := msg.Clone()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	log := m.messages[sessionID]
	for i := range log {
		if log[i].Info.ID == c.Info.ID {
			log[i] = c
			return nil
		}
	}
	m.messages[sessionID] = append(log, c)
	return nil
}

func (m *MemoryStore) TruncateMessages(ctx context.Context, sessionID string, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if log := m.messages[sessionID]; keep < len(log) {
		m.messages[sessionID] = append([]types.MessageWithParts(nil), log[:keep]...)
	}
	return nil
}

func (m *MemoryStore) Turns(ctx context.Context, sessionID string) ([]Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Turn(nil), m.turns[sessionID]...), nil
}

func (m *MemoryStore) PutTurn(ctx context.Context, sessionID string, turn Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns[sessionID] = upsertTurn(m.turns[sessionID], turn)
	return nil
}

func (m *MemoryStore) TruncateTurns(ctx context.Context, sessionID string, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if turns := m.turns[sessionID]; keep < len(turns) {
		m.turns[sessionID] = append([]Turn(nil), turns[:keep]...)
	}
	return nil
}

func (m *MemoryStore) History(ctx context.Context, sessionID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.history[sessionID]...), nil
}

func (m *MemoryStore) AppendHistory(ctx context.Context, sessionID string, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[sessionID] = append(m.history[sessionID], hash)
	return nil
}

func upsertTurn(turns []Turn, turn Turn) []Turn {
	for i := range turns {
		if turns[i].Number == turn.Number {
			turns[i] = turn
			return turns
		}
	}
	return append(turns, turn)
}
