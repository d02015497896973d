package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/evmts/agentcore/internal/storage"
	"github.com/evmts/agentcore/pkg/types"
)

// DiskStore is a Store persisted through storage.Storage:
//
//	session/<id>.json   session metadata
//	message/<id>.json   ordered message log
//	turn/<id>.json      turn records
//	snapshot/<id>.json  snapshot history
type DiskStore struct {
	storage *storage.Storage

	// serializes read-modify-write of the per-session lists
	mu sync.Mutex
}

// NewDiskStore creates a DiskStore on top of s.
func NewDiskStore(s *storage.Storage) *DiskStore {
	return &DiskStore{storage: s}
}

func (d *DiskStore) Get(ctx context.Context, sessionID string) (*types.Session, error) {
	var s types.Session
	if err := d.storage.Get(ctx, []string{"session", sessionID}, &s); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, notFound("session", sessionID)
		}
		return nil, err
	}
	return &s, nil
}

func (d *DiskStore) Put(ctx context.Context, session *types.Session) error {
	return d.storage.Put(ctx, []string{"session", session.ID}, session)
}

func (d *DiskStore) Delete(ctx context.Context, sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.storage.Exists(ctx, []string{"session", sessionID}) {
		return notFound("session", sessionID)
	}
	for _, kind := range []string{"message", "turn", "snapshot", "session"} {
		if err := d.storage.Delete(ctx, []string{kind, sessionID}); err != nil {
			return err
		}
	}
	return nil
}

func (d *DiskStore) List(ctx context.Context) ([]*types.Session, error) {
	var out []*types.Session
	err := d.storage.Scan(ctx, []string{"session"}, func(name string, data json.RawMessage) error {
		var s types.Session
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode session %s: %w", name, err)
		}
		out = append(out, &s)
		return nil
	})
	return out, err
}

func (d *DiskStore) Messages(ctx context.Context, sessionID string) ([]types.MessageWithParts, error) {
	var log []types.MessageWithParts
	if err := d.load(ctx, "message", sessionID, &log); err != nil {
		return nil, err
	}
	return log, nil
}

func (d *DiskStore) PutMessage(ctx context.Context, sessionID string, msg types.MessageWithParts) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	log, err := d.Messages(ctx, sessionID)
	if err != nil {
		return err
	}
	replaced := false
	for i := range log {
		if log[i].Info.ID == msg.Info.ID {
			log[i] = msg
			replaced = true
			break
		}
	}
	if !replaced {
		log = append(log, msg)
	}
	return d.storage.Put(ctx, []string{"message", sessionID}, log)
}

func (d *DiskStore) TruncateMessages(ctx context.Context, sessionID string, keep int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	log, err := d.Messages(ctx, sessionID)
	if err != nil {
		return err
	}
	if keep >= len(log) {
		return nil
	}
	return d.storage.Put(ctx, []string{"message", sessionID}, log[:keep])
}

func (d *DiskStore) Turns(ctx context.Context, sessionID string) ([]Turn, error) {
	var turns []Turn
	if err := d.load(ctx, "turn", sessionID, &turns); err != nil {
		return nil, err
	}
	return turns, nil
}

func (d *DiskStore) PutTurn(ctx context.Context, sessionID string, turn Turn) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	turns, err := d.Turns(ctx, sessionID)
	if err != nil {
		return err
	}
	return d.storage.Put(ctx, []string{"turn", sessionID}, upsertTurn(turns, turn))
}

func (d *DiskStore) TruncateTurns(ctx context.Context, sessionID string, keep int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	turns, err := d.Turns(ctx, sessionID)
	if err != nil {
		return err
	}
	if keep >= len(turns) {
		return nil
	}
	return d.storage.Put(ctx, []string{"turn", sessionID}, turns[:keep])
}

func (d *DiskStore) History(ctx context.Context, sessionID string) ([]string, error) {
	var history []string
	if err := d.load(ctx, "snapshot", sessionID, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func (d *DiskStore) AppendHistory(ctx context.Context, sessionID string, hash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	history, err := d.History(ctx, sessionID)
	if err != nil {
		return err
	}
	return d.storage.Put(ctx, []string{"snapshot", sessionID}, append(history, hash))
}

// load decodes a per-session list; a missing file is an empty list.
func (d *DiskStore) load(ctx context.Context, kind, sessionID string, v any) error {
	err := d.storage.Get(ctx, []string{kind, sessionID}, v)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}
