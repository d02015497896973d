package session

import (
	"context"
	"strings"

	"github.com/evmts/agentcore/internal/config"
	"github.com/evmts/agentcore/internal/event"
	"github.com/evmts/agentcore/internal/ghost"
	"github.com/evmts/agentcore/pkg/types"
)

// BeginTurn appends the user's prompt to the log and tracks the snapshot
// the turn starts from. On a reverted session the messages past the revert
// point are dropped first and the revert marker is cleared.
func (s *Service) BeginTurn(ctx context.Context, sessionID, prompt string) (Turn, error) {
	rt, err := s.runtimeFor(ctx, sessionID)
	if err != nil {
		return Turn{}, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return Turn{}, err
	}
	if sess.Revert != nil {
		if err := s.commitRevert(ctx, rt, sess); err != nil {
			return Turn{}, err
		}
	}

	turns, err := s.store.Turns(ctx, sessionID)
	if err != nil {
		return Turn{}, err
	}
	if n := len(turns); n > 0 && turns[n-1].Open() {
		return Turn{}, invalidOp("begin turn", "turn %d of session %s has not ended", turns[n-1].Number, sessionID)
	}
	msgs, err := s.store.Messages(ctx, sessionID)
	if err != nil {
		return Turn{}, err
	}

	start := s.track(ctx, rt, sess)

	userID := generateID(messagePrefix)
	created := now()
	user := types.MessageWithParts{
		Info: types.Message{
			ID:        userID,
			SessionID: sessionID,
			Role:      types.RoleUser,
			Time:      types.MessageTime{Created: created},
		},
		Parts: []types.Part{&types.TextPart{
			ID:        generateID(partPrefix),
			SessionID: sessionID,
			MessageID: userID,
			Type:      types.PartText,
			Text:      prompt,
		}},
	}
	if err := s.appendMessage(ctx, sessionID, user); err != nil {
		return Turn{}, err
	}

	turn := Turn{
		Number:            len(turns) + 1,
		UserMessageID:     userID,
		FirstMessageIndex: len(msgs),
		Start:             start,
		Time:              TurnTime{Started: created},
	}
	if err := s.store.PutTurn(ctx, sessionID, turn); err != nil {
		return Turn{}, err
	}

	logger().Debug().
		Str("sessionID", sessionID).
		Int("turn", turn.Number).
		Str("snapshot", shortHash(start)).
		Msg("turn started")
	return turn, nil
}

// EndTurn tracks the snapshot the open turn ends at, overwrites the
// session summary with the turn's changes and, when enabled, records a
// ghost commit. Snapshot or git failures degrade to an empty summary.
func (s *Service) EndTurn(ctx context.Context, sessionID string) (*types.Session, error) {
	rt, err := s.runtimeFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	turns, err := s.store.Turns(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(turns) == 0 || !turns[len(turns)-1].Open() {
		return nil, invalidOp("end turn", "no open turn in session %s", sessionID)
	}
	turn := turns[len(turns)-1]

	turn.End = s.track(ctx, rt, sess)
	turn.Time.Completed = now()
	sess.Summary = types.NewSessionSummary(s.turnDiff(ctx, rt, sess, turn))

	if gm := s.ghostFor(rt, sess); gm != nil {
		turn.Ghost = gm.CreateGhostCommit(ctx, turn.Number, s.promptOf(ctx, sessionID, turn))
	}

	if err := s.store.PutTurn(ctx, sessionID, turn); err != nil {
		return nil, err
	}
	touch(sess)
	if err := s.store.Put(ctx, sess); err != nil {
		return nil, err
	}

	logger().Debug().
		Str("sessionID", sessionID).
		Int("turn", turn.Number).
		Int("files", sess.Summary.Files).
		Int("additions", sess.Summary.Additions).
		Int("deletions", sess.Summary.Deletions).
		Msg("turn ended")
	s.publishSession(event.SessionUpdated, sess)
	return sess, nil
}

// track records a snapshot of the working directory in the session history.
// It returns "" when snapshots are unavailable or tracking failed.
func (s *Service) track(ctx context.Context, rt *runtime, sess *types.Session) string {
	snap, _ := s.snapshot(ctx, rt, sess)
	if snap == nil {
		return ""
	}
	hash, err := snap.Track(ctx)
	if err != nil {
		sessionLogger(sess.ID).Warn().Err(err).Msg("snapshot track failed")
		return ""
	}
	if err := s.store.AppendHistory(ctx, sess.ID, hash); err != nil {
		sessionLogger(sess.ID).Warn().Err(err).Msg("snapshot history not saved")
	}
	return hash
}

// ghostFor returns the session's ghost commit manager when ghost commits
// are enabled.
func (s *Service) ghostFor(rt *runtime, sess *types.Session) *ghost.Manager {
	if !s.features.IsEnabled(config.FeatureGhostCommit) {
		return nil
	}
	if rt.ghost == nil {
		rt.ghost = ghost.NewManager(sess.Directory, s.ghostOpts...)
	}
	return rt.ghost
}

// promptOf returns the text of the turn's user message.
func (s *Service) promptOf(ctx context.Context, sessionID string, t Turn) string {
	msgs, err := s.store.Messages(ctx, sessionID)
	if err != nil || t.FirstMessageIndex >= len(msgs) {
		return ""
	}
	var b strings.Builder
	for _, p := range msgs[t.FirstMessageIndex].Parts {
		if tp, ok := p.(*types.TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// commitRevert makes a revert permanent: the turn the revert point lies in
// and everything after it leave the log.
func (s *Service) commitRevert(ctx context.Context, rt *runtime, sess *types.Session) error {
	msgs, err := s.store.Messages(ctx, sess.ID)
	if err != nil {
		return err
	}
	turns, err := s.store.Turns(ctx, sess.ID)
	if err != nil {
		return err
	}

	if ti := turnContaining(turns, indexOf(msgs, sess.Revert.MessageID)); ti >= 0 {
		if rt.ghost != nil {
			rt.ghost.DiscardFromTurn(ctx, turns[ti].Number)
		}
		removed, err := s.truncate(ctx, sess.ID, turns[ti].FirstMessageIndex, ti)
		if err != nil {
			return err
		}
		logger().Info().
			Str("sessionID", sess.ID).
			Int("messages", len(removed)).
			Msg("reverted messages discarded")
	}

	sess.Revert = nil
	touch(sess)
	if err := s.store.Put(ctx, sess); err != nil {
		return err
	}
	s.publishSession(event.SessionUpdated, sess)
	return nil
}
