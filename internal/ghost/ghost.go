// Package ghost records one git commit per agent turn in the user's own
// repository so turns can be undone with plain git.
//
// Every method logs git failures and reports them as a zero result. Ghost
// bookkeeping never fails the turn that triggered it.
package ghost

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/evmts/agentcore/internal/gitexec"
	"github.com/evmts/agentcore/internal/logging"
)

// MessagePrefix starts every ghost commit message.
const MessagePrefix = "[agent]"

// Manager tracks the ghost commits of one session. Index i of CommitRefs is
// the i-th ghost commit; TurnNumbers holds the turn each one recorded.
type Manager struct {
	git *gitexec.Git

	mu          sync.Mutex
	commitRefs  []string
	turnNumbers []int
}

// NewManager creates a manager for the repository at workingDir.
func NewManager(workingDir string, opts ...gitexec.Option) *Manager {
	return &Manager{git: gitexec.New(workingDir, opts...)}
}

func (m *Manager) log() *zerolog.Logger {
	l := logging.Component("ghost").With().Str("dir", m.git.Dir()).Logger()
	return &l
}

// IsRepo reports whether the working directory is inside a git work tree.
func (m *Manager) IsRepo(ctx context.Context) bool {
	out, err := m.git.Output(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// CommitRefs returns a copy of the ghost commit hashes, oldest first.
func (m *Manager) CommitRefs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commitRefs...)
}

// TurnNumbers returns the turn recorded by each ghost commit.
func (m *Manager) TurnNumbers() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.turnNumbers...)
}

// CreateGhostCommit commits all changes in the work tree for turn. It
// returns "" when there is nothing to commit or git fails.
func (m *Manager) CreateGhostCommit(ctx context.Context, turn int, summary string) string {
	log := m.log()

	status, err := m.git.Output(ctx, "status", "--porcelain")
	if err != nil {
		log.Warn().Err(err).Int("turn", turn).Msg("ghost commit status failed")
		return ""
	}
	if status == "" {
		log.Debug().Int("turn", turn).Msg("no changes, skipping ghost commit")
		return ""
	}

	if _, err := m.git.Run(ctx, "add", "-A"); err != nil {
		log.Warn().Err(err).Int("turn", turn).Msg("ghost commit add failed")
		return ""
	}
	// hooks may prompt and would hang a non-interactive loop
	if _, err := m.git.Run(ctx, "commit", "-q", "--no-verify", "-m", commitMessage(turn, summary)); err != nil {
		log.Warn().Err(err).Int("turn", turn).Msg("ghost commit failed")
		return ""
	}
	hash, err := m.git.Output(ctx, "rev-parse", "HEAD")
	if err != nil {
		log.Warn().Err(err).Int("turn", turn).Msg("ghost commit rev-parse failed")
		return ""
	}

	m.mu.Lock()
	m.commitRefs = append(m.commitRefs, hash)
	m.turnNumbers = append(m.turnNumbers, turn)
	m.mu.Unlock()

	log.Debug().Int("turn", turn).Str("hash", hash).Msg("created ghost commit")
	return hash
}

func commitMessage(turn int, summary string) string {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return fmt.Sprintf("%s Turn %d", MessagePrefix, turn)
	}
	if i := strings.IndexByte(summary, '\n'); i >= 0 {
		summary = summary[:i]
	}
	return fmt.Sprintf("%s Turn %d: %s", MessagePrefix, turn, summary)
}

// RevertToTurn hard-resets the repository to the n-th ghost commit and
// forgets every later one. Out-of-range n is rejected.
func (m *Manager) RevertToTurn(ctx context.Context, n int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.log()
	if n < 0 || n >= len(m.commitRefs) {
		log.Warn().Int("n", n).Int("commits", len(m.commitRefs)).Msg("ghost revert out of range")
		return false
	}
	if _, err := m.git.Run(ctx, "reset", "-q", "--hard", m.commitRefs[n]); err != nil {
		log.Warn().Err(err).Int("n", n).Msg("ghost revert failed")
		return false
	}
	m.commitRefs = m.commitRefs[:n+1]
	m.turnNumbers = m.turnNumbers[:n+1]
	return true
}

// DiscardFromTurn forgets the ghost commits recorded for turn and later
// turns, moving HEAD and the index back without touching the work tree.
// It is used after the work tree was already restored by a snapshot.
func (m *Manager) DiscardFromTurn(ctx context.Context, turn int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	keep := 0
	for keep < len(m.turnNumbers) && m.turnNumbers[keep] < turn {
		keep++
	}
	if keep == len(m.commitRefs) {
		return true
	}

	log := m.log()
	target := ""
	if keep > 0 {
		target = m.commitRefs[keep-1]
	} else {
		parent, ok := m.parent(ctx, m.commitRefs[0])
		if !ok {
			if _, err := m.git.Run(ctx, "update-ref", "-d", "HEAD"); err != nil {
				log.Warn().Err(err).Msg("ghost discard failed to unset root commit")
				return false
			}
			if _, err := m.git.Run(ctx, "read-tree", "--empty"); err != nil {
				log.Warn().Err(err).Msg("ghost discard failed to clear index")
			}
			m.commitRefs, m.turnNumbers = nil, nil
			return true
		}
		target = parent
	}

	if _, err := m.git.Run(ctx, "reset", "-q", target); err != nil {
		log.Warn().Err(err).Int("turn", turn).Msg("ghost discard failed")
		return false
	}
	m.commitRefs = m.commitRefs[:keep]
	m.turnNumbers = m.turnNumbers[:keep]
	return true
}

// parent resolves ref^. It reports false for a root commit.
func (m *Manager) parent(ctx context.Context, ref string) (string, bool) {
	out, err := m.git.Output(ctx, "rev-parse", "--verify", "-q", ref+"^")
	if err != nil || out == "" {
		return "", false
	}
	return out, true
}

// CleanupGhostCommits soft-resets past every ghost commit. With squash and
// more than one ghost commit the combined changes are committed once;
// otherwise they are left staged.
func (m *Manager) CleanupGhostCommits(ctx context.Context, squash bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.commitRefs) == 0 {
		return
	}
	log := m.log()
	count := len(m.commitRefs)

	if parent, ok := m.parent(ctx, m.commitRefs[0]); ok {
		if _, err := m.git.Run(ctx, "reset", "-q", "--soft", parent); err != nil {
			log.Warn().Err(err).Msg("ghost cleanup reset failed")
			return
		}
	} else if _, err := m.git.Run(ctx, "update-ref", "-d", "HEAD"); err != nil {
		log.Warn().Err(err).Msg("ghost cleanup failed to unset root commit")
		return
	}

	m.commitRefs, m.turnNumbers = nil, nil

	if squash && count > 1 {
		msg := fmt.Sprintf("%s Squashed %d turns", MessagePrefix, count)
		if _, err := m.git.Run(ctx, "commit", "-q", "--no-verify", "-m", msg); err != nil {
			log.Warn().Err(err).Msg("ghost squash commit failed")
			return
		}
		log.Info().Int("turns", count).Msg("squashed ghost commits")
		return
	}
	log.Info().Int("turns", count).Msg("ghost commits removed, changes left staged")
}

// GetTurnDiff returns the diff introduced by the n-th ghost commit.
func (m *Manager) GetTurnDiff(ctx context.Context, n int) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n < 0 || n >= len(m.commitRefs) {
		return "", false
	}
	ref := m.commitRefs[n]

	var (
		out string
		err error
	)
	switch {
	case n > 0:
		out, err = m.git.Run(ctx, "diff", m.commitRefs[n-1], ref)
	default:
		if parent, ok := m.parent(ctx, ref); ok {
			out, err = m.git.Run(ctx, "diff", parent, ref)
		} else {
			out, err = m.git.Run(ctx, "show", "--format=", ref)
		}
	}
	if err != nil {
		m.log().Warn().Err(err).Int("n", n).Msg("ghost diff failed")
		return "", false
	}
	return out, true
}
