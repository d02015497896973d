// Package snapshot captures and restores working directory state.
//
// GitService stores snapshots as git tree objects in a shadow repository
// that lives outside the working directory, so the user's own .git is never
// touched and the shadow repository is never swept up by the user's commits.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/evmts/agentcore/internal/config"
	"github.com/evmts/agentcore/internal/gitexec"
	"github.com/evmts/agentcore/internal/logging"
	"github.com/evmts/agentcore/pkg/types"
)

// Service captures, diffs and restores one working directory.
// Init binds the service to a directory and returns the baseline hash.
type Service interface {
	Init(ctx context.Context, directory string) (string, error)
	Track(ctx context.Context) (string, error)
	DiffFull(ctx context.Context, from, to string) ([]types.FileDiff, error)
	Patch(ctx context.Context, from, to string) ([]string, error)
	Restore(ctx context.Context, hash string) error
}

// Factory creates an unbound Service, one per session.
type Factory func() Service

// ErrNotInitialized is returned by GitService methods called before Init.
var ErrNotInitialized = errors.New("snapshot service not initialized")

// GitService implements Service with a shadow git directory.
type GitService struct {
	root string
	opts []gitexec.Option

	mu        sync.Mutex
	directory string
	gitDir    string
	git       *gitexec.Git
}

// NewGitService creates a service whose shadow repositories live under root.
// An empty root uses the data directory from config.GetPaths.
func NewGitService(root string, opts ...gitexec.Option) *GitService {
	if root == "" {
		root = config.GetPaths().SnapshotPath()
	}
	return &GitService{root: root, opts: opts}
}

// NewGitFactory returns a Factory producing GitServices rooted at root.
func NewGitFactory(root string, opts ...gitexec.Option) Factory {
	return func() Service {
		return NewGitService(root, opts...)
	}
}

// GitDir returns the shadow repository path, empty before Init.
func (s *GitService) GitDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gitDir
}

// Init prepares the shadow repository for directory and tracks a baseline.
func (s *GitService) Init(ctx context.Context, directory string) (string, error) {
	abs, err := filepath.Abs(directory)
	if err != nil {
		return "", fmt.Errorf("resolve directory: %w", err)
	}
	gitDir := filepath.Join(s.root, config.ProjectID(abs))
	if err := os.MkdirAll(gitDir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	opts := append([]gitexec.Option{gitexec.WithGitDir(gitDir, abs)}, s.opts...)
	git := gitexec.New(abs, opts...)

	if _, err := os.Stat(filepath.Join(gitDir, "HEAD")); os.IsNotExist(err) {
		if _, err := git.Run(ctx, "init", "-q"); err != nil {
			return "", fmt.Errorf("init snapshot repo: %w", err)
		}
		if _, err := git.Run(ctx, "config", "core.autocrlf", "false"); err != nil {
			return "", fmt.Errorf("configure snapshot repo: %w", err)
		}
		logging.Debug().Str("directory", abs).Str("gitDir", gitDir).Msg("initialized snapshot repo")
	}

	s.mu.Lock()
	s.directory = abs
	s.gitDir = gitDir
	s.git = git
	s.mu.Unlock()

	return s.Track(ctx)
}

func (s *GitService) runner() (*gitexec.Git, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.git == nil {
		return nil, ErrNotInitialized
	}
	return s.git, nil
}

// Track stages the whole working tree into the shadow index and returns
// the tree hash. No commit is created.
func (s *GitService) Track(ctx context.Context) (string, error) {
	git, err := s.runner()
	if err != nil {
		return "", err
	}
	if _, err := git.Run(ctx, "add", "-A", "."); err != nil {
		return "", fmt.Errorf("stage snapshot: %w", err)
	}
	hash, err := git.Output(ctx, "write-tree")
	if err != nil {
		return "", fmt.Errorf("write snapshot tree: %w", err)
	}
	return hash, nil
}

// Patch lists paths that differ between two snapshots. An empty to compares
// against the working tree.
func (s *GitService) Patch(ctx context.Context, from, to string) ([]string, error) {
	git, err := s.runner()
	if err != nil {
		return nil, err
	}
	args := []string{"-c", "core.quotepath=false", "diff", "--no-renames", "--name-only", from}
	if to != "" {
		args = append(args, to)
	}
	out, err := git.Run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("list changed files: %w", err)
	}
	return splitLines(out), nil
}

// DiffFull returns per-file contents and line counts between two snapshots.
// An empty to compares against the working tree.
func (s *GitService) DiffFull(ctx context.Context, from, to string) ([]types.FileDiff, error) {
	git, err := s.runner()
	if err != nil {
		return nil, err
	}
	args := []string{"-c", "core.quotepath=false", "diff", "--no-renames", "--numstat", from}
	if to != "" {
		args = append(args, to)
	}
	out, err := git.Run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("diff snapshots: %w", err)
	}

	var diffs []types.FileDiff
	for _, line := range splitLines(out) {
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}
		file := parts[2]
		diff := types.FileDiff{
			File:      file,
			Additions: parseCount(parts[0]),
			Deletions: parseCount(parts[1]),
		}
		diff.Before = s.show(ctx, git, from, file)
		if to != "" {
			diff.After = s.show(ctx, git, to, file)
		} else if data, err := os.ReadFile(filepath.Join(git.Dir(), file)); err == nil {
			diff.After = string(data)
		}
		diffs = append(diffs, diff)
	}
	return diffs, nil
}

// show returns a file's content at a snapshot, empty when it is absent.
func (s *GitService) show(ctx context.Context, git *gitexec.Git, hash, file string) string {
	out, err := git.Run(ctx, "show", hash+":"+file)
	if err != nil {
		return ""
	}
	return out
}

// Restore rolls the working tree back to hash. Tracked files are rewritten
// from the snapshot and files created since the snapshot are removed.
func (s *GitService) Restore(ctx context.Context, hash string) error {
	git, err := s.runner()
	if err != nil {
		return err
	}

	current, err := s.Track(ctx)
	if err != nil {
		return fmt.Errorf("snapshot before restore: %w", err)
	}
	out, err := git.Run(ctx, "-c", "core.quotepath=false", "diff", "--no-renames", "--name-only", "--diff-filter=A", hash, current)
	if err != nil {
		return fmt.Errorf("list added files: %w", err)
	}

	if _, err := git.Run(ctx, "read-tree", hash); err != nil {
		return fmt.Errorf("read snapshot tree %s: %w", hash, err)
	}
	if _, err := git.Run(ctx, "checkout-index", "-a", "-f"); err != nil {
		return fmt.Errorf("checkout snapshot %s: %w", hash, err)
	}

	for _, file := range splitLines(out) {
		path := filepath.Join(git.Dir(), file)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logging.Warn().Err(err).Str("file", file).Msg("failed to remove file added after snapshot")
			continue
		}
		removeEmptyParents(filepath.Dir(path), git.Dir())
	}
	return nil
}

// removeEmptyParents deletes now-empty directories up to, not including, root.
func removeEmptyParents(dir, root string) {
	for dir != root && strings.HasPrefix(dir, root) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func splitLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimRight(line, "\r"); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// parseCount reads a numstat column; binary files report "-".
func parseCount(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
