// Package project identifies the project a working directory belongs to.
//
// A directory inside a git repository with at least one commit gets the
// repository's root commit as its ID, so every clone and worktree of the
// same repository shares sessions. Anything else is identified by a hash of
// its absolute path.
package project

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/evmts/agentcore/internal/config"
	"github.com/evmts/agentcore/internal/gitexec"
	"github.com/evmts/agentcore/internal/logging"
)

// VCSGit is the only version control system recognized.
const VCSGit = "git"

// Info contains project metadata.
type Info struct {
	ID       string `json:"id"`
	Worktree string `json:"worktree"`
	VCS      string `json:"vcs,omitempty"`
}

var (
	cacheMu sync.RWMutex
	cache   = make(map[string]Info)
)

// FromDirectory detects project information for directory. Results are
// cached per absolute directory for the life of the process.
func FromDirectory(ctx context.Context, directory string, opts ...gitexec.Option) (Info, error) {
	directory, err := filepath.Abs(directory)
	if err != nil {
		return Info{}, err
	}

	cacheMu.RLock()
	info, ok := cache[directory]
	cacheMu.RUnlock()
	if ok {
		return info, nil
	}

	info = Info{ID: config.ProjectID(directory), Worktree: directory}
	if findGitDir(directory) != "" && gitexec.Available() {
		git := gitexec.New(directory, opts...)
		if top, err := git.Output(ctx, "rev-parse", "--show-toplevel"); err == nil && top != "" {
			info.Worktree = top
			info.VCS = VCSGit
			if root := rootCommit(ctx, git); root != "" {
				info.ID = root
			} else {
				// no commits yet
				info.ID = config.ProjectID(top)
			}
		} else if err != nil {
			logging.Debug().Err(err).Str("directory", directory).Msg("git worktree lookup failed")
		}
	}

	cacheMu.Lock()
	cache[directory] = info
	cacheMu.Unlock()
	return info, nil
}

// ID returns the project ID for directory, falling back to the path hash
// when detection fails.
func ID(ctx context.Context, directory string) string {
	info, err := FromDirectory(ctx, directory)
	if err != nil {
		return config.ProjectID(directory)
	}
	return info.ID
}

// findGitDir walks up from start looking for a .git directory or file.
func findGitDir(start string) string {
	current := start
	for {
		gitPath := filepath.Join(current, ".git")
		if _, err := os.Stat(gitPath); err == nil {
			return gitPath
		}
		parent := filepath.Dir(current)
		if parent == current {
			return ""
		}
		current = parent
	}
}

// rootCommit returns the lexically first root commit, or "" when there
// is none.
func rootCommit(ctx context.Context, git *gitexec.Git) string {
	out, err := git.Output(ctx, "rev-list", "--max-parents=0", "--all")
	if err != nil {
		return ""
	}
	var roots []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			roots = append(roots, line)
		}
	}
	if len(roots) == 0 {
		return ""
	}
	sort.Strings(roots)
	return roots[0]
}

// ClearCache forgets every detected project.
func ClearCache() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	cache = make(map[string]Info)
}
