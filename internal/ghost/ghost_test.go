package ghost

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmts/agentcore/internal/gitexec"
)

func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

// newRepo creates a repository with one user commit.
func newRepo(t *testing.T, withInitialCommit bool) string {
	t.Helper()
	if !gitexec.Available() {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	gitCmd(t, dir, "init", "-q")
	gitCmd(t, dir, "config", "user.name", "Test")
	gitCmd(t, dir, "config", "user.email", "test@example.com")
	gitCmd(t, dir, "config", "commit.gpgsign", "false")
	if withInitialCommit {
		writeFile(t, dir, "README.md", "readme\n")
		gitCmd(t, dir, "add", "-A")
		gitCmd(t, dir, "commit", "-q", "-m", "initial")
	}
	return dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func readFile(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(data)
}

func TestCreateGhostCommit(t *testing.T) {
	dir := newRepo(t, true)
	m := NewManager(dir)
	ctx := context.Background()

	assert.True(t, m.IsRepo(ctx))
	assert.Equal(t, "", m.CreateGhostCommit(ctx, 1, "nothing"), "clean tree yields no commit")
	assert.Empty(t, m.CommitRefs())

	writeFile(t, dir, "a.txt", "a\n")
	hash := m.CreateGhostCommit(ctx, 1, "add a\nmore detail")
	require.NotEmpty(t, hash)
	assert.Equal(t, []string{hash}, m.CommitRefs())
	assert.Equal(t, []int{1}, m.TurnNumbers())
	assert.Equal(t, "[agent] Turn 1: add a", gitCmd(t, dir, "log", "-1", "--format=%s"))
	assert.Equal(t, hash, gitCmd(t, dir, "rev-parse", "HEAD"))
}

func TestCreateGhostCommit_SkipsHooks(t *testing.T) {
	dir := newRepo(t, true)
	hook := filepath.Join(dir, ".git", "hooks", "pre-commit")
	require.NoError(t, os.MkdirAll(filepath.Dir(hook), 0755))
	require.NoError(t, os.WriteFile(hook, []byte("#!/bin/sh\nexit 1\n"), 0755))

	m := NewManager(dir)
	writeFile(t, dir, "a.txt", "a\n")
	assert.NotEmpty(t, m.CreateGhostCommit(context.Background(), 1, ""))
	assert.Equal(t, "[agent] Turn 1", gitCmd(t, dir, "log", "-1", "--format=%s"))
}

func TestCreateGhostCommit_NotARepo(t *testing.T) {
	if !gitexec.Available() {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	m := NewManager(dir)
	assert.False(t, m.IsRepo(context.Background()))
	writeFile(t, dir, "a.txt", "a\n")
	assert.Equal(t, "", m.CreateGhostCommit(context.Background(), 1, "x"))
}

func TestRevertToTurn(t *testing.T) {
	dir := newRepo(t, true)
	m := NewManager(dir)
	ctx := context.Background()

	for i, content := range []string{"v1\n", "v2\n", "v3\n"} {
		writeFile(t, dir, "a.txt", content)
		require.NotEmpty(t, m.CreateGhostCommit(ctx, i+1, ""))
	}
	refs := m.CommitRefs()

	assert.False(t, m.RevertToTurn(ctx, 3))
	assert.False(t, m.RevertToTurn(ctx, -1))

	require.True(t, m.RevertToTurn(ctx, 1))
	assert.Equal(t, refs[:2], m.CommitRefs())
	assert.Equal(t, "v2\n", readFile(t, dir, "a.txt"))
	assert.Equal(t, refs[1], gitCmd(t, dir, "rev-parse", "HEAD"))
}

func TestGetTurnDiff(t *testing.T) {
	dir := newRepo(t, true)
	m := NewManager(dir)
	ctx := context.Background()

	writeFile(t, dir, "a.txt", "first\n")
	m.CreateGhostCommit(ctx, 1, "")
	writeFile(t, dir, "a.txt", "second\n")
	m.CreateGhostCommit(ctx, 2, "")

	diff, ok := m.GetTurnDiff(ctx, 0)
	require.True(t, ok)
	assert.Contains(t, diff, "+first")

	diff, ok = m.GetTurnDiff(ctx, 1)
	require.True(t, ok)
	assert.Contains(t, diff, "-first")
	assert.Contains(t, diff, "+second")

	_, ok = m.GetTurnDiff(ctx, 2)
	assert.False(t, ok)
}

func TestGetTurnDiff_RootCommit(t *testing.T) {
	dir := newRepo(t, false)
	m := NewManager(dir)
	ctx := context.Background()

	writeFile(t, dir, "a.txt", "root\n")
	require.NotEmpty(t, m.CreateGhostCommit(ctx, 1, ""))

	diff, ok := m.GetTurnDiff(ctx, 0)
	require.True(t, ok)
	assert.Contains(t, diff, "+root")
}

func TestCleanupGhostCommits_Squash(t *testing.T) {
	dir := newRepo(t, true)
	base := gitCmd(t, dir, "rev-parse", "HEAD")
	m := NewManager(dir)
	ctx := context.Background()

	writeFile(t, dir, "a.txt", "1\n")
	m.CreateGhostCommit(ctx, 1, "")
	writeFile(t, dir, "b.txt", "2\n")
	m.CreateGhostCommit(ctx, 2, "")

	m.CleanupGhostCommits(ctx, true)
	assert.Empty(t, m.CommitRefs())
	assert.Equal(t, base, gitCmd(t, dir, "rev-parse", "HEAD^"))
	assert.Equal(t, "[agent] Squashed 2 turns", gitCmd(t, dir, "log", "-1", "--format=%s"))
	assert.Equal(t, "", gitCmd(t, dir, "status", "--porcelain"))
}

func TestCleanupGhostCommits_LeavesChangesStaged(t *testing.T) {
	dir := newRepo(t, true)
	base := gitCmd(t, dir, "rev-parse", "HEAD")
	m := NewManager(dir)
	ctx := context.Background()

	writeFile(t, dir, "a.txt", "1\n")
	m.CreateGhostCommit(ctx, 1, "")

	// a single commit is never squashed
	m.CleanupGhostCommits(ctx, true)
	assert.Equal(t, base, gitCmd(t, dir, "rev-parse", "HEAD"))
	assert.Equal(t, "A  a.txt", gitCmd(t, dir, "status", "--porcelain"))

	// no-op when nothing is tracked
	m.CleanupGhostCommits(ctx, false)
	assert.Equal(t, base, gitCmd(t, dir, "rev-parse", "HEAD"))
}

func TestDiscardFromTurn(t *testing.T) {
	dir := newRepo(t, true)
	base := gitCmd(t, dir, "rev-parse", "HEAD")
	m := NewManager(dir)
	ctx := context.Background()

	writeFile(t, dir, "a.txt", "1\n")
	m.CreateGhostCommit(ctx, 1, "")
	writeFile(t, dir, "a.txt", "2\n")
	m.CreateGhostCommit(ctx, 3, "")
	refs := m.CommitRefs()

	require.True(t, m.DiscardFromTurn(ctx, 2))
	assert.Equal(t, refs[:1], m.CommitRefs())
	assert.Equal(t, refs[0], gitCmd(t, dir, "rev-parse", "HEAD"))
	assert.Equal(t, "2\n", readFile(t, dir, "a.txt"), "work tree is left alone")

	require.True(t, m.DiscardFromTurn(ctx, 5))
	assert.Len(t, m.CommitRefs(), 1)

	require.True(t, m.DiscardFromTurn(ctx, 1))
	assert.Empty(t, m.CommitRefs())
	assert.Equal(t, base, gitCmd(t, dir, "rev-parse", "HEAD"))
}

func TestCommitMessage(t *testing.T) {
	assert.Equal(t, "[agent] Turn 4", commitMessage(4, "  "))
	assert.Equal(t, "[agent] Turn 4: fix it", commitMessage(4, "fix it\n\nbody"))
}
