package session

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evmts/agentcore/internal/event"
	"github.com/evmts/agentcore/internal/snapshot"
	"github.com/evmts/agentcore/pkg/types"
)

// fakeSnapshot keeps content-addressed copies of a directory in memory.
type fakeSnapshot struct {
	mu    sync.Mutex
	dir   string
	trees map[string]map[string]string

	initErr    error
	trackErr   error
	restoreErr error
	restores   []string
}

func newFakeSnapshot() *fakeSnapshot {
	return &fakeSnapshot{trees: make(map[string]map[string]string)}
}

func (f *fakeSnapshot) factory() snapshot.Factory {
	return func() snapshot.Service { return f }
}

func (f *fakeSnapshot) Init(ctx context.Context, directory string) (string, error) {
	if f.initErr != nil {
		return "", f.initErr
	}
	f.mu.Lock()
	f.dir = directory
	f.mu.Unlock()
	return f.Track(ctx)
}

func (f *fakeSnapshot) read() (map[string]string, error) {
	files := make(map[string]string)
	err := filepath.WalkDir(f.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(f.dir, path)
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	return files, err
}

func (f *fakeSnapshot) Track(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trackErr != nil {
		return "", f.trackErr
	}
	files, err := f.read()
	if err != nil {
		return "", err
	}
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	h := sha1.New()
	for _, p := range paths {
		h.Write([]byte(p + "\x00" + files[p] + "\x00"))
	}
	hash := hex.EncodeToString(h.Sum(nil))
	f.trees[hash] = files
	return hash, nil
}

func (f *fakeSnapshot) tree(hash string) (map[string]string, error) {
	if hash == "" {
		return f.read()
	}
	t, ok := f.trees[hash]
	if !ok {
		return nil, errors.New("unknown snapshot " + hash)
	}
	return t, nil
}

func (f *fakeSnapshot) DiffFull(ctx context.Context, from, to string) ([]types.FileDiff, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	before, err := f.tree(from)
	if err != nil {
		return nil, err
	}
	after, err := f.tree(to)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var paths []string
	for _, m := range []map[string]string{before, after} {
		for p := range m {
			if !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
	}
	sort.Strings(paths)

	var diffs []types.FileDiff
	for _, p := range paths {
		if before[p] == after[p] {
			continue
		}
		_, add, del := snapshot.BuildPatch(p, before[p], after[p])
		diffs = append(diffs, types.FileDiff{File: p, Before: before[p], After: after[p], Additions: add, Deletions: del})
	}
	return diffs, nil
}

func (f *fakeSnapshot) Patch(ctx context.Context, from, to string) ([]string, error) {
	diffs, err := f.DiffFull(ctx, from, to)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, d := range diffs {
		files = append(files, d.File)
	}
	return files, nil
}

func (f *fakeSnapshot) Restore(ctx context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.restoreErr != nil {
		return f.restoreErr
	}
	target, ok := f.trees[hash]
	if !ok {
		return errors.New("unknown snapshot " + hash)
	}
	current, err := f.read()
	if err != nil {
		return err
	}
	for p := range current {
		if _, keep := target[p]; !keep {
			os.Remove(filepath.Join(f.dir, p))
		}
	}
	for p, content := range target {
		full := filepath.Join(f.dir, p)
		os.MkdirAll(filepath.Dir(full), 0755)
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			return err
		}
	}
	f.restores = append(f.restores, hash)
	return nil
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
	hook   func(event.Event)
}

func (r *recorder) Publish(e event.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	hook := r.hook
	r.mu.Unlock()
	if hook != nil {
		hook(e)
	}
}

func (r *recorder) count(t event.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) of(t event.EventType) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	svc  *Service
	snap *fakeSnapshot
	bus  *recorder
	dir  string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		snap: newFakeSnapshot(),
		bus:  &recorder{},
		dir:  t.TempDir(),
	}
	base := []Option{WithSnapshots(f.snap.factory()), WithPublisher(f.bus)}
	f.svc = NewService(append(base, opts...)...)
	return f
}

func (f *fixture) write(t *testing.T, name, content string) {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func (f *fixture) read(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.dir, name))
	require.NoError(t, err)
	return string(data)
}

// turn runs one bracketed turn that applies edit between the snapshots.
func (f *fixture) turn(t *testing.T, sessionID, prompt string, edit func()) Turn {
	t.Helper()
	ctx := context.Background()
	turn, err := f.svc.BeginTurn(ctx, sessionID, prompt)
	require.NoError(t, err)
	if edit != nil {
		edit()
	}
	_, err = f.svc.EndTurn(ctx, sessionID)
	require.NoError(t, err)
	return turn
}

// reply appends an assistant message to the open turn.
func (f *fixture) reply(t *testing.T, sessionID, text string) string {
	t.Helper()
	id := generateID(messagePrefix)
	require.NoError(t, f.svc.AppendMessage(context.Background(), sessionID, types.MessageWithParts{
		Info: types.Message{ID: id, Role: types.RoleAssistant},
		Parts: []types.Part{&types.TextPart{
			ID:        generateID(partPrefix),
			MessageID: id,
			Type:      types.PartText,
			Text:      text,
		}},
	}))
	return id
}
