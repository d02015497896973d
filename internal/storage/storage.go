// Package storage is a file-backed JSON key/value store. Keys are path
// segments; each value is one pretty-printed JSON file written atomically.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/evmts/agentcore/internal/logging"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("not found")

// Storage provides file-based JSON storage rooted at one directory.
type Storage struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*FileLock
}

// New creates a new Storage instance.
func New(basePath string) *Storage {
	return &Storage{
		basePath: basePath,
		locks:    make(map[string]*FileLock),
	}
}

// BasePath returns the root directory.
func (s *Storage) BasePath() string {
	return s.basePath
}

func (s *Storage) dir(key []string) string {
	return filepath.Join(append([]string{s.basePath}, key...)...)
}

func (s *Storage) file(key []string) string {
	return s.dir(key) + ".json"
}

func (s *Storage) lock(filePath string) *FileLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[filePath]
	if !ok {
		l = NewFileLock(filePath)
		s.locks[filePath] = l
	}
	return l
}

// Get decodes the value at key into v.
func (s *Storage) Get(ctx context.Context, key []string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(s.file(key))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("read %s: %w", strings.Join(key, "/"), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", strings.Join(key, "/"), err)
	}
	return nil
}

// Put stores v at key, replacing any previous value.
func (s *Storage) Put(ctx context.Context, key []string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", strings.Join(key, "/"), err)
	}

	filePath := s.file(key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return s.lock(filePath).With(func() error {
		return writeAtomic(filePath, data)
	})
}

// writeAtomic writes to a temp file and renames it over the target.
func writeAtomic(filePath string, data []byte) error {
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Delete removes the value at key. Missing keys are not an error.
func (s *Storage) Delete(ctx context.Context, key []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	filePath := s.file(key)
	return s.lock(filePath).With(func() error {
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete %s: %w", strings.Join(key, "/"), err)
		}
		return nil
	})
}

// DeletePrefix removes every value stored under key.
func (s *Storage) DeletePrefix(ctx context.Context, key []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(key) == 0 {
		return errors.New("refusing to delete storage root")
	}
	if err := os.RemoveAll(s.dir(key)); err != nil {
		return fmt.Errorf("delete %s: %w", strings.Join(key, "/"), err)
	}
	return nil
}

// List returns the child keys under key, sorted.
func (s *Storage) List(ctx context.Context, key []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir(key))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list %s: %w", strings.Join(key, "/"), err)
	}

	items := []string{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case entry.IsDir():
			items = append(items, name)
		case strings.HasSuffix(name, ".json"):
			items = append(items, strings.TrimSuffix(name, ".json"))
		}
	}
	sort.Strings(items)
	return items, nil
}

// Scan calls fn with every value directly under key in key order.
// Unreadable files are skipped with a warning.
func (s *Storage) Scan(ctx context.Context, key []string, fn func(name string, data json.RawMessage) error) error {
	dirPath := s.dir(key)
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("scan %s: %w", strings.Join(key, "/"), err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dirPath, name))
		if err != nil {
			logging.Warn().Err(err).Str("file", name).Msg("skipping unreadable storage file")
			continue
		}
		if err := fn(strings.TrimSuffix(name, ".json"), json.RawMessage(data)); err != nil {
			return err
		}
	}
	return nil
}

// Exists reports whether a value is stored at key.
func (s *Storage) Exists(ctx context.Context, key []string) bool {
	_, err := os.Stat(s.file(key))
	return err == nil
}
