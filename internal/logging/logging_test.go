package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, level Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Init(Config{Level: level, Output: &buf}))
	t.Cleanup(func() { _ = Init(DefaultConfig()) })
	return &buf
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"debug":     DebugLevel,
		"  DEBUG  ": DebugLevel,
		"info":      InfoLevel,
		"Warn":      WarnLevel,
		"WARNING":   WarnLevel,
		"error":     ErrorLevel,
		"bogus":     InfoLevel,
		"":          InfoLevel,
	} {
		assert.Equal(t, want, ParseLevel(in), "%q", in)
	}
}

func TestInit_FiltersBelowLevel(t *testing.T) {
	buf := capture(t, WarnLevel)

	Info().Msg("hidden")
	Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestComponentAndSession(t *testing.T) {
	buf := capture(t, DebugLevel)

	log := Component("ghost")
	log.Debug().Int("turn", 1).Msg("committed")
	assert.Contains(t, buf.String(), `"component":"ghost"`)
	assert.Contains(t, buf.String(), `"turn":1`)

	buf.Reset()
	slog := Session("session", "ses_1")
	slog.Info().Msg("undo")
	assert.Contains(t, buf.String(), `"component":"session"`)
	assert.Contains(t, buf.String(), `"sessionID":"ses_1"`)
}

func TestInit_WritesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var buf bytes.Buffer
	require.NoError(t, Init(Config{Level: InfoLevel, Output: &buf, Dir: dir}))
	t.Cleanup(func() { _ = Init(DefaultConfig()) })

	Info().Msg("to file")

	path := FilePath()
	require.NotEmpty(t, path)
	assert.Equal(t, dir, filepath.Dir(path))

	Close()
	assert.Empty(t, FilePath())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
	assert.Contains(t, buf.String(), "to file")
}

func TestInit_UnwritableDirStillLogs(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	var buf bytes.Buffer
	err := Init(Config{Level: InfoLevel, Output: &buf, Dir: filepath.Join(blocker, "logs")})
	t.Cleanup(func() { _ = Init(DefaultConfig()) })
	require.Error(t, err)

	Info().Msg("still here")
	assert.Contains(t, buf.String(), "still here")
	assert.Empty(t, FilePath())
}
