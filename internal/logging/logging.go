// Package logging wraps a process-wide zerolog logger.
//
// The CLI initializes it once per invocation: pretty output on stderr with
// --print-logs, otherwise JSON lines appended to a timestamped file under the
// agentcore log directory. Packages log through the helpers below or through
// a Component child so every line carries its origin.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Level is a zerolog level.
type Level = zerolog.Level

const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
)

// Config selects where log lines go.
type Config struct {
	Level Level
	// Output defaults to os.Stderr.
	Output io.Writer
	// Pretty renders Output with zerolog's console writer.
	Pretty bool
	// Dir, when set, also receives JSON lines in agentcore-<timestamp>.log.
	Dir string
}

var (
	mu   sync.Mutex
	file *os.File
)

// DefaultConfig logs info and above to stderr.
func DefaultConfig() Config {
	return Config{Level: InfoLevel, Output: os.Stderr}
}

// Init replaces the global logger. A previously opened log file is closed.
// When the log file cannot be opened the logger is still installed on
// Output and the error is returned.
func Init(cfg Config) error {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	zerolog.TimeFieldFormat = time.RFC3339

	out := cfg.Output
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: time.Kitchen}
	}

	Close()

	var err error
	if cfg.Dir != "" {
		var f *os.File
		if f, err = openFile(cfg.Dir); err == nil {
			mu.Lock()
			file = f
			mu.Unlock()
			out = zerolog.MultiLevelWriter(out, f)
		}
	}

	Logger = zerolog.New(out).Level(cfg.Level).With().Timestamp().Logger()
	return err
}

func openFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := filepath.Join(dir, "agentcore-"+time.Now().Format("20060102-150405")+".log")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// FilePath returns the active log file, or "".
func FilePath() string {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return ""
	}
	return file.Name()
}

// Close flushes and closes the active log file, if any.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		_ = file.Sync()
		_ = file.Close()
		file = nil
	}
}

// ParseLevel accepts zerolog names plus "warning", case-insensitively.
// Anything unrecognized, including "", is InfoLevel.
func ParseLevel(s string) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return WarnLevel
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return InfoLevel
	}
	return lvl
}

func Debug() *zerolog.Event { return Logger.Debug() }
func Info() *zerolog.Event  { return Logger.Info() }
func Warn() *zerolog.Event  { return Logger.Warn() }

// Component returns a child of the current global logger tagged with name.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// Session returns a Component logger that also carries sessionID.
func Session(component, sessionID string) zerolog.Logger {
	return Logger.With().Str("component", component).Str("sessionID", sessionID).Logger()
}

func init() {
	_ = Init(DefaultConfig())
}
