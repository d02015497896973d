// Package gitexec runs git subprocesses with explicit timeouts.
package gitexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultTimeout bounds a single git invocation.
	DefaultTimeout = 10 * time.Second
	// LockRetryInitialInterval is the first wait after index.lock contention.
	LockRetryInitialInterval = 50 * time.Millisecond
	// LockRetryMaxElapsedTime bounds retries on index.lock contention.
	LockRetryMaxElapsedTime = 2 * time.Second
)

// Executor abstracts process execution so tests can script git.
type Executor interface {
	Run(ctx context.Context, dir string, env []string, name string, args ...string) (stdout, stderr []byte, err error)
}

// RealExecutor executes commands using os/exec.
type RealExecutor struct{}

// Run executes a command and returns stdout, stderr, and any error.
func (RealExecutor) Run(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Error describes a failed git invocation.
type Error struct {
	Args     []string
	Stderr   string
	TimedOut bool
	Err      error
}

func (e *Error) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("git %s: timed out", strings.Join(e.Args, " "))
	}
	if e.Stderr != "" {
		return fmt.Sprintf("git %s: %v: %s", strings.Join(e.Args, " "), e.Err, e.Stderr)
	}
	return fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a git invocation that hit its timeout.
func IsTimeout(err error) bool {
	var gerr *Error
	return errors.As(err, &gerr) && gerr.TimedOut
}

// Git runs git in one working directory.
type Git struct {
	dir      string
	env      []string
	timeout  time.Duration
	executor Executor
}

// Option configures a Git.
type Option func(*Git)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Git) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithEnv adds KEY=VALUE pairs to every invocation.
func WithEnv(env ...string) Option {
	return func(g *Git) {
		g.env = append(g.env, env...)
	}
}

// WithGitDir points git at a separate repository and work tree.
func WithGitDir(gitDir, workTree string) Option {
	return WithEnv("GIT_DIR="+gitDir, "GIT_WORK_TREE="+workTree)
}

// WithExecutor replaces the process executor.
func WithExecutor(e Executor) Option {
	return func(g *Git) {
		g.executor = e
	}
}

// New creates a runner for dir.
func New(dir string, opts ...Option) *Git {
	g := &Git{
		dir:      dir,
		timeout:  DefaultTimeout,
		executor: RealExecutor{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Dir returns the working directory.
func (g *Git) Dir() string {
	return g.dir
}

// Timeout returns the per-invocation timeout.
func (g *Git) Timeout() time.Duration {
	return g.timeout
}

// Run executes git with args and returns stdout. Invocations that fail on
// index.lock contention are retried with exponential backoff.
func (g *Git) Run(ctx context.Context, args ...string) (string, error) {
	var out []byte
	op := func() error {
		stdout, err := g.once(ctx, args)
		if err != nil {
			if isLockContention(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = stdout
		return nil
	}

	if err := backoff.Retry(op, g.lockBackoff(ctx)); err != nil {
		return "", err
	}
	return string(out), nil
}

// Output is Run with surrounding whitespace trimmed.
func (g *Git) Output(ctx context.Context, args ...string) (string, error) {
	out, err := g.Run(ctx, args...)
	return strings.TrimSpace(out), err
}

func (g *Git) once(ctx context.Context, args []string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	stdout, stderr, err := g.executor.Run(runCtx, g.dir, g.env, "git", args...)
	if err != nil {
		return nil, &Error{
			Args:     args,
			Stderr:   strings.TrimSpace(string(stderr)),
			TimedOut: errors.Is(runCtx.Err(), context.DeadlineExceeded),
			Err:      err,
		}
	}
	return stdout, nil
}

func (g *Git) lockBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = LockRetryInitialInterval
	b.MaxElapsedTime = LockRetryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Reset()
	return backoff.WithContext(b, ctx)
}

func isLockContention(err error) bool {
	var gerr *Error
	if !errors.As(err, &gerr) || gerr.TimedOut {
		return false
	}
	return strings.Contains(gerr.Stderr, "index.lock")
}

// Available reports whether a git binary is on PATH.
func Available() bool {
	_, err := exec.LookPath("git")
	return err == nil
}
