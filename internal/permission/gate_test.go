package permission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmts/agentcore/internal/event"
)

func TestDoomLoopDetector(t *testing.T) {
	d := NewDoomLoopDetector()
	input := map[string]any{"command": "ls"}

	assert.False(t, d.Observe("s1", "bash", input))
	assert.False(t, d.Observe("s1", "bash", input))
	assert.True(t, d.Observe("s1", "bash", input))
	assert.True(t, d.Observe("s1", "bash", input))

	// different input breaks the streak
	assert.False(t, d.Observe("s1", "bash", map[string]any{"command": "pwd"}))
	assert.False(t, d.Observe("s1", "bash", input))
}

func TestDoomLoopDetector_SessionsAndClear(t *testing.T) {
	d := NewDoomLoopDetector()
	input := map[string]any{"url": "https://example.com"}

	d.Observe("s1", "webfetch", input)
	d.Observe("s1", "webfetch", input)
	assert.False(t, d.Observe("s2", "webfetch", input))

	d.Clear("s1")
	assert.False(t, d.Observe("s1", "webfetch", input))
}

func TestGate_AllowDenyAndUngated(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bash.Patterns["ls *"] = LevelAllow
	cfg.Bash.Patterns["rm *"] = LevelDeny
	checker := NewChecker(NewStore(cfg), &recorder{})
	gate := NewGate(checker, "s1", "msg_1", false)
	ctx := context.Background()

	assert.NoError(t, gate.Authorize(ctx, ToolCall{CallID: "c1", Tool: "bash", Input: map[string]any{"command": "ls -la"}}))

	err := gate.Authorize(ctx, ToolCall{CallID: "c2", Tool: "bash", Input: map[string]any{"command": "rm a.txt"}})
	require.Error(t, err)
	assert.True(t, IsRejectedError(err))
	rejected := err.(*RejectedError)
	assert.Equal(t, OpBash, rejected.Operation)
	assert.Equal(t, "c2", rejected.CallID)

	assert.NoError(t, gate.Authorize(ctx, ToolCall{CallID: "c3", Tool: "read", Input: map[string]any{"filePath": "a.txt"}}))
	assert.NoError(t, gate.Authorize(ctx, ToolCall{CallID: "c4", Tool: "webfetch", Input: map[string]any{"url": "https://example.com"}}))
}

func TestGate_BypassSkipsEverything(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bash.Default = LevelDeny
	cfg.Edit = LevelDeny
	rec := &recorder{}
	gate := NewGate(NewChecker(NewStore(cfg), rec), "s1", "msg_1", true)

	assert.NoError(t, gate.Authorize(context.Background(), ToolCall{Tool: "bash", Input: map[string]any{"command": "rm -rf /"}}))
	assert.NoError(t, gate.Authorize(context.Background(), ToolCall{Tool: "edit", Input: map[string]any{"filePath": "a"}}))
	assert.Empty(t, rec.types())
}

func TestGate_AskApprovedAndRejected(t *testing.T) {
	rec := &recorder{}
	checker := NewChecker(NewStore(DefaultConfig()), rec)
	gate := NewGate(checker, "s1", "msg_1", false)

	var seen event.PermissionRequestedData
	action := ActionOnce
	rec.onReq = func(data event.PermissionRequestedData) {
		seen = data
		checker.Respond(Response{RequestID: data.ID, Action: action})
	}

	call := ToolCall{CallID: "c1", Tool: "edit", Input: map[string]any{"filePath": "a.txt"}}
	require.NoError(t, gate.Authorize(context.Background(), call))
	assert.Equal(t, "msg_1", seen.MessageID)
	assert.Equal(t, "c1", seen.CallID)
	assert.Equal(t, "edit", seen.Operation)

	action = ActionDeny
	err := gate.Authorize(context.Background(), call)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
}

func TestGate_TimeoutIsRejection(t *testing.T) {
	checker := NewChecker(NewStore(DefaultConfig()), &recorder{}, WithTimeout(20*time.Millisecond))
	gate := NewGate(checker, "s1", "msg_1", false)

	err := gate.Authorize(context.Background(), ToolCall{Tool: "bash", Input: map[string]any{"command": "make"}})
	require.Error(t, err)
	assert.True(t, IsRejectedError(err))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestGate_DoomLoopEscalatesToAsk(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bash.Patterns["ls"] = LevelAllow
	rec := &recorder{}
	checker := NewChecker(NewStore(cfg), rec, WithDoomLoopDetection(true))
	gate := NewGate(checker, "s1", "msg_1", false)

	asked := 0
	rec.onReq = func(data event.PermissionRequestedData) {
		asked++
		checker.Respond(Response{RequestID: data.ID, Action: ActionOnce})
	}

	call := ToolCall{Tool: "bash", Input: map[string]any{"command": "ls"}}
	for i := 0; i < 4; i++ {
		require.NoError(t, gate.Authorize(context.Background(), call))
	}
	assert.Equal(t, 2, asked)

	checker.ClearSession("s1")
	require.NoError(t, gate.Authorize(context.Background(), call))
	assert.Equal(t, 2, asked)
}
