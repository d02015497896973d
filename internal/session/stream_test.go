package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmts/agentcore/internal/event"
	"github.com/evmts/agentcore/internal/permission"
	"github.com/evmts/agentcore/pkg/types"
)

// scripted returns a streamer that runs fn and then emits events.
func scripted(fn func(ctx context.Context, req TurnRequest) []StreamEvent) Streamer {
	return StreamerFunc(func(ctx context.Context, req TurnRequest) (<-chan StreamEvent, error) {
		events := fn(ctx, req)
		ch := make(chan StreamEvent, len(events))
		for _, e := range events {
			ch <- e
		}
		close(ch)
		return ch, nil
	})
}

func TestRunTurn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Create(ctx, f.dir, CreateOptions{BypassMode: true})
	require.NoError(t, err)

	var seen TurnRequest
	streamer := scripted(func(ctx context.Context, req TurnRequest) []StreamEvent {
		seen = req
		input := map[string]any{"filePath": "a.txt"}
		require.NoError(t, req.Gate.Authorize(ctx, permission.ToolCall{CallID: "call_1", Tool: "write", Input: input}))
		f.write(t, "a.txt", "one\ntwo\n")
		return []StreamEvent{
			ReasoningDeltaEvent{Text: "thinking"},
			TextDeltaEvent{Text: "Writing "},
			TextDeltaEvent{Text: "a.txt"},
			ToolStateEvent{CallID: "call_1", Tool: "write", State: &types.ToolStatePending{Input: input}},
			ToolStateEvent{CallID: "call_1", Tool: "write", State: &types.ToolStateCompleted{Input: input, Output: "ok"}},
			TextDeltaEvent{Text: "Done."},
			FinishEvent{Reason: "stop"},
		}
	})

	msg, err := f.svc.RunTurn(ctx, sess.ID, "create a.txt", streamer)
	require.NoError(t, err)

	assert.Equal(t, sess.ID, seen.SessionID)
	assert.Equal(t, msg.Info.ID, seen.MessageID)
	assert.Equal(t, "create a.txt", seen.Prompt)
	require.Len(t, seen.History, 2)
	assert.True(t, seen.History[0].Info.IsUser())

	assert.Equal(t, types.RoleAssistant, msg.Info.Role)
	require.NotNil(t, msg.Info.Finish)
	assert.Equal(t, "stop", *msg.Info.Finish)
	assert.NotNil(t, msg.Info.Time.Completed)
	assert.Equal(t, seen.History[0].Info.ID, msg.Info.ParentID)

	require.Len(t, msg.Parts, 4)
	assert.Equal(t, "thinking", msg.Parts[0].(*types.ReasoningPart).Text)
	first := msg.Parts[1].(*types.TextPart)
	assert.Equal(t, "Writing a.txt", first.Text)
	assert.NotNil(t, first.Time.End)
	tool := msg.Parts[2].(*types.ToolPart)
	assert.Equal(t, "call_1", tool.CallID)
	assert.Equal(t, types.ToolStatusCompleted, tool.State.Status())
	assert.Equal(t, "Done.", msg.Parts[3].(*types.TextPart).Text)

	msgs, err := f.svc.Messages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Len(t, msgs[1].Parts, 4)

	turns, err := f.svc.Turns(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.False(t, turns[0].Open())

	diffs, err := f.svc.Diff(ctx, sess.ID, "")
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, 2, diffs[0].Additions)

	assert.False(t, f.svc.IsRunning(sess.ID))
	assert.GreaterOrEqual(t, f.bus.count(event.PartUpdated), 7)
	assert.GreaterOrEqual(t, f.bus.count(event.MessageUpdated), 3)
}

func TestRunTurn_GateAsksAndRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Create(ctx, f.dir, CreateOptions{})
	require.NoError(t, err)

	var warning string
	f.bus.hook = func(e event.Event) {
		if e.Type != event.PermissionRequested {
			return
		}
		data := e.Properties.(event.PermissionRequestedData)
		warning = data.Warning
		go f.svc.Checker().Respond(permission.Response{RequestID: data.ID, Action: permission.ActionDeny})
	}

	var authErr error
	streamer := scripted(func(ctx context.Context, req TurnRequest) []StreamEvent {
		input := map[string]any{"command": "rm -rf /"}
		authErr = req.Gate.Authorize(ctx, permission.ToolCall{CallID: "call_1", Tool: "bash", Input: input})
		return []StreamEvent{
			ToolStateEvent{CallID: "call_1", Tool: "bash", State: &types.ToolStateCompleted{
				Input:    input,
				Output:   authErr.Error(),
				Metadata: map[string]any{"error": true},
			}},
		}
	})

	_, err = f.svc.RunTurn(ctx, sess.ID, "clean up", streamer)
	require.NoError(t, err)
	require.Error(t, authErr)
	assert.True(t, permission.IsRejectedError(authErr))
	assert.Contains(t, warning, "WARNING")
	assert.Equal(t, 1, f.bus.count(event.PermissionResponded))
	assert.Empty(t, f.svc.Checker().Store().PendingRequests(sess.ID))
}

func TestRunTurn_StreamError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Create(ctx, f.dir, CreateOptions{})
	require.NoError(t, err)

	boom := errors.New("model overloaded")
	msg, err := f.svc.RunTurn(ctx, sess.ID, "hi", scripted(func(context.Context, TurnRequest) []StreamEvent {
		return []StreamEvent{TextDeltaEvent{Text: "par"}, FinishEvent{Reason: "error", Error: boom}}
	}))
	require.ErrorIs(t, err, boom)
	require.NotNil(t, msg.Info.Error)
	assert.Equal(t, "model overloaded", msg.Info.Error.Data.Message)
	assert.Equal(t, "error", *msg.Info.Finish)

	turns, err := f.svc.Turns(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, turns[0].Open(), "the turn is ended even when the stream fails")

	_, err = f.svc.RunTurn(ctx, sess.ID, "again", StreamerFunc(func(context.Context, TurnRequest) (<-chan StreamEvent, error) {
		return nil, boom
	}))
	require.ErrorIs(t, err, boom)
	turns, err = f.svc.Turns(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, turns, 2)
	assert.False(t, turns[1].Open())
}

func TestRunTurn_Abort(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Create(ctx, f.dir, CreateOptions{})
	require.NoError(t, err)

	started := make(chan struct{})
	streamer := StreamerFunc(func(ctx context.Context, req TurnRequest) (<-chan StreamEvent, error) {
		ch := make(chan StreamEvent)
		go func() {
			defer close(ch)
			ch <- TextDeltaEvent{Text: "working"}
			close(started)
			<-ctx.Done()
		}()
		return ch, nil
	})

	type result struct {
		msg types.MessageWithParts
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := f.svc.RunTurn(ctx, sess.ID, "long task", streamer)
		done <- result{msg, err}
	}()

	<-started
	require.Eventually(t, func() bool { return f.svc.IsRunning(sess.ID) }, time.Second, 5*time.Millisecond)

	_, err = f.svc.RunTurn(ctx, sess.ID, "second", streamer)
	assert.ErrorIs(t, err, ErrTurnRunning)
	assert.True(t, IsInvalidOperation(err))

	assert.True(t, f.svc.Abort(sess.ID))

	select {
	case res := <-done:
		require.ErrorIs(t, res.err, context.Canceled)
		require.NotNil(t, res.msg.Info.Finish)
		assert.Equal(t, "aborted", *res.msg.Info.Finish)
	case <-time.After(5 * time.Second):
		t.Fatal("RunTurn did not return after abort")
	}

	assert.False(t, f.svc.Abort(sess.ID))
	turns, err := f.svc.Turns(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.False(t, turns[0].Open())
}

func TestRunTurn_DeleteWhileStreaming(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Create(ctx, f.dir, CreateOptions{})
	require.NoError(t, err)

	started := make(chan struct{})
	streamer := StreamerFunc(func(ctx context.Context, req TurnRequest) (<-chan StreamEvent, error) {
		ch := make(chan StreamEvent)
		go func() {
			defer close(ch)
			ch <- TextDeltaEvent{Text: "partial"}
			close(started)
			<-ctx.Done()
		}()
		return ch, nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.RunTurn(ctx, sess.ID, "long task", streamer)
		done <- err
	}()
	<-started
	require.Eventually(t, func() bool { return f.svc.IsRunning(sess.ID) }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.svc.Delete(ctx, sess.ID))

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("RunTurn did not return after Delete")
	}

	msgs, err := f.svc.Store().Messages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	turns, err := f.svc.Store().Turns(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, turns)
	assert.False(t, f.svc.IsRunning(sess.ID))

	f.svc.mu.Lock()
	_, leaked := f.svc.runtimes[sess.ID]
	f.svc.mu.Unlock()
	assert.False(t, leaked)

	deleted := f.bus.of(event.SessionDeleted)
	require.Len(t, deleted, 1)
}

func TestRunTurn_UnknownSession(t *testing.T) {
	svc := NewService()
	_, err := svc.RunTurn(context.Background(), "ses_missing", "hi", scripted(func(context.Context, TurnRequest) []StreamEvent {
		return nil
	}))
	assert.True(t, IsNotFound(err))
}
