// Package session manages agent sessions: a conversation log bound to a
// working directory whose file changes can be diffed, forked, reverted and
// undone turn by turn.
//
// # Turns
//
// Every turn is bracketed by snapshots of the working directory:
//
//	turn, _ := svc.BeginTurn(ctx, sess.ID, "fix the tests")
//	// tools edit files
//	sess, _ = svc.EndTurn(ctx, sess.ID)
//
// BeginTurn appends the user message and tracks the start snapshot; EndTurn
// tracks the end snapshot and overwrites the session summary with the diff
// between the two. RunTurn does both around a Streamer, which produces the
// assistant response and authorizes tool calls through the ToolGate it is
// handed:
//
//	msg, err := svc.RunTurn(ctx, sess.ID, prompt, streamer)
//
// A snapshot failure never fails a turn. The turn simply has no diff.
//
// # History operations
//
//   - Fork copies the log up to a message into a new child session. Forks
//     never inherit bypass mode.
//   - Revert restores the files to the start of the turn containing a
//     message and moves a cursor; the log is kept until the next turn
//     begins, and Unrevert clears the cursor.
//   - UndoTurns drops the last N turns from the log and restores the files
//     they changed.
//
// When the ghost_commit feature is on, EndTurn also records a commit in the
// user's repository through the ghost package, and undo discards those
// commits again.
//
// # Storage
//
// Sessions live in a Store. MemoryStore keeps everything in process;
// DiskStore persists to the JSON file store of the storage package.
package session
