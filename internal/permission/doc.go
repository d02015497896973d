// Package permission gates tool execution behind per-session rules and an
// interactive approval protocol.
//
// # Levels
//
// Every operation is classified as one of:
//   - allow: run silently
//   - deny: fail immediately
//   - ask: publish a request and wait for a reviewer
//
// Edits and web fetches use a single session-wide level. Bash commands are
// matched against a pattern table first and fall back to the bash default.
//
// # Pattern Matching
//
// A pattern table key may be:
//   - the literal command ("git status"), matched exactly
//   - "*", matching every command
//   - "git *", matching "git" and anything starting with "git "
//   - any other glob ("npm run test:*"), matched with tidwall/match
//
// The literal key wins. Remaining patterns are tried longest first.
//
// # Approval Protocol
//
//	checker := permission.NewChecker(permission.NewStore(permission.DefaultConfig()), bus)
//	ok, err := checker.RequestPermission(ctx, permission.OpBash,
//		map[string]any{"command": "git push"}, sessionID, messageID, callID)
//
// RequestPermission publishes permission.requested and blocks until
// Respond is called with the request ID, the timeout fires (ErrTimeout) or
// ctx is cancelled. Responses of "always" install the literal bash command
// as an allow rule; "pattern" installs the reviewer-supplied glob. Respond
// tolerates stale and duplicate IDs.
//
// Bash requests carry an IsDangerous flag and Warning computed by
// IsDangerousBashCommand, which checks string tables against the whole
// command and each sub-command parsed with mvdan.cc/sh.
//
// # Gate
//
// Gate is what a tool-calling loop holds for one turn. Authorize maps a
// tool call to an operation, applies bypass mode, escalates repeated
// identical calls from allow to ask when doom loop detection is on, and
// turns denials, rejections and timeouts into *RejectedError.
package permission
