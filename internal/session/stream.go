package session

import (
	"context"
	"errors"

	"github.com/evmts/agentcore/internal/event"
	"github.com/evmts/agentcore/internal/permission"
	"github.com/evmts/agentcore/pkg/types"
)

// StreamEvent is one update from the model side of a turn.
type StreamEvent interface {
	streamEvent()
}

// TextDeltaEvent contains a text delta.
type TextDeltaEvent struct {
	Text string
}

func (TextDeltaEvent) streamEvent() {}

// ReasoningDeltaEvent contains a reasoning delta.
type ReasoningDeltaEvent struct {
	Text string
}

func (ReasoningDeltaEvent) streamEvent() {}

// ToolStateEvent reports the state of a tool call. Successive events with
// the same CallID update one tool part.
type ToolStateEvent struct {
	CallID string
	Tool   string
	State  types.ToolState
}

func (ToolStateEvent) streamEvent() {}

// FinishEvent indicates stream completion.
type FinishEvent struct {
	Reason string
	Error  error
}

func (FinishEvent) streamEvent() {}

// ToolGate authorizes a tool call before it runs. A non-nil error is the
// rejection to report back to the model.
type ToolGate interface {
	Authorize(ctx context.Context, call permission.ToolCall) error
}

// TurnRequest is what a Streamer gets to produce one assistant response.
type TurnRequest struct {
	SessionID string
	// MessageID is the assistant message the stream fills.
	MessageID string
	Prompt    string
	History   []types.MessageWithParts
	Gate      ToolGate
}

// Streamer drives the model and its tools for one turn. The channel is
// closed when the response is complete.
type Streamer interface {
	Stream(ctx context.Context, req TurnRequest) (<-chan StreamEvent, error)
}

// StreamerFunc adapts a function to Streamer.
type StreamerFunc func(ctx context.Context, req TurnRequest) (<-chan StreamEvent, error)

func (f StreamerFunc) Stream(ctx context.Context, req TurnRequest) (<-chan StreamEvent, error) {
	return f(ctx, req)
}

// ErrTurnRunning is returned by RunTurn when the session already has a
// running turn.
var ErrTurnRunning = errors.New("turn already running")

// RunTurn runs one full turn: it appends the prompt, streams the assistant
// response into the log through streamer and brackets the whole with
// snapshots. The turn is ended even when the stream fails or is aborted.
func (s *Service) RunTurn(ctx context.Context, sessionID, prompt string, streamer Streamer) (types.MessageWithParts, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return types.MessageWithParts{}, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	rt := s.runtime(sessionID)
	s.mu.Lock()
	if rt.cancel != nil {
		s.mu.Unlock()
		return types.MessageWithParts{}, &InvalidOperationError{Op: "run turn", Err: ErrTurnRunning}
	}
	rt.cancel = cancel
	done := make(chan struct{})
	rt.done = done
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		rt.cancel = nil
		rt.done = nil
		s.mu.Unlock()
		close(done)
	}()

	turn, err := s.BeginTurn(runCtx, sessionID, prompt)
	if err != nil {
		return types.MessageWithParts{}, err
	}

	// bookkeeping after the stream must survive an abort
	endCtx := context.WithoutCancel(ctx)

	assistantID := generateID(messagePrefix)
	assistant := types.MessageWithParts{
		Info: types.Message{
			ID:        assistantID,
			SessionID: sessionID,
			Role:      types.RoleAssistant,
			ParentID:  turn.UserMessageID,
			Time:      types.MessageTime{Created: now()},
		},
		Parts: []types.Part{},
	}
	if err := s.AppendMessage(runCtx, sessionID, assistant); err != nil {
		s.endTurn(endCtx, sessionID)
		return types.MessageWithParts{}, err
	}

	history, err := s.store.Messages(runCtx, sessionID)
	if err == nil {
		var events <-chan StreamEvent
		events, err = streamer.Stream(runCtx, TurnRequest{
			SessionID: sessionID,
			MessageID: assistantID,
			Prompt:    prompt,
			History:   history,
			Gate:      permission.NewGate(s.checker, sessionID, assistantID, sess.BypassMode),
		})
		if err == nil {
			err = s.consume(runCtx, sessionID, &assistant, events)
		}
	}

	s.finish(&assistant, err)
	if _, gerr := s.store.Get(endCtx, sessionID); gerr != nil {
		// deleted while the stream was unwinding
		return assistant, gerr
	}
	if perr := s.store.PutMessage(endCtx, sessionID, assistant); perr != nil {
		sessionLogger(sessionID).Error().Err(perr).Msg("failed to save assistant message")
	}
	info := assistant.Info
	s.publish(event.Event{Type: event.MessageUpdated, Properties: event.MessageUpdatedData{Info: &info}})
	s.endTurn(endCtx, sessionID)

	return assistant, err
}

func (s *Service) endTurn(ctx context.Context, sessionID string) {
	if _, err := s.EndTurn(ctx, sessionID); err != nil {
		sessionLogger(sessionID).Warn().Err(err).Msg("failed to end turn")
	}
}

// finish closes open parts and stamps the completion of msg.
func (s *Service) finish(msg *types.MessageWithParts, err error) {
	end := now()
	for _, p := range msg.Parts {
		switch part := p.(type) {
		case *types.TextPart:
			if part.Time.End == nil {
				part.Time.End = ptr(end)
			}
		case *types.ReasoningPart:
			if part.Time.End == nil {
				part.Time.End = ptr(end)
			}
		}
	}
	msg.Info.Time.Completed = ptr(end)

	switch {
	case errors.Is(err, context.Canceled):
		msg.Info.Finish = ptr("aborted")
	case err != nil:
		msg.Info.Error = types.NewUnknownError(err.Error())
		msg.Info.Finish = ptr("error")
	case msg.Info.Finish == nil:
		msg.Info.Finish = ptr("stop")
	}
}

// consume applies stream events to msg until the stream closes, fails or
// ctx is done.
func (s *Service) consume(ctx context.Context, sessionID string, msg *types.MessageWithParts, events <-chan StreamEvent) error {
	var (
		text      *types.TextPart
		reasoning *types.ReasoningPart
		tools     = make(map[string]*types.ToolPart)
	)

	for {
		var ev StreamEvent
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			ev = e
		}

		var (
			part  types.Part
			delta string
		)
		switch e := ev.(type) {
		case TextDeltaEvent:
			if text == nil {
				text = &types.TextPart{
					ID:        generateID(partPrefix),
					SessionID: sessionID,
					MessageID: msg.Info.ID,
					Type:      types.PartText,
					Time:      types.PartTime{Start: ptr(now())},
				}
			}
			text.Text += e.Text
			part, delta = text, e.Text

		case ReasoningDeltaEvent:
			if reasoning == nil {
				reasoning = &types.ReasoningPart{
					ID:        generateID(partPrefix),
					SessionID: sessionID,
					MessageID: msg.Info.ID,
					Type:      types.PartReasoning,
					Time:      types.PartTime{Start: ptr(now())},
				}
			}
			reasoning.Text += e.Text
			part, delta = reasoning, e.Text

		case ToolStateEvent:
			// a tool call ends the text and reasoning before it
			text, reasoning = closeText(text), closeReasoning(reasoning)
			tp, ok := tools[e.CallID]
			if !ok {
				tp = &types.ToolPart{
					ID:        generateID(partPrefix),
					SessionID: sessionID,
					MessageID: msg.Info.ID,
					Type:      types.PartTool,
					CallID:    e.CallID,
					Tool:      e.Tool,
				}
				tools[e.CallID] = tp
			}
			tp.State = e.State
			part = tp

		case FinishEvent:
			if e.Reason != "" {
				msg.Info.Finish = ptr(e.Reason)
			}
			if e.Error != nil {
				return e.Error
			}
			continue

		default:
			continue
		}

		upsertPart(msg, part)
		if err := s.savePart(ctx, sessionID, *msg, part, delta); err != nil {
			return err
		}
	}
}

func closeText(p *types.TextPart) *types.TextPart {
	if p != nil && p.Time.End == nil {
		p.Time.End = ptr(now())
	}
	return nil
}

func closeReasoning(p *types.ReasoningPart) *types.ReasoningPart {
	if p != nil && p.Time.End == nil {
		p.Time.End = ptr(now())
	}
	return nil
}
