package chatlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/elee1766/chathistory/src/aisdk"
	"github.com/elee1766/chathistory/src/storage"
)

const (
	finishReasonAborted = "aborted"
	finishReasonError   = "error"
)

func (r *Router) handleTextStart(in State, chunk *aisdk.Chunk) State {
	out := r.noop(in)
	if _, ok := out.TextSpans[chunk.ID]; !ok {
		out.setSpan(chunk.ID, TextSpan{})
	}
	return out
}

// handleTextDelta appends the delta and writes the span's message. The first successful
// write of a span inserts an assistant message; later deltas update its content. A failed
// write keeps the text buffered so the next write catches up.
func (r *Router) handleTextDelta(ctx context.Context, in State, chunk *aisdk.Chunk) State {
	const source = "text-delta"

	out := r.noop(in)
	out.GeneratedText += chunk.Delta
	span := out.TextSpans[chunk.ID]
	span.Text += chunk.Delta
	out.setSpan(chunk.ID, span)

	if !in.HasTurn() {
		r.logFailure(in, source, r.missingTurn(in, source))
		out.Success = false
		return out
	}

	var written TextSpan
	var inserted bool
	err := r.inTx(ctx, in, source, func(ctx context.Context, tx StoreTx) error {
		var err error
		written, inserted, err = r.writeSpan(ctx, tx, in, source, span, storage.MessageStreaming)
		return err
	})
	if err != nil {
		r.logFailure(in, source, err)
		out.Success = false
		return out
	}

	out.setSpan(chunk.ID, written)
	if inserted {
		out.MessageID = written.MessageID
		out.advanceOrder(written.Order)
	}
	return out
}

// handleTextEnd marks the span's message complete and closes the span.
func (r *Router) handleTextEnd(ctx context.Context, in State, chunk *aisdk.Chunk) State {
	const source = "text-end"

	out := r.noop(in)
	span, ok := out.TextSpans[chunk.ID]
	if !ok {
		return out
	}
	if span.MessageID == 0 && span.Text == "" {
		delete(out.TextSpans, chunk.ID)
		return out
	}
	if !in.HasTurn() {
		delete(out.TextSpans, chunk.ID)
		r.logFailure(in, source, r.missingTurn(in, source))
		out.Success = false
		return out
	}

	var written TextSpan
	var inserted bool
	err := r.inTx(ctx, in, source, func(ctx context.Context, tx StoreTx) error {
		var err error
		written, inserted, err = r.writeSpan(ctx, tx, in, source, span, storage.MessageComplete)
		return err
	})
	if err != nil {
		return r.fail(in, source, err)
	}

	delete(out.TextSpans, chunk.ID)
	if inserted {
		out.advanceOrder(written.Order)
	}
	if out.MessageID == written.MessageID {
		out.MessageID = 0
	}
	return out
}

// handleToolInput tracks streamed tool arguments. Nothing is written until the tool call
// is complete.
func (r *Router) handleToolInput(in State, chunk *aisdk.Chunk) State {
	out := r.noop(in)
	tc := out.ToolCalls[chunk.ID]
	tc.ID = chunk.ID
	tc.streamed = true
	if chunk.ToolName != "" {
		tc.Name = chunk.ToolName
	}
	if chunk.Type == aisdk.ChunkToolInputDelta {
		tc.Input += chunk.Delta
		out.GeneratedJSON += chunk.Delta
	}
	out.setToolCall(tc)
	return out
}

// handleToolCall writes the tool call as a tool message. On any failure the input state is
// returned with only Success changed.
func (r *Router) handleToolCall(ctx context.Context, in State, chunk *aisdk.Chunk) State {
	const source = "tool-call"

	if !in.HasTurn() {
		return r.fail(in, source, r.missingTurn(in, source))
	}

	existing, seen := in.ToolCalls[chunk.ToolCallID]
	if seen && existing.MessageID != 0 {
		r.logger.Debug("duplicate tool call ignored", "chat_id", in.ChatID, "turn_id", in.TurnID, "tool_call_id", chunk.ToolCallID)
		return r.noop(in)
	}

	name := chunk.ToolName
	if name == "" {
		name = existing.Name
	}
	input := chunk.Input
	if input == "" {
		input = existing.Input
	}
	input = normalizeToolInput(input)

	m := &storage.Message{
		Role:       storage.RoleTool,
		Content:    &input,
		ToolName:   nullable(name),
		ToolCallID: nullable(chunk.ToolCallID),
		Status:     storage.MessagePending,
	}
	err := r.inTx(ctx, in, source, func(ctx context.Context, tx StoreTx) error {
		return r.createMessage(ctx, tx, in, source, m)
	})
	if err != nil {
		return r.fail(in, source, err)
	}

	out := r.noop(in)
	out.setToolCall(ToolCall{
		ID:        chunk.ToolCallID,
		Name:      name,
		Input:     input,
		MessageID: m.ID,
		Order:     m.MessageOrder,
		streamed:  existing.streamed,
	})
	if !existing.streamed {
		out.GeneratedJSON += input
	}
	out.advanceOrder(m.MessageOrder)
	return out
}

// handleToolResult writes the result as a tool message, completes the matching call and
// drops it from the in-flight map. Results without a known call are still written.
func (r *Router) handleToolResult(ctx context.Context, in State, chunk *aisdk.Chunk) State {
	const source = "tool-result"

	if !in.HasTurn() {
		return r.fail(in, source, r.missingTurn(in, source))
	}

	tc, matched := in.ToolCalls[chunk.ToolCallID]
	if !matched {
		r.logger.Warn("tool result without matching tool call",
			"chat_id", in.ChatID,
			"turn_id", in.TurnID,
			"tool_call_id", chunk.ToolCallID)
	}
	name := chunk.ToolName
	if name == "" {
		name = tc.Name
	}

	status := storage.MessageComplete
	if chunk.IsError {
		status = storage.MessageError
	}
	result := &storage.Message{
		Role:       storage.RoleTool,
		Content:    nullable(string(chunk.Result)),
		ToolName:   nullable(name),
		ToolCallID: nullable(chunk.ToolCallID),
		Status:     status,
	}

	var call *storage.Message
	err := r.inTx(ctx, in, source, func(ctx context.Context, tx StoreTx) error {
		if matched && tc.MessageID == 0 {
			// Input arrived only as deltas; write the call before its result.
			input := normalizeToolInput(tc.Input)
			call = &storage.Message{
				Role:       storage.RoleTool,
				Content:    &input,
				ToolName:   nullable(name),
				ToolCallID: nullable(chunk.ToolCallID),
				Status:     storage.MessageComplete,
			}
			if err := r.createMessage(ctx, tx, in, source, call); err != nil {
				return err
			}
		}
		if err := r.createMessage(ctx, tx, in, source, result); err != nil {
			return err
		}
		if matched && tc.MessageID != 0 {
			complete := storage.MessageComplete
			err := tx.UpdateMessage(ctx, &storage.MessageUpdate{ID: tc.MessageID, Status: &complete, UpdatedTs: r.nowMillis()})
			if err != nil {
				return r.persistErr(in, source, KindPersistence, err)
			}
		}
		return nil
	})
	if err != nil {
		return r.fail(in, source, err)
	}

	out := r.noop(in)
	delete(out.ToolCalls, chunk.ToolCallID)
	if call != nil {
		out.advanceOrder(call.MessageOrder)
	}
	out.advanceOrder(result.MessageOrder)
	return out
}

// handleFinish records usage and finalizes the turn. Without a turn there is nothing to
// attribute usage to and the step is a successful no-op.
func (r *Router) handleFinish(ctx context.Context, in State, chunk *aisdk.Chunk) State {
	const source = "finish"

	if !in.HasTurn() {
		return r.noop(in)
	}
	if in.Finished {
		r.logger.Debug("turn already finished", "chat_id", in.ChatID, "turn_id", in.TurnID)
		return r.noop(in)
	}

	now := r.now()
	status := storage.TurnComplete
	if len(in.Errors) > 0 {
		status = storage.TurnError
	}
	reason := string(chunk.FinishReason)
	if reason == "" {
		reason = string(aisdk.FinishUnknown)
	}
	var latency *int64
	if !in.TurnStartedAt.IsZero() {
		ms := now.Sub(in.TurnStartedAt).Milliseconds()
		latency = &ms
	}

	out := in.Clone()
	err := r.inTx(ctx, in, source, func(ctx context.Context, tx StoreTx) error {
		if err := r.flushPending(ctx, tx, &out, source, storage.MessageComplete); err != nil {
			return err
		}

		if !chunk.Usage.IsZero() {
			err := tx.CreateTokenUsage(ctx, &storage.TokenUsage{
				ChatID:           in.ChatID,
				TurnID:           in.TurnID,
				PromptTokens:     chunk.Usage.InputTokens,
				CompletionTokens: chunk.Usage.OutputTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
				CreatedTs:        now.UnixMilli(),
			})
			if err != nil {
				return r.persistErr(in, source, KindPersistence, err)
			}
		}

		err := tx.FinishTurn(ctx, &storage.TurnCompletion{
			ChatID:       in.ChatID,
			TurnID:       in.TurnID,
			Status:       status,
			FinishReason: reason,
			LatencyMs:    latency,
			Warnings:     out.Warnings,
			Errors:       out.Errors,
			FinishedTs:   now.UnixMilli(),
		})
		if err != nil {
			return r.persistErr(in, source, KindPersistence, err)
		}
		if err := tx.TouchChat(ctx, in.ChatID, now.UnixMilli()); err != nil {
			return r.persistErr(in, source, KindPersistence, err)
		}
		return nil
	})
	if err != nil {
		return r.fail(in, source, err)
	}

	out.ToolCalls = nil
	out.TextSpans = nil
	out.MessageID = 0
	out.Finished = true
	out.Success = true
	return out
}

// flushPending writes tool calls that were never written and open text spans, all with
// status. It updates s in place; callers pass a clone.
func (r *Router) flushPending(ctx context.Context, tx StoreTx, s *State, source string, status storage.MessageStatus) error {
	for _, id := range sortedKeys(s.ToolCalls) {
		tc := s.ToolCalls[id]
		if tc.MessageID != 0 {
			continue
		}
		input := normalizeToolInput(tc.Input)
		m := &storage.Message{
			Role:       storage.RoleTool,
			Content:    &input,
			ToolName:   nullable(tc.Name),
			ToolCallID: nullable(tc.ID),
			Status:     status,
		}
		if err := r.createMessage(ctx, tx, *s, source, m); err != nil {
			return err
		}
		tc.Input, tc.MessageID, tc.Order = input, m.ID, m.MessageOrder
		s.ToolCalls[id] = tc
		s.advanceOrder(m.MessageOrder)
	}

	for _, id := range sortedKeys(s.TextSpans) {
		span := s.TextSpans[id]
		if span.MessageID == 0 && span.Text == "" {
			continue
		}
		written, inserted, err := r.writeSpan(ctx, tx, *s, source, span, status)
		if err != nil {
			return err
		}
		s.TextSpans[id] = written
		if inserted {
			s.advanceOrder(written.Order)
		}
	}
	return nil
}

// Abort finalizes a turn whose stream ended without a finish chunk. A nil cause means the
// caller closed the stream. Open text spans and unwritten tool calls are kept with status
// error and the turn is marked error if it is still pending.
func (r *Router) Abort(ctx context.Context, in State, cause error) State {
	const source = "abort"

	if !in.HasTurn() || in.Finished {
		return r.noop(in)
	}

	reason := finishReasonError
	message := ""
	switch {
	case cause == nil:
		reason = finishReasonAborted
		message = "stream closed before finish"
	case errors.Is(cause, io.EOF), errors.Is(cause, io.ErrUnexpectedEOF):
		message = "stream ended without finish"
	default:
		message = cause.Error()
	}

	r.logger.Warn("turn ended without finish",
		"chat_id", in.ChatID,
		"turn_id", in.TurnID,
		"reason", reason,
		"cause", message)

	now := r.now()
	var latency *int64
	if !in.TurnStartedAt.IsZero() {
		ms := now.Sub(in.TurnStartedAt).Milliseconds()
		latency = &ms
	}

	out := in.Clone()
	out.Errors = append(out.Errors, message)
	err := r.inTx(ctx, in, source, func(ctx context.Context, tx StoreTx) error {
		if err := r.flushPending(ctx, tx, &out, source, storage.MessageError); err != nil {
			return err
		}
		_, err := tx.FailPendingTurn(ctx, &storage.TurnCompletion{
			ChatID:       in.ChatID,
			TurnID:       in.TurnID,
			Status:       storage.TurnError,
			FinishReason: reason,
			LatencyMs:    latency,
			Warnings:     out.Warnings,
			Errors:       out.Errors,
			FinishedTs:   now.UnixMilli(),
		})
		if err != nil {
			return r.persistErr(in, source, KindPersistence, err)
		}
		return nil
	})
	if err != nil {
		return r.fail(in, source, err)
	}

	out.ToolCalls = nil
	out.TextSpans = nil
	out.MessageID = 0
	out.Finished = true
	out.Success = true
	return out
}

// handleError records a provider reported error. It is not a local failure.
func (r *Router) handleError(in State, chunk *aisdk.Chunk) State {
	msg := chunk.Error
	if msg == "" {
		msg = "unknown error"
	}
	r.logger.Warn("provider error chunk", "chat_id", in.ChatID, "turn_id", in.TurnID, "error", msg)

	out := r.noop(in)
	out.Errors = append(out.Errors, msg)
	out.GeneratedText += "[error: " + msg + "]"
	return out
}

// handleUnknown keeps chunk types this package does not model as serialized text.
func (r *Router) handleUnknown(in State, chunk *aisdk.Chunk) State {
	out := r.noop(in)
	b, err := json.Marshal(chunk)
	if err != nil {
		out.GeneratedText += fmt.Sprintf("[%s]", chunk.Type)
		return out
	}
	r.logger.Debug("unrecognized chunk type", "chat_id", in.ChatID, "turn_id", in.TurnID, "type", chunk.Type)
	out.GeneratedText += string(b)
	return out
}

// normalizeToolInput stores empty input as {} and compacts valid JSON. Anything else is kept
// as received.
func normalizeToolInput(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(trimmed)); err != nil {
		return input
	}
	return buf.String()
}
