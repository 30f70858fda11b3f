package oaiclient

import (
	"errors"
	"io"
	"strconv"
	"strings"
	"sync/atomic"

	openai "github.com/sashabaranov/go-openai"

	"github.com/elee1766/chathistory/src/aisdk"
)

// eventSource is the part of *openai.ChatCompletionStream the translator reads from.
type eventSource interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

type toolState struct {
	id   string
	name string
	args strings.Builder
}

// chunkStream translates chat completion deltas into aisdk chunks. One event can expand to
// several chunks; they are buffered and handed out one Read at a time. Tool calls are only
// emitted as complete tool-call chunks once the provider ends the stream, because their
// arguments arrive in fragments.
type chunkStream struct {
	src    eventSource
	closed atomic.Bool

	pending []*aisdk.Chunk
	done    bool
	err     error

	started   bool
	textOpen  bool
	textID    string
	textSpans int

	tools     map[int]*toolState
	toolOrder []int

	finishReason aisdk.FinishReason
	usage        *aisdk.Usage
}

var _ aisdk.ChunkStream = (*chunkStream)(nil)

func newChunkStream(src eventSource) *chunkStream {
	return &chunkStream{src: src, tools: make(map[int]*toolState)}
}

// Read returns the next chunk, io.EOF after the finish chunk, or the transport error.
func (s *chunkStream) Read() (*aisdk.Chunk, error) {
	for len(s.pending) == 0 {
		if s.closed.Load() {
			return nil, aisdk.ErrStreamClosed
		}
		if s.err != nil {
			return nil, s.err
		}
		if s.done {
			return nil, io.EOF
		}

		resp, err := s.src.Recv()
		if errors.Is(err, io.EOF) {
			s.finish()
			s.done = true
			continue
		}
		if err != nil {
			if s.closed.Load() {
				return nil, aisdk.ErrStreamClosed
			}
			s.err = wrapError(err)
			return nil, s.err
		}
		s.translate(resp)
	}

	c := s.pending[0]
	s.pending[0] = nil
	s.pending = s.pending[1:]
	return c, nil
}

// Close releases the underlying connection. It may be called from another goroutine to
// interrupt a blocked Read.
func (s *chunkStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.src.Close()
}

func (s *chunkStream) emit(c *aisdk.Chunk) {
	s.pending = append(s.pending, c)
}

func (s *chunkStream) translate(resp openai.ChatCompletionStreamResponse) {
	if !s.started {
		s.started = true
		s.emit(&aisdk.Chunk{Type: aisdk.ChunkStreamStart})
		if resp.Model != "" {
			s.emit(&aisdk.Chunk{Type: aisdk.ChunkResponseMetadata, ModelID: resp.Model})
		}
	}

	if resp.Usage != nil {
		s.usage = &aisdk.Usage{
			InputTokens:  int64(resp.Usage.PromptTokens),
			OutputTokens: int64(resp.Usage.CompletionTokens),
			TotalTokens:  int64(resp.Usage.TotalTokens),
		}
	}

	for _, choice := range resp.Choices {
		// Only the first choice is recorded; n > 1 is never requested.
		if choice.Index != 0 {
			continue
		}

		if choice.Delta.Content != "" {
			if !s.textOpen {
				s.textOpen = true
				s.textID = "text-" + strconv.Itoa(s.textSpans)
				s.textSpans++
				s.emit(&aisdk.Chunk{Type: aisdk.ChunkTextStart, ID: s.textID})
			}
			s.emit(&aisdk.Chunk{Type: aisdk.ChunkTextDelta, ID: s.textID, Delta: choice.Delta.Content})
		}

		for _, tc := range choice.Delta.ToolCalls {
			s.closeText()
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			ts, ok := s.tools[idx]
			if !ok {
				ts = &toolState{id: tc.ID, name: tc.Function.Name}
				if ts.id == "" {
					ts.id = "call_" + strconv.Itoa(idx)
				}
				s.tools[idx] = ts
				s.toolOrder = append(s.toolOrder, idx)
				s.emit(&aisdk.Chunk{Type: aisdk.ChunkToolInputStart, ID: ts.id, ToolName: ts.name})
			} else if ts.name == "" && tc.Function.Name != "" {
				ts.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				ts.args.WriteString(tc.Function.Arguments)
				s.emit(&aisdk.Chunk{Type: aisdk.ChunkToolInputDelta, ID: ts.id, Delta: tc.Function.Arguments})
			}
		}

		if choice.FinishReason != "" {
			s.finishReason = mapFinishReason(choice.FinishReason)
		}
	}
}

func (s *chunkStream) closeText() {
	if !s.textOpen {
		return
	}
	s.textOpen = false
	s.emit(&aisdk.Chunk{Type: aisdk.ChunkTextEnd, ID: s.textID})
}

// finish flushes open spans and tool calls and emits the finish chunk.
func (s *chunkStream) finish() {
	s.closeText()
	for _, idx := range s.toolOrder {
		ts := s.tools[idx]
		s.emit(&aisdk.Chunk{Type: aisdk.ChunkToolInputEnd, ID: ts.id})
		s.emit(&aisdk.Chunk{
			Type:       aisdk.ChunkToolCall,
			ToolCallID: ts.id,
			ToolName:   ts.name,
			Input:      ts.args.String(),
		})
	}

	reason := s.finishReason
	if reason == "" {
		reason = aisdk.FinishUnknown
	}
	s.emit(&aisdk.Chunk{Type: aisdk.ChunkFinish, FinishReason: reason, Usage: s.usage})
}
