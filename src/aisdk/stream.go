package aisdk

import (
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
)

// ChunkStream defines the interface for reading streaming responses.
type ChunkStream interface {
	// Read reads the next chunk from the stream. It returns io.EOF once the stream is exhausted.
	Read() (*Chunk, error)

	// Close closes the stream.
	Close() error
}

// StreamCallback is a function called for each chunk in a stream.
type StreamCallback func(chunk *Chunk) error

// StreamToCallback reads a stream and calls the callback for each chunk.
func StreamToCallback(stream ChunkStream, callback StreamCallback) error {
	defer stream.Close()

	for {
		chunk, err := stream.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil // End of stream
			}
			return err
		}

		if chunk == nil {
			return nil // End of stream
		}

		if err := callback(chunk); err != nil {
			return err
		}
	}
}

// CollectText reads a stream and collects all text deltas into a single string.
func CollectText(stream ChunkStream) (string, error) {
	var content strings.Builder

	err := StreamToCallback(stream, func(chunk *Chunk) error {
		if chunk.Type == ChunkTextDelta {
			content.WriteString(chunk.Delta)
		}
		return nil
	})

	return content.String(), err
}

// StreamToChannel converts a ChunkStream to a Go channel.
func StreamToChannel(stream ChunkStream) <-chan StreamReadResult {
	ch := make(chan StreamReadResult, 1)

	go func() {
		defer close(ch)
		defer stream.Close()

		for {
			chunk, err := stream.Read()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					ch <- StreamReadResult{Error: err}
				}
				return
			}

			if chunk == nil {
				return // End of stream
			}

			ch <- StreamReadResult{Chunk: chunk}
		}
	}()

	return ch
}

// StreamReadResult represents a result from a streaming operation.
type StreamReadResult struct {
	Chunk *Chunk
	Error error
}

// IsError returns true if this result contains an error.
func (r StreamReadResult) IsError() bool {
	return r.Error != nil
}

// SliceStream replays a fixed list of chunks. When Err is set it is returned after the
// last chunk instead of io.EOF.
type SliceStream struct {
	mu     sync.Mutex
	chunks []*Chunk
	pos    int
	closed bool
	Err    error
}

// NewSliceStream creates a stream over chunks.
func NewSliceStream(chunks []*Chunk) *SliceStream {
	return &SliceStream{chunks: chunks}
}

// Read returns the next chunk.
func (s *SliceStream) Read() (*Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStreamClosed
	}
	if s.pos >= len(s.chunks) {
		if s.Err != nil {
			return nil, s.Err
		}
		return nil, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

// Close closes the stream. Further reads return ErrStreamClosed.
func (s *SliceStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// StreamAggregator helps aggregate streaming chunks into a final result.
type StreamAggregator struct {
	content    []Content
	text       strings.Builder
	textOpen   bool
	toolInputs map[string]*strings.Builder

	ModelID      string
	FinishReason FinishReason
	Usage        Usage
	Warnings     []string
}

// NewStreamAggregator creates a new stream aggregator.
func NewStreamAggregator() *StreamAggregator {
	return &StreamAggregator{toolInputs: make(map[string]*strings.Builder)}
}

// AddChunk processes a stream chunk and updates the aggregated state.
func (a *StreamAggregator) AddChunk(chunk *Chunk) {
	switch chunk.Type {
	case ChunkStreamStart:
		a.Warnings = append(a.Warnings, chunk.Warnings...)
	case ChunkResponseMetadata:
		if a.ModelID == "" {
			a.ModelID = chunk.ModelID
		}
	case ChunkTextStart:
		a.textOpen = true
	case ChunkTextDelta:
		a.textOpen = true
		a.text.WriteString(chunk.Delta)
	case ChunkTextEnd:
		a.flushText()
	case ChunkToolInputStart:
		a.toolInputs[chunk.ID] = &strings.Builder{}
	case ChunkToolInputDelta:
		if b, ok := a.toolInputs[chunk.ID]; ok {
			b.WriteString(chunk.Delta)
		}
	case ChunkToolCall:
		a.flushText()
		input := chunk.Input
		if b, ok := a.toolInputs[chunk.ToolCallID]; ok && input == "" {
			input = b.String()
		}
		delete(a.toolInputs, chunk.ToolCallID)
		a.content = append(a.content, Content{
			Type:       ContentToolCall,
			ToolCallID: chunk.ToolCallID,
			ToolName:   chunk.ToolName,
			Input:      input,
		})
	case ChunkToolResult:
		a.flushText()
		a.content = append(a.content, Content{
			Type:       ContentToolResult,
			ToolCallID: chunk.ToolCallID,
			ToolName:   chunk.ToolName,
			Result:     chunk.Result,
			IsError:    chunk.IsError,
		})
	case ChunkFinish:
		a.FinishReason = chunk.FinishReason
		if chunk.Usage != nil {
			a.Usage = *chunk.Usage
		}
	}
}

func (a *StreamAggregator) flushText() {
	if a.textOpen && a.text.Len() > 0 {
		a.content = append(a.content, Content{Type: ContentText, Text: a.text.String()})
	}
	a.text.Reset()
	a.textOpen = false
}

// ToResult converts the aggregated stream into a GenerateResult.
func (a *StreamAggregator) ToResult() *GenerateResult {
	a.flushText()
	return &GenerateResult{
		Content:      append([]Content(nil), a.content...),
		FinishReason: a.FinishReason,
		Usage:        a.Usage,
		Warnings:     a.Warnings,
		ModelID:      a.ModelID,
	}
}

// AggregateStream reads a stream and returns the aggregated result.
func AggregateStream(stream ChunkStream) (*GenerateResult, error) {
	aggregator := NewStreamAggregator()

	err := StreamToCallback(stream, func(chunk *Chunk) error {
		aggregator.AddChunk(chunk)
		return nil
	})

	if err != nil {
		return nil, err
	}

	return aggregator.ToResult(), nil
}

// ResultChunks expands a non-streaming result into the chunk sequence a stream
// producing the same result would have emitted.
func ResultChunks(res *GenerateResult) []*Chunk {
	var chunks []*Chunk
	if res == nil {
		return chunks
	}
	if len(res.Warnings) > 0 {
		chunks = append(chunks, &Chunk{Type: ChunkStreamStart, Warnings: res.Warnings})
	}
	if res.ModelID != "" {
		chunks = append(chunks, &Chunk{Type: ChunkResponseMetadata, ModelID: res.ModelID})
	}
	textSpans := 0
	for _, c := range res.Content {
		switch c.Type {
		case ContentText:
			id := "text-" + strconv.Itoa(textSpans)
			textSpans++
			chunks = append(chunks,
				&Chunk{Type: ChunkTextStart, ID: id},
				&Chunk{Type: ChunkTextDelta, ID: id, Delta: c.Text},
				&Chunk{Type: ChunkTextEnd, ID: id},
			)
		case ContentToolCall:
			chunks = append(chunks, &Chunk{
				Type:       ChunkToolCall,
				ToolCallID: c.ToolCallID,
				ToolName:   c.ToolName,
				Input:      c.Input,
			})
		case ContentToolResult:
			chunks = append(chunks, &Chunk{
				Type:       ChunkToolResult,
				ToolCallID: c.ToolCallID,
				ToolName:   c.ToolName,
				Result:     c.Result,
				IsError:    c.IsError,
			})
		}
	}
	usage := res.Usage
	chunks = append(chunks, &Chunk{Type: ChunkFinish, FinishReason: res.FinishReason, Usage: &usage})
	return chunks
}
