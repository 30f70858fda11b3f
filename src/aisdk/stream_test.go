package aisdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textChunks(id string, deltas ...string) []*Chunk {
	out := []*Chunk{{Type: ChunkTextStart, ID: id}}
	for _, d := range deltas {
		out = append(out, &Chunk{Type: ChunkTextDelta, ID: id, Delta: d})
	}
	return append(out, &Chunk{Type: ChunkTextEnd, ID: id})
}

func TestSliceStream(t *testing.T) {
	chunks := textChunks("t1", "a", "b")
	s := NewSliceStream(chunks)

	for i := range chunks {
		c, err := s.Read()
		require.NoError(t, err)
		assert.Same(t, chunks[i], c)
	}
	_, err := s.Read()
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, s.Close())
	_, err = s.Read()
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestSliceStreamTrailingError(t *testing.T) {
	boom := errors.New("connection reset")
	s := NewSliceStream(textChunks("t1", "x"))
	s.Err = boom

	var seen int
	err := StreamToCallback(s, func(*Chunk) error {
		seen++
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, seen)
}

func TestCollectText(t *testing.T) {
	chunks := append(textChunks("t1", "Hello", " "), textChunks("t2", "world")...)
	text, err := CollectText(NewSliceStream(chunks))
	require.NoError(t, err)
	assert.Equal(t, "Hello world", text)
}

func TestStreamToChannel(t *testing.T) {
	s := NewSliceStream(textChunks("t1", "a"))
	s.Err = errors.New("late failure")

	var results []StreamReadResult
	for r := range StreamToChannel(s) {
		results = append(results, r)
	}
	require.Len(t, results, 4)
	assert.False(t, results[0].IsError())
	assert.True(t, results[3].IsError())
}

func TestChunkClone(t *testing.T) {
	orig := &Chunk{
		Type:     ChunkFinish,
		Usage:    &Usage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3},
		Warnings: []string{"w"},
		Result:   json.RawMessage(`{"ok":true}`),
	}
	cp := orig.Clone()
	cp.Usage.InputTokens = 99
	cp.Warnings[0] = "changed"
	cp.Result[1] = 'X'

	assert.Equal(t, int64(1), orig.Usage.InputTokens)
	assert.Equal(t, "w", orig.Warnings[0])
	assert.JSONEq(t, `{"ok":true}`, string(orig.Result))
	assert.Nil(t, (*Chunk)(nil).Clone())
}

func TestAggregateAndResultChunksRoundTrip(t *testing.T) {
	res := &GenerateResult{
		Content: []Content{
			{Type: ContentText, Text: "let me look"},
			{Type: ContentToolCall, ToolCallID: "call_1", ToolName: "search", Input: `{"q":"go"}`},
			{Type: ContentToolResult, ToolCallID: "call_1", ToolName: "search", Result: json.RawMessage(`["a"]`)},
			{Type: ContentText, Text: "done"},
		},
		FinishReason: FinishStop,
		Usage:        Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
		Warnings:     []string{"topK ignored"},
		ModelID:      "m-1",
	}

	chunks := ResultChunks(res)
	assert.Equal(t, ChunkStreamStart, chunks[0].Type)
	assert.Equal(t, ChunkResponseMetadata, chunks[1].Type)
	assert.Equal(t, ChunkFinish, chunks[len(chunks)-1].Type)

	got, err := AggregateStream(NewSliceStream(chunks))
	require.NoError(t, err)
	assert.Equal(t, res, got)
	assert.Equal(t, "let me lookdone", got.Text())
}

func TestAggregatorToolInputDeltas(t *testing.T) {
	agg := NewStreamAggregator()
	for _, c := range []*Chunk{
		{Type: ChunkToolInputStart, ID: "call_9", ToolName: "calc"},
		{Type: ChunkToolInputDelta, ID: "call_9", Delta: `{"x":`},
		{Type: ChunkToolInputDelta, ID: "call_9", Delta: `1}`},
		{Type: ChunkToolInputEnd, ID: "call_9"},
		{Type: ChunkToolCall, ToolCallID: "call_9", ToolName: "calc"},
	} {
		agg.AddChunk(c)
	}
	res := agg.ToResult()
	require.Len(t, res.Content, 1)
	assert.Equal(t, `{"x":1}`, res.Content[0].Input)
}

type recordingMiddleware struct {
	name  string
	trace *[]string
}

func (m recordingMiddleware) TransformParams(ctx context.Context, p *CallOptions) (*CallOptions, error) {
	*m.trace = append(*m.trace, "transform:"+m.name)
	return p, nil
}

func (m recordingMiddleware) WrapGenerate(ctx context.Context, call GenerateCall) (*GenerateResult, error) {
	*m.trace = append(*m.trace, "generate:"+m.name)
	return call.DoGenerate(ctx)
}

func (m recordingMiddleware) WrapStream(ctx context.Context, call StreamCall) (*StreamResult, error) {
	*m.trace = append(*m.trace, "stream:"+m.name)
	return call.DoStream(ctx)
}

func TestWrapLanguageModelOrder(t *testing.T) {
	var trace []string
	model := WrapLanguageModel(
		NewStaticModel("static", textChunks("t", "hi")),
		recordingMiddleware{name: "outer", trace: &trace},
		recordingMiddleware{name: "inner", trace: &trace},
	)
	assert.Equal(t, "static", model.ModelID())

	res, err := model.DoGenerate(context.Background(), &CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Text())
	assert.Equal(t, []string{"transform:outer", "transform:inner", "generate:outer", "generate:inner"}, trace)

	trace = nil
	sr, err := model.DoStream(context.Background(), &CallOptions{})
	require.NoError(t, err)
	text, err := CollectText(sr.Stream)
	require.NoError(t, err)
	assert.Equal(t, "hi", text)
	assert.Equal(t, []string{"transform:outer", "transform:inner", "stream:outer", "stream:inner"}, trace)
}

func TestStaticModelErrors(t *testing.T) {
	m := NewStaticModel("static", nil)
	_, err := m.DoGenerate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoChunks)

	m.CallErr = errors.New("unavailable")
	_, err = m.DoStream(context.Background(), nil)
	assert.EqualError(t, err, "unavailable")
}

func TestCallOptionsHelpers(t *testing.T) {
	opts := &CallOptions{
		Prompt:   []*Message{{Role: "system", Content: "be brief"}, {Role: "user", Content: "hi"}},
		Metadata: map[string]any{"chat_id": "c1", "n": 3},
	}
	assert.Equal(t, "c1", opts.MetadataString("chat_id"))
	assert.Equal(t, "", opts.MetadataString("n"))
	assert.Equal(t, "hi", opts.LastUserMessage().Content)

	opts.Prompt = opts.Prompt[:1]
	assert.Nil(t, opts.LastUserMessage())
	assert.Equal(t, "", (*CallOptions)(nil).MetadataString("chat_id"))
}
