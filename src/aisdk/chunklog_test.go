package aisdk

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkLogWriteThenRead(t *testing.T) {
	chunks := append(textChunks("t0", "Hel", "lo"),
		&Chunk{Type: ChunkToolCall, ToolCallID: "c1", ToolName: "lookup", Input: `{"q":1}`},
		&Chunk{Type: ChunkFinish, FinishReason: FinishStop, Usage: &Usage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3}},
	)

	var buf bytes.Buffer
	w := NewChunkLogWriter(&buf)
	for _, c := range chunks {
		require.NoError(t, w.Write(c))
	}
	assert.Equal(t, len(chunks), strings.Count(buf.String(), "\n"))

	got, err := ReadChunkLog(&buf)
	require.NoError(t, err)
	assert.Equal(t, chunks, got)
}

func TestReadChunkLogErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bad json", "{\"type\":\"text-start\"}\n{oops", "line 2"},
		{"missing type", "\n{\"delta\":\"x\"}\n", "line 2: chunk has no type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadChunkLog(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadChunkLogSkipsBlankLines(t *testing.T) {
	got, err := ReadChunkLog(strings.NewReader("\n  \n{\"type\":\"finish\"}\n\n"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ChunkFinish, got[0].Type)
}
