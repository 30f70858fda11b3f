package aisdk

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// maxChunkLine bounds a single JSONL record.
const maxChunkLine = 4 << 20

// ReadChunkLog parses a JSONL chunk log, one Chunk per line. Blank lines are skipped.
func ReadChunkLog(r io.Reader) ([]*Chunk, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxChunkLine)

	var chunks []*Chunk
	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		var c Chunk
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if c.Type == "" {
			return nil, fmt.Errorf("line %d: chunk has no type", line)
		}
		chunks = append(chunks, &c)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return chunks, nil
}

// ChunkLogWriter writes chunks as JSONL.
type ChunkLogWriter struct {
	enc *json.Encoder
}

// NewChunkLogWriter creates a writer appending to w.
func NewChunkLogWriter(w io.Writer) *ChunkLogWriter {
	return &ChunkLogWriter{enc: json.NewEncoder(w)}
}

// Write appends one chunk.
func (w *ChunkLogWriter) Write(c *Chunk) error {
	return w.enc.Encode(c)
}
