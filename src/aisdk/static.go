package aisdk

import (
	"context"
)

// StaticModel replays a recorded chunk sequence. It is used to replay chunk logs through
// middlewares and as a test double.
type StaticModel struct {
	ID     string
	Chunks []*Chunk
	// StreamErr, if set, is returned by the stream after the last chunk.
	StreamErr error
	// CallErr, if set, is returned by DoGenerate and DoStream before anything is produced.
	CallErr error
}

var _ LanguageModel = (*StaticModel)(nil)

// NewStaticModel creates a model that replays chunks.
func NewStaticModel(id string, chunks []*Chunk) *StaticModel {
	return &StaticModel{ID: id, Chunks: chunks}
}

// ModelID returns the configured model id.
func (m *StaticModel) ModelID() string {
	return m.ID
}

// DoGenerate aggregates the recorded chunks into a single result.
func (m *StaticModel) DoGenerate(ctx context.Context, params *CallOptions) (*GenerateResult, error) {
	if m.CallErr != nil {
		return nil, m.CallErr
	}
	if len(m.Chunks) == 0 {
		return nil, ErrNoChunks
	}
	res, err := AggregateStream(NewSliceStream(m.cloneChunks()))
	if err != nil {
		return nil, err
	}
	if res.ModelID == "" {
		res.ModelID = m.ID
	}
	return res, nil
}

// DoStream returns a stream over copies of the recorded chunks.
func (m *StaticModel) DoStream(ctx context.Context, params *CallOptions) (*StreamResult, error) {
	if m.CallErr != nil {
		return nil, m.CallErr
	}
	stream := NewSliceStream(m.cloneChunks())
	stream.Err = m.StreamErr
	return &StreamResult{Stream: stream}, nil
}

func (m *StaticModel) cloneChunks() []*Chunk {
	out := make([]*Chunk, len(m.Chunks))
	for i, c := range m.Chunks {
		out[i] = c.Clone()
	}
	return out
}
