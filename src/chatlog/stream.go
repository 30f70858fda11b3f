package chatlog

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/elee1766/chathistory/src/aisdk"
)

// recordingStream forwards the wrapped stream untouched and queues a copy of every chunk.
// The first terminal event (end of stream, a read error or Close) queues the turn's
// finalization; chunks are not accepted after that.
type recordingStream struct {
	inner aisdk.ChunkStream
	rec   *Recorder
	run   *turnRun
	ctx   context.Context

	mu   sync.Mutex
	done bool
}

var _ aisdk.ChunkStream = (*recordingStream)(nil)

func (s *recordingStream) Read() (*aisdk.Chunk, error) {
	chunk, err := s.inner.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.terminate(io.EOF)
		} else {
			s.terminate(err)
		}
		return chunk, err
	}
	if chunk == nil {
		s.terminate(io.EOF)
		return nil, nil
	}

	s.record(chunk.Clone())
	return chunk, nil
}

func (s *recordingStream) Close() error {
	s.terminate(nil)
	return s.inner.Close()
}

func (s *recordingStream) record(chunk *aisdk.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}

	run, rec := s.run, s.rec
	rec.enqueue(s.ctx, run, string(chunk.Type), func(ctx context.Context) error {
		ok := rec.step(ctx, run, func(ctx context.Context, st State) State {
			return rec.router.ProcessChunk(ctx, chunk, st)
		})
		if !ok {
			return ErrNotPersisted
		}
		return nil
	})
}

// terminate queues finalization once. A nil cause means the caller closed the stream.
func (s *recordingStream) terminate(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true

	run, rec := s.run, s.rec
	rec.enqueue(s.ctx, run, "close", func(ctx context.Context) error {
		if run.state.Finished {
			return nil
		}
		ok := rec.step(ctx, run, func(ctx context.Context, st State) State {
			return rec.router.Abort(ctx, st, cause)
		})
		if !ok {
			return ErrNotPersisted
		}
		return nil
	})
}
