package sequence

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/elee1766/chathistory/src/storage"
	"github.com/elee1766/chathistory/src/storage/storagetest"
)

func TestAllocateSequential(t *testing.T) {
	storagetest.ForEachDialect(t, func(t *testing.T, db *storage.DB) {
		ctx := context.Background()
		alloc := NewAllocator(db, nil)

		r, err := alloc.Allocate(ctx, Request{Table: "chat_messages", ChatID: "c", TurnID: 1, Count: 1})
		require.NoError(t, err)
		assert.Equal(t, Range{First: 1, Last: 1}, r)

		r, err = alloc.Allocate(ctx, Request{Table: "chat_messages", ChatID: "c", TurnID: 1, Count: 3})
		require.NoError(t, err)
		assert.Equal(t, Range{First: 2, Last: 4}, r)
		assert.Equal(t, 3, r.Len())

		// Different scopes count independently.
		r, err = alloc.Allocate(ctx, Request{Table: "chat_messages", ChatID: "c", TurnID: 2, Count: 1})
		require.NoError(t, err)
		assert.Equal(t, int64(1), r.First)

		r, err = alloc.Allocate(ctx, Request{Table: "chat_turns", ChatID: "c", Count: 1})
		require.NoError(t, err)
		assert.Equal(t, int64(1), r.First)
	})
}

func TestAllocateInvalid(t *testing.T) {
	alloc := NewAllocator(storagetest.NewSQLite(t), nil)
	ctx := context.Background()

	for _, req := range []Request{
		{Table: "chat_messages", ChatID: "c", Count: 0},
		{Table: "chat_messages", ChatID: "c", Count: -2},
		{Table: "", ChatID: "c", Count: 1},
		{Table: "chat_messages", ChatID: "", Count: 1},
	} {
		_, err := alloc.Allocate(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	}
}

func TestAllocateRollsBackWithTx(t *testing.T) {
	storagetest.ForEachDialect(t, func(t *testing.T, db *storage.DB) {
		ctx := context.Background()
		alloc := NewAllocator(db, nil)
		req := Request{Table: "chat_messages", ChatID: "gap", TurnID: 1, Count: 1}

		first, err := alloc.Allocate(ctx, req)
		require.NoError(t, err)

		errAbort := errors.New("abort")
		err = db.InTx(ctx, func(tx *storage.Tx) error {
			txReq := req
			txReq.Tx = tx
			r, err := alloc.Allocate(ctx, txReq)
			require.NoError(t, err)
			assert.Equal(t, first.Last+1, r.First)
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		// The watermark bump rolled back with the transaction.
		next, err := alloc.Allocate(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, first.Last+1, next.First)
	})
}

func TestAllocateCanceledContext(t *testing.T) {
	alloc := NewAllocator(storagetest.NewSQLite(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := alloc.Allocate(ctx, Request{Table: "chat_messages", ChatID: "c", TurnID: 1, Count: 1})
	assert.Error(t, err)
}

func TestAllocateConcurrentUnique(t *testing.T) {
	storagetest.ForEachDialect(t, func(t *testing.T, db *storage.DB) {
		ctx := context.Background()
		alloc := NewAllocator(db, nil)

		const writers = 8
		const perWriter = 25

		var mu sync.Mutex
		seen := make(map[int64]bool)

		g, ctx := errgroup.WithContext(ctx)
		for w := 0; w < writers; w++ {
			count := w%3 + 1
			g.Go(func() error {
				var prev int64
				for i := 0; i < perWriter; i++ {
					r, err := alloc.Allocate(ctx, Request{Table: "chat_messages", ChatID: "hot", TurnID: 7, Count: count})
					if err != nil {
						return err
					}
					if r.First <= prev {
						return errors.New("ordinals went backwards for a single writer")
					}
					prev = r.Last

					mu.Lock()
					for v := r.First; v <= r.Last; v++ {
						if seen[v] {
							mu.Unlock()
							return errors.New("duplicate ordinal")
						}
						seen[v] = true
					}
					mu.Unlock()
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())

		total := 0
		for w := 0; w < writers; w++ {
			total += (w%3 + 1) * perWriter
		}
		assert.Len(t, seen, total)
	})
}
