package chatlog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Key identifies the chat turn a task belongs to. Tasks with the same key run one at a time
// in enqueue order.
type Key struct {
	ChatID string
	TurnID int64
	// Call separates calls whose turn id is not allocated yet. Recorders key all of a call's
	// work by a process-wide call number and leave TurnID zero.
	Call uint64
}

// TaskFunc is a unit of queued persistence work.
type TaskFunc func(ctx context.Context) error

// Task is the completion handle of an enqueued TaskFunc.
type Task struct {
	key  Key
	done chan struct{}
	err  error
}

// Key returns the key the task was enqueued under.
func (t *Task) Key() Key {
	return t.key
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task's result. It is only meaningful after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx ends.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type queuedTask struct {
	ctx  context.Context
	fn   TaskFunc
	task *Task
}

type worker struct {
	pending []queuedTask
}

// Queue runs tasks FIFO per key with one goroutine per active key. Workers are started on
// the first task for a key and exit when their backlog is empty.
type Queue struct {
	logger *slog.Logger

	mu      sync.Mutex
	workers map[Key]*worker
	active  int
	idle    chan struct{}
	closed  bool
}

// NewQueue creates an empty queue.
func NewQueue(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		logger:  logger.With("component", "chatlog.queue"),
		workers: make(map[Key]*worker),
		idle:    idle,
	}
}

// Enqueue schedules fn under key. It never blocks on running work. fn receives ctx.
func (q *Queue) Enqueue(ctx context.Context, key Key, fn TaskFunc) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	t := &Task{key: key, done: make(chan struct{})}
	item := queuedTask{ctx: ctx, fn: fn, task: t}

	if q.active == 0 {
		q.idle = make(chan struct{})
	}
	q.active++

	if w, ok := q.workers[key]; ok {
		w.pending = append(w.pending, item)
		return t, nil
	}

	w := &worker{pending: []queuedTask{item}}
	q.workers[key] = w
	go q.run(key, w)
	return t, nil
}

func (q *Queue) run(key Key, w *worker) {
	for {
		q.mu.Lock()
		item := w.pending[0]
		w.pending[0] = queuedTask{}
		w.pending = w.pending[1:]
		q.mu.Unlock()

		item.task.err = q.execute(key, item)
		close(item.task.done)

		q.mu.Lock()
		q.active--
		drained := len(w.pending) == 0
		if drained {
			delete(q.workers, key)
		}
		if q.active == 0 {
			close(q.idle)
		}
		q.mu.Unlock()

		if drained {
			return
		}
	}
}

func (q *Queue) execute(key Key, item queuedTask) (err error) {
	defer func() {
		if p := recover(); p != nil {
			q.logger.Error("queued task panicked", "chat_id", key.ChatID, "turn_id", key.TurnID, "panic", p)
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, p)
		}
	}()
	return item.fn(item.ctx)
}

// Wait blocks until no task is queued or running, or ctx ends.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects further work and waits for queued tasks to drain.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return q.Wait(ctx)
}

// ActiveKeys returns the number of keys with a running worker.
func (q *Queue) ActiveKeys() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.workers)
}
