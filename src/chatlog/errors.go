package chatlog

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueClosed is returned by Enqueue after Close
	ErrQueueClosed = errors.New("processing queue closed")

	// ErrTaskPanicked wraps a panic recovered from a queued task
	ErrTaskPanicked = errors.New("task panicked")

	// ErrMissingTurn indicates a chunk arrived for a stream whose turn was never created
	ErrMissingTurn = errors.New("no turn to attribute chunk to")

	// ErrNotPersisted is returned by a chunk task whose handler reported failure
	ErrNotPersisted = errors.New("chunk not persisted")
)

// ErrorKind discriminates persistence failures.
type ErrorKind int

const (
	// KindPersistence covers inserts, updates and transaction begin/commit
	KindPersistence ErrorKind = iota
	// KindAllocation is a failed or timed out sequence allocation
	KindAllocation
	// KindMissingTurn means there was no turn id to write against
	KindMissingTurn
)

func (k ErrorKind) String() string {
	switch k {
	case KindAllocation:
		return "allocation"
	case KindMissingTurn:
		return "missing_turn"
	default:
		return "persistence"
	}
}

// PersistError is a failure on the persistence side channel. It never reaches the caller
// of the wrapped model.
type PersistError struct {
	Kind   ErrorKind
	Source string
	ChatID string
	TurnID int64
	Err    error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("%s failure in %s (chat=%s turn=%d): %v", e.Kind, e.Source, e.ChatID, e.TurnID, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a PersistError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *PersistError
	return errors.As(err, &pe) && pe.Kind == kind
}

// ConfigError is returned synchronously by constructors given an unusable configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid recorder config: %s %s", e.Field, e.Message)
}
