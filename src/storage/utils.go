package storage

import (
	"time"

	"github.com/google/uuid"
)

// NewChatID generates a unique ID for a chat
func NewChatID() string {
	return uuid.New().String()
}

// NowMillis returns the current time as unix milliseconds, the unit of every *_ts column.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Ptr returns a pointer to v, for the nullable columns.
func Ptr[T any](v T) *T {
	return &v
}
