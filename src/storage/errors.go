package storage

import "errors"

var (
	// ErrUnsupportedDriver is returned by Open for drivers other than sqlite, postgres and mysql
	ErrUnsupportedDriver = errors.New("unsupported database driver")

	// ErrTurnNotFound indicates an update targeted a turn row that does not exist
	ErrTurnNotFound = errors.New("turn not found")

	// ErrMessageNotFound indicates an update targeted a message row that does not exist
	ErrMessageNotFound = errors.New("message not found")
)
