package aisdk

import "errors"

var (
	// ErrStreamClosed indicates the stream has been closed
	ErrStreamClosed = errors.New("stream closed")

	// ErrNoChunks indicates a static model was built without chunks
	ErrNoChunks = errors.New("no chunks to replay")
)
