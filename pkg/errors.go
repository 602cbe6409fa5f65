package pkg

import "errors"

var (
	// ErrKeyNotFound is returned when a key doesn't exist
	ErrKeyNotFound = errors.New("key not found")

	// ErrContextCanceled is returned when the context is canceled
	ErrContextCanceled = errors.New("context canceled")

	// ErrStorageUnavailable is returned when storage is closed
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNoCandidates is returned when a lookup has no live candidates left
	ErrNoCandidates = errors.New("no candidates available")

	// ErrTransportClosed is returned when the transport has been shut down
	ErrTransportClosed = errors.New("transport closed")
)
