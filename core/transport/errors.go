package transport

import "errors"

var (
	// Placement backend errors
	ErrSpawnFailure   = errors.New("spawn failed")
	ErrConnectFailure = errors.New("connect failed")

	// Round-trip errors
	ErrTimeout         = errors.New("request timed out")
	ErrTransportClosed = errors.New("transport closed")
	ErrUnknownActor    = errors.New("unknown actor")

	// Frame errors
	ErrUnexpectedFrame = errors.New("unexpected frame")
)
