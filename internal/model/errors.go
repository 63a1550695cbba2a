package model

import "errors"

var (
	// ErrNotConnected is returned when an outbound frame is attempted
	// while the connection is not in the connected state.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyDisposed is returned when an operation is attempted on a
	// transport that has been torn down.
	ErrAlreadyDisposed = errors.New("transport disposed")

	// ErrStillConnected is returned when a manual reconnect is requested
	// while the current connection is still live.
	ErrStillConnected = errors.New("still connected")

	// ErrRetriesExhausted is returned when the event stream has used up
	// its automatic reconnect budget.
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")

	// ErrInvalidTarget is returned when a terminal target descriptor is
	// missing required scoping fields.
	ErrInvalidTarget = errors.New("invalid terminal target")

	// ErrClusterNotFound is returned when a snapshot lookup misses.
	ErrClusterNotFound = errors.New("cluster not found")
)
