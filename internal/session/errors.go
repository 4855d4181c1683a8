package session

import "errors"

var (
	// ErrSessionNotFound indicates the session ID does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTurnConflict indicates a turn with the same sequence number or
	// period key was already written, typically by a concurrent or
	// previously completed request.
	ErrTurnConflict = errors.New("turn already exists")

	// ErrSessionClosed indicates the session no longer accepts turns.
	ErrSessionClosed = errors.New("session is closed")

	// ErrEmptyAppend indicates AppendTurns was called with no turns.
	ErrEmptyAppend = errors.New("no turns to append")
)
