package session

import "errors"

var (
	// ErrNotFound is returned when no session exists for an ID.
	ErrNotFound = errors.New("session not found")

	// ErrConflict is returned by Save when the stored version moved since
	// the session was loaded.
	ErrConflict = errors.New("session version conflict")

	// ErrPhaseMismatch is returned when a turn or transition does not fit
	// the session's current phase.
	ErrPhaseMismatch = errors.New("phase mismatch")
)
