package orchestrator

import (
	"errors"

	"github.com/fyrsmithlabs/coachd/internal/session"
)

var (
	// ErrModelFailure wraps any failure of the language model call.
	ErrModelFailure = errors.New("model call failed")

	// ErrPersistence wraps any failure to load or save the session.
	ErrPersistence = errors.New("session persistence failed")

	// ErrSessionComplete is returned for messages sent to a finished session.
	ErrSessionComplete = errors.New("session is complete")

	// ErrSessionExists is returned when creating a session whose ID is taken.
	ErrSessionExists = errors.New("session already exists")

	// ErrInvalidMessage is returned for empty, oversized or malformed input.
	ErrInvalidMessage = errors.New("invalid message")
)

// IsRetryable reports whether resending the same message may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrModelFailure) || errors.Is(err, session.ErrConflict)
}
