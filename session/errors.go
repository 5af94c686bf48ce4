package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is matched by every lookup failure, including ids that
	// exist on disk but cannot be resumed.
	ErrSessionNotFound = errors.New("session not found")
	ErrManagerClosed   = errors.New("session manager closed")
	ErrInvalidID       = errors.New("invalid session id")
)

// NotFoundError carries the id that failed to resolve
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session %s not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrSessionNotFound
}

func notFound(id string) error {
	return &NotFoundError{ID: id}
}

// CorruptStateError is returned when a persisted snapshot exists but cannot be
// decoded or validated. Corrupt state is never replaced with a fresh session.
type CorruptStateError struct {
	ID  string
	Err error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("persisted state for session %s is corrupt: %v", e.ID, e.Err)
}

func (e *CorruptStateError) Unwrap() error {
	return e.Err
}
