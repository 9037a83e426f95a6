package feed

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthInvalid means the backend rejected the session credentials.
	// It is escalated unchanged to the session collaborator.
	ErrAuthInvalid = errors.New("auth invalid")
	// ErrNotFound is returned when the backend has no such row.
	ErrNotFound = errors.New("not found")
	// ErrUnknownRow is returned when a mutation targets a row that is not in the feed.
	ErrUnknownRow = errors.New("row not in feed")
	// ErrInvalid marks a malformed mutation or request.
	ErrInvalid = errors.New("invalid")
)

// RejectedError reports that the server refused an optimistic mutation.
type RejectedError struct {
	MutationID string
	RowID      string
	Cause      error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("mutation %s on row %s rejected: %v", e.MutationID, e.RowID, e.Cause)
}

func (e *RejectedError) Unwrap() error { return e.Cause }

// TransientError wraps a network or server failure that may succeed on retry.
type TransientError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: server returned %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
