package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable means the mirror node could not answer. It never means
	// "no payment found" and callers must not cache it as such.
	ErrUnavailable = errors.New("ledger unavailable")

	ErrAccountNotFound = errors.New("ledger account not found")
)

// StatusError is a non-success HTTP response from the mirror node.
type StatusError struct {
	StatusCode int
	Path       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("mirror node %s: status %d", e.Path, e.StatusCode)
}

func (e *StatusError) Unwrap() error { return ErrUnavailable }
