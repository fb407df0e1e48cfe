package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConcurrencyConflict indicates that the branch moved between the
	// moment a version was observed and the moment it was written.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrBoardNotFound is returned when a board's metadata document is missing.
	ErrBoardNotFound = errors.New("board not found")

	// ErrBoardExists is returned when creating a board whose metadata document
	// is already present.
	ErrBoardExists = errors.New("board already exists")
)

// ValidationError reports malformed input detected before any remote call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// UpstreamError wraps a non-success response or malformed payload from the
// remote store. Status is zero when no HTTP response was received.
type UpstreamError struct {
	Op     string
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": upstream failure"
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ErrorKind is the stable tag reported to callers.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindConflict      ErrorKind = "conflict"
	KindAlreadyExists ErrorKind = "already_exists"
	KindBoardNotFound ErrorKind = "board_not_found"
	KindUpstream      ErrorKind = "upstream"
	KindInternal      ErrorKind = "internal"
)

// KindOf classifies err. A nil error has no kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var vErr *ValidationError
	var uErr *UpstreamError
	switch {
	case errors.As(err, &vErr):
		return KindValidation
	case errors.Is(err, ErrConcurrencyConflict):
		return KindConflict
	case errors.Is(err, ErrBoardExists):
		return KindAlreadyExists
	case errors.Is(err, ErrBoardNotFound):
		return KindBoardNotFound
	case errors.As(err, &uErr):
		return KindUpstream
	default:
		return KindInternal
	}
}
