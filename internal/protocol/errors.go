package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed is the parse-fault signal: the payload does not follow
	// the message grammar and must be discarded.
	ErrMalformed = errors.New("malformed message")

	// ErrFrameTooLarge is returned when a frame exceeds the read budget.
	ErrFrameTooLarge = errors.New("frame too large")
)

// ParseError describes why a payload was rejected.
type ParseError struct {
	// Field is the zero-based comma-separated field index, or -1 when the
	// fault is not tied to one field.
	Field  int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Field < 0 {
		return fmt.Sprintf("%s: %s", ErrMalformed, e.Reason)
	}
	return fmt.Sprintf("%s: field %d: %s", ErrMalformed, e.Field, e.Reason)
}

// Unwrap returns ErrMalformed for errors.Is compatibility.
func (e *ParseError) Unwrap() error {
	return ErrMalformed
}

func malformed(field int, format string, args ...any) error {
	return &ParseError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
