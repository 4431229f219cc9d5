// Package errs defines the error kinds shared by the remeshing stages.
package errs

import (
	"errors"
	"fmt"
)

// Error kinds. Use errors.Is to test for them.
var (
	// ErrInput signals untrustworthy input data: out of bounds indices,
	// bad polygon arity, NaN coordinates, corrupt adjacency.
	ErrInput = errors.New("invalid input")
	// ErrConfig signals an unsupported configuration such as a
	// RoSy/PoSy combination outside the supported set.
	ErrConfig = errors.New("invalid configuration")
	// ErrResource signals exhaustion of a bounded resource, for
	// instance graph coloring running out of color slots.
	ErrResource = errors.New("resource exhausted")
	// ErrCanceled is returned when a context is done before a stage ends.
	ErrCanceled = errors.New("canceled")
)

// Error is a fatal error raised by a named pipeline stage.
type Error struct {
	Kind  error
	Stage string
	Msg   string
}

func (e *Error) Error() string {
	return e.Stage + ": " + e.Kind.Error() + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Kind }

// New returns an *Error of the given kind for stage.
func New(kind error, stage, format string, args ...any) error {
	return &Error{Kind: kind, Stage: stage, Msg: fmt.Sprintf(format, args...)}
}
