package call

import (
	"errors"
	"fmt"
)

var (
	// ErrTerminated is returned by commands sent to a call that has ended.
	ErrTerminated = errors.New("call terminated")
	// ErrNotActive is returned when a transfer is requested before the
	// caller is verified or while another transfer is in progress.
	ErrNotActive = errors.New("call is not active")
	// ErrNoExtension is returned when a department has no extension.
	ErrNoExtension = errors.New("no extension for department")

	errNoConnector = errors.New("no assistant connector configured")
)

// Setup stages
const (
	StageAnswer  = "answer"
	StageSession = "session"
)

// SetupError is a per-call failure while answering the call or opening the
// assistant session.
type SetupError struct {
	Stage string
	Err   error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("call setup failed at %s: %v", e.Stage, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}
