package agentpipe

import (
	"errors"
	"strconv"
)

// Sentinel errors for client operations.
var (
	// ErrInvalidState indicates an operation attempted from a lifecycle
	// state that does not allow it (start while running, a second
	// subscription, send before start).
	ErrInvalidState = errors.New("agentpipe: invalid state")

	// ErrNotFound indicates the agent binary, interpreter or script could
	// not be resolved.
	ErrNotFound = errors.New("agentpipe: not found")

	// ErrUnsupported indicates an operation the current session mode does
	// not support (Submit in Interactive mode, Subscribe in OneShot mode).
	ErrUnsupported = errors.New("agentpipe: unsupported in this mode")

	// ErrInputClosed indicates the agent's stdin has already been closed.
	ErrInputClosed = errors.New("agentpipe: input closed")
)

// ExitError represents an agent process that exited with a non-zero status.
// Wraps the underlying error to preserve the error chain: consumers can
// errors.As to *exec.ExitError for OS-level detail (signal info, etc.).
//
// Code semantics: positive = exit status, negative (-1) = signal-killed.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "agentpipe: exit status " + strconv.Itoa(e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode extracts the exit code from an error chain containing *ExitError.
// Returns (0, false) if the error does not contain an ExitError.
func ExitCode(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}
