package supervisor

import (
	"errors"
	"fmt"
	"time"
)

// ErrProcessExited indicates that a process exited while its readiness was
// still pending.
var ErrProcessExited = errors.New("process exited before becoming ready")

// ErrTerminated indicates an operation on a process that has been killed.
var ErrTerminated = errors.New("process has been terminated")

// ReadinessTimeoutError is returned when a process does not print its
// readiness pattern in time. It carries the output accumulated so far.
type ReadinessTimeoutError struct {
	// Name identifies the process.
	Name string
	// Pattern is the substring that was awaited.
	Pattern string
	// Timeout is how long the wait lasted.
	Timeout time.Duration
	// Output is the accumulated stdout at the moment of the timeout.
	Output string
}

func (e *ReadinessTimeoutError) Error() string {
	msg := fmt.Sprintf("%s did not print %q within %s", e.Name, e.Pattern, e.Timeout)
	if e.Output != "" {
		msg += "\nwith output: " + e.Output
	}
	return msg
}
