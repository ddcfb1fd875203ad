package dbsandbox

import (
	"errors"
	"fmt"
)

// ErrSandboxNotStarted indicates the sandbox was queried before Start
// completed.
var ErrSandboxNotStarted = errors.New("database sandbox not started")

// ErrSandboxAlreadyStarted indicates a second Start without an intervening
// Stop.
var ErrSandboxAlreadyStarted = errors.New("database sandbox already started")

// SandboxStartError indicates that a database engine could not be brought
// up.
type SandboxStartError struct {
	// Engine names the engine that failed.
	Engine string
	// Err is the underlying failure.
	Err error
}

func (e *SandboxStartError) Error() string {
	return fmt.Sprintf("unable to start %s database sandbox: %v", e.Engine, e.Err)
}

func (e *SandboxStartError) Unwrap() error {
	return e.Err
}
