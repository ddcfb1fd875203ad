package sandbox

import (
	"os/exec"
	"time"
)

// terminationGrace is how long a process may take to exit after being asked
// to terminate before it is killed outright.
const terminationGrace = 5 * time.Second

// Sandbox encapsulates a single running process and any children it spawns.
type Sandbox interface {
	// Command returns the sandboxed process handle.
	Command() *exec.Cmd
	// Close asks the process tree to terminate. It does not wait for exit.
	Close() error
}
