//go:build !unix && !windows

package sandbox

import (
	"context"
	"fmt"
	"os/exec"
)

// ConfigurationService is the sandbox configuration for the service under
// test.
const ConfigurationService = ``

// ConfigurationDatabase is the sandbox configuration for database servers.
const ConfigurationDatabase = ``

// sandbox is the fallback implementation, which only controls the direct
// child.
type sandbox struct {
	// cancel cancels the context associated with the process.
	cancel context.CancelFunc
	// command is the sandboxed process handle.
	command *exec.Cmd
}

// Command implements Sandbox.Command.
func (s *sandbox) Command() *exec.Cmd {
	return s.command
}

// Close implements Sandbox.Close.
func (s *sandbox) Close() error {
	s.cancel()
	return nil
}

// Create creates a sandbox containing a single process that has been started.
// See the unix implementation for argument semantics.
func Create(ctx context.Context, configuration string, modifier func(*exec.Cmd), name string, arg ...string) (Sandbox, error) {
	ctx, cancel := context.WithCancel(ctx)

	command := exec.CommandContext(ctx, name, arg...)
	command.WaitDelay = terminationGrace
	if modifier != nil {
		modifier(command)
	}

	if err := command.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("unable to start process: %w", err)
	}
	return &sandbox{
		cancel:  cancel,
		command: command,
	}, nil
}
