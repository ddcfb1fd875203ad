package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"

	"github.com/kolesnikovae/go-winjob"
)

// limitTokenMatcher finds limit tokens in a sandbox configuration.
var limitTokenMatcher = regexp.MustCompile(`\(With[a-zA-Z]+\)`)

// limitTokenToGenerator maps limit tokens to their corresponding generators.
var limitTokenToGenerator = map[string]func() winjob.Limit{
	"(WithDieOnUnhandledException)": winjob.WithDieOnUnhandledException,
	"(WithDesktopLimit)":            winjob.WithDesktopLimit,
	"(WithExitWindowsLimit)":        winjob.WithExitWindowsLimit,
	"(WithReadClipboardLimit)":      winjob.WithReadClipboardLimit,
	"(WithWriteClipboardLimit)":     winjob.WithWriteClipboardLimit,
}

// ConfigurationService is the sandbox configuration for the service under
// test.
const ConfigurationService = `(WithDieOnUnhandledException)
(WithDesktopLimit)
(WithExitWindowsLimit)
(WithReadClipboardLimit)
(WithWriteClipboardLimit)
`

// ConfigurationDatabase is the sandbox configuration for database servers.
const ConfigurationDatabase = `(WithDieOnUnhandledException)
(WithExitWindowsLimit)
`

// sandbox is the Windows sandbox implementation.
type sandbox struct {
	// job is the Windows Job object that encapsulates the process tree.
	job *winjob.JobObject
	// command is the sandboxed process handle.
	command *exec.Cmd
}

// Command implements Sandbox.Command.
func (s *sandbox) Command() *exec.Cmd {
	return s.command
}

// Close implements Sandbox.Close. Closing the job kills every process in it.
func (s *sandbox) Close() error {
	return s.job.Close()
}

// parseLimits turns a configuration into job object limits.
func parseLimits(configuration string) ([]winjob.Limit, error) {
	limits := []winjob.Limit{winjob.WithKillOnJobClose()}
	for _, token := range limitTokenMatcher.FindAllString(configuration, -1) {
		generator, ok := limitTokenToGenerator[token]
		if !ok {
			return nil, fmt.Errorf("unknown limit token: %q", token)
		}
		limits = append(limits, generator())
	}
	return limits, nil
}

// Create creates a sandbox containing a single process that has been started.
// The ctx, name, and arg arguments correspond to their counterparts in
// os/exec.CommandContext. The configuration argument specifies the sandbox
// configuration, for which a pre-defined value should be used. The modifier
// function allows for an optional callback (which may be nil) to configure the
// command before it is started.
func Create(ctx context.Context, configuration string, modifier func(*exec.Cmd), name string, arg ...string) (Sandbox, error) {
	limits, err := parseLimits(configuration)
	if err != nil {
		return nil, err
	}

	command := exec.CommandContext(ctx, name, arg...)
	command.Cancel = func() error {
		return command.Process.Kill()
	}
	command.WaitDelay = terminationGrace
	if modifier != nil {
		modifier(command)
	}

	job, err := winjob.Start(command, limits...)
	if err != nil {
		return nil, fmt.Errorf("unable to start sandboxed process: %w", err)
	}
	return &sandbox{
		job:     job,
		command: command,
	}, nil
}
