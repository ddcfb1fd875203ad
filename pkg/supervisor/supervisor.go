// Package supervisor launches external processes, tracks their output and
// decides when they are ready to serve.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/alessio/shellescape"
	"github.com/elastic/go-sysinfo"
	"github.com/elastic/go-sysinfo/types"
	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/mongowebapi/mongo-web-api/pkg/logging"
	"github.com/mongowebapi/mongo-web-api/pkg/sandbox"
	"github.com/mongowebapi/mongo-web-api/pkg/tailbuffer"
)

// drainTimeout bounds how long exit handling waits for output readers to
// reach EOF after the process has exited.
const drainTimeout = time.Second

// Spec describes a process to launch.
type Spec struct {
	// Name identifies the process in logs and echoed output.
	Name string
	// Command is the program to run.
	Command string
	// Args are the program arguments.
	Args []string
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// Env holds KEY=VALUE entries added to the inherited environment.
	Env []string
	// Echo receives stdout, line by line, with a name prefix. May be nil.
	Echo io.Writer
	// EchoErr receives stderr the same way. May be nil.
	EchoErr io.Writer
	// BufferSize caps retained output per stream. Zero keeps everything.
	BufferSize int
	// Configuration is the sandbox configuration to launch under.
	Configuration string
	// Log is the logger for lifecycle events. May be nil.
	Log logging.Logger
}

// Handle is a running process owned by the supervisor.
type Handle struct {
	// name identifies the process.
	name string
	// log is the associated logger.
	log logging.Logger
	// sandbox contains the process tree.
	sandbox sandbox.Sandbox
	// stdin, stdout and stderr are the parent's ends of the standard streams.
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	// output accumulates stdout.
	output *tailbuffer.Buffer
	// errOutput accumulates stderr.
	errOutput *tailbuffer.Buffer
	// pumps copies the output streams.
	pumps errgroup.Group
	// done is closed once the process has exited.
	done chan struct{}
	// killOnce guards Kill.
	killOnce sync.Once

	lock    sync.Mutex
	state   State
	exitErr error
}

// Start launches the process described by spec and returns immediately with
// the handle in the Starting state. The process outlives ctx; only Kill ends
// it.
func Start(ctx context.Context, spec Spec) (*Handle, error) {
	if spec.Command == "" {
		return nil, errors.New("no command given")
	}
	name := spec.Name
	if name == "" {
		name = spec.Command
	}
	log := spec.Log
	if log == nil {
		log = logging.Discard()
	}
	log = log.WithField("process", name)

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("unable to create stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("unable to create stderr pipe: %w", err)
	}

	var (
		stdin    io.WriteCloser
		stdinErr error
	)
	log.Infof("Starting %s", commandLine(spec.Command, spec.Args))
	sb, err := sandbox.Create(
		context.WithoutCancel(ctx),
		spec.Configuration,
		func(command *exec.Cmd) {
			command.Dir = spec.Dir
			command.Env = append(os.Environ(), spec.Env...)
			command.Stdout = stdoutW
			command.Stderr = stderrW
			stdin, stdinErr = command.StdinPipe()
		},
		spec.Command,
		spec.Args...,
	)
	// The child holds its own copies of the write ends.
	stdoutW.Close()
	stderrW.Close()
	if err == nil && stdinErr != nil {
		_ = sb.Close()
		err = stdinErr
	}
	if err != nil {
		stdoutR.Close()
		stderrR.Close()
		return nil, fmt.Errorf("unable to start %s: %w", name, err)
	}

	h := &Handle{
		name:      name,
		log:       log,
		sandbox:   sb,
		stdin:     stdin,
		stdout:    stdoutR,
		stderr:    stderrR,
		output:    tailbuffer.New(spec.BufferSize),
		errOutput: tailbuffer.New(spec.BufferSize),
		done:      make(chan struct{}),
		state:     Starting,
	}
	h.pumps.Go(func() error {
		return pump(stdoutR, h.output, spec.Echo, log, name, color.FgCyan)
	})
	h.pumps.Go(func() error {
		return pump(stderrR, h.errOutput, spec.EchoErr, log, name, color.FgRed)
	})
	go h.wait()

	log.Debugf("%s started with pid %d", name, h.PID())
	return h, nil
}

// pump copies a stream into its buffer and optional echo until EOF or until
// the stream is closed by Kill. A failing echo is dropped; the buffer keeps
// filling.
func pump(src io.Reader, buf *tailbuffer.Buffer, echo io.Writer, log logging.Logger, name string, attr color.Attribute) error {
	dst := io.Writer(buf)
	var prefixed *prefixWriter
	if echo != nil {
		prefixed = newPrefixWriter(&bestEffortWriter{out: echo, log: log, name: name}, name, attr)
		dst = io.MultiWriter(buf, prefixed)
	}
	_, err := io.Copy(dst, src)
	if prefixed != nil {
		_ = prefixed.Flush()
	}
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

// wait records the exit of the process.
func (h *Handle) wait() {
	err := h.sandbox.Command().Wait()

	drained := make(chan struct{})
	go func() {
		if perr := h.pumps.Wait(); perr != nil {
			h.log.Warnf("output copy for %s failed: %v", h.name, perr)
		}
		close(drained)
	}()
	timer := time.NewTimer(drainTimeout)
	select {
	case <-drained:
	case <-timer.C:
	}
	timer.Stop()

	h.lock.Lock()
	h.exitErr = err
	terminated := h.state == Terminated
	h.lock.Unlock()

	if terminated {
		h.log.Debugf("%s exited after kill: %v", h.name, err)
	} else if err != nil {
		h.log.Warnf("%s exited: %v", h.name, err)
	} else {
		h.log.Infof("%s exited", h.name)
	}
	close(h.done)
}

// transition moves the handle to state to if the move is legal.
func (h *Handle) transition(to State) bool {
	h.lock.Lock()
	defer h.lock.Unlock()
	if !canTransition(h.state, to) {
		return false
	}
	h.state = to
	return true
}

// Name returns the process name.
func (h *Handle) Name() string {
	return h.name
}

// PID returns the operating system process identifier.
func (h *Handle) PID() int {
	if p := h.sandbox.Command().Process; p != nil {
		return p.Pid
	}
	return 0
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	if h == nil {
		return Unstarted
	}
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.state
}

// Output returns the accumulated stdout.
func (h *Handle) Output() string {
	return h.output.String()
}

// ErrorOutput returns the accumulated stderr.
func (h *Handle) ErrorOutput() string {
	return h.errOutput.String()
}

// Alive reports whether the process has not yet exited.
func (h *Handle) Alive() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Done returns a channel closed when the process exits.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitErr returns the result of waiting on the process. It is nil until the
// process exits.
func (h *Handle) ExitErr() error {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.exitErr
}

// Describe reports operating system information about the running process.
func (h *Handle) Describe() (types.ProcessInfo, error) {
	proc, err := sysinfo.Process(h.PID())
	if err != nil {
		return types.ProcessInfo{}, fmt.Errorf("unable to inspect %s: %w", h.name, err)
	}
	return proc.Info()
}

// Kill closes the process streams and asks the process tree to terminate. It
// returns without waiting for the exit; use WaitExit for that. Kill on a nil
// handle, or a second Kill, does nothing.
func (h *Handle) Kill() {
	if h == nil {
		return
	}
	h.killOnce.Do(func() {
		h.transition(Terminated)
		closeQuietly(h.stdout)
		closeQuietly(h.stdin)
		closeQuietly(h.stderr)
		if err := h.sandbox.Close(); err != nil {
			h.log.Warnf("unable to terminate %s: %v", h.name, err)
		}
	})
}

// Kill is the nil-safe form of (*Handle).Kill.
func Kill(h *Handle) {
	h.Kill()
}

// WaitExit blocks until the process has exited or ctx is done.
func (h *Handle) WaitExit(ctx context.Context) error {
	if h == nil {
		return nil
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s to exit: %w", h.name, ctx.Err())
	}
}

// commandLine renders a command as a copy-pasteable shell string.
func commandLine(name string, args []string) string {
	quoted := make([]string, 0, len(args)+1)
	quoted = append(quoted, shellescape.Quote(name))
	for _, a := range args {
		quoted = append(quoted, shellescape.Quote(a))
	}
	return strings.Join(quoted, " ")
}

func closeQuietly(c io.Closer) {
	if c == nil {
		return
	}
	_ = c.Close()
}
