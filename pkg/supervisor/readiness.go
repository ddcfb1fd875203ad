package supervisor

import (
	"context"
	"fmt"
	"time"
)

// Default polling parameters for OutputMatch.
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultReadyTimeout = 20 * time.Second
)

// Policy decides when a starting process counts as ready.
type Policy interface {
	await(ctx context.Context, h *Handle) error
}

// fixedDelay resolves after a set duration regardless of output.
type fixedDelay time.Duration

// FixedDelay returns a policy that waits d and then reports ready.
func FixedDelay(d time.Duration) Policy {
	return fixedDelay(d)
}

func (p fixedDelay) await(ctx context.Context, h *Handle) error {
	timer := time.NewTimer(time.Duration(p))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-h.done:
		return h.exitedError()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// immediate resolves at once.
type immediate struct{}

// Immediate returns a policy that reports ready without waiting.
func Immediate() Policy {
	return immediate{}
}

func (immediate) await(context.Context, *Handle) error {
	return nil
}

// OutputMatch polls accumulated stdout for Pattern every Interval and fails
// with a *ReadinessTimeoutError once Timeout elapses. Zero Interval and
// Timeout take the package defaults.
type OutputMatch struct {
	Pattern  string
	Interval time.Duration
	Timeout  time.Duration
}

func (p OutputMatch) await(ctx context.Context, h *Handle) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}

	if h.output.Contains(p.Pattern) {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ticker.C:
			if h.output.Contains(p.Pattern) {
				return nil
			}
		case <-h.done:
			if h.output.Contains(p.Pattern) {
				return nil
			}
			return h.exitedError()
		case <-deadline.C:
			return &ReadinessTimeoutError{
				Name:    h.name,
				Pattern: p.Pattern,
				Timeout: timeout,
				Output:  h.output.String(),
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// exitedError describes an exit that happened while readiness was pending.
func (h *Handle) exitedError() error {
	if h.State() == Terminated {
		return ErrTerminated
	}
	err := fmt.Errorf("%w: %s: %v", ErrProcessExited, h.name, h.ExitErr())
	if out := h.Output() + h.ErrorOutput(); out != "" {
		err = fmt.Errorf("%w\nwith output: %s", err, out)
	}
	return err
}

// AwaitReady applies policy and moves the handle to Ready when it resolves.
// A nil policy resolves immediately.
func (h *Handle) AwaitReady(ctx context.Context, policy Policy) error {
	switch h.State() {
	case Ready:
		return nil
	case Terminated:
		return ErrTerminated
	}
	if policy == nil {
		policy = Immediate()
	}
	if err := policy.await(ctx, h); err != nil {
		return err
	}
	if !h.transition(Ready) {
		return ErrTerminated
	}
	h.log.Infof("%s is ready", h.name)
	return nil
}

// Spawn starts a process and waits for it to become ready. If readiness
// fails, the process is killed before the error is returned.
func Spawn(ctx context.Context, spec Spec, policy Policy) (*Handle, error) {
	h, err := Start(ctx, spec)
	if err != nil {
		return nil, err
	}
	if err := h.AwaitReady(ctx, policy); err != nil {
		h.Kill()
		return nil, err
	}
	return h, nil
}
