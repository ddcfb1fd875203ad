// Package portalloc finds TCP ports that are free on the loopback interface.
package portalloc

import (
	"context"
	"net"
)

// loopback is the address ports are probed on.
const loopback = "127.0.0.1"

// Allocator returns a currently unused TCP port.
type Allocator func(ctx context.Context) (int, error)

// GetFreePort asks the OS for an ephemeral port on the loopback interface,
// releases it and returns its number. Another process may claim the port
// before the caller binds it.
func GetFreePort(ctx context.Context) (int, error) {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", net.JoinHostPort(loopback, "0"))
	if err != nil {
		return 0, &ResourceError{Resource: "free port", Err: err}
	}
	port := listener.Addr().(*net.TCPAddr).Port
	if err := listener.Close(); err != nil {
		return 0, &ResourceError{Resource: "free port", Err: err}
	}
	return port, nil
}
