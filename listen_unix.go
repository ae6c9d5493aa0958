//go:build unix

package fcgid

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// listen opens the TCP listener with SO_REUSEADDR set, grounded on the
// teacher's ecosystem sibling caddy's ListenTimeout/reusePort
// (listen_linux.go): a net.ListenConfig.Control hook is the idiomatic way
// to reach setsockopt without dropping to a raw socket() call. Unlike
// caddy we set SO_REUSEADDR rather than SO_REUSEPORT: fcgid is a single
// listener per process, not a multi-process reuseport fleet, and
// SO_REUSEADDR is what lets a restarted server rebind a port still in
// TIME_WAIT.
func listen(ctx context.Context, network, addr string) (net.Listener, error) {
	cfg := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
	return cfg.Listen(ctx, network, addr)
}
