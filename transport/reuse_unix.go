//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd

package transport

import (
	"syscall"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// reuseControl lets several processes share the mDNS port.
func reuseControl(network, address string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		opErr = multierr.Combine(
			unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1),
			unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1),
		)
	})
	return multierr.Append(err, opErr)
}
