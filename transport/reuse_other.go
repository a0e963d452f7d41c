//go:build !(darwin || dragonfly || freebsd || linux || netbsd || openbsd)

package transport

import "syscall"

func reuseControl(network, address string, c syscall.RawConn) error {
	return nil
}
