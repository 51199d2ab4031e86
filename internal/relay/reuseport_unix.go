//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package relay

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

func reusePortControl(_, _ string, c syscall.RawConn) error {
	var ctrlErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			ctrlErr = fmt.Errorf("set SO_REUSEPORT: %w", err)
		}
	})
	if err != nil {
		return err
	}
	return ctrlErr
}
