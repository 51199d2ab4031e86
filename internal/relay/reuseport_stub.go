//go:build !(linux || darwin || dragonfly || freebsd || netbsd || openbsd)

package relay

import (
	"errors"
	"syscall"
)

func reusePortControl(_, _ string, _ syscall.RawConn) error {
	return errors.New("SO_REUSEPORT is not supported on this platform")
}
