package relay

import (
	"errors"
	"net"
	"syscall"

	"github.com/die-net/r2lay/internal/metrics"
)

var (
	// ErrDial wraps failures to connect to the back-end.
	ErrDial = errors.New("dial backend")

	// ErrHeader wraps failures to build or write the PROXY header.
	ErrHeader = errors.New("write proxy header")
)

// IsPeerReset reports whether err is the kind of disconnect that ordinary
// network churn produces mid-stream.
func IsPeerReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Classify maps the result of relaying one connection to a metrics label.
func Classify(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, ErrDial):
		return metrics.ResultDialError
	case errors.Is(err, ErrHeader):
		return metrics.ResultHeaderError
	case IsPeerReset(err):
		return metrics.ResultPeerReset
	case IsTimeout(err):
		return metrics.ResultTimeout
	default:
		return metrics.ResultIOError
	}
}
