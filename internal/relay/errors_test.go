package relay

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/die-net/r2lay/internal/metrics"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	opErr := func(err error) error {
		return &net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", err)}
	}

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: metrics.ResultOK},
		{name: "dial", err: fmt.Errorf("%w: %w", ErrDial, opErr(syscall.ECONNREFUSED)), want: metrics.ResultDialError},
		{name: "header", err: fmt.Errorf("%w: %w", ErrHeader, opErr(syscall.EPIPE)), want: metrics.ResultHeaderError},
		{name: "reset", err: opErr(syscall.ECONNRESET), want: metrics.ResultPeerReset},
		{name: "broken pipe", err: opErr(syscall.EPIPE), want: metrics.ResultPeerReset},
		{name: "aborted", err: opErr(syscall.ECONNABORTED), want: metrics.ResultPeerReset},
		{name: "refused mid-stream", err: opErr(syscall.ECONNREFUSED), want: metrics.ResultPeerReset},
		{name: "timeout", err: &net.OpError{Op: "read", Net: "tcp", Err: os.ErrDeadlineExceeded}, want: metrics.ResultTimeout},
		{name: "other", err: errors.New("unexpected"), want: metrics.ResultIOError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify(%v) = %q want %q", tt.err, got, tt.want)
			}
		})
	}
}
