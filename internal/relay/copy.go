package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/die-net/r2lay/internal/metrics"
)

// Stats counts bytes copied in each direction.
type Stats struct {
	// Upstream is client to back-end.
	Upstream int64
	// Downstream is back-end to client.
	Downstream int64
}

// CopyBidirectional copies client to backend and backend to client
// concurrently. As soon as either direction sees EOF or an error, both
// connections are closed, which ends the other direction too. It returns the
// error that ended the relay, or nil for an orderly close or cancellation of
// ctx.
//
// With idleTimeout > 0, a read in either direction extends the deadline of
// both connections, so the relay fails with a timeout after that long
// without traffic.
//
// When log is enabled at debug level, every chunk relayed is logged with its
// direction and size.
func CopyBidirectional(ctx context.Context, client, backend net.Conn, idleTimeout time.Duration, log *slog.Logger) (Stats, error) {
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = client.Close()
			_ = backend.Close()
		})
	}
	defer closeBoth()

	// Closing unblocks the copies when ctx ends.
	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	var touch func()
	if idleTimeout > 0 {
		touch = func() {
			dl := time.Now().Add(idleTimeout)
			_ = client.SetDeadline(dl)
			_ = backend.SetDeadline(dl)
		}
		touch()
	}

	var trace func(dir string, n int)
	if log != nil && log.Enabled(ctx, slog.LevelDebug) {
		trace = func(dir string, n int) {
			log.Debug("relayed", "direction", dir, "bytes", n)
		}
	}

	var st Stats
	var g errgroup.Group

	g.Go(func() error {
		n, err := copyConn(backend, client, touch, tracer(trace, metrics.DirUpstream))
		st.Upstream = n
		closeBoth()
		return err
	})

	g.Go(func() error {
		n, err := copyConn(client, backend, touch, tracer(trace, metrics.DirDownstream))
		st.Downstream = n
		closeBoth()
		return err
	})

	return st, g.Wait()
}

func tracer(trace func(string, int), dir string) func(int) {
	if trace == nil {
		return nil
	}
	return func(n int) { trace(dir, n) }
}

// copyConn copies src to dst through a pooled buffer until src returns EOF
// or either side fails. Errors caused by our own Close are dropped.
func copyConn(dst, src net.Conn, touch func(), trace func(int)) (int64, error) {
	bp := getBuffer()
	defer putBuffer(bp)
	buf := *bp

	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			if touch != nil {
				touch()
			}
			if trace != nil {
				trace(nr)
			}
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, ignoreClosed(werr)
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return written, nil
			}
			return written, ignoreClosed(rerr)
		}
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
