package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/die-net/r2lay/internal/dialer"
	"github.com/die-net/r2lay/internal/logger"
	"github.com/die-net/r2lay/internal/metrics"
	"github.com/die-net/r2lay/internal/proxyproto"
)

const maxAcceptDelay = time.Second

// Server relays every connection accepted by Serve to one back-end.
type Server struct {
	ctx    context.Context
	cfg    Config
	dialer dialer.Dialer
	log    *slog.Logger

	wg sync.WaitGroup
}

// NewServer returns a Server relaying to cfg.Backend. Cancelling ctx tears
// down every relayed connection.
func NewServer(ctx context.Context, cfg Config) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	d := cfg.Dialer
	if d == nil {
		d = dialer.NewDirectDialer(dialer.Config{})
	}
	return &Server{
		ctx:    ctx,
		cfg:    cfg,
		dialer: d,
		log:    logger.With("backend", cfg.Backend),
	}
}

// Serve accepts connections on ln and relays each in its own goroutine.
// Accept errors are logged and retried with backoff. Serve returns nil once
// the server's context is done and ln has been closed, after in-flight
// connections finish; it returns an error if ln is closed while the server
// is still running.
func (s *Server) Serve(ln net.Listener) error {
	defer s.wg.Wait()

	var delay time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}

			metrics.AcceptErrorsTotal.Inc()
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay = min(2*delay, maxAcceptDelay)
			}
			s.log.Error("accept failed", "error", err, "retry_in", delay)

			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-s.ctx.Done():
				t.Stop()
			}
			continue
		}
		delay = 0

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(c)
		}()
	}
}

// handle relays one client connection and records its outcome.
func (s *Server) handle(client net.Conn) {
	start := time.Now()
	log := s.log.With("client", client.RemoteAddr().String())

	metrics.ConnectionsCurrent.Inc()
	defer metrics.ConnectionsCurrent.Dec()

	defer func() {
		if r := recover(); r != nil {
			_ = client.Close()
			metrics.ConnectionsTotal.WithLabelValues(metrics.ResultIOError).Inc()
			log.Error("panic relaying connection", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	log.Info("new connection")

	st, err := s.relay(client, log)

	metrics.BytesTotal.WithLabelValues(metrics.DirUpstream).Add(float64(st.Upstream))
	metrics.BytesTotal.WithLabelValues(metrics.DirDownstream).Add(float64(st.Downstream))
	metrics.ConnectionDuration.Observe(time.Since(start).Seconds())

	result := Classify(err)
	metrics.ConnectionsTotal.WithLabelValues(result).Inc()

	attrs := []any{
		"result", result,
		"bytes_up", st.Upstream,
		"bytes_down", st.Downstream,
		"duration", time.Since(start).Round(time.Millisecond),
	}
	switch result {
	case metrics.ResultOK:
		log.Info("connection closed", attrs...)
	case metrics.ResultPeerReset, metrics.ResultTimeout:
		log.Warn("connection dropped", append(attrs, "error", err)...)
	default:
		log.Error("connection failed", append(attrs, "error", err)...)
	}
}

// relay owns client and the back-end connection it dials. Both are closed
// on return.
func (s *Server) relay(client net.Conn, log *slog.Logger) (Stats, error) {
	defer client.Close()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	backend, err := s.dialer.DialContext(ctx, "tcp", s.cfg.Backend)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %w", ErrDial, err)
	}
	defer backend.Close()

	if s.cfg.ProxyProtocol != proxyproto.Disabled {
		if _, err := proxyproto.WriteHeader(backend, s.cfg.ProxyProtocol, client.RemoteAddr(), client.LocalAddr()); err != nil {
			return Stats{}, fmt.Errorf("%w: %w", ErrHeader, err)
		}
	}

	return CopyBidirectional(ctx, client, backend, s.cfg.IdleTimeout, log)
}
