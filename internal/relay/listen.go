package relay

import (
	"context"
	"fmt"
	"net"
)

type ListenConfig struct {
	// KeepAlive is applied to every accepted connection.
	KeepAlive net.KeepAliveConfig
	// ReusePort sets SO_REUSEPORT so several processes can share the
	// listen address.
	ReusePort bool
}

// ListenTCP listens on the given network/address and returns a net.Listener
// that applies cfg.KeepAlive to accepted TCP connections.
func ListenTCP(ctx context.Context, network, addr string, cfg ListenConfig) (net.Listener, error) {
	lc := net.ListenConfig{}
	if cfg.ReusePort {
		lc.Control = reusePortControl
	}

	ln, err := lc.Listen(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", network, addr, err)
	}

	return &KeepAliveListener{Listener: ln, KeepAliveConfig: cfg.KeepAlive}, nil
}

// KeepAliveListener wraps a net.Listener and applies KeepAliveConfig to any
// accepted *net.TCPConn.
type KeepAliveListener struct {
	net.Listener
	net.KeepAliveConfig
}

func (l *KeepAliveListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(l.KeepAliveConfig)
	}

	return conn, nil
}
