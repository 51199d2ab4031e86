package dialer

import (
	"context"
	"fmt"
	"net"
)

// DirectDialer connects straight to the target address.
type DirectDialer struct {
	cfg Config
}

func NewDirectDialer(cfg Config) *DirectDialer {
	return &DirectDialer{cfg: cfg}
}

func (d *DirectDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	nd := net.Dialer{Timeout: d.cfg.DialTimeout, KeepAliveConfig: d.cfg.KeepAlive}

	conn, err := nd.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}

	return conn, nil
}
