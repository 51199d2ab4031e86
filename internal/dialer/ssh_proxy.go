package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/singleflight"

	"github.com/die-net/r2lay/internal/logger"
	internalssh "github.com/die-net/r2lay/internal/ssh"
)

// SSHProxyDialer reaches the target through an SSH server, opening one
// "direct-tcpip" channel per connection over a single shared transport.
//
// The transport is established on first use. If opening a channel fails for
// a reason other than the server refusing it, the transport is discarded and
// one reconnect is attempted. Cancelling a dial's context closes only that
// channel.
type SSHProxyDialer struct {
	sshAddr string
	client  internalssh.ClientConfig
	direct  *DirectDialer

	mu    sync.Mutex
	conn  *ssh.Client
	group singleflight.Group
}

// NewSSHProxyDialer logs in to sshAddr as username using password, the key
// source in cfg.SSHKeyPath, or both. Host keys are checked against
// cfg.SSHKnownHostsPath unless it is empty.
func NewSSHProxyDialer(cfg Config, sshAddr, username, password string) (*SSHProxyDialer, error) {
	if sshAddr == "" {
		return nil, errors.New("ssh proxy dialer: missing ssh address")
	}

	signers, err := internalssh.LoadSigners(context.Background(), cfg.SSHKeyPath)
	if err != nil {
		return nil, fmt.Errorf("ssh proxy dialer: %w", err)
	}
	hostKeys, err := internalssh.NewHostKeyCallback(cfg.SSHKnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("ssh proxy dialer: %w", err)
	}

	client := internalssh.ClientConfig{
		Username:         username,
		Password:         password,
		Signers:          signers,
		HostKeyCallback:  hostKeys,
		HandshakeTimeout: cfg.NegotiationTimeout,
	}
	if err := client.Validate(); err != nil {
		return nil, fmt.Errorf("ssh proxy dialer: %w", err)
	}

	return &SSHProxyDialer{
		sshAddr: sshAddr,
		client:  client,
		direct:  NewDirectDialer(cfg),
	}, nil
}

// ProxyAddr returns the SSH server's host:port.
func (d *SSHProxyDialer) ProxyAddr() string {
	return d.sshAddr
}

func (d *SSHProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("ssh proxy dial %s %s: unsupported network", network, address)
	}

	client, err := d.transport(ctx)
	if err != nil {
		return nil, err
	}

	c, err := client.DialContext(ctx, "tcp", address)
	if err != nil {
		// The server refused the channel; the transport is fine.
		var openErr *ssh.OpenChannelError
		if errors.As(err, &openErr) || ctx.Err() != nil {
			return nil, fmt.Errorf("ssh proxy dial %s: %w", address, err)
		}

		logger.Warn("ssh transport failed, reconnecting", "ssh", d.sshAddr, "error", err)
		d.discard(client)
		if client, err = d.transport(ctx); err != nil {
			return nil, err
		}
		if c, err = client.DialContext(ctx, "tcp", address); err != nil {
			return nil, fmt.Errorf("ssh proxy dial %s: %w", address, err)
		}
	}

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	return &sshChannelConn{Conn: c, stop: stop}, nil
}

// transport returns the shared SSH client, connecting if there is none.
// Concurrent callers share one connection attempt.
func (d *SSHProxyDialer) transport(ctx context.Context) (*ssh.Client, error) {
	d.mu.Lock()
	client := d.conn
	d.mu.Unlock()
	if client != nil {
		return client, nil
	}

	ch := d.group.DoChan("connect", func() (any, error) {
		d.mu.Lock()
		if d.conn != nil {
			c := d.conn
			d.mu.Unlock()
			return c, nil
		}
		d.mu.Unlock()

		// Other waiters may still want the result after ctx ends.
		c, err := d.connect(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		d.mu.Lock()
		d.conn = c
		d.mu.Unlock()
		return c, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ssh.Client), nil
	}
}

func (d *SSHProxyDialer) connect(ctx context.Context) (*ssh.Client, error) {
	conn, err := d.direct.DialContext(ctx, "tcp", d.sshAddr)
	if err != nil {
		return nil, fmt.Errorf("ssh proxy: %w", err)
	}

	client, err := internalssh.NewClient(ctx, conn, d.client, d.sshAddr)
	if err != nil {
		return nil, fmt.Errorf("ssh proxy: %w", err)
	}

	logger.Debug("ssh transport established", "ssh", d.sshAddr, "user", d.client.Username)
	return client, nil
}

// discard drops client if it is still the shared transport.
func (d *SSHProxyDialer) discard(client *ssh.Client) {
	d.mu.Lock()
	if d.conn == client {
		d.conn = nil
	}
	d.mu.Unlock()
	_ = client.Close()
}

// sshChannelConn is one "direct-tcpip" channel.
type sshChannelConn struct {
	net.Conn
	stop func() bool
}

func (c *sshChannelConn) Close() error {
	c.stop()
	return c.Conn.Close()
}

// Close tears down the shared transport.
func (d *SSHProxyDialer) Close() error {
	d.mu.Lock()
	client := d.conn
	d.conn = nil
	d.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}
