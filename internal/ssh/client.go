package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

// ClientConfig describes how to log in to the SSH server.
type ClientConfig struct {
	Username string
	// Password is offered after any Signers.
	Password string
	Signers  []ssh.Signer

	HostKeyCallback ssh.HostKeyCallback

	// HandshakeTimeout bounds the SSH handshake. Zero means no limit
	// beyond the caller's context.
	HandshakeTimeout time.Duration
}

// Validate checks that the config can authenticate at all.
func (c *ClientConfig) Validate() error {
	if c.Username == "" {
		return errors.New("ssh: missing username")
	}
	if c.Password == "" && len(c.Signers) == 0 {
		return errors.New("ssh: missing password or key")
	}
	if c.HostKeyCallback == nil {
		return errors.New("ssh: missing host key callback")
	}
	return nil
}

// AuthMethods lists public keys first, then the password.
func (c *ClientConfig) AuthMethods() []ssh.AuthMethod {
	var methods []ssh.AuthMethod
	if len(c.Signers) > 0 {
		methods = append(methods, ssh.PublicKeys(c.Signers...))
	}
	if c.Password != "" {
		methods = append(methods, ssh.Password(c.Password))
	}
	return methods
}

// NewClient runs the SSH handshake over conn, which must already be connected
// to addr. conn is closed if the handshake fails or ctx ends first.
func NewClient(ctx context.Context, conn net.Conn, cfg ClientConfig, addr string) (*ssh.Client, error) {
	if err := cfg.Validate(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if cfg.HandshakeTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })

	cc, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            cfg.AuthMethods(),
		HostKeyCallback: cfg.HostKeyCallback,
	})
	if !stop() && err == nil {
		_ = cc.Close()
		err = ctx.Err()
	}
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(cc, chans, reqs), nil
}
