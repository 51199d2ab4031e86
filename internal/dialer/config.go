package dialer

import (
	"net"
	"time"
)

type Config struct {
	// DialTimeout bounds DNS lookup and TCP connect, including the
	// connection to an upstream proxy.
	DialTimeout time.Duration
	// NegotiationTimeout bounds the TLS, SSH and proxy handshakes with an
	// upstream proxy.
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	// SSHKeyPath is "agent", a private key file, or empty for password
	// only. Used by ssh:// upstreams.
	SSHKeyPath string
	// SSHKnownHostsPath is checked and extended on first use. Empty
	// disables host key checking.
	SSHKnownHostsPath string
}
