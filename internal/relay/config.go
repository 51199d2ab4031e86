package relay

import (
	"time"

	"github.com/die-net/r2lay/internal/dialer"
	"github.com/die-net/r2lay/internal/proxyproto"
)

// Config is the per-server relay configuration, shared read-only by every
// connection.
type Config struct {
	// Backend is the address every accepted connection is forwarded to.
	Backend string

	ProxyProtocol proxyproto.Version

	// IdleTimeout tears a connection down after this long without bytes
	// in either direction. Zero means never.
	IdleTimeout time.Duration

	// Dialer reaches Backend. Nil means a direct dialer with no timeout.
	Dialer dialer.Dialer
}
