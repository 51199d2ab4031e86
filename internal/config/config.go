// Package config holds the relay's startup configuration.
//
// A Config is assembled once from defaults, an optional TOML file and the
// command line, validated, and then treated as read-only for the life of the
// process.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/die-net/r2lay/internal/dialer"
	"github.com/die-net/r2lay/internal/logger"
	"github.com/die-net/r2lay/internal/proxyproto"
	"github.com/die-net/r2lay/internal/ssh"
)

type Config struct {
	// Listen is the front-end IP:port accepting client connections.
	Listen string `toml:"listen"`
	// Backend is the IP:port every connection is forwarded to.
	Backend string `toml:"backend"`
	// ProxyProtocol selects the header written to the back-end.
	ProxyProtocol proxyproto.Version `toml:"proxy_protocol"`

	// Upstream is the dialer URL used to reach Backend.
	Upstream string `toml:"upstream"`

	// SSHKey is "agent", a private key path, or empty. ssh:// upstreams
	// only.
	SSHKey string `toml:"ssh_key"`
	// SSHKnownHosts is the known_hosts file for ssh:// upstreams. Empty
	// disables host key checking.
	SSHKnownHosts string `toml:"ssh_known_hosts"`

	DialTimeout        time.Duration `toml:"dial_timeout"`
	NegotiationTimeout time.Duration `toml:"negotiation_timeout"`
	// IdleTimeout closes connections with no traffic in either direction
	// for this long. Zero disables it.
	IdleTimeout time.Duration `toml:"idle_timeout"`

	TCPKeepAlive string `toml:"tcp_keepalive"`
	ReusePort    bool   `toml:"reuse_port"`

	// DebugListen exposes /debug/pprof and /metrics when non-empty.
	DebugListen string `toml:"debug_listen"`

	Log logger.Config `toml:"log"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		ProxyProtocol:      proxyproto.Disabled,
		Upstream:           "direct://",
		SSHKey:             defaultSSHKey(),
		SSHKnownHosts:      defaultSSHKnownHosts(),
		DialTimeout:        10 * time.Second,
		NegotiationTimeout: 10 * time.Second,
		TCPKeepAlive:       "45:45:3",
		Log: logger.Config{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

func defaultSSHKey() string {
	if ssh.AgentAvailable() {
		return ssh.AgentKeySource
	}
	return ""
}

func defaultSSHKnownHosts() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "known_hosts")
}

// Load reads a TOML file on top of Default. Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	md, err := toml.Decode(string(b), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return cfg, fmt.Errorf("parse config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	return cfg, nil
}

// Validate checks everything that can be checked before opening a socket.
func (c Config) Validate() error {
	if c.Listen == "" {
		return errors.New("missing listen address")
	}
	if _, err := ParseAddr(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}
	if c.Backend == "" {
		return errors.New("missing backend address")
	}
	if _, err := ParseAddr(c.Backend); err != nil {
		return fmt.Errorf("invalid backend address: %w", err)
	}

	switch c.ProxyProtocol {
	case proxyproto.Disabled, proxyproto.V1, proxyproto.V2:
	default:
		return fmt.Errorf("invalid proxy protocol %v", c.ProxyProtocol)
	}

	if _, err := dialer.ParseUpstream(c.Upstream); err != nil {
		return err
	}
	if c.DialTimeout < 0 || c.NegotiationTimeout < 0 || c.IdleTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}

	if _, err := c.KeepAlive(); err != nil {
		return fmt.Errorf("invalid tcp keepalive: %w", err)
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "console", "json":
	default:
		return fmt.Errorf("invalid log format %q (expected text|json)", c.Log.Format)
	}

	return nil
}

// KeepAlive parses TCPKeepAlive.
func (c Config) KeepAlive() (net.KeepAliveConfig, error) {
	return ParseTCPKeepAlive(c.TCPKeepAlive)
}

// ParseAddr parses a literal IP:port. Host names are rejected.
func ParseAddr(s string) (netip.AddrPort, error) {
	ap, err := netip.ParseAddrPort(strings.TrimSpace(s))
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("expected <ip>:<port>: %w", err)
	}
	return ap, nil
}

// RedactURL replaces any password in an upstream URL so it can be logged.
// Strings that do not parse are returned unchanged.
func RedactURL(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.User == nil {
		return s
	}
	return u.Redacted()
}

// ParseTCPKeepAlive accepts on, off, or keepidle:keepintvl:keepcnt with the
// first two in seconds.
func ParseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveInt(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveInt(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     time.Duration(keepIdle) * time.Second,
		Interval: time.Duration(keepIntvl) * time.Second,
		Count:    keepCnt,
	}, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}
