package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
)

// ContextDialer dials the destinations of accepted channels.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ServerConfig configures a Server.
type ServerConfig struct {
	// HostKeys must hold at least one key.
	HostKeys []ssh.Signer

	// At least one of PasswordCallback and PublicKeyCallback is required.
	PasswordCallback  func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error)
	PublicKeyCallback func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error)

	// PermitOpen, when set, must approve each host:port a client asks
	// for. Nil allows any destination.
	PermitOpen func(addr string) bool

	// Dialer defaults to a zero net.Dialer.
	Dialer ContextDialer
}

// Server accepts SSH connections and forwards their "direct-tcpip" channels.
type Server struct {
	config     *ssh.ServerConfig
	permitOpen func(string) bool
	dialer     ContextDialer
	ln         net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// directTCPIP is the RFC 4254 section 7.2 channel payload.
type directTCPIP struct {
	Host       string
	Port       uint32
	OriginHost string
	OriginPort uint32
}

// NewServer listens on addr. Serve must be called to accept connections.
func NewServer(ctx context.Context, addr string, cfg ServerConfig) (*Server, error) {
	if cfg.PasswordCallback == nil && cfg.PublicKeyCallback == nil {
		return nil, errors.New("ssh server: at least one auth callback required")
	}
	if len(cfg.HostKeys) == 0 {
		return nil, errors.New("ssh server: at least one host key required")
	}

	sc := &ssh.ServerConfig{
		PasswordCallback:  cfg.PasswordCallback,
		PublicKeyCallback: cfg.PublicKeyCallback,
	}
	for _, k := range cfg.HostKeys {
		sc.AddHostKey(k)
	}

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ssh server listen: %w", err)
	}

	d := cfg.Dialer
	if d == nil {
		d = &net.Dialer{}
	}

	ctx, cancel := context.WithCancel(ctx)
	return &Server{
		config:     sc,
		permitOpen: cfg.PermitOpen,
		dialer:     d,
		ln:         ln,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve accepts connections until Close. It returns nil after Close.
func (s *Server) Serve() error {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ssh server accept: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(c)
		}()
	}
}

// Close stops the listener, tears down open sessions and waits for them.
func (s *Server) Close() error {
	s.cancel()
	err := s.ln.Close()
	s.wg.Wait()
	return err
}

func (s *Server) handleConn(c net.Conn) {
	defer c.Close()
	stop := context.AfterFunc(s.ctx, func() { _ = c.Close() })
	defer stop()

	sc, chans, reqs, err := ssh.NewServerConn(c, s.config)
	if err != nil {
		return
	}
	defer sc.Close()

	go ssh.DiscardRequests(reqs)

	var wg sync.WaitGroup
	for nc := range chans {
		if nc.ChannelType() != "direct-tcpip" {
			_ = nc.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleDirectTCPIP(nc)
		}()
	}
	wg.Wait()
}

func (s *Server) handleDirectTCPIP(nc ssh.NewChannel) {
	var p directTCPIP
	if err := ssh.Unmarshal(nc.ExtraData(), &p); err != nil {
		_ = nc.Reject(ssh.Prohibited, "invalid direct-tcpip payload")
		return
	}

	addr := net.JoinHostPort(p.Host, strconv.FormatUint(uint64(p.Port), 10))
	if s.permitOpen != nil && !s.permitOpen(addr) {
		_ = nc.Reject(ssh.Prohibited, "destination not permitted: "+addr)
		return
	}

	dst, err := s.dialer.DialContext(s.ctx, "tcp", addr)
	if err != nil {
		_ = nc.Reject(ssh.ConnectionFailed, fmt.Sprintf("dial %s: %v", addr, err))
		return
	}
	defer dst.Close()

	ch, reqs, err := nc.Accept()
	if err != nil {
		return
	}
	defer ch.Close()
	go ssh.DiscardRequests(reqs)

	stop := context.AfterFunc(s.ctx, func() {
		_ = ch.Close()
		_ = dst.Close()
	})
	defer stop()

	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(dst, ch)
		if tc, ok := dst.(interface{ CloseWrite() error }); ok {
			_ = tc.CloseWrite()
		}
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(ch, dst)
		_ = ch.CloseWrite()
		return err
	})
	_ = g.Wait()
}

// GenerateHostKey returns a fresh Ed25519 host key.
func GenerateHostKey() (ssh.Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return ssh.NewSignerFromKey(priv)
}

// PasswordAuth accepts exactly one username/password pair.
func PasswordAuth(username, password string) func(ssh.ConnMetadata, []byte) (*ssh.Permissions, error) {
	return func(conn ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
		if conn.User() != username || string(pass) != password {
			return nil, errors.New("invalid credentials")
		}
		return &ssh.Permissions{}, nil
	}
}
