package dialer

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPProxyDialer reaches the target through an HTTP or HTTPS proxy using
// the CONNECT method.
type HTTPProxyDialer struct {
	cfg      Config
	proxyURL *url.URL
	auth     string
	direct   *DirectDialer
}

// NewHTTPProxyDialer constructs a CONNECT dialer for proxyURL. When username
// is non-empty, Proxy-Authorization carries HTTP Basic credentials.
func NewHTTPProxyDialer(cfg Config, proxyURL *url.URL, username, password string) (*HTTPProxyDialer, error) {
	if proxyURL == nil {
		return nil, errors.New("http proxy dialer: missing proxy url")
	}
	if proxyURL.Hostname() == "" {
		return nil, errors.New("http proxy dialer: invalid proxy host")
	}
	if proxyURL.Scheme != "http" && proxyURL.Scheme != "https" {
		return nil, fmt.Errorf("http proxy dialer: unsupported scheme: %q", proxyURL.Scheme)
	}

	var auth string
	if username != "" {
		auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
	}

	return &HTTPProxyDialer{
		cfg:      cfg,
		proxyURL: proxyURL,
		auth:     auth,
		direct:   NewDirectDialer(cfg),
	}, nil
}

// ProxyAddr returns the proxy host:port.
func (d *HTTPProxyDialer) ProxyAddr() string {
	return d.proxyURL.Host
}

// DialContext connects to the proxy, performs TLS first for https proxies,
// and issues CONNECT for address. The returned conn carries the tunneled
// stream.
func (d *HTTPProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("http proxy dial %s %s: unsupported network", network, address)
	}

	c, err := d.direct.DialContext(ctx, network, d.proxyURL.Host)
	if err != nil {
		return nil, fmt.Errorf("http proxy: %w", err)
	}

	if d.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(d.cfg.NegotiationTimeout))
	}

	if d.proxyURL.Scheme == "https" {
		tc := tls.Client(c, &tls.Config{MinVersion: tls.VersionTLS12, ServerName: d.proxyURL.Hostname()})
		if err := tc.HandshakeContext(ctx); err != nil {
			_ = tc.Close()
			return nil, fmt.Errorf("http proxy tls handshake: %w", err)
		}
		c = tc
	}

	// Unblock the CONNECT exchange if ctx ends mid-negotiation.
	stop := context.AfterFunc(ctx, func() { _ = c.SetDeadline(time.Unix(1, 0)) })
	br, err := d.connect(c, address)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	_ = c.SetDeadline(time.Time{})

	// The proxy may have sent tunneled bytes along with its response.
	if br.Buffered() > 0 {
		return &bufferedConn{Conn: c, r: br}, nil
	}
	return c, nil
}

// connect sends CONNECT for address and reads the proxy's response.
func (d *HTTPProxyDialer) connect(c net.Conn, address string) (*bufio.Reader, error) {
	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: address},
		Host:   address,
		Header: make(http.Header),
	}
	if d.auth != "" {
		req.Header.Set("Proxy-Authorization", d.auth)
	}

	if err := req.Write(c); err != nil {
		return nil, fmt.Errorf("http proxy connect write: %w", err)
	}

	br := bufio.NewReader(c)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return nil, fmt.Errorf("http proxy connect read: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("http proxy connect failed: %s", resp.Status)
	}
	return br, nil
}

type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}
