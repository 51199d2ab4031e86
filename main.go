package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/die-net/r2lay/internal/config"
	"github.com/die-net/r2lay/internal/dialer"
	"github.com/die-net/r2lay/internal/logger"
	"github.com/die-net/r2lay/internal/metrics"
	"github.com/die-net/r2lay/internal/relay"
)

func main() {
	if err := run(); err != nil {
		if isHelp(err) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		return err
	}

	logFile, err := logger.Initialize(cfg.Log)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer logFile.Close()

	ka, err := cfg.KeepAlive()
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	d, err := dialer.New(dialer.Config{
		DialTimeout:        cfg.DialTimeout,
		NegotiationTimeout: cfg.NegotiationTimeout,
		KeepAlive:          ka,
		SSHKeyPath:         cfg.SSHKey,
		SSHKnownHostsPath:  cfg.SSHKnownHosts,
	}, cfg.Upstream)
	if err != nil {
		return fmt.Errorf("invalid --upstream: %w", err)
	}
	if c, ok := d.(io.Closer); ok {
		defer c.Close()
	}

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DebugListen != "" {
		if err := serveDebug(ctx, g, cfg.DebugListen); err != nil {
			return err
		}
	}

	ln, err := relay.ListenTCP(ctx, "tcp", cfg.Listen, relay.ListenConfig{
		KeepAlive: ka,
		ReusePort: cfg.ReusePort,
	})
	if err != nil {
		return err
	}
	context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})

	srv := relay.NewServer(ctx, relay.Config{
		Backend:       cfg.Backend,
		ProxyProtocol: cfg.ProxyProtocol,
		IdleTimeout:   cfg.IdleTimeout,
		Dialer:        d,
	})

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil {
			return fmt.Errorf("relay serve: %w", err)
		}
		return nil
	})
	logger.Info("relay listening",
		"listen", cfg.Listen,
		"backend", cfg.Backend,
		"proxy_protocol", cfg.ProxyProtocol.String(),
		"upstream", config.RedactURL(cfg.Upstream),
	)

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	logger.Info("shutting down")
	return err
}

// serveDebug exposes pprof and Prometheus metrics on addr until ctx ends.
func serveDebug(ctx context.Context, g *errgroup.Group, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/debug/", http.DefaultServeMux)
	mux.Handle("/metrics", metrics.Handler())

	debugSrv := &http.Server{Handler: mux} //nolint:gosec // Not concerned about timeouts on debug port.
	lc := net.ListenConfig{}
	debugLn, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("debug listen: %w", err)
	}
	context.AfterFunc(ctx, func() {
		_ = debugSrv.Close()
		_ = debugLn.Close()
	})

	g.Go(func() error {
		if err := debugSrv.Serve(debugLn); err != nil {
			return fmt.Errorf("debug serve: %w", err)
		}
		return nil
	})
	logger.Info("debug listening", "addr", addr)
	return nil
}
