package relay

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/die-net/r2lay/internal/logger"
	"github.com/die-net/r2lay/internal/metrics"
)

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			accepted <- nil
			return
		}
		accepted <- c
	}()

	dialed, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	peer := <-accepted
	if peer == nil {
		t.Fatal("accept failed")
	}

	t.Cleanup(func() {
		_ = dialed.Close()
		_ = peer.Close()
	})
	return dialed, peer
}

type copyResult struct {
	st  Stats
	err error
}

// startCopy relays between two fresh connection pairs and returns the outer
// ends: client talks to the relay, backend is what the back-end sees.
func startCopy(t *testing.T, ctx context.Context, idle time.Duration, log *slog.Logger) (client, backend net.Conn, done <-chan copyResult) {
	t.Helper()

	client, relayClient := tcpPair(t)
	relayBackend, backend := tcpPair(t)

	ch := make(chan copyResult, 1)
	go func() {
		st, err := CopyBidirectional(ctx, relayClient, relayBackend, idle, log)
		ch <- copyResult{st: st, err: err}
	}()
	return client, backend, ch
}

func waitCopy(t *testing.T, done <-chan copyResult) copyResult {
	t.Helper()

	select {
	case r := <-done:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not terminate")
		return copyResult{}
	}
}

func TestCopyBidirectionalLargePayload(t *testing.T) {
	client, backend, done := startCopy(t, context.Background(), 0, nil)

	up := make([]byte, 1<<20+123)
	down := make([]byte, 3*copyBufferSize+7)
	_, _ = rand.Read(up)
	_, _ = rand.Read(down)

	go func() {
		_, _ = client.Write(up)
	}()

	got := make([]byte, len(up))
	if _, err := io.ReadFull(backend, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, up) {
		t.Fatal("client to backend bytes differ")
	}

	go func() {
		_, _ = backend.Write(down)
	}()

	got = make([]byte, len(down))
	if _, err := io.ReadFull(client, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, down) {
		t.Fatal("backend to client bytes differ")
	}

	_ = client.Close()

	r := waitCopy(t, done)
	if r.err != nil {
		t.Fatalf("unexpected error: %v", r.err)
	}
	if r.st.Upstream != int64(len(up)) || r.st.Downstream != int64(len(down)) {
		t.Fatalf("stats %+v, want %d up %d down", r.st, len(up), len(down))
	}

	// The back-end sees the close too.
	_ = backend.SetReadDeadline(time.Now().Add(2 * time.Second))
	if n, err := backend.Read(make([]byte, 1)); n != 0 || err != io.EOF {
		t.Fatalf("backend read = %d, %v; want EOF", n, err)
	}
}

func TestCopyBidirectionalInteractive(t *testing.T) {
	client, backend, done := startCopy(t, context.Background(), 0, nil)

	// Request/response in lockstep deadlocks if the directions are
	// serialized.
	for i := 0; i < 10; i++ {
		msg := []byte{byte('a' + i)}
		if _, err := client.Write(msg); err != nil {
			t.Fatal(err)
		}
		buf := make([]byte, 1)
		if _, err := io.ReadFull(backend, buf); err != nil {
			t.Fatal(err)
		}
		if _, err := backend.Write(bytes.ToUpper(buf)); err != nil {
			t.Fatal(err)
		}
		if _, err := io.ReadFull(client, buf); err != nil {
			t.Fatal(err)
		}
		if want := bytes.ToUpper(msg); !bytes.Equal(buf, want) {
			t.Fatalf("got %q want %q", buf, want)
		}
	}

	_ = backend.Close()
	waitCopy(t, done)
}

func TestCopyBidirectionalBackendCloseTearsDownClient(t *testing.T) {
	client, backend, done := startCopy(t, context.Background(), 0, nil)

	if _, err := backend.Write([]byte("bye")); err != nil {
		t.Fatal(err)
	}
	_ = backend.Close()

	r := waitCopy(t, done)
	if r.err != nil {
		t.Fatalf("unexpected error: %v", r.err)
	}

	// Bytes written before the close are delivered, then EOF.
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	got, err := io.ReadAll(client)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "bye" {
		t.Fatalf("got %q want %q", got, "bye")
	}
}

func TestCopyBidirectionalIdleTimeout(t *testing.T) {
	client, _, done := startCopy(t, context.Background(), 100*time.Millisecond, nil)

	// Traffic keeps it alive past one timeout period.
	for i := 0; i < 3; i++ {
		time.Sleep(50 * time.Millisecond)
		if _, err := client.Write([]byte("x")); err != nil {
			t.Fatal(err)
		}
	}

	r := waitCopy(t, done)
	if !IsTimeout(r.err) {
		t.Fatalf("expected timeout, got %v", r.err)
	}
	if r.st.Upstream != 3 {
		t.Fatalf("upstream bytes = %d, want 3", r.st.Upstream)
	}
}

func TestCopyBidirectionalContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client, _, done := startCopy(t, ctx, 0, nil)

	cancel()

	r := waitCopy(t, done)
	if r.err != nil {
		t.Fatalf("unexpected error: %v", r.err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := client.Read(make([]byte, 1)); err == nil {
		t.Fatal("expected client to be closed")
	}
}

func TestCopyBidirectionalPeerReset(t *testing.T) {
	client, _, done := startCopy(t, context.Background(), 0, nil)

	// Linger 0 makes Close send RST.
	if err := client.(*net.TCPConn).SetLinger(0); err != nil {
		t.Fatal(err)
	}
	_ = client.Close()

	r := waitCopy(t, done)
	if r.err != nil && !IsPeerReset(r.err) {
		t.Fatalf("expected peer reset, got %v", r.err)
	}
}

func TestIgnoreClosed(t *testing.T) {
	if err := ignoreClosed(net.ErrClosed); err != nil {
		t.Fatalf("got %v", err)
	}
	boom := errors.New("boom")
	if err := ignoreClosed(boom); err != boom {
		t.Fatalf("got %v", err)
	}
}

func TestCopyBidirectionalDebugLog(t *testing.T) {
	var buf bytes.Buffer
	h, err := logger.NewHandler(&buf, "text", slog.LevelDebug)
	if err != nil {
		t.Fatal(err)
	}

	client, backend, done := startCopy(t, context.Background(), 0, slog.New(h))

	if _, err := client.Write([]byte("ping!")); err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadFull(backend, make([]byte, 5)); err != nil {
		t.Fatal(err)
	}
	if _, err := backend.Write([]byte("pong")); err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadFull(client, make([]byte, 4)); err != nil {
		t.Fatal(err)
	}
	_ = client.Close()
	waitCopy(t, done)

	out := buf.String()
	for _, want := range []string{
		"direction=" + metrics.DirUpstream + " bytes=5",
		"direction=" + metrics.DirDownstream + " bytes=4",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("debug log missing %q:\n%s", want, out)
		}
	}
}

func TestCopyBidirectionalNoDebugAtInfo(t *testing.T) {
	var buf bytes.Buffer
	h, err := logger.NewHandler(&buf, "text", slog.LevelInfo)
	if err != nil {
		t.Fatal(err)
	}

	client, backend, done := startCopy(t, context.Background(), 0, slog.New(h))

	if _, err := client.Write([]byte("quiet")); err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadFull(backend, make([]byte, 5)); err != nil {
		t.Fatal(err)
	}
	_ = client.Close()
	waitCopy(t, done)

	if buf.Len() != 0 {
		t.Fatalf("unexpected output at info level: %s", buf.String())
	}
}
