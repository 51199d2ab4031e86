package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/die-net/r2lay/internal/logger"
)

// NewHostKeyCallback verifies host keys against the known_hosts file at
// path, appending keys for hosts it has never seen (trust on first use). A
// known host presenting a different key is rejected. The file and its
// directory are created if missing. An empty path disables checking.
func NewHostKeyCallback(path string) (ssh.HostKeyCallback, error) {
	if path == "" {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // User explicitly disabled host key checking.
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create known_hosts directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // Path is from user config.
	if err != nil {
		return nil, fmt.Errorf("create known_hosts: %w", err)
	}
	_ = f.Close()

	check, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}

	var mu sync.Mutex
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := check(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if err == nil || !errors.As(err, &keyErr) {
			return err
		}
		if len(keyErr.Want) > 0 {
			return fmt.Errorf("host key mismatch for %s (possible MITM attack): %w", hostname, err)
		}

		mu.Lock()
		defer mu.Unlock()

		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // Path is from user config.
		if err != nil {
			return fmt.Errorf("open known_hosts: %w", err)
		}
		defer f.Close()

		line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
		if _, err := f.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("write known_hosts: %w", err)
		}

		logger.Info("added ssh host key", "host", hostname, "type", key.Type(), "known_hosts", path)
		return nil
	}, nil
}
