package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// AgentKeySource is the --ssh-key value that selects the SSH agent.
const AgentKeySource = "agent"

// AgentAvailable reports whether SSH_AUTH_SOCK points at an agent.
func AgentAvailable() bool {
	return os.Getenv("SSH_AUTH_SOCK") != ""
}

// AgentSigners returns every key held by the SSH agent.
func AgentSigners(ctx context.Context) ([]ssh.Signer, error) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, errors.New("SSH_AUTH_SOCK not set")
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socket)
	if err != nil {
		return nil, fmt.Errorf("connect to ssh agent: %w", err)
	}

	// The signers sign through conn, so it stays open for the process.
	signers, err := agent.NewClient(conn).Signers()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("list ssh agent keys: %w", err)
	}
	if len(signers) == 0 {
		_ = conn.Close()
		return nil, errors.New("ssh agent holds no keys")
	}

	return signers, nil
}

// LoadPrivateKey parses an unencrypted OpenSSH or PEM private key file.
func LoadPrivateKey(path string) (ssh.Signer, error) {
	b, err := os.ReadFile(path) //nolint:gosec // Path is from user config.
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(b)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", path, err)
	}
	return signer, nil
}

// LoadSigners resolves a key source: "" for none, "agent" for the SSH
// agent, anything else is a private key path.
func LoadSigners(ctx context.Context, source string) ([]ssh.Signer, error) {
	switch source {
	case "":
		return nil, nil
	case AgentKeySource:
		return AgentSigners(ctx)
	default:
		signer, err := LoadPrivateKey(source)
		if err != nil {
			return nil, err
		}
		return []ssh.Signer{signer}, nil
	}
}
