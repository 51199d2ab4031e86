package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"
)

func TestLoadSigners(t *testing.T) {
	signers, err := LoadSigners(context.Background(), "")
	if err != nil || signers != nil {
		t.Fatalf("empty source: got %v, %v", signers, err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}

	signers, err = LoadSigners(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	want, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	if len(signers) != 1 || string(signers[0].PublicKey().Marshal()) != string(want.Marshal()) {
		t.Fatal("loaded key does not match")
	}

	if _, err := LoadSigners(context.Background(), filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing key file")
	}

	garbage := filepath.Join(t.TempDir(), "garbage")
	if err := os.WriteFile(garbage, []byte("not a key"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSigners(context.Background(), garbage); err == nil {
		t.Fatal("expected error for unparsable key")
	}
}

func TestAgentUnavailable(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")

	if AgentAvailable() {
		t.Fatal("agent reported available without SSH_AUTH_SOCK")
	}
	if _, err := LoadSigners(context.Background(), AgentKeySource); err == nil {
		t.Fatal("expected error without an agent")
	}
}
