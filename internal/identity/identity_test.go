package identity_test

import (
	"os"
	"path/filepath"
	"testing"

	"slonana-validator-core/internal/identity"
)

func TestLoadOrGenerateCreatesFileWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.bin")

	kp, err := identity.LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("LoadOrGenerate: %v", err)
	}
	if len(kp.PublicKey) != 32 {
		t.Fatalf("expected 32-byte public key, got %d", len(kp.PublicKey))
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected keypair file to be written: %v", err)
	}

	reloaded, err := identity.LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.NodeID() != kp.NodeID() {
		t.Fatalf("expected stable node id across reload, got %s vs %s", reloaded.NodeID(), kp.NodeID())
	}
}

func TestLoadOrGenerateRegeneratesOnSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.bin")
	if err := os.WriteFile(path, []byte("too-short"), 0o600); err != nil {
		t.Fatal(err)
	}

	kp, err := identity.LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("LoadOrGenerate: %v", err)
	}
	if len(kp.PublicKey) != 32 {
		t.Fatalf("expected regenerated 32-byte public key, got %d", len(kp.PublicKey))
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 64 {
		t.Fatalf("expected 64-byte regenerated file, got %d", info.Size())
	}
}

func TestNodeIDHasExpectedPrefix(t *testing.T) {
	kp, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	id := kp.NodeID()
	if len(id) != len("node_")+16 {
		t.Fatalf("expected node_ + 16 hex chars, got %q (len %d)", id, len(id))
	}
}
