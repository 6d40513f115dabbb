package network

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ZentaChain/zentalk-session/pkg/crypto"
)

func TestLoadOrCreateIdentity(t *testing.T) {
	dir := t.TempDir()

	created, err := LoadOrCreateIdentity(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity failed: %v", err)
	}
	if !crypto.ValidateSessionID(created.SessionID) {
		t.Fatalf("Created session ID %q is invalid", created.SessionID)
	}

	// Second load must return the same identity, not mint a new one
	loaded, err := LoadOrCreateIdentity(dir)
	if err != nil {
		t.Fatalf("Second LoadOrCreateIdentity failed: %v", err)
	}
	if loaded.SessionID != created.SessionID {
		t.Errorf("Reloaded session ID %s, want %s", loaded.SessionID, created.SessionID)
	}
	if loaded.PublicKey != created.PublicKey {
		t.Error("Reloaded key material differs")
	}
}

func TestIdentityFilePermissions(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadOrCreateIdentity(dir); err != nil {
		t.Fatalf("LoadOrCreateIdentity failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, identityFileName))
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("Identity file mode = %o, want 600", perm)
	}
}

func TestIdentityRotateKeepsSessionID(t *testing.T) {
	identity, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity failed: %v", err)
	}

	sessionID := identity.SessionID
	oldKey := identity.PublicKey

	if err := identity.Rotate(); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	if identity.SessionID != sessionID {
		t.Errorf("Session ID changed on rotation: %s -> %s", sessionID, identity.SessionID)
	}
	if identity.PublicKey == oldKey {
		t.Error("Key material did not change on rotation")
	}
	if identity.RotatedAt.IsZero() {
		t.Error("RotatedAt not recorded")
	}
}

func TestLoadOrCreateIdentityRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, identityFileName)

	if err := os.WriteFile(path, []byte("not json"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := LoadOrCreateIdentity(dir); err == nil {
		t.Fatal("LoadOrCreateIdentity accepted a corrupt file")
	}
}
