package network

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ZentaChain/zentalk-session/pkg/crypto"
)

const identityFileName = "session_identity.json"

// SessionIdentity is the local session identity: the stable session ID
// derived from the key material, plus the key blob itself. The session ID is
// derived once at creation and never changes, even when the key is rotated.
type SessionIdentity struct {
	SessionID string    `json:"sessionId"`
	PublicKey string    `json:"publicKey"`
	CreatedAt time.Time `json:"createdAt"`
	RotatedAt time.Time `json:"rotatedAt,omitempty"`
}

// NewIdentity generates a fresh identity
func NewIdentity() (*SessionIdentity, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity key: %w", err)
	}

	return &SessionIdentity{
		SessionID: crypto.DeriveSessionID(key),
		PublicKey: crypto.EncodeKey(key),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// LoadOrCreateIdentity loads the persisted identity from dir, creating and
// persisting a fresh one on first run.
func LoadOrCreateIdentity(dir string) (*SessionIdentity, error) {
	path := filepath.Join(dir, identityFileName)

	data, err := os.ReadFile(path)
	if err == nil {
		var identity SessionIdentity
		if err := json.Unmarshal(data, &identity); err != nil {
			return nil, fmt.Errorf("corrupt identity file %s: %w", path, err)
		}
		if !crypto.ValidateSessionID(identity.SessionID) {
			return nil, fmt.Errorf("identity file %s holds an invalid session ID", path)
		}
		return &identity, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}

	identity, err := NewIdentity()
	if err != nil {
		return nil, err
	}
	if err := identity.Save(dir); err != nil {
		return nil, err
	}

	return identity, nil
}

// Save persists the identity to dir with owner-only permissions
func (id *SessionIdentity) Save(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create identity dir: %w", err)
	}

	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode identity: %w", err)
	}

	path := filepath.Join(dir, identityFileName)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write identity file: %w", err)
	}

	return nil
}

// Key decodes the identity key material
func (id *SessionIdentity) Key() ([]byte, error) {
	return crypto.DecodeKey(id.PublicKey)
}

// Rotate replaces the key material while keeping the session ID stable, so
// existing conversations and the relay registration survive the rotation.
func (id *SessionIdentity) Rotate() error {
	key, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("failed to generate rotation key: %w", err)
	}

	id.PublicKey = crypto.EncodeKey(key)
	id.RotatedAt = time.Now().UTC()
	return nil
}
