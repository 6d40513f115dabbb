package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const (
	// AES-256 requires 32-byte keys
	KeySize = 32

	// Session IDs are a version prefix plus the hex of a 32-byte key digest
	SessionIDPrefix = "05"
	SessionIDLength = 2 + 64
)

// GenerateKey generates a new random 32-byte symmetric key. Key material is
// opaque to the rest of the system and only ever crosses the wire as the
// base64 blob produced by EncodeKey.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// EncodeKey encodes key material for transport
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// DecodeKey decodes transported key material. Anything that is not a
// well-formed 32-byte blob is rejected.
func DecodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidKey
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return key, nil
}

// DeriveSessionID derives the stable session identifier from public key
// material. The ID is the versioned hex digest of the key, so reinstalls that
// keep the key keep the identity.
func DeriveSessionID(publicKey []byte) string {
	digest := sha256.Sum256(publicKey)
	return SessionIDPrefix + hex.EncodeToString(digest[:])
}

// ValidateSessionID checks the session ID format
func ValidateSessionID(sessionID string) bool {
	if len(sessionID) != SessionIDLength {
		return false
	}
	if sessionID[:2] != SessionIDPrefix {
		return false
	}
	_, err := hex.DecodeString(sessionID[2:])
	return err == nil
}
