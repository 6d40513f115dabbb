package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Checksum generates the SHA-256 hex digest used for envelope integrity
func Checksum(data []byte) string {
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])
}

// VerifyChecksum verifies a checksum matches the data
func VerifyChecksum(data []byte, expected string) bool {
	actual := Checksum(data)
	if len(actual) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(actual), []byte(expected)) == 1
}
