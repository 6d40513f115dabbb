package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2 iterations (100,000 is the recommended minimum)
	pbkdf2Iterations = 100000

	// Salt for local storage key derivation
	storageSalt = "ZenTalk-Session-Storage-v1"
)

// DeriveStorageKey derives the at-rest encryption key from the user's
// passphrase. PBKDF2 keeps brute-force attacks on the local database
// expensive.
func DeriveStorageKey(passphrase string) []byte {
	return pbkdf2.Key([]byte(passphrase), []byte(storageSalt), pbkdf2Iterations, KeySize, sha256.New)
}

// SealAtRest encrypts data for local storage using AES-256-GCM. The random
// nonce is prepended to the ciphertext. GCM authenticates, so at-rest rows
// need no separate checksum.
func SealAtRest(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCipherFailure, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCipherFailure, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// OpenAtRest decrypts data sealed by SealAtRest
func OpenAtRest(sealed, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCipherFailure, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCipherFailure, err)
	}

	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: sealed data too short", ErrCipherFailure)
	}

	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCipherFailure, err)
	}

	return plaintext, nil
}
