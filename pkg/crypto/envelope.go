// Package crypto implements the symmetric envelope format used for all
// encrypted payloads exchanged through the relay, plus key material helpers.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrInvalidKey       = errors.New("invalid key")
	ErrCipherFailure    = errors.New("cipher failure")
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Envelope is the ciphertext + checksum container for any payload sent over
// the wire. Ciphertext and IV are base64 so the envelope is transport-safe.
// Checksum is the SHA-256 hex of the serialized plaintext and is an integrity
// check, not an authenticity proof.
type Envelope struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	Checksum   string `json:"checksum"`
	Encrypted  bool   `json:"encrypted"`
}

// Encrypt serializes v as JSON and encrypts it with AES-256-CBC under key.
// A fresh random IV is generated per call and transmitted in the envelope.
func Encrypt(v interface{}, key []byte) (*Envelope, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize payload: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCipherFailure, err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return &Envelope{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Checksum:   Checksum(plaintext),
		Encrypted:  true,
	}, nil
}

// Decrypt reverses Encrypt and deserializes the recovered plaintext into out.
// Malformed ciphertext or a cipher error returns ErrCipherFailure; a recovered
// plaintext whose hash does not match the envelope checksum returns
// ErrChecksumMismatch. Untrusted network data never panics here.
func Decrypt(env *Envelope, key []byte, out interface{}) error {
	plaintext, err := decryptBytes(env, key)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("%w: malformed plaintext: %v", ErrCipherFailure, err)
	}

	return nil
}

// DecryptRaw is Decrypt without the deserialization step. Callers that
// deduplicate on ciphertext before decoding use this.
func DecryptRaw(env *Envelope, key []byte) ([]byte, error) {
	return decryptBytes(env, key)
}

func decryptBytes(env *Envelope, key []byte) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrCipherFailure)
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ciphertext encoding: %v", ErrCipherFailure, err)
	}

	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: bad IV encoding: %v", ErrCipherFailure, err)
	}

	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: IV must be %d bytes", ErrCipherFailure, aes.BlockSize)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext not block-aligned", ErrCipherFailure)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCipherFailure, err)
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCipherFailure, err)
	}

	// Integrity check against the sender-supplied checksum. A mismatch means
	// the plaintext came back but cannot be trusted.
	if env.Checksum != "" && !VerifyChecksum(plaintext, env.Checksum) {
		return nil, ErrChecksumMismatch
	}

	return plaintext, nil
}
