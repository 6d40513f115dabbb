package crypto

import (
	"encoding/base64"
	"errors"
	"testing"
)

type testPayload struct {
	DisplayName    string `json:"displayName"`
	ConversationID string `json:"conversationId"`
}

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey(t)

	tests := []struct {
		name    string
		payload testPayload
	}{
		{
			name:    "Simple payload",
			payload: testPayload{DisplayName: "alice", ConversationID: "abc123"},
		},
		{
			name:    "Empty fields",
			payload: testPayload{},
		},
		{
			name:    "Unicode content",
			payload: testPayload{DisplayName: "ålice 👋", ConversationID: "日本語"},
		},
		{
			name:    "Long content",
			payload: testPayload{DisplayName: string(make([]byte, 4096)), ConversationID: "c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Encrypt(tt.payload, key)
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}

			if !env.Encrypted {
				t.Error("Envelope should be marked encrypted")
			}
			if env.Checksum == "" {
				t.Error("Envelope should carry a checksum")
			}

			var got testPayload
			if err := Decrypt(env, key, &got); err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}

			if got != tt.payload {
				t.Errorf("Round trip mismatch: got %+v, want %+v", got, tt.payload)
			}
		})
	}
}

func TestEncryptFreshIVPerCall(t *testing.T) {
	key := testKey(t)
	payload := testPayload{DisplayName: "bob"}

	env1, err := Encrypt(payload, key)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	env2, err := Encrypt(payload, key)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if env1.IV == env2.IV {
		t.Error("IV must be regenerated per call")
	}
	if env1.Ciphertext == env2.Ciphertext {
		t.Error("Same plaintext should not produce identical ciphertext")
	}
	if env1.Checksum != env2.Checksum {
		t.Error("Checksum is over plaintext and should be stable")
	}
}

func TestDecryptBitCorruption(t *testing.T) {
	key := testKey(t)

	env, err := Encrypt(testPayload{DisplayName: "carol", ConversationID: "c1"}, key)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		t.Fatalf("decode ciphertext: %v", err)
	}

	// Flip a single bit in every byte position in turn. CBC corruption must
	// surface as a typed failure, never as a wrong plaintext.
	for i := range raw {
		corrupted := make([]byte, len(raw))
		copy(corrupted, raw)
		corrupted[i] ^= 0x01

		bad := &Envelope{
			Ciphertext: base64.StdEncoding.EncodeToString(corrupted),
			IV:         env.IV,
			Checksum:   env.Checksum,
			Encrypted:  true,
		}

		var out testPayload
		err := Decrypt(bad, key, &out)
		if err == nil {
			t.Fatalf("bit flip at byte %d went undetected", i)
		}
		if !errors.Is(err, ErrChecksumMismatch) && !errors.Is(err, ErrCipherFailure) {
			t.Fatalf("bit flip at byte %d: unexpected error kind: %v", i, err)
		}
	}
}

func TestDecryptChecksumMismatchIsDistinct(t *testing.T) {
	key := testKey(t)

	env, err := Encrypt(testPayload{DisplayName: "dave"}, key)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	// Valid ciphertext, tampered checksum: plaintext is recoverable but must
	// be treated as untrusted.
	env.Checksum = Checksum([]byte("something else"))

	var out testPayload
	err = Decrypt(env, key, &out)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("Expected ErrChecksumMismatch, got %v", err)
	}
}

func TestDecryptWrongKey(t *testing.T) {
	key := testKey(t)
	otherKey := testKey(t)

	env, err := Encrypt(testPayload{DisplayName: "erin"}, key)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	var out testPayload
	if err := Decrypt(env, otherKey, &out); err == nil {
		t.Error("Decrypt with wrong key should fail")
	}
}

func TestDecryptMalformedInput(t *testing.T) {
	key := testKey(t)

	tests := []struct {
		name string
		env  *Envelope
	}{
		{name: "Nil envelope", env: nil},
		{name: "Empty envelope", env: &Envelope{}},
		{
			name: "Garbage base64",
			env:  &Envelope{Ciphertext: "!!not-base64!!", IV: "????"},
		},
		{
			name: "Short IV",
			env: &Envelope{
				Ciphertext: base64.StdEncoding.EncodeToString(make([]byte, 32)),
				IV:         base64.StdEncoding.EncodeToString(make([]byte, 4)),
			},
		},
		{
			name: "Unaligned ciphertext",
			env: &Envelope{
				Ciphertext: base64.StdEncoding.EncodeToString(make([]byte, 17)),
				IV:         base64.StdEncoding.EncodeToString(make([]byte, 16)),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out testPayload
			err := Decrypt(tt.env, key, &out)
			if !errors.Is(err, ErrCipherFailure) {
				t.Errorf("Expected ErrCipherFailure, got %v", err)
			}
		})
	}
}

func TestEncryptRejectsBadKey(t *testing.T) {
	if _, err := Encrypt(testPayload{}, []byte("short")); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Expected ErrInvalidKey, got %v", err)
	}
}
