package protocol

import (
	"crypto/sha256"
	"encoding/hex"
)

// conversationIDSeparator joins the ordered participant IDs before hashing
const conversationIDSeparator = ":"

// DeriveConversationID derives the stable conversation ID for two
// participants. The IDs are ordered lexicographically before hashing, so
// DeriveConversationID(a, b) == DeriveConversationID(b, a) and the result
// never depends on message content or timestamps.
func DeriveConversationID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	digest := sha256.Sum256([]byte(a + conversationIDSeparator + b))
	return hex.EncodeToString(digest[:])
}

// ValidateConversationID checks a counterpart-supplied conversation ID
// against the local derivation. The derivation is the single source of truth;
// a received ID is only ever accepted when it matches.
func ValidateConversationID(id, a, b string) bool {
	return id == DeriveConversationID(a, b)
}
