package protocol

import (
	"github.com/ZentaChain/zentalk-session/pkg/crypto"
)

// RegisterSession announces the local session to the relay after connect
type RegisterSession struct {
	SessionID string `json:"sessionId"`
	PublicKey string `json:"publicKey,omitempty"`
}

// SessionRegistered confirms registration
type SessionRegistered struct {
	SessionID string `json:"sessionId"`
}

// Heartbeat is both the ping and the pong payload
type Heartbeat struct {
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
}

// Disconnect notifies the relay of an intentional departure
type Disconnect struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason,omitempty"`
}

// PresenceUpdate is the presence frame in both directions. Outbound,
// ToUserIDs selects recipients and an empty list is the broadcast-to-all
// convention; inbound, SessionID identifies whose presence changed.
type PresenceUpdate struct {
	SessionID string   `json:"sessionId,omitempty"`
	FromUser  string   `json:"fromUserId,omitempty"`
	IsOnline  bool     `json:"isOnline"`
	ToUserIDs []string `json:"toUserIds,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// TypingUpdate is the typing frame in both directions. The indicator is only
// ever surfaced on the session named by ShowIndicatorOn.
type TypingUpdate struct {
	FromUser        string `json:"fromUserId"`
	RecipientID     string `json:"recipientId"`
	ConversationID  string `json:"conversationId"`
	IsTyping        bool   `json:"isTyping"`
	ShowIndicatorOn string `json:"showIndicatorOnSessionId"`
	AutoStopped     bool   `json:"autoStopped,omitempty"`
}

// MessageSend carries an outbound message. Body fields are the encrypted
// envelope; the relay never sees plaintext.
type MessageSend struct {
	MessageID      string           `json:"messageId"`
	ConversationID string           `json:"conversationId"`
	FromUser       string           `json:"fromUserId"`
	RecipientID    string           `json:"recipientId"`
	Body           *crypto.Envelope `json:"body"`
	Timestamp      int64            `json:"timestamp"`
}

// MessageStatusUpdate is the relay's generic status channel. It only ever
// carries non-terminal statuses (sent, queued); delivered and read arrive
// exclusively as receipts.
type MessageStatusUpdate struct {
	MessageID      string        `json:"messageId"`
	Status         MessageStatus `json:"status"`
	FromUser       string        `json:"fromUserId,omitempty"`
	ToUser         string        `json:"toUserId,omitempty"`
	ConversationID string        `json:"conversationId,omitempty"`
}

// Receipt acknowledges delivery or read of a message, depending on which
// receipt event carries it
type Receipt struct {
	MessageID      string `json:"messageId"`
	FromUser       string `json:"fromUserId"`
	ToUser         string `json:"toUserId"`
	ConversationID string `json:"conversationId,omitempty"`
}

// KeyExchangeRequest opens a handshake with a counterpart
type KeyExchangeRequest struct {
	RecipientID   string `json:"recipientId,omitempty"`
	SenderID      string `json:"senderId,omitempty"`
	PublicKey     string `json:"publicKey"`
	RequestID     string `json:"requestId"`
	RequestPhrase string `json:"requestPhrase,omitempty"`
}

// KeyExchangeResponse answers a handshake. An empty PublicKey is the decline
// marker.
type KeyExchangeResponse struct {
	RecipientID string `json:"recipientId,omitempty"`
	SenderID    string `json:"senderId,omitempty"`
	PublicKey   string `json:"publicKey"`
	ResponseID  string `json:"responseId"`
}

// UserDataExchange carries the encrypted user-data envelope that completes a
// handshake and materializes a conversation
type UserDataExchange struct {
	RecipientID    string           `json:"recipientId,omitempty"`
	SenderID       string           `json:"senderId,omitempty"`
	EncryptedData  *crypto.Envelope `json:"encryptedData"`
	ConversationID string           `json:"conversationId,omitempty"`
}

// UserData is the plaintext inside a UserDataExchange envelope. The initiator
// generates the conversation key and ships it here; the acceptor echoes it
// back, so both sides end up holding the same symmetric key.
type UserData struct {
	DisplayName     string `json:"displayName"`
	ConversationID  string `json:"conversationId"`
	ConversationKey string `json:"conversationKey"`
}

// ContactChange adds or removes a contact on the relay side
type ContactChange struct {
	SessionID        string `json:"sessionId"`
	ContactSessionID string `json:"contactSessionId"`
}

// RelayError reports a relay-side failure for a prior frame
type RelayError struct {
	SessionID string `json:"sessionId,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
}
