package storage

import (
	"database/sql"
	"fmt"

	"github.com/ZentaChain/zentalk-session/pkg/crypto"
	"github.com/ZentaChain/zentalk-session/pkg/protocol"
)

// SaveMessage stores a message and updates the owning conversation's
// last-message summary. The body is encrypted at rest.
func (db *DB) SaveMessage(msg *StoredMessage) error {
	encryptedBody, err := crypto.SealAtRest([]byte(msg.Body), db.encryptionKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt body: %v", err)
	}

	query := `
		INSERT INTO messages (
			message_id, conversation_id, from_session_id, to_session_id,
			body, timestamp, status, is_outgoing
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := db.db.Exec(
		query,
		msg.MessageID,
		msg.ConversationID,
		msg.FromSessionID,
		msg.ToSessionID,
		encryptedBody,
		msg.Timestamp,
		msg.Status,
		boolToInt(msg.IsOutgoing),
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %v", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	msg.ID = id

	return db.touchConversation(msg)
}

// touchConversation updates the conversation summary after a new message.
// The preview is encrypted at rest like the message body itself.
func (db *DB) touchConversation(msg *StoredMessage) error {
	unreadDelta := 0
	if !msg.IsOutgoing {
		unreadDelta = 1
	}

	sealedPreview, err := crypto.SealAtRest([]byte(msg.Body), db.encryptionKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt last message: %v", err)
	}

	query := `
		UPDATE conversations
		SET last_message = ?, last_timestamp = ?, unread_count = unread_count + ?
		WHERE id = ?
	`
	_, err = db.db.Exec(query, sealedPreview, msg.Timestamp, unreadDelta, msg.ConversationID)
	return err
}

// GetMessage retrieves a message by its client-generated ID
func (db *DB) GetMessage(messageID string) (*StoredMessage, error) {
	query := `
		SELECT id, message_id, conversation_id, from_session_id, to_session_id,
		       body, timestamp, status, is_outgoing
		FROM messages WHERE message_id = ?
	`

	return db.scanMessage(db.db.QueryRow(query, messageID))
}

// GetConversationMessages retrieves messages for a conversation, newest first
func (db *DB) GetConversationMessages(conversationID string, limit, offset int) ([]*StoredMessage, error) {
	query := `
		SELECT id, message_id, conversation_id, from_session_id, to_session_id,
		       body, timestamp, status, is_outgoing
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`

	rows, err := db.db.Query(query, conversationID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*StoredMessage
	for rows.Next() {
		msg, err := db.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// UpdateMessageStatus applies a delivery-status transition. Transitions
// outside the legal lifecycle are no-ops, so replayed or out-of-order
// receipts can never regress a row.
func (db *DB) UpdateMessageStatus(messageID string, status protocol.MessageStatus) error {
	var current string
	err := db.db.QueryRow(`SELECT status FROM messages WHERE message_id = ?`, messageID).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if !protocol.CanTransition(protocol.MessageStatus(current), status) {
		return nil
	}

	_, err = db.db.Exec(`UPDATE messages SET status = ? WHERE message_id = ?`, string(status), messageID)
	return err
}

// MessageStatus returns the stored status of a message
func (db *DB) MessageStatus(messageID string) (protocol.MessageStatus, error) {
	var status string
	err := db.db.QueryRow(`SELECT status FROM messages WHERE message_id = ?`, messageID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return protocol.MessageStatus(status), nil
}

// MarkConversationRead clears the unread counter
func (db *DB) MarkConversationRead(conversationID string) error {
	_, err := db.db.Exec(`UPDATE conversations SET unread_count = 0 WHERE id = ?`, conversationID)
	return err
}

// DeleteMessage deletes a message
func (db *DB) DeleteMessage(messageID string) error {
	_, err := db.db.Exec(`DELETE FROM messages WHERE message_id = ?`, messageID)
	return err
}

func (db *DB) scanMessage(row rowScanner) (*StoredMessage, error) {
	var msg StoredMessage
	var encryptedBody []byte
	var isOutgoing int

	err := row.Scan(
		&msg.ID,
		&msg.MessageID,
		&msg.ConversationID,
		&msg.FromSessionID,
		&msg.ToSessionID,
		&encryptedBody,
		&msg.Timestamp,
		&msg.Status,
		&isOutgoing,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	msg.IsOutgoing = intToBool(isOutgoing)

	body, err := crypto.OpenAtRest(encryptedBody, db.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt body: %v", err)
	}
	msg.Body = string(body)

	return &msg, nil
}
