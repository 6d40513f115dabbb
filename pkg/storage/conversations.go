package storage

import (
	"database/sql"
	"fmt"

	"github.com/ZentaChain/zentalk-session/pkg/crypto"
)

// SaveConversation stores a conversation, replacing an existing row with the
// same ID. The conversation key and the last-message preview are encrypted
// at rest.
func (db *DB) SaveConversation(conv *Conversation) error {
	sealedKey, err := crypto.SealAtRest(conv.Key, db.encryptionKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt conversation key: %v", err)
	}

	var sealedPreview []byte
	if conv.LastMessage != "" {
		sealedPreview, err = crypto.SealAtRest([]byte(conv.LastMessage), db.encryptionKey)
		if err != nil {
			return fmt.Errorf("failed to encrypt last message: %v", err)
		}
	}

	query := `
		INSERT INTO conversations (
			id, local_session_id, counterpart_id, counterpart_name,
			conversation_key, created_at, last_message, last_timestamp, unread_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			counterpart_name = excluded.counterpart_name,
			conversation_key = excluded.conversation_key
	`

	_, err = db.db.Exec(
		query,
		conv.ID,
		conv.LocalSessionID,
		conv.CounterpartID,
		conv.CounterpartName,
		sealedKey,
		conv.CreatedAt,
		sealedPreview,
		conv.LastTimestamp,
		conv.UnreadCount,
	)
	if err != nil {
		return fmt.Errorf("failed to save conversation: %v", err)
	}

	return nil
}

// GetConversation retrieves a conversation by ID
func (db *DB) GetConversation(id string) (*Conversation, error) {
	query := `
		SELECT id, local_session_id, counterpart_id, counterpart_name,
		       conversation_key, created_at, last_message, last_timestamp, unread_count
		FROM conversations WHERE id = ?
	`

	return db.scanConversation(db.db.QueryRow(query, id))
}

// GetConversations retrieves all conversations, most recently active first
func (db *DB) GetConversations() ([]*Conversation, error) {
	query := `
		SELECT id, local_session_id, counterpart_id, counterpart_name,
		       conversation_key, created_at, last_message, last_timestamp, unread_count
		FROM conversations
		ORDER BY last_timestamp DESC
	`

	rows, err := db.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		conv, err := db.scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}

	return conversations, rows.Err()
}

// HasConversation reports whether a conversation exists
func (db *DB) HasConversation(id string) bool {
	var one int
	err := db.db.QueryRow(`SELECT 1 FROM conversations WHERE id = ?`, id).Scan(&one)
	return err == nil
}

// ConversationKey returns the decrypted symmetric key for a conversation
func (db *DB) ConversationKey(id string) ([]byte, error) {
	var sealedKey []byte
	err := db.db.QueryRow(`SELECT conversation_key FROM conversations WHERE id = ?`, id).Scan(&sealedKey)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	key, err := crypto.OpenAtRest(sealedKey, db.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt conversation key: %v", err)
	}

	return key, nil
}

// DeleteConversation removes a conversation and its messages
func (db *DB) DeleteConversation(id string) error {
	if _, err := db.db.Exec(`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return err
	}
	_, err := db.db.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (db *DB) scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var sealedKey []byte
	var counterpartName sql.NullString
	var sealedPreview []byte
	var lastTimestamp sql.NullInt64

	err := row.Scan(
		&conv.ID,
		&conv.LocalSessionID,
		&conv.CounterpartID,
		&counterpartName,
		&sealedKey,
		&conv.CreatedAt,
		&sealedPreview,
		&lastTimestamp,
		&conv.UnreadCount,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	conv.CounterpartName = counterpartName.String
	conv.LastTimestamp = lastTimestamp.Int64

	if len(sealedPreview) > 0 {
		preview, err := crypto.OpenAtRest(sealedPreview, db.encryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt last message: %v", err)
		}
		conv.LastMessage = string(preview)
	}

	conv.Key, err = crypto.OpenAtRest(sealedKey, db.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt conversation key: %v", err)
	}

	return &conv, nil
}
