// Package storage provides the encrypted local persistence layer: saved
// conversations, message history with delivery status, and contacts.
package storage

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ZentaChain/zentalk-session/pkg/crypto"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrConversationExists = errors.New("conversation already exists")
)

// DB manages the encrypted local database
type DB struct {
	db            *sql.DB
	encryptionKey []byte // Derived from user passphrase
}

// Conversation represents a saved conversation thread. Key is the symmetric
// conversation key established by the handshake, encrypted at rest and never
// serialized outward.
type Conversation struct {
	ID              string `json:"id"`
	LocalSessionID  string `json:"localSessionId"`
	CounterpartID   string `json:"counterpartId"`
	CounterpartName string `json:"counterpartName"`
	Key             []byte `json:"-"`
	CreatedAt       int64  `json:"createdAt"`
	LastMessage     string `json:"lastMessage,omitempty"`
	LastTimestamp   int64  `json:"lastTimestamp,omitempty"`
	UnreadCount     int    `json:"unreadCount"`
}

// StoredMessage represents a message row. Body is plaintext in memory and
// encrypted at rest.
type StoredMessage struct {
	ID             int64  `json:"-"`
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	FromSessionID  string `json:"fromSessionId"`
	ToSessionID    string `json:"toSessionId"`
	Body           string `json:"body"`
	Timestamp      int64  `json:"timestamp"`
	Status         string `json:"status"`
	IsOutgoing     bool   `json:"isOutgoing"`
}

// Contact represents a contact row
type Contact struct {
	SessionID   string `json:"sessionId"`
	DisplayName string `json:"displayName"`
	PublicKey   string `json:"publicKey,omitempty"`
	AddedAt     int64  `json:"addedAt"`
	LastSeen    int64  `json:"lastSeen,omitempty"`
}

// Open opens (creating if needed) the encrypted database at dbPath
func Open(dbPath string, passphrase string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %v", err)
	}

	sdb := &DB{
		db:            db,
		encryptionKey: crypto.DeriveStorageKey(passphrase),
	}

	if err := sdb.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return sdb, nil
}

// initSchema creates database tables
func (db *DB) initSchema() error {
	schema := `
	-- Conversations table
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		local_session_id TEXT NOT NULL,
		counterpart_id TEXT NOT NULL,
		counterpart_name TEXT,
		conversation_key BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		last_message BLOB,
		last_timestamp INTEGER,
		unread_count INTEGER NOT NULL DEFAULT 0
	);

	-- Messages table
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT UNIQUE NOT NULL,
		conversation_id TEXT NOT NULL,
		from_session_id TEXT NOT NULL,
		to_session_id TEXT NOT NULL,
		body BLOB NOT NULL,
		timestamp INTEGER NOT NULL,
		status TEXT NOT NULL,
		is_outgoing INTEGER NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	-- Contacts table
	CREATE TABLE IF NOT EXISTS contacts (
		session_id TEXT PRIMARY KEY,
		display_name TEXT,
		public_key TEXT,
		added_at INTEGER NOT NULL,
		last_seen INTEGER
	);

	-- Indexes for performance
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_conversations_last_timestamp ON conversations(last_timestamp DESC);
	`

	if _, err := db.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %v", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool {
	return i != 0
}
