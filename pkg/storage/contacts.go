package storage

import (
	"database/sql"
)

// AddContact stores a contact, updating the display name and key on conflict
func (db *DB) AddContact(contact *Contact) error {
	query := `
		INSERT INTO contacts (session_id, display_name, public_key, added_at, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			display_name = excluded.display_name,
			public_key = excluded.public_key
	`
	_, err := db.db.Exec(query, contact.SessionID, contact.DisplayName, contact.PublicKey, contact.AddedAt, contact.LastSeen)
	return err
}

// RemoveContact deletes a contact
func (db *DB) RemoveContact(sessionID string) error {
	_, err := db.db.Exec(`DELETE FROM contacts WHERE session_id = ?`, sessionID)
	return err
}

// GetContact retrieves a contact by session ID
func (db *DB) GetContact(sessionID string) (*Contact, error) {
	query := `SELECT session_id, display_name, public_key, added_at, last_seen FROM contacts WHERE session_id = ?`

	var contact Contact
	var displayName, publicKey sql.NullString
	var lastSeen sql.NullInt64

	err := db.db.QueryRow(query, sessionID).Scan(
		&contact.SessionID, &displayName, &publicKey, &contact.AddedAt, &lastSeen,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	contact.DisplayName = displayName.String
	contact.PublicKey = publicKey.String
	contact.LastSeen = lastSeen.Int64

	return &contact, nil
}

// GetContacts retrieves all contacts
func (db *DB) GetContacts() ([]*Contact, error) {
	query := `SELECT session_id, display_name, public_key, added_at, last_seen FROM contacts ORDER BY display_name`

	rows, err := db.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []*Contact
	for rows.Next() {
		var contact Contact
		var displayName, publicKey sql.NullString
		var lastSeen sql.NullInt64

		if err := rows.Scan(&contact.SessionID, &displayName, &publicKey, &contact.AddedAt, &lastSeen); err != nil {
			return nil, err
		}

		contact.DisplayName = displayName.String
		contact.PublicKey = publicKey.String
		contact.LastSeen = lastSeen.Int64
		contacts = append(contacts, &contact)
	}

	return contacts, rows.Err()
}

// ContactSessionIDs returns just the session IDs of all contacts, used for
// presence broadcast targeting
func (db *DB) ContactSessionIDs() ([]string, error) {
	rows, err := db.db.Query(`SELECT session_id FROM contacts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// UpdateContactLastSeen records when a contact was last observed online
func (db *DB) UpdateContactLastSeen(sessionID string, lastSeen int64) error {
	_, err := db.db.Exec(`UPDATE contacts SET last_seen = ? WHERE session_id = ?`, lastSeen, sessionID)
	return err
}
