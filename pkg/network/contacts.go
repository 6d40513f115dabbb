package network

import (
	"fmt"
	"log"

	"github.com/ZentaChain/zentalk-session/pkg/crypto"
	"github.com/ZentaChain/zentalk-session/pkg/protocol"
	"github.com/ZentaChain/zentalk-session/pkg/storage"
)

// AddContact persists a contact locally and announces it to the relay so
// presence updates start flowing for it.
func (c *Client) AddContact(contact *storage.Contact) error {
	if !crypto.ValidateSessionID(contact.SessionID) {
		return fmt.Errorf("invalid contact session ID %q", contact.SessionID)
	}

	if c.db != nil {
		if err := c.db.AddContact(contact); err != nil {
			return fmt.Errorf("failed to persist contact: %w", err)
		}
	}

	log.Printf("👤 Added contact %s", contact.SessionID)
	return c.Send(protocol.EventContactsAdd, protocol.ContactChange{
		SessionID:        c.identity.SessionID,
		ContactSessionID: contact.SessionID,
	})
}

// RemoveContact removes a contact locally and announces the removal
func (c *Client) RemoveContact(sessionID string) error {
	if c.db != nil {
		if err := c.db.RemoveContact(sessionID); err != nil {
			return fmt.Errorf("failed to remove contact: %w", err)
		}
	}

	log.Printf("👤 Removed contact %s", sessionID)
	return c.Send(protocol.EventContactsRemove, protocol.ContactChange{
		SessionID:        c.identity.SessionID,
		ContactSessionID: sessionID,
	})
}
