package network

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ZentaChain/zentalk-session/pkg/crypto"
	"github.com/ZentaChain/zentalk-session/pkg/protocol"
	"github.com/ZentaChain/zentalk-session/pkg/storage"
)

// Message is one chat message as the application sees it: plaintext body
// plus delivery metadata. Encryption happens at the wire boundary.
type Message struct {
	ID             string                 `json:"id"`
	ConversationID string                 `json:"conversationId"`
	From           string                 `json:"from"`
	To             string                 `json:"to"`
	Body           string                 `json:"body"`
	Status         protocol.MessageStatus `json:"status"`
	Timestamp      int64                  `json:"timestamp"`
	Outgoing       bool                   `json:"outgoing"`
}

// StatusHandler observes delivery-status transitions
type StatusHandler func(messageID string, from, to protocol.MessageStatus)

// MessageHandler observes inbound messages after decryption
type MessageHandler func(*Message)

const maxTrackedMessages = 2048

// DeliveryTracker owns message delivery: it encrypts and sends outbound
// messages, receives and decrypts inbound ones, and advances per-message
// status along the monotonic ladder sent → queued → delivered → read.
// Delivered and read only ever come from receipts; the generic status channel
// is limited to the non-terminal statuses.
type DeliveryTracker struct {
	client   *Client
	identity *SessionIdentity
	db       *storage.DB

	mu       sync.Mutex
	statuses map[string]protocol.MessageStatus
	order    []string
	receipts *dedupSet

	handlerMu sync.RWMutex
	onStatus  []StatusHandler
	onMessage []MessageHandler
}

// NewDeliveryTracker creates the tracker and subscribes it to message frames
func NewDeliveryTracker(client *Client) *DeliveryTracker {
	t := &DeliveryTracker{
		client:   client,
		identity: client.Identity(),
		db:       client.Database(),
		statuses: make(map[string]protocol.MessageStatus),
		receipts: newDedupSet(4096),
	}

	d := client.Dispatcher()
	d.Subscribe(protocol.EventMessageSend, t.handleInbound)
	d.Subscribe(protocol.EventMessageStatus, t.handleStatusUpdate)
	d.Subscribe(protocol.EventReceiptDelivered, t.handleDeliveredReceipt)
	d.Subscribe(protocol.EventReceiptRead, t.handleReadReceipt)

	return t
}

// OnStatusChange registers a handler for status transitions
func (t *DeliveryTracker) OnStatusChange(handler StatusHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.onStatus = append(t.onStatus, handler)
}

// OnMessage registers a handler for decrypted inbound messages
func (t *DeliveryTracker) OnMessage(handler MessageHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.onMessage = append(t.onMessage, handler)
}

// StatusOf reports the tracked status of a message
func (t *DeliveryTracker) StatusOf(messageID string) (protocol.MessageStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	status, ok := t.statuses[messageID]
	return status, ok
}

// Send encrypts and sends a message to a paired counterpart. The message ID
// and timestamp are filled in when absent; the initial status is sent.
func (t *DeliveryTracker) Send(msg *Message) error {
	if t.db == nil {
		return fmt.Errorf("delivery requires an attached database")
	}

	conversationID := msg.ConversationID
	if conversationID == "" {
		conversationID = protocol.DeriveConversationID(t.identity.SessionID, msg.To)
	}

	key, err := t.db.ConversationKey(conversationID)
	if err != nil {
		if err == storage.ErrNotFound {
			return ErrNoConversation
		}
		return fmt.Errorf("failed to load conversation key: %w", err)
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	msg.ConversationID = conversationID
	msg.From = t.identity.SessionID
	msg.Status = protocol.MessageStatusSent
	msg.Outgoing = true

	env, err := crypto.Encrypt(msg.Body, key)
	if err != nil {
		return fmt.Errorf("failed to encrypt message: %w", err)
	}

	t.track(msg.ID, protocol.MessageStatusSent)

	if err := t.db.SaveMessage(&storage.StoredMessage{
		MessageID:      msg.ID,
		ConversationID: conversationID,
		FromSessionID:  msg.From,
		ToSessionID:    msg.To,
		Body:           msg.Body,
		Timestamp:      msg.Timestamp,
		Status:         string(protocol.MessageStatusSent),
		IsOutgoing:     true,
	}); err != nil {
		return fmt.Errorf("failed to persist message: %w", err)
	}

	log.Printf("📤 Sending message %s to %s", msg.ID, msg.To)
	return t.client.Send(protocol.EventMessageSend, protocol.MessageSend{
		MessageID:      msg.ID,
		ConversationID: conversationID,
		FromUser:       msg.From,
		RecipientID:    msg.To,
		Body:           env,
		Timestamp:      msg.Timestamp,
	})
}

// MarkRead reports that an inbound message was displayed, sending the read
// receipt back to its sender.
func (t *DeliveryTracker) MarkRead(messageID, conversationID, senderID string) error {
	if t.db != nil {
		if err := t.db.UpdateMessageStatus(messageID, protocol.MessageStatusRead); err != nil && err != storage.ErrNotFound {
			return err
		}
		t.db.MarkConversationRead(conversationID)
	}

	return t.client.Send(protocol.EventReceiptRead, protocol.Receipt{
		MessageID:      messageID,
		FromUser:       t.identity.SessionID,
		ToUser:         senderID,
		ConversationID: conversationID,
	})
}

func (t *DeliveryTracker) handleInbound(frame *protocol.Frame) {
	var payload protocol.MessageSend
	if err := frame.Decode(&payload); err != nil {
		log.Printf("⚠️  %v", err)
		return
	}

	if payload.FromUser == t.identity.SessionID {
		// Relay echo of our own send
		return
	}
	if payload.Body == nil {
		log.Printf("⚠️  Message %s without body envelope, dropping", payload.MessageID)
		return
	}

	if t.db == nil {
		log.Printf("⚠️  Inbound message %s with no database attached, dropping", payload.MessageID)
		return
	}

	conversationID := payload.ConversationID
	if !protocol.ValidateConversationID(conversationID, t.identity.SessionID, payload.FromUser) {
		derived := protocol.DeriveConversationID(t.identity.SessionID, payload.FromUser)
		log.Printf("⚠️  Conversation ID mismatch on message %s (got %s), using %s", payload.MessageID, conversationID, derived)
		conversationID = derived
	}

	key, err := t.db.ConversationKey(conversationID)
	if err != nil {
		log.Printf("⚠️  Message %s for unknown conversation %s, dropping", payload.MessageID, conversationID)
		return
	}

	var body string
	if err := crypto.Decrypt(payload.Body, key, &body); err != nil {
		log.Printf("❌ Failed to decrypt message %s: %v", payload.MessageID, err)
		return
	}

	// Redelivery after a reconnect is processed once. Marked only after a
	// successful decrypt so transient failures stay retryable.
	if t.receipts.Seen("msg|" + payload.MessageID) {
		log.Printf("🔁 Duplicate message %s, already processed", payload.MessageID)
		return
	}

	msg := &Message{
		ID:             payload.MessageID,
		ConversationID: conversationID,
		From:           payload.FromUser,
		To:             t.identity.SessionID,
		Body:           body,
		Status:         protocol.MessageStatusDelivered,
		Timestamp:      payload.Timestamp,
	}

	if err := t.db.SaveMessage(&storage.StoredMessage{
		MessageID:      msg.ID,
		ConversationID: conversationID,
		FromSessionID:  msg.From,
		ToSessionID:    msg.To,
		Body:           body,
		Timestamp:      msg.Timestamp,
		Status:         string(protocol.MessageStatusDelivered),
		IsOutgoing:     false,
	}); err != nil {
		log.Printf("❌ Failed to persist message %s: %v", msg.ID, err)
	}

	log.Printf("📨 Message %s from %s", msg.ID, msg.From)

	// Acknowledge receipt so the sender's copy advances to delivered
	t.client.Send(protocol.EventReceiptDelivered, protocol.Receipt{
		MessageID:      msg.ID,
		FromUser:       t.identity.SessionID,
		ToUser:         msg.From,
		ConversationID: conversationID,
	})

	t.handlerMu.RLock()
	handlers := make([]MessageHandler, len(t.onMessage))
	copy(handlers, t.onMessage)
	t.handlerMu.RUnlock()
	for _, handler := range handlers {
		handler(msg)
	}
}

// handleStatusUpdate consumes the generic status channel. Terminal statuses
// on this channel are a protocol violation and are dropped.
func (t *DeliveryTracker) handleStatusUpdate(frame *protocol.Frame) {
	var update protocol.MessageStatusUpdate
	if err := frame.Decode(&update); err != nil {
		log.Printf("⚠️  %v", err)
		return
	}

	if update.Status != protocol.MessageStatusSent && update.Status != protocol.MessageStatusQueued {
		log.Printf("⚠️  Status channel carried %s for %s, only receipts may do that", update.Status, update.MessageID)
		return
	}

	t.advance(update.MessageID, update.Status)
}

func (t *DeliveryTracker) handleDeliveredReceipt(frame *protocol.Frame) {
	t.handleReceipt(frame, protocol.MessageStatusDelivered)
}

func (t *DeliveryTracker) handleReadReceipt(frame *protocol.Frame) {
	t.handleReceipt(frame, protocol.MessageStatusRead)
}

func (t *DeliveryTracker) handleReceipt(frame *protocol.Frame, status protocol.MessageStatus) {
	var receipt protocol.Receipt
	if err := frame.Decode(&receipt); err != nil {
		log.Printf("⚠️  %v", err)
		return
	}

	if t.receipts.Seen(string(status) + "|" + receipt.MessageID) {
		return
	}

	log.Printf("✓✓ Receipt: message %s %s by %s", receipt.MessageID, status, receipt.FromUser)
	t.advance(receipt.MessageID, status)
}

// advance applies a status to a message, honoring monotonicity. Regressions
// and unknown transitions are dropped; read implies delivered.
func (t *DeliveryTracker) advance(messageID string, status protocol.MessageStatus) {
	t.mu.Lock()
	current, tracked := t.statuses[messageID]
	if tracked && !protocol.CanTransition(current, status) {
		t.mu.Unlock()
		return
	}
	t.trackLocked(messageID, status)
	t.mu.Unlock()

	if t.db != nil {
		if err := t.db.UpdateMessageStatus(messageID, status); err != nil && err != storage.ErrNotFound {
			log.Printf("⚠️  Failed to persist status %s for %s: %v", status, messageID, err)
		}
	}

	t.handlerMu.RLock()
	handlers := make([]StatusHandler, len(t.onStatus))
	copy(handlers, t.onStatus)
	t.handlerMu.RUnlock()
	for _, handler := range handlers {
		handler(messageID, current, status)
	}
}

func (t *DeliveryTracker) track(messageID string, status protocol.MessageStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trackLocked(messageID, status)
}

// trackLocked records a status, evicting the oldest tracked message past the
// cap. Caller must hold t.mu.
func (t *DeliveryTracker) trackLocked(messageID string, status protocol.MessageStatus) {
	if _, ok := t.statuses[messageID]; !ok {
		t.order = append(t.order, messageID)
		for len(t.order) > maxTrackedMessages {
			oldest := t.order[0]
			t.order = t.order[1:]
			delete(t.statuses, oldest)
		}
	}
	t.statuses[messageID] = status
}
