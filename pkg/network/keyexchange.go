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

// ExchangeState tracks a key-exchange handshake with one counterpart
type ExchangeState int

const (
	// ExchangeNone: no handshake exists (never stored, only reported)
	ExchangeNone ExchangeState = iota

	// ExchangeRequestSent: we initiated and await the counterpart's response
	ExchangeRequestSent

	// ExchangeRequestReceived: counterpart initiated, local accept/decline pending
	ExchangeRequestReceived

	// ExchangeAccepted: keys are known on both sides, user data pending
	ExchangeAccepted

	// ExchangeDataExchanged: user data received, conversation being materialized
	ExchangeDataExchanged

	// ExchangeComplete: conversation materialized (terminal)
	ExchangeComplete

	// ExchangeDeclined: counterpart or local user declined (terminal)
	ExchangeDeclined

	// ExchangeFailed: relay reported a failure mid-handshake (terminal)
	ExchangeFailed
)

// String returns a human-readable state name
func (s ExchangeState) String() string {
	switch s {
	case ExchangeNone:
		return "none"
	case ExchangeRequestSent:
		return "request_sent"
	case ExchangeRequestReceived:
		return "request_received"
	case ExchangeAccepted:
		return "accepted_awaiting_data"
	case ExchangeDataExchanged:
		return "data_exchanged"
	case ExchangeComplete:
		return "complete"
	case ExchangeDeclined:
		return "declined"
	case ExchangeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Exchange is one in-flight handshake
type Exchange struct {
	CounterpartID  string        `json:"counterpartId"`
	State          ExchangeState `json:"state"`
	RequestID      string        `json:"requestId"`
	RequestPhrase  string        `json:"requestPhrase"`
	Initiator      bool          `json:"initiator"`
	CounterpartKey []byte        `json:"-"`

	// ConversationKey is the shared symmetric key for the conversation being
	// established. The initiator generates it when sending user data; the
	// acceptor adopts it from the initiator's envelope.
	ConversationKey []byte    `json:"-"`
	SentUserData    bool      `json:"-"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// AuditEntry records one visible handshake event for UI and diagnostics
type AuditEntry struct {
	Time          time.Time `json:"time"`
	CounterpartID string    `json:"counterpartId"`
	Event         string    `json:"event"`
}

const maxAuditEntries = 256

// RequestHandler observes inbound handshake requests awaiting a decision
type RequestHandler func(*Exchange)

// CompletionHandler observes handshakes that materialized a conversation
type CompletionHandler func(*storage.Conversation)

// ExchangeEngine runs the key-exchange handshake state machine. One exchange
// per counterpart; terminal states drop the exchange from the pending map.
// Frames for counterparts with no pending exchange are dropped, never used to
// create state.
type ExchangeEngine struct {
	client      *Client
	identity    *SessionIdentity
	displayName string
	db          *storage.DB

	mu        sync.Mutex
	pending   map[string]*Exchange
	audit     []AuditEntry
	processed *dedupSet

	handlerMu  sync.RWMutex
	onRequest  []RequestHandler
	onComplete []CompletionHandler
}

// NewExchangeEngine creates the engine and subscribes it to handshake frames
func NewExchangeEngine(client *Client, displayName string) *ExchangeEngine {
	e := &ExchangeEngine{
		client:      client,
		identity:    client.Identity(),
		displayName: displayName,
		db:          client.Database(),
		pending:     make(map[string]*Exchange),
		processed:   newDedupSet(512),
	}

	d := client.Dispatcher()
	d.Subscribe(protocol.EventKeyExchangeRequest, e.handleRequest)
	d.Subscribe(protocol.EventKeyExchangeResponse, e.handleResponse)
	d.Subscribe(protocol.EventUserDataExchange, e.handleUserData)
	d.Subscribe(protocol.EventRelayError, e.handleRelayError)

	return e
}

// OnRequest registers a handler for inbound requests awaiting accept/decline
func (e *ExchangeEngine) OnRequest(handler RequestHandler) {
	e.handlerMu.Lock()
	defer e.handlerMu.Unlock()
	e.onRequest = append(e.onRequest, handler)
}

// OnComplete registers a handler for materialized conversations
func (e *ExchangeEngine) OnComplete(handler CompletionHandler) {
	e.handlerMu.Lock()
	defer e.handlerMu.Unlock()
	e.onComplete = append(e.onComplete, handler)
}

// StateOf reports the handshake state for a counterpart
func (e *ExchangeEngine) StateOf(counterpartID string) ExchangeState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ex, ok := e.pending[counterpartID]; ok {
		return ex.State
	}
	return ExchangeNone
}

// Pending returns a snapshot of in-flight exchanges
func (e *ExchangeEngine) Pending() []*Exchange {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*Exchange, 0, len(e.pending))
	for _, ex := range e.pending {
		cp := *ex
		out = append(out, &cp)
	}
	return out
}

// Audit returns a snapshot of the handshake audit log
func (e *ExchangeEngine) Audit() []AuditEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]AuditEntry, len(e.audit))
	copy(out, e.audit)
	return out
}

func (e *ExchangeEngine) recordLocked(counterpartID, event string) {
	e.audit = append(e.audit, AuditEntry{
		Time:          time.Now().UTC(),
		CounterpartID: counterpartID,
		Event:         event,
	})
	if len(e.audit) > maxAuditEntries {
		e.audit = e.audit[len(e.audit)-maxAuditEntries:]
	}
}

// Request opens a handshake with a counterpart. Re-requesting while a
// handshake is in flight is a no-op; requesting an already-paired counterpart
// is rejected.
func (e *ExchangeEngine) Request(counterpartID string) error {
	if !crypto.ValidateSessionID(counterpartID) {
		return fmt.Errorf("invalid counterpart session ID %q", counterpartID)
	}
	if counterpartID == e.identity.SessionID {
		return fmt.Errorf("cannot open a key exchange with yourself")
	}

	conversationID := protocol.DeriveConversationID(e.identity.SessionID, counterpartID)
	if e.db != nil && e.db.HasConversation(conversationID) {
		return ErrAlreadyPaired
	}

	e.mu.Lock()
	if ex, ok := e.pending[counterpartID]; ok {
		log.Printf("🔑 Exchange with %s already %s, ignoring duplicate request", counterpartID, ex.State)
		e.mu.Unlock()
		return nil
	}

	ex := &Exchange{
		CounterpartID: counterpartID,
		State:         ExchangeRequestSent,
		RequestID:     uuid.NewString(),
		RequestPhrase: generateRequestPhrase(),
		Initiator:     true,
		UpdatedAt:     time.Now().UTC(),
	}
	e.pending[counterpartID] = ex
	e.recordLocked(counterpartID, "request sent")
	e.mu.Unlock()

	log.Printf("🔑 Requesting key exchange with %s (phrase: %s)", counterpartID, ex.RequestPhrase)
	return e.client.Send(protocol.EventKeyExchangeRequest, protocol.KeyExchangeRequest{
		RecipientID:   counterpartID,
		SenderID:      e.identity.SessionID,
		PublicKey:     e.identity.PublicKey,
		RequestID:     ex.RequestID,
		RequestPhrase: ex.RequestPhrase,
	})
}

// Accept answers a received request affirmatively with our key material
func (e *ExchangeEngine) Accept(counterpartID string) error {
	e.mu.Lock()
	ex, ok := e.pending[counterpartID]
	if !ok || ex.State != ExchangeRequestReceived {
		e.mu.Unlock()
		return ErrNoPendingExchange
	}
	ex.State = ExchangeAccepted
	ex.UpdatedAt = time.Now().UTC()
	e.recordLocked(counterpartID, "request accepted")
	e.mu.Unlock()

	log.Printf("🔑 Accepted key exchange from %s", counterpartID)
	return e.client.Send(protocol.EventKeyExchangeResponse, protocol.KeyExchangeResponse{
		RecipientID: counterpartID,
		SenderID:    e.identity.SessionID,
		PublicKey:   e.identity.PublicKey,
		ResponseID:  uuid.NewString(),
	})
}

// Decline answers a received request with the decline marker (empty key)
func (e *ExchangeEngine) Decline(counterpartID string) error {
	e.mu.Lock()
	ex, ok := e.pending[counterpartID]
	if !ok || ex.State != ExchangeRequestReceived {
		e.mu.Unlock()
		return ErrNoPendingExchange
	}
	delete(e.pending, counterpartID)
	e.recordLocked(counterpartID, "request declined locally")
	e.mu.Unlock()

	log.Printf("🔑 Declined key exchange from %s", counterpartID)
	return e.client.Send(protocol.EventKeyExchangeResponse, protocol.KeyExchangeResponse{
		RecipientID: counterpartID,
		SenderID:    e.identity.SessionID,
		PublicKey:   "",
		ResponseID:  uuid.NewString(),
	})
}

func (e *ExchangeEngine) handleRequest(frame *protocol.Frame) {
	var req protocol.KeyExchangeRequest
	if err := frame.Decode(&req); err != nil {
		log.Printf("⚠️  %v", err)
		return
	}

	sender := req.SenderID
	if !crypto.ValidateSessionID(sender) {
		log.Printf("⚠️  Key exchange request with invalid sender %q, dropping", sender)
		return
	}

	key, err := crypto.DecodeKey(req.PublicKey)
	if err != nil {
		log.Printf("⚠️  Key exchange request from %s with bad key material: %v", sender, err)
		return
	}

	conversationID := protocol.DeriveConversationID(e.identity.SessionID, sender)
	if e.db != nil && e.db.HasConversation(conversationID) {
		log.Printf("🔑 Already paired with %s, ignoring request", sender)
		return
	}

	e.mu.Lock()
	if ex, ok := e.pending[sender]; ok {
		if ex.State != ExchangeRequestSent {
			log.Printf("🔑 Duplicate request from %s while %s, ignoring", sender, ex.State)
			e.mu.Unlock()
			return
		}

		// Both sides requested each other at once. The lexicographically
		// smaller session ID keeps the initiator role; the other side answers
		// the surviving request. Both users asked for this pairing, so the
		// immediate answer pairs no one silently.
		if e.identity.SessionID < sender {
			e.recordLocked(sender, "cross request ignored, keeping initiator role")
			e.mu.Unlock()
			log.Printf("🔑 Cross request from %s, our request stands", sender)
			return
		}

		ex.State = ExchangeAccepted
		ex.RequestID = req.RequestID
		ex.RequestPhrase = req.RequestPhrase
		ex.CounterpartKey = key
		ex.Initiator = false
		ex.UpdatedAt = time.Now().UTC()
		e.recordLocked(sender, "cross request, yielding initiator role")
		e.mu.Unlock()

		log.Printf("🔑 Cross request from %s, answering as acceptor", sender)
		err := e.client.Send(protocol.EventKeyExchangeResponse, protocol.KeyExchangeResponse{
			RecipientID: sender,
			SenderID:    e.identity.SessionID,
			PublicKey:   e.identity.PublicKey,
			ResponseID:  uuid.NewString(),
		})
		if err != nil {
			log.Printf("❌ Failed to answer cross request from %s: %v", sender, err)
		}
		return
	}

	ex := &Exchange{
		CounterpartID:  sender,
		State:          ExchangeRequestReceived,
		RequestID:      req.RequestID,
		RequestPhrase:  req.RequestPhrase,
		CounterpartKey: key,
		UpdatedAt:      time.Now().UTC(),
	}
	e.pending[sender] = ex
	e.recordLocked(sender, "request received")
	snapshot := *ex
	e.mu.Unlock()

	log.Printf("🔑 Key exchange request from %s (phrase: %s)", sender, req.RequestPhrase)

	e.handlerMu.RLock()
	handlers := make([]RequestHandler, len(e.onRequest))
	copy(handlers, e.onRequest)
	e.handlerMu.RUnlock()
	for _, handler := range handlers {
		handler(&snapshot)
	}
}

func (e *ExchangeEngine) handleResponse(frame *protocol.Frame) {
	var resp protocol.KeyExchangeResponse
	if err := frame.Decode(&resp); err != nil {
		log.Printf("⚠️  %v", err)
		return
	}

	sender := resp.SenderID

	e.mu.Lock()
	ex, ok := e.pending[sender]
	if !ok || ex.State != ExchangeRequestSent {
		// Responses only make sense after our own request
		log.Printf("⚠️  Unexpected key exchange response from %s, dropping", sender)
		e.mu.Unlock()
		return
	}

	if resp.PublicKey == "" {
		delete(e.pending, sender)
		e.recordLocked(sender, "declined by counterpart")
		e.mu.Unlock()
		log.Printf("🔑 Key exchange declined by %s", sender)
		return
	}

	key, err := crypto.DecodeKey(resp.PublicKey)
	if err != nil {
		ex.State = ExchangeFailed
		delete(e.pending, sender)
		e.recordLocked(sender, "failed: bad key material in response")
		e.mu.Unlock()
		log.Printf("❌ Key exchange response from %s with bad key material: %v", sender, err)
		return
	}

	ex.CounterpartKey = key
	ex.State = ExchangeAccepted
	ex.UpdatedAt = time.Now().UTC()
	e.recordLocked(sender, "accepted by counterpart")
	e.mu.Unlock()

	log.Printf("🔑 Key exchange accepted by %s, sending user data", sender)
	if err := e.sendUserData(ex); err != nil {
		log.Printf("❌ Failed to send user data to %s: %v", sender, err)
	}
}

// sendUserData encrypts our profile with the counterpart's key and sends it.
// The first side to send (the initiator) mints the shared conversation key;
// the acceptor echoes the key it adopted.
func (e *ExchangeEngine) sendUserData(ex *Exchange) error {
	conversationID := protocol.DeriveConversationID(e.identity.SessionID, ex.CounterpartID)

	e.mu.Lock()
	if ex.ConversationKey == nil {
		key, err := crypto.GenerateKey()
		if err != nil {
			e.mu.Unlock()
			return fmt.Errorf("failed to generate conversation key: %w", err)
		}
		ex.ConversationKey = key
	}
	conversationKey := ex.ConversationKey
	e.mu.Unlock()

	env, err := crypto.Encrypt(protocol.UserData{
		DisplayName:     e.displayName,
		ConversationID:  conversationID,
		ConversationKey: crypto.EncodeKey(conversationKey),
	}, ex.CounterpartKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt user data: %w", err)
	}

	err = e.client.Send(protocol.EventUserDataExchange, protocol.UserDataExchange{
		RecipientID:    ex.CounterpartID,
		SenderID:       e.identity.SessionID,
		EncryptedData:  env,
		ConversationID: conversationID,
	})
	if err != nil {
		return err
	}

	e.mu.Lock()
	ex.SentUserData = true
	e.mu.Unlock()
	return nil
}

func (e *ExchangeEngine) handleUserData(frame *protocol.Frame) {
	var payload protocol.UserDataExchange
	if err := frame.Decode(&payload); err != nil {
		log.Printf("⚠️  %v", err)
		return
	}

	sender := payload.SenderID
	if payload.EncryptedData == nil {
		log.Printf("⚠️  User data from %s without envelope, dropping", sender)
		return
	}

	// Duplicate frames after a reconnect are processed once. The key is
	// recorded only after the exchange fully completes, so a frame dropped
	// mid-handshake stays retryable when the relay redelivers it.
	dedupKey := sender + "|" + payload.EncryptedData.Checksum
	if e.processed.Contains(dedupKey) {
		log.Printf("🔁 Duplicate user data from %s, already processed", sender)
		return
	}

	e.mu.Lock()
	ex, ok := e.pending[sender]
	if !ok || (ex.State != ExchangeAccepted && ex.State != ExchangeDataExchanged) {
		e.mu.Unlock()
		log.Printf("⚠️  User data from %s with no pending exchange, dropping", sender)
		return
	}
	ex.State = ExchangeDataExchanged
	ex.UpdatedAt = time.Now().UTC()
	e.mu.Unlock()

	ownKey, err := e.identity.Key()
	if err != nil {
		log.Printf("❌ Local identity key unusable: %v", err)
		return
	}

	var userData protocol.UserData
	if err := crypto.Decrypt(payload.EncryptedData, ownKey, &userData); err != nil {
		e.fail(sender, fmt.Sprintf("user data decrypt failed: %v", err))
		return
	}

	// The deterministic derivation is the source of truth; a supplied ID
	// that disagrees is logged and overridden.
	derived := protocol.DeriveConversationID(e.identity.SessionID, sender)
	supplied := payload.ConversationID
	if supplied == "" {
		supplied = userData.ConversationID
	}
	if supplied != "" && supplied != derived {
		log.Printf("⚠️  Conversation ID mismatch from %s (got %s, derived %s), using derived", sender, supplied, derived)
	}

	// Adopt the shared conversation key. The initiator already holds the key
	// it minted; the acceptor takes it from the envelope.
	e.mu.Lock()
	if ex.ConversationKey == nil {
		key, err := crypto.DecodeKey(userData.ConversationKey)
		if err != nil {
			e.mu.Unlock()
			e.fail(sender, fmt.Sprintf("user data without usable conversation key: %v", err))
			return
		}
		ex.ConversationKey = key
	}
	conversationKey := ex.ConversationKey
	e.mu.Unlock()

	conv := &storage.Conversation{
		ID:              derived,
		LocalSessionID:  e.identity.SessionID,
		CounterpartID:   sender,
		CounterpartName: userData.DisplayName,
		Key:             conversationKey,
		CreatedAt:       time.Now().Unix(),
	}

	if e.db != nil {
		if err := e.db.SaveConversation(conv); err != nil {
			e.fail(sender, fmt.Sprintf("failed to persist conversation: %v", err))
			return
		}
		e.db.AddContact(&storage.Contact{
			SessionID:   sender,
			DisplayName: userData.DisplayName,
			PublicKey:   crypto.EncodeKey(ex.CounterpartKey),
			AddedAt:     time.Now().Unix(),
		})
	}

	e.processed.Seen(dedupKey)

	// The acceptor sends its user data after receiving the initiator's
	if !ex.SentUserData {
		if err := e.sendUserData(ex); err != nil {
			log.Printf("❌ Failed to send user data to %s: %v", sender, err)
		}
	}

	e.mu.Lock()
	delete(e.pending, sender)
	e.recordLocked(sender, "complete, conversation "+derived[:12])
	e.mu.Unlock()

	log.Printf("✅ Key exchange with %s complete, conversation %s", sender, derived)

	e.handlerMu.RLock()
	handlers := make([]CompletionHandler, len(e.onComplete))
	copy(handlers, e.onComplete)
	e.handlerMu.RUnlock()
	for _, handler := range handlers {
		handler(conv)
	}
}

func (e *ExchangeEngine) handleRelayError(frame *protocol.Frame) {
	var relayErr protocol.RelayError
	if err := frame.Decode(&relayErr); err != nil {
		return
	}

	e.mu.Lock()
	var counterpart string
	for id, ex := range e.pending {
		if relayErr.RequestID != "" && ex.RequestID == relayErr.RequestID {
			counterpart = id
			break
		}
		if relayErr.SessionID != "" && id == relayErr.SessionID {
			counterpart = id
			break
		}
	}
	e.mu.Unlock()

	if counterpart == "" {
		return
	}
	e.fail(counterpart, relayErr.Message)
}

func (e *ExchangeEngine) fail(counterpartID, reason string) {
	e.mu.Lock()
	ex, ok := e.pending[counterpartID]
	if !ok {
		e.mu.Unlock()
		return
	}
	ex.State = ExchangeFailed
	delete(e.pending, counterpartID)
	e.recordLocked(counterpartID, "failed: "+reason)
	e.mu.Unlock()

	log.Printf("❌ Key exchange with %s failed: %s", counterpartID, reason)
}
