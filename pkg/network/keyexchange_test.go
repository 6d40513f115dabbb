package network

import (
	"bytes"
	"testing"

	"github.com/ZentaChain/zentalk-session/pkg/crypto"
	"github.com/ZentaChain/zentalk-session/pkg/protocol"
	"github.com/ZentaChain/zentalk-session/pkg/storage"
)

func newConversationKey(t *testing.T) []byte {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	return key
}

// dispatchUserData sends the counterpart's user-data frame, encrypted with
// the local identity key and carrying the shared conversation key the way a
// real counterpart would.
func dispatchUserData(t *testing.T, client *Client, remote *SessionIdentity, displayName string, convKey []byte) string {
	t.Helper()

	ownKey, err := client.Identity().Key()
	if err != nil {
		t.Fatalf("identity key failed: %v", err)
	}

	conversationID := protocol.DeriveConversationID(client.SessionID(), remote.SessionID)
	env, err := crypto.Encrypt(protocol.UserData{
		DisplayName:     displayName,
		ConversationID:  conversationID,
		ConversationKey: crypto.EncodeKey(convKey),
	}, ownKey)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	client.Dispatcher().Dispatch(makeFrame(t, protocol.EventUserDataExchange, protocol.UserDataExchange{
		RecipientID:    client.SessionID(),
		SenderID:       remote.SessionID,
		EncryptedData:  env,
		ConversationID: conversationID,
	}))
	return conversationID
}

func TestExchangeAcceptorFlow(t *testing.T) {
	client := newTestClient(t)
	engine := NewExchangeEngine(client, "me")
	remote := newTestIdentity(t)

	var requested *Exchange
	engine.OnRequest(func(ex *Exchange) { requested = ex })
	var completed *storage.Conversation
	engine.OnComplete(func(conv *storage.Conversation) { completed = conv })

	client.Dispatcher().Dispatch(makeFrame(t, protocol.EventKeyExchangeRequest, protocol.KeyExchangeRequest{
		RecipientID:   client.SessionID(),
		SenderID:      remote.SessionID,
		PublicKey:     remote.PublicKey,
		RequestID:     "req-1",
		RequestPhrase: "amber-falcon-07",
	}))

	if requested == nil {
		t.Fatal("Request handler never fired")
	}
	if requested.RequestPhrase != "amber-falcon-07" {
		t.Errorf("RequestPhrase = %s", requested.RequestPhrase)
	}
	if got := engine.StateOf(remote.SessionID); got != ExchangeRequestReceived {
		t.Fatalf("State after request = %s", got)
	}

	if err := engine.Accept(remote.SessionID); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if got := engine.StateOf(remote.SessionID); got != ExchangeAccepted {
		t.Fatalf("State after accept = %s", got)
	}

	convKey := newConversationKey(t)
	conversationID := dispatchUserData(t, client, remote, "alice", convKey)

	if completed == nil {
		t.Fatal("Completion handler never fired")
	}
	if completed.ID != conversationID {
		t.Errorf("Conversation ID = %s, want %s", completed.ID, conversationID)
	}
	if completed.CounterpartName != "alice" {
		t.Errorf("CounterpartName = %s", completed.CounterpartName)
	}
	if got := engine.StateOf(remote.SessionID); got != ExchangeNone {
		t.Errorf("State after completion = %s, want none", got)
	}

	db := client.Database()
	if !db.HasConversation(conversationID) {
		t.Fatal("Conversation not persisted")
	}
	key, err := db.ConversationKey(conversationID)
	if err != nil {
		t.Fatalf("ConversationKey failed: %v", err)
	}
	if !bytes.Equal(key, convKey) {
		t.Error("Persisted conversation key is not the initiator's shared key")
	}
	if _, err := db.GetContact(remote.SessionID); err != nil {
		t.Errorf("Counterpart not added as contact: %v", err)
	}
}

func TestExchangeInitiatorFlow(t *testing.T) {
	client := newTestClient(t)
	engine := NewExchangeEngine(client, "me")
	remote := newTestIdentity(t)

	if err := engine.Request(remote.SessionID); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if got := engine.StateOf(remote.SessionID); got != ExchangeRequestSent {
		t.Fatalf("State after request = %s", got)
	}

	// Re-requesting mid-flight is a quiet no-op
	if err := engine.Request(remote.SessionID); err != nil {
		t.Fatalf("Duplicate request = %v, want no-op", err)
	}

	client.Dispatcher().Dispatch(makeFrame(t, protocol.EventKeyExchangeResponse, protocol.KeyExchangeResponse{
		RecipientID: client.SessionID(),
		SenderID:    remote.SessionID,
		PublicKey:   remote.PublicKey,
		ResponseID:  "resp-1",
	}))
	if got := engine.StateOf(remote.SessionID); got != ExchangeAccepted {
		t.Fatalf("State after response = %s", got)
	}

	conversationID := dispatchUserData(t, client, remote, "bob", newConversationKey(t))

	if got := engine.StateOf(remote.SessionID); got != ExchangeNone {
		t.Errorf("State after completion = %s, want none", got)
	}
	if !client.Database().HasConversation(conversationID) {
		t.Fatal("Conversation not persisted")
	}

	// Pairing is now terminal: a new request must be rejected
	if err := engine.Request(remote.SessionID); err != ErrAlreadyPaired {
		t.Errorf("Request after pairing = %v, want ErrAlreadyPaired", err)
	}
}

func TestExchangeDeclinedByCounterpart(t *testing.T) {
	client := newTestClient(t)
	engine := NewExchangeEngine(client, "me")
	remote := newTestIdentity(t)

	if err := engine.Request(remote.SessionID); err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	client.Dispatcher().Dispatch(makeFrame(t, protocol.EventKeyExchangeResponse, protocol.KeyExchangeResponse{
		SenderID:   remote.SessionID,
		PublicKey:  "",
		ResponseID: "resp-1",
	}))

	if got := engine.StateOf(remote.SessionID); got != ExchangeNone {
		t.Errorf("State after decline = %s, want none", got)
	}
	if client.Database().HasConversation(protocol.DeriveConversationID(client.SessionID(), remote.SessionID)) {
		t.Error("Declined exchange materialized a conversation")
	}
}

func TestExchangeLocalDecline(t *testing.T) {
	client := newTestClient(t)
	engine := NewExchangeEngine(client, "me")
	remote := newTestIdentity(t)

	client.Dispatcher().Dispatch(makeFrame(t, protocol.EventKeyExchangeRequest, protocol.KeyExchangeRequest{
		SenderID:  remote.SessionID,
		PublicKey: remote.PublicKey,
		RequestID: "req-1",
	}))

	if err := engine.Decline(remote.SessionID); err != nil {
		t.Fatalf("Decline failed: %v", err)
	}
	if got := engine.StateOf(remote.SessionID); got != ExchangeNone {
		t.Errorf("State after local decline = %s, want none", got)
	}
	if err := engine.Accept(remote.SessionID); err != ErrNoPendingExchange {
		t.Errorf("Accept after decline = %v, want ErrNoPendingExchange", err)
	}
}

func TestExchangeDropsUserDataFromStranger(t *testing.T) {
	client := newTestClient(t)
	engine := NewExchangeEngine(client, "me")
	remote := newTestIdentity(t)

	// No request, no response: this user data must never create state
	conversationID := dispatchUserData(t, client, remote, "mallory", newConversationKey(t))

	if got := engine.StateOf(remote.SessionID); got != ExchangeNone {
		t.Errorf("Stranger user data created state %s", got)
	}
	if client.Database().HasConversation(conversationID) {
		t.Error("Stranger user data materialized a conversation")
	}
}

func TestExchangeFailsOnRelayError(t *testing.T) {
	client := newTestClient(t)
	engine := NewExchangeEngine(client, "me")
	remote := newTestIdentity(t)

	if err := engine.Request(remote.SessionID); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	pending := engine.Pending()
	if len(pending) != 1 {
		t.Fatalf("Pending = %d exchanges, want 1", len(pending))
	}

	client.Dispatcher().Dispatch(makeFrame(t, protocol.EventRelayError, protocol.RelayError{
		RequestID: pending[0].RequestID,
		Message:   "recipient unreachable",
	}))

	if got := engine.StateOf(remote.SessionID); got != ExchangeNone {
		t.Errorf("State after relay error = %s, want none", got)
	}

	var failed bool
	for _, entry := range engine.Audit() {
		if entry.CounterpartID == remote.SessionID && entry.Event == "failed: recipient unreachable" {
			failed = true
		}
	}
	if !failed {
		t.Error("Failure not recorded in the audit log")
	}
}

func TestExchangeBothSidesShareConversationKey(t *testing.T) {
	clientA := newTestClient(t)
	engineA := NewExchangeEngine(clientA, "alice")
	clientB := newTestClient(t)
	engineB := NewExchangeEngine(clientB, "bob")

	idA := clientA.Identity()
	idB := clientB.Identity()
	conversationID := protocol.DeriveConversationID(idA.SessionID, idB.SessionID)

	if err := engineA.Request(idB.SessionID); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	pending := engineA.Pending()
	if len(pending) != 1 {
		t.Fatalf("Pending = %d exchanges, want 1", len(pending))
	}

	// The relay forwards the request to B, who accepts
	clientB.Dispatcher().Dispatch(makeFrame(t, protocol.EventKeyExchangeRequest, protocol.KeyExchangeRequest{
		RecipientID:   idB.SessionID,
		SenderID:      idA.SessionID,
		PublicKey:     idA.PublicKey,
		RequestID:     pending[0].RequestID,
		RequestPhrase: pending[0].RequestPhrase,
	}))
	if err := engineB.Accept(idA.SessionID); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	// B's answer reaches A, who mints the shared conversation key
	clientA.Dispatcher().Dispatch(makeFrame(t, protocol.EventKeyExchangeResponse, protocol.KeyExchangeResponse{
		RecipientID: idA.SessionID,
		SenderID:    idB.SessionID,
		PublicKey:   idB.PublicKey,
		ResponseID:  "resp-1",
	}))
	pending = engineA.Pending()
	if len(pending) != 1 || pending[0].ConversationKey == nil {
		t.Fatal("Initiator did not mint a conversation key")
	}
	convKey := pending[0].ConversationKey

	// A's user data reaches B, then B's echo reaches A
	keyB, err := idB.Key()
	if err != nil {
		t.Fatalf("identity key failed: %v", err)
	}
	envA, err := crypto.Encrypt(protocol.UserData{
		DisplayName:     "alice",
		ConversationID:  conversationID,
		ConversationKey: crypto.EncodeKey(convKey),
	}, keyB)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	clientB.Dispatcher().Dispatch(makeFrame(t, protocol.EventUserDataExchange, protocol.UserDataExchange{
		RecipientID:    idB.SessionID,
		SenderID:       idA.SessionID,
		EncryptedData:  envA,
		ConversationID: conversationID,
	}))

	keyA, err := idA.Key()
	if err != nil {
		t.Fatalf("identity key failed: %v", err)
	}
	envB, err := crypto.Encrypt(protocol.UserData{
		DisplayName:     "bob",
		ConversationID:  conversationID,
		ConversationKey: crypto.EncodeKey(convKey),
	}, keyA)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	clientA.Dispatcher().Dispatch(makeFrame(t, protocol.EventUserDataExchange, protocol.UserDataExchange{
		RecipientID:    idA.SessionID,
		SenderID:       idB.SessionID,
		EncryptedData:  envB,
		ConversationID: conversationID,
	}))

	storedA, err := clientA.Database().ConversationKey(conversationID)
	if err != nil {
		t.Fatalf("ConversationKey on initiator failed: %v", err)
	}
	storedB, err := clientB.Database().ConversationKey(conversationID)
	if err != nil {
		t.Fatalf("ConversationKey on acceptor failed: %v", err)
	}
	if !bytes.Equal(storedA, storedB) {
		t.Fatal("Sides persisted different conversation keys")
	}

	// A message sealed on one side must open on the other
	env, err := crypto.Encrypt("see you at noon", storedA)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	var body string
	if err := crypto.Decrypt(env, storedB, &body); err != nil {
		t.Fatalf("Cross-side decrypt failed: %v", err)
	}
	if body != "see you at noon" {
		t.Errorf("Decrypted body = %q", body)
	}
}

func TestExchangeUserDataRedeliveryAfterEarlyDrop(t *testing.T) {
	client := newTestClient(t)
	engine := NewExchangeEngine(client, "me")
	remote := newTestIdentity(t)

	ownKey, err := client.Identity().Key()
	if err != nil {
		t.Fatalf("identity key failed: %v", err)
	}
	conversationID := protocol.DeriveConversationID(client.SessionID(), remote.SessionID)
	env, err := crypto.Encrypt(protocol.UserData{
		DisplayName:     "alice",
		ConversationID:  conversationID,
		ConversationKey: crypto.EncodeKey(newConversationKey(t)),
	}, ownKey)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	userData := protocol.UserDataExchange{
		RecipientID:    client.SessionID(),
		SenderID:       remote.SessionID,
		EncryptedData:  env,
		ConversationID: conversationID,
	}

	// First delivery races ahead of the handshake and is dropped
	client.Dispatcher().Dispatch(makeFrame(t, protocol.EventUserDataExchange, userData))
	if client.Database().HasConversation(conversationID) {
		t.Fatal("Early user data materialized a conversation")
	}

	// The handshake catches up
	client.Dispatcher().Dispatch(makeFrame(t, protocol.EventKeyExchangeRequest, protocol.KeyExchangeRequest{
		SenderID:  remote.SessionID,
		PublicKey: remote.PublicKey,
		RequestID: "req-1",
	}))
	if err := engine.Accept(remote.SessionID); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	// The relay redelivers the identical frame; it must complete the exchange
	client.Dispatcher().Dispatch(makeFrame(t, protocol.EventUserDataExchange, userData))
	if !client.Database().HasConversation(conversationID) {
		t.Fatal("Redelivered user data did not complete the exchange")
	}
	if got := engine.StateOf(remote.SessionID); got != ExchangeNone {
		t.Errorf("State after completion = %s, want none", got)
	}
}

func TestExchangeSimultaneousRequests(t *testing.T) {
	clientA := newTestClient(t)
	engineA := NewExchangeEngine(clientA, "alice")
	clientB := newTestClient(t)
	engineB := NewExchangeEngine(clientB, "bob")

	idA := clientA.Identity()
	idB := clientB.Identity()

	if err := engineA.Request(idB.SessionID); err != nil {
		t.Fatalf("Request from A failed: %v", err)
	}
	if err := engineB.Request(idA.SessionID); err != nil {
		t.Fatalf("Request from B failed: %v", err)
	}
	reqA := engineA.Pending()[0]
	reqB := engineB.Pending()[0]

	// The relay crosses the two requests in flight
	clientB.Dispatcher().Dispatch(makeFrame(t, protocol.EventKeyExchangeRequest, protocol.KeyExchangeRequest{
		RecipientID: idB.SessionID,
		SenderID:    idA.SessionID,
		PublicKey:   idA.PublicKey,
		RequestID:   reqA.RequestID,
	}))
	clientA.Dispatcher().Dispatch(makeFrame(t, protocol.EventKeyExchangeRequest, protocol.KeyExchangeRequest{
		RecipientID: idA.SessionID,
		SenderID:    idB.SessionID,
		PublicKey:   idB.PublicKey,
		RequestID:   reqB.RequestID,
	}))

	// The smaller session ID keeps the initiator role, the larger yields
	loEngine, hiEngine := engineA, engineB
	loClient := clientA
	loID, hiID := idA, idB
	if idB.SessionID < idA.SessionID {
		loEngine, hiEngine = engineB, engineA
		loClient = clientB
		loID, hiID = idB, idA
	}

	if got := loEngine.StateOf(hiID.SessionID); got != ExchangeRequestSent {
		t.Errorf("Initiator side state = %s, want request_sent", got)
	}
	if got := hiEngine.StateOf(loID.SessionID); got != ExchangeAccepted {
		t.Errorf("Yielding side state = %s, want accepted_awaiting_data", got)
	}

	// The yielding side's answer lands on the initiator and the handshake
	// proceeds instead of both sides waiting forever
	loClient.Dispatcher().Dispatch(makeFrame(t, protocol.EventKeyExchangeResponse, protocol.KeyExchangeResponse{
		RecipientID: loID.SessionID,
		SenderID:    hiID.SessionID,
		PublicKey:   hiID.PublicKey,
		ResponseID:  "resp-1",
	}))
	if got := loEngine.StateOf(hiID.SessionID); got != ExchangeAccepted {
		t.Errorf("Initiator state after answer = %s, want accepted_awaiting_data", got)
	}
}

func TestExchangeRequestValidation(t *testing.T) {
	client := newTestClient(t)
	engine := NewExchangeEngine(client, "me")

	if err := engine.Request("not-a-session-id"); err == nil {
		t.Error("Request accepted an invalid session ID")
	}
	if err := engine.Request(client.SessionID()); err == nil {
		t.Error("Request accepted the local session as counterpart")
	}
}
