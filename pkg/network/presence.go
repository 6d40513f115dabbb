package network

import (
	"log"
	"sync"
	"time"

	"github.com/ZentaChain/zentalk-session/pkg/protocol"
	"github.com/ZentaChain/zentalk-session/pkg/storage"
)

// TypingStopTimeout is how long a typing indicator stays up without fresh
// keystrokes before the coordinator auto-stops it.
const TypingStopTimeout = 5 * time.Second

// PresenceRecord is the last known presence of a counterpart
type PresenceRecord struct {
	SessionID string `json:"sessionId"`
	IsOnline  bool   `json:"isOnline"`
	LastSeen  int64  `json:"lastSeen"`
}

// TypingState is one typing indicator change as seen by the UI
type TypingState struct {
	FromUser       string `json:"fromUserId"`
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
	AutoStopped    bool   `json:"autoStopped"`
}

// PresenceHandler observes counterpart presence changes
type PresenceHandler func(PresenceRecord)

// TypingHandler observes typing indicator changes
type TypingHandler func(TypingState)

// PresenceCoordinator handles presence broadcasts and typing indicators.
// Presence is last-write-wins per counterpart; typing state is tracked per
// conversation with an auto-stop timer so a crashed counterpart cannot leave
// an indicator stuck on.
type PresenceCoordinator struct {
	client   *Client
	identity *SessionIdentity
	db       *storage.DB

	mu           sync.Mutex
	records      map[string]PresenceRecord
	typingSent   map[string]bool
	typingTimers map[string]*time.Timer
	activeConv   string

	handlerMu  sync.RWMutex
	onPresence []PresenceHandler
	onTyping   []TypingHandler
}

// NewPresenceCoordinator creates the coordinator, subscribes it to presence
// and typing frames, and hooks the connection lifecycle so coming online
// broadcasts presence to all contacts.
func NewPresenceCoordinator(client *Client) *PresenceCoordinator {
	p := &PresenceCoordinator{
		client:       client,
		identity:     client.Identity(),
		db:           client.Database(),
		records:      make(map[string]PresenceRecord),
		typingSent:   make(map[string]bool),
		typingTimers: make(map[string]*time.Timer),
	}

	d := client.Dispatcher()
	d.Subscribe(protocol.EventPresenceUpdate, p.handlePresence)
	d.Subscribe(protocol.EventTypingUpdate, p.handleTyping)

	client.OnStateChange(func(state ConnState) {
		if state == StateReady {
			p.BroadcastOnline()
		}
	})

	return p
}

// OnPresence registers a handler for counterpart presence changes
func (p *PresenceCoordinator) OnPresence(handler PresenceHandler) {
	p.handlerMu.Lock()
	defer p.handlerMu.Unlock()
	p.onPresence = append(p.onPresence, handler)
}

// OnTyping registers a handler for typing indicator changes
func (p *PresenceCoordinator) OnTyping(handler TypingHandler) {
	p.handlerMu.Lock()
	defer p.handlerMu.Unlock()
	p.onTyping = append(p.onTyping, handler)
}

// PresenceOf reports the last known presence of a counterpart
func (p *PresenceCoordinator) PresenceOf(sessionID string) (PresenceRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	record, ok := p.records[sessionID]
	return record, ok
}

// BroadcastOnline announces that this session is online to all contacts
func (p *PresenceCoordinator) BroadcastOnline() {
	var targets []string
	if p.db != nil {
		ids, err := p.db.ContactSessionIDs()
		if err != nil {
			log.Printf("⚠️  Failed to load contacts for presence broadcast: %v", err)
		}
		targets = ids
	}
	p.Broadcast(true, targets)
}

// Broadcast sends a presence update. An empty target list is the
// broadcast-to-all convention.
func (p *PresenceCoordinator) Broadcast(isOnline bool, targets []string) {
	err := p.client.Send(protocol.EventPresenceUpdate, protocol.PresenceUpdate{
		SessionID: p.identity.SessionID,
		FromUser:  p.identity.SessionID,
		IsOnline:  isOnline,
		ToUserIDs: targets,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		log.Printf("⚠️  Presence broadcast failed: %v", err)
	}
}

// SetActiveConversation tracks which conversation the UI has open. Switching
// away auto-stops any typing indicator in the previous conversation.
func (p *PresenceCoordinator) SetActiveConversation(conversationID string) {
	p.mu.Lock()
	previous := p.activeConv
	p.activeConv = conversationID
	wasTyping := p.typingSent[previous]
	p.mu.Unlock()

	if previous != "" && previous != conversationID && wasTyping {
		p.stopTyping(previous, true)
	}
}

// SendTyping updates the local typing state for a conversation. Starts reset
// the auto-stop timer; stops are idempotent and only sent when an indicator
// is actually up.
func (p *PresenceCoordinator) SendTyping(counterpartID, conversationID string, isTyping bool) {
	p.mu.Lock()
	current := p.typingSent[conversationID]

	if !isTyping {
		if !current {
			// Nothing to stop
			p.mu.Unlock()
			return
		}
		p.clearTypingLocked(conversationID)
		p.mu.Unlock()
		p.sendTypingFrame(counterpartID, conversationID, false, false)
		return
	}

	p.typingSent[conversationID] = true
	if timer, ok := p.typingTimers[conversationID]; ok {
		timer.Stop()
	}
	p.typingTimers[conversationID] = time.AfterFunc(TypingStopTimeout, func() {
		p.autoStopTyping(counterpartID, conversationID)
	})
	p.mu.Unlock()

	if !current {
		p.sendTypingFrame(counterpartID, conversationID, true, false)
	}
}

func (p *PresenceCoordinator) autoStopTyping(counterpartID, conversationID string) {
	p.mu.Lock()
	if !p.typingSent[conversationID] {
		p.mu.Unlock()
		return
	}
	p.clearTypingLocked(conversationID)
	p.mu.Unlock()

	log.Printf("⌨️  Auto-stopping typing indicator in %s", conversationID)
	p.sendTypingFrame(counterpartID, conversationID, false, true)
}

func (p *PresenceCoordinator) stopTyping(conversationID string, autoStopped bool) {
	p.mu.Lock()
	if !p.typingSent[conversationID] {
		p.mu.Unlock()
		return
	}
	p.clearTypingLocked(conversationID)
	p.mu.Unlock()

	// Counterpart is recoverable from the conversation when persisted
	if p.db != nil {
		if conv, err := p.db.GetConversation(conversationID); err == nil {
			p.sendTypingFrame(conv.CounterpartID, conversationID, false, autoStopped)
		}
	}
}

// clearTypingLocked drops the typing state and timer for a conversation.
// Caller must hold p.mu.
func (p *PresenceCoordinator) clearTypingLocked(conversationID string) {
	delete(p.typingSent, conversationID)
	if timer, ok := p.typingTimers[conversationID]; ok {
		timer.Stop()
		delete(p.typingTimers, conversationID)
	}
}

func (p *PresenceCoordinator) sendTypingFrame(counterpartID, conversationID string, isTyping, autoStopped bool) {
	err := p.client.Send(protocol.EventTypingUpdate, protocol.TypingUpdate{
		FromUser:        p.identity.SessionID,
		RecipientID:     counterpartID,
		ConversationID:  conversationID,
		IsTyping:        isTyping,
		ShowIndicatorOn: counterpartID,
		AutoStopped:     autoStopped,
	})
	if err != nil {
		log.Printf("⚠️  Typing update failed: %v", err)
	}
}

func (p *PresenceCoordinator) handlePresence(frame *protocol.Frame) {
	var update protocol.PresenceUpdate
	if err := frame.Decode(&update); err != nil {
		log.Printf("⚠️  %v", err)
		return
	}

	who := update.SessionID
	if who == "" {
		who = update.FromUser
	}
	if who == "" || who == p.identity.SessionID {
		return
	}

	record := PresenceRecord{
		SessionID: who,
		IsOnline:  update.IsOnline,
		LastSeen:  update.Timestamp,
	}

	p.mu.Lock()
	p.records[who] = record
	p.mu.Unlock()

	if p.db != nil && update.Timestamp > 0 {
		p.db.UpdateContactLastSeen(who, update.Timestamp)
	}

	if update.IsOnline {
		log.Printf("🟢 %s is online", who)
	} else {
		log.Printf("⚪ %s went offline", who)
	}

	p.handlerMu.RLock()
	handlers := make([]PresenceHandler, len(p.onPresence))
	copy(handlers, p.onPresence)
	p.handlerMu.RUnlock()
	for _, handler := range handlers {
		handler(record)
	}
}

func (p *PresenceCoordinator) handleTyping(frame *protocol.Frame) {
	var update protocol.TypingUpdate
	if err := frame.Decode(&update); err != nil {
		log.Printf("⚠️  %v", err)
		return
	}

	// Relay echo of our own indicator
	if update.FromUser == p.identity.SessionID {
		return
	}
	// Indicator addressed to a different session of the same user
	if update.ShowIndicatorOn != "" && update.ShowIndicatorOn != p.identity.SessionID {
		return
	}

	state := TypingState{
		FromUser:       update.FromUser,
		ConversationID: update.ConversationID,
		IsTyping:       update.IsTyping,
		AutoStopped:    update.AutoStopped,
	}

	if update.IsTyping {
		log.Printf("⌨️  %s is typing", update.FromUser)
	}

	p.handlerMu.RLock()
	handlers := make([]TypingHandler, len(p.onTyping))
	copy(handlers, p.onTyping)
	p.handlerMu.RUnlock()
	for _, handler := range handlers {
		handler(state)
	}
}
