package network

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/ZentaChain/zentalk-session/pkg/protocol"
	"github.com/ZentaChain/zentalk-session/pkg/storage"
)

// Config holds client configuration
type Config struct {
	RelayAddress        string
	DialTimeout         time.Duration
	HeartbeatInterval   time.Duration
	RegistrationTimeout time.Duration
	LeaveGrace          time.Duration
	Reconnect           ReconnectPolicy
}

// DefaultConfig returns the standard client configuration for a relay address
func DefaultConfig(relayAddress string) *Config {
	return &Config{
		RelayAddress:        relayAddress,
		DialTimeout:         10 * time.Second,
		HeartbeatInterval:   30 * time.Second,
		RegistrationTimeout: 5 * time.Second,
		LeaveGrace:          250 * time.Millisecond,
		Reconnect:           DefaultReconnectPolicy(),
	}
}

// StateHandler observes connection state transitions
type StateHandler func(ConnState)

// Client is the relay connection. It owns the transport socket, the session
// registration, the keepalive heartbeat, and automatic reconnection; all
// higher-level traffic goes through Send and the frame dispatcher.
//
// Every connection attempt gets a new epoch. Goroutines and timers belonging
// to an old connection carry their epoch and no-op once it is stale, so a
// torn-down connection can never fire callbacks into a newer one.
type Client struct {
	cfg      *Config
	identity *SessionIdentity
	db       *storage.DB

	dispatcher *Dispatcher

	mu            sync.Mutex
	conn          net.Conn
	state         ConnState
	epoch         uint64
	attempts      int
	reconnecting  bool
	manual        bool
	regTimer      *time.Timer
	stopHeartbeat chan struct{}

	// Serializes frame writes so concurrent senders cannot interleave bytes
	writeMu sync.Mutex

	handlerMu     sync.RWMutex
	stateHandlers []StateHandler
}

// NewClient creates a client for the given relay. db may be nil when running
// without local persistence.
func NewClient(cfg *Config, identity *SessionIdentity, db *storage.DB) *Client {
	c := &Client{
		cfg:        cfg,
		identity:   identity,
		db:         db,
		dispatcher: NewDispatcher(),
		state:      StateDisconnected,
	}

	c.dispatcher.Subscribe(protocol.EventSessionRegistered, c.handleRegistered)
	c.dispatcher.Subscribe(protocol.EventRelayError, c.handleRelayError)

	return c
}

// Identity returns the local session identity
func (c *Client) Identity() *SessionIdentity {
	return c.identity
}

// SessionID returns the local session ID
func (c *Client) SessionID() string {
	return c.identity.SessionID
}

// Database returns the attached database, or nil
func (c *Client) Database() *storage.DB {
	return c.db
}

// Dispatcher exposes the inbound frame dispatcher for subscribers
func (c *Client) Dispatcher() *Dispatcher {
	return c.dispatcher
}

// State returns the current connection state
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange registers a handler for connection state transitions
func (c *Client) OnStateChange(handler StateHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.stateHandlers = append(c.stateHandlers, handler)
}

func (c *Client) notifyState(state ConnState) {
	c.handlerMu.RLock()
	handlers := make([]StateHandler, len(c.stateHandlers))
	copy(handlers, c.stateHandlers)
	c.handlerMu.RUnlock()

	for _, handler := range handlers {
		handler(state)
	}
}

// Connect dials the relay and registers the session. An existing connection
// is fully torn down first, timers included, so every call owns exactly one
// transport connection. Connect returns once the transport is up; readiness
// follows asynchronously when the relay confirms registration, or
// optimistically when the confirmation times out. A failed dial starts the
// backoff loop.
func (c *Client) Connect() error {
	return c.connect(true)
}

func (c *Client) connect(retryOnFailure bool) error {
	c.mu.Lock()
	if c.state == StateUnavailable {
		// Manual retry gets a fresh attempt budget
		c.attempts = 0
	}
	c.teardownLocked()
	c.manual = false
	epoch := c.epoch
	c.state = StateConnecting
	c.mu.Unlock()
	c.notifyState(StateConnecting)

	log.Printf("🔄 Connecting to relay %s", c.cfg.RelayAddress)
	conn, err := net.DialTimeout("tcp", c.cfg.RelayAddress, c.cfg.DialTimeout)
	if err != nil {
		c.mu.Lock()
		if c.epoch == epoch {
			c.state = StateDisconnected
		}
		manual := c.manual
		c.mu.Unlock()
		c.notifyState(StateDisconnected)
		if retryOnFailure && !manual {
			go c.reconnectLoop()
		}
		return fmt.Errorf("failed to dial relay: %w", err)
	}

	c.mu.Lock()
	if c.epoch != epoch || c.manual {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.state = StateConnected
	c.regTimer = time.AfterFunc(c.cfg.RegistrationTimeout, func() {
		c.promoteReady(epoch, "registration ack timed out, promoting optimistically")
	})
	c.mu.Unlock()
	c.notifyState(StateConnected)

	go c.receiveLoop(conn, epoch)

	if err := c.writeFrame(conn, protocol.EventRegisterSession, 0, protocol.RegisterSession{
		SessionID: c.identity.SessionID,
		PublicKey: c.identity.PublicKey,
	}); err != nil {
		log.Printf("❌ Failed to send registration: %v", err)
		conn.Close()
		return err
	}

	log.Printf("📡 Registered session %s, awaiting confirmation", c.identity.SessionID)
	return nil
}

func (c *Client) handleRegistered(frame *protocol.Frame) {
	var ack protocol.SessionRegistered
	if err := frame.Decode(&ack); err != nil {
		log.Printf("⚠️  %v", err)
	}

	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()
	c.promoteReady(epoch, "relay confirmed registration")
}

func (c *Client) handleRelayError(frame *protocol.Frame) {
	var relayErr protocol.RelayError
	if err := frame.Decode(&relayErr); err != nil {
		log.Printf("⚠️  %v", err)
		return
	}
	log.Printf("⚠️  Relay error (code=%s): %s", relayErr.Code, relayErr.Message)
}

// promoteReady moves the connection from Connected to Ready exactly once per
// epoch and starts the heartbeat.
func (c *Client) promoteReady(epoch uint64, reason string) {
	c.mu.Lock()
	if c.epoch != epoch || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.state = StateReady
	c.attempts = 0
	if c.regTimer != nil {
		c.regTimer.Stop()
		c.regTimer = nil
	}
	stop := make(chan struct{})
	c.stopHeartbeat = stop
	conn := c.conn
	c.mu.Unlock()

	log.Printf("✅ Session ready: %s", reason)
	go c.heartbeatLoop(conn, stop)
	c.notifyState(StateReady)
}

func (c *Client) heartbeatLoop(conn net.Conn, stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			err := c.writeFrame(conn, protocol.EventHeartbeatPing, 0, protocol.Heartbeat{
				SessionID: c.identity.SessionID,
				Timestamp: time.Now().UnixMilli(),
			})
			if err != nil {
				// Receive loop will observe the broken socket and reconnect
				return
			}
		}
	}
}

func (c *Client) receiveLoop(conn net.Conn, epoch uint64) {
	for {
		frame, err := protocol.ReadFrame(conn)
		if err != nil {
			c.handleConnectionLost(epoch, err)
			return
		}
		c.handleFrame(conn, frame)
	}
}

func (c *Client) handleFrame(conn net.Conn, frame *protocol.Frame) {
	switch frame.Header.Event {
	case protocol.EventHeartbeatPing:
		c.writeFrame(conn, protocol.EventHeartbeatPong, 0, protocol.Heartbeat{
			SessionID: c.identity.SessionID,
			Timestamp: time.Now().UnixMilli(),
		})
	case protocol.EventHeartbeatPong:
		// Keepalive acknowledged, nothing to do
	default:
		c.dispatcher.Dispatch(frame)
	}
}

func (c *Client) handleConnectionLost(epoch uint64, cause error) {
	c.mu.Lock()
	if c.epoch != epoch {
		// A newer connection superseded this one
		c.mu.Unlock()
		return
	}
	manual := c.manual
	c.teardownLocked()
	c.state = StateDisconnected
	c.mu.Unlock()
	c.notifyState(StateDisconnected)

	if manual {
		return
	}

	log.Printf("⚠️  Connection lost: %v", cause)
	go c.reconnectLoop()
}

// teardownLocked closes the current connection and invalidates its epoch.
// Caller must hold c.mu.
func (c *Client) teardownLocked() {
	c.epoch++
	if c.regTimer != nil {
		c.regTimer.Stop()
		c.regTimer = nil
	}
	if c.stopHeartbeat != nil {
		close(c.stopHeartbeat)
		c.stopHeartbeat = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Send writes a frame to the relay. While the connection is transiently not
// ready the frame is dropped with a log line rather than an error: callers
// treat the relay as fire-and-forget and reconciliation happens via receipts.
// Once the reconnect budget is exhausted the failure is surfaced instead,
// since nothing will deliver the frame without a manual retry.
func (c *Client) Send(event protocol.EventType, payload interface{}) error {
	c.mu.Lock()
	state := c.state
	conn := c.conn
	c.mu.Unlock()

	if state == StateUnavailable {
		return ErrConnectionUnavailable
	}
	if state != StateReady || conn == nil {
		log.Printf("⚠️  Dropping %s: connection not ready (%s)", event, state)
		return nil
	}

	return c.writeFrame(conn, event, 0, payload)
}

func (c *Client) writeFrame(conn net.Conn, event protocol.EventType, flags uint16, payload interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := protocol.WriteFrame(conn, event, flags, payload); err != nil {
		return fmt.Errorf("failed to send %s: %w", event, err)
	}
	return nil
}

// Disconnect leaves the relay gracefully: a best-effort offline presence
// broadcast and a disconnect notice, a short grace period for the frames to
// flush, then teardown. No reconnection follows.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.manual = true
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	if state == StateReady {
		now := time.Now().UnixMilli()
		c.writeFrame(conn, protocol.EventPresenceUpdate, 0, protocol.PresenceUpdate{
			SessionID: c.identity.SessionID,
			FromUser:  c.identity.SessionID,
			IsOnline:  false,
			Timestamp: now,
		})
		c.writeFrame(conn, protocol.EventDisconnect, 0, protocol.Disconnect{
			SessionID: c.identity.SessionID,
			Reason:    "client shutdown",
		})
		time.Sleep(c.cfg.LeaveGrace)
	}

	c.mu.Lock()
	c.teardownLocked()
	c.state = StateDisconnected
	c.mu.Unlock()
	c.notifyState(StateDisconnected)

	log.Printf("👋 Disconnected from relay")
	return nil
}

// ForceDisconnect tears the connection down immediately without notifying
// the relay. Used for account deletion and fatal local errors.
func (c *Client) ForceDisconnect() {
	c.mu.Lock()
	c.manual = true
	c.teardownLocked()
	c.state = StateDisconnected
	c.mu.Unlock()
	c.notifyState(StateDisconnected)
}
