package protocol

// Protocol constants
const (
	// Magic number for Zentalk session protocol ('ZSES')
	ProtocolMagic = 0x5A534553

	// Protocol version
	ProtocolVersion = 0x0100 // v1.0

	// Header size
	HeaderSize = 32
)

// EventType identifies a wire event
type EventType uint16

// Wire events. The relay treats these names and payload shapes as a fixed
// contract; the numeric codes are what actually crosses the socket.
const (
	// Connection management (0x00xx)
	EventRegisterSession   EventType = 0x0001
	EventSessionRegistered EventType = 0x0002
	EventHeartbeatPing     EventType = 0x0003
	EventHeartbeatPong     EventType = 0x0004
	EventDisconnect        EventType = 0x0005

	// Presence & typing (0x01xx)
	EventPresenceUpdate EventType = 0x0100
	EventTypingUpdate   EventType = 0x0101

	// Messaging (0x02xx)
	EventMessageSend      EventType = 0x0200
	EventMessageStatus    EventType = 0x0201
	EventReceiptDelivered EventType = 0x0202
	EventReceiptRead      EventType = 0x0203

	// Key exchange (0x03xx)
	EventKeyExchangeRequest  EventType = 0x0300
	EventKeyExchangeResponse EventType = 0x0301
	EventUserDataExchange    EventType = 0x0302

	// Contacts (0x04xx)
	EventContactsAdd    EventType = 0x0400
	EventContactsRemove EventType = 0x0401

	// System (0x05xx)
	EventRelayError EventType = 0x0500
)

var eventNames = map[EventType]string{
	EventRegisterSession:     "register_session",
	EventSessionRegistered:   "session_registered",
	EventHeartbeatPing:       "heartbeat:ping",
	EventHeartbeatPong:       "heartbeat:pong",
	EventDisconnect:          "disconnect",
	EventPresenceUpdate:      "presence:update",
	EventTypingUpdate:        "typing:update",
	EventMessageSend:         "message:send",
	EventMessageStatus:       "message:status_update",
	EventReceiptDelivered:    "receipt:delivered",
	EventReceiptRead:         "receipt:read",
	EventKeyExchangeRequest:  "key_exchange:request",
	EventKeyExchangeResponse: "key_exchange:response",
	EventUserDataExchange:    "user_data_exchange:data",
	EventContactsAdd:         "contacts:add",
	EventContactsRemove:      "contacts:remove",
	EventRelayError:          "relay:error",
}

// String returns the relay-facing event name
func (e EventType) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return "unknown"
}

// Flags
const (
	FlagEncrypted uint16 = 0x0001 // Payload contains an encrypted envelope
	FlagUrgent    uint16 = 0x0008 // High priority frame
)
