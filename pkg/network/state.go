// Package network implements the client side of the Zentalk session
// protocol: the relay connection with heartbeat and reconnection, the
// key-exchange handshake, message delivery tracking, and presence/typing.
package network

import (
	"errors"
)

// ConnState is the connection lifecycle state
type ConnState int

const (
	// StateDisconnected: no transport connection
	StateDisconnected ConnState = iota

	// StateConnecting: dial in progress
	StateConnecting

	// StateConnected: transport up, session registration pending
	StateConnected

	// StateReady: registered (or optimistically promoted); frames may flow
	StateReady

	// StateUnavailable: reconnect attempts exhausted, manual retry required
	StateUnavailable
)

// String returns a human-readable state name
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReady:
		return "ready"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

var (
	ErrConnectionUnavailable = errors.New("connection unavailable, manual retry required")
	ErrAlreadyPaired         = errors.New("already paired with counterpart")
	ErrNoPendingExchange     = errors.New("no pending exchange for counterpart")
	ErrNoConversation        = errors.New("no conversation for recipient")
)
