package network

import (
	"testing"

	"github.com/ZentaChain/zentalk-session/pkg/protocol"
)

func TestDispatcherRoutesByEvent(t *testing.T) {
	d := NewDispatcher()

	var pings, pongs int
	d.Subscribe(protocol.EventHeartbeatPing, func(*protocol.Frame) { pings++ })
	d.Subscribe(protocol.EventHeartbeatPong, func(*protocol.Frame) { pongs++ })

	d.Dispatch(makeFrame(t, protocol.EventHeartbeatPing, protocol.Heartbeat{SessionID: "05x"}))
	d.Dispatch(makeFrame(t, protocol.EventHeartbeatPing, protocol.Heartbeat{SessionID: "05x"}))
	d.Dispatch(makeFrame(t, protocol.EventHeartbeatPong, protocol.Heartbeat{SessionID: "05x"}))

	if pings != 2 || pongs != 1 {
		t.Errorf("pings = %d, pongs = %d, want 2 and 1", pings, pongs)
	}
}

func TestDispatcherMultipleSubscribersInOrder(t *testing.T) {
	d := NewDispatcher()

	var order []string
	d.Subscribe(protocol.EventRelayError, func(*protocol.Frame) { order = append(order, "first") })
	d.Subscribe(protocol.EventRelayError, func(*protocol.Frame) { order = append(order, "second") })

	d.Dispatch(makeFrame(t, protocol.EventRelayError, protocol.RelayError{Message: "x"}))

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("Subscriber order = %v", order)
	}
}

func TestDispatcherIsolatesPanickingHandler(t *testing.T) {
	d := NewDispatcher()

	var reached bool
	d.Subscribe(protocol.EventRelayError, func(*protocol.Frame) { panic("boom") })
	d.Subscribe(protocol.EventRelayError, func(*protocol.Frame) { reached = true })

	d.Dispatch(makeFrame(t, protocol.EventRelayError, protocol.RelayError{Message: "x"}))

	if !reached {
		t.Error("Panic in one handler starved the next")
	}
}

func TestDispatcherUnhandledEventIsDropped(t *testing.T) {
	d := NewDispatcher()
	// Must not panic
	d.Dispatch(makeFrame(t, protocol.EventContactsAdd, protocol.ContactChange{SessionID: "05x"}))
}
