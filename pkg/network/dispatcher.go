package network

import (
	"log"
	"sync"

	"github.com/ZentaChain/zentalk-session/pkg/protocol"
)

// FrameHandler consumes an inbound frame
type FrameHandler func(*protocol.Frame)

// Dispatcher routes inbound frames to subscribers by event kind. Multiple
// subscribers per event are supported; handlers run synchronously in
// subscription order, preserving the single ordered event stream.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[protocol.EventType][]FrameHandler
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[protocol.EventType][]FrameHandler),
	}
}

// Subscribe registers a handler for an event kind
func (d *Dispatcher) Subscribe(event protocol.EventType, handler FrameHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[event] = append(d.handlers[event], handler)
}

// Dispatch delivers a frame to all subscribers of its event. A panicking
// handler is isolated: one malformed frame must never take down the receive
// loop or corrupt other components.
func (d *Dispatcher) Dispatch(frame *protocol.Frame) {
	d.mu.RLock()
	handlers := d.handlers[frame.Header.Event]
	d.mu.RUnlock()

	if len(handlers) == 0 {
		log.Printf("⚠️  No handler for event %s (0x%04x)", frame.Header.Event, uint16(frame.Header.Event))
		return
	}

	for _, handler := range handlers {
		d.dispatchOne(frame, handler)
	}
}

func (d *Dispatcher) dispatchOne(frame *protocol.Frame, handler FrameHandler) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Recovered from panic handling %s: %v", frame.Header.Event, r)
		}
	}()
	handler(frame)
}
