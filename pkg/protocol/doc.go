// Package protocol defines the wire contract between a Zentalk session client
// and the relay.
//
// Every frame on the socket is a fixed 32-byte binary header followed by a
// JSON payload. The header carries the event type; the payload carries the
// named fields of that event. The relay routes frames between sessions but is
// never trusted with plaintext: anything content-bearing travels inside the
// symmetric envelope from pkg/crypto.
//
// Frame layout:
//
//	+--------+---------+--------+--------+-------+----------+----------+
//	| Magic  | Version | Event  | Length | Flags | Frame ID | Reserved |
//	| 4 B    | 2 B     | 2 B    | 4 B    | 2 B   | 16 B     | 2 B      |
//	+--------+---------+--------+--------+-------+----------+----------+
//
// The package also owns the two pieces of pure protocol logic shared by both
// sides of a conversation: deterministic conversation ID derivation and the
// message delivery-status lifecycle.
package protocol
