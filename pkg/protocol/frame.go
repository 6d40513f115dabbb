package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	ErrInvalidMagic   = errors.New("invalid protocol magic")
	ErrInvalidVersion = errors.New("unsupported protocol version")
	ErrInvalidHeader  = errors.New("invalid header")
	ErrFrameTooLarge  = errors.New("frame exceeds size limit")
)

// MaxPayloadSize bounds what a single frame may carry. Anything larger is a
// protocol violation, not a legitimate chat payload.
const MaxPayloadSize = 1 << 20

// FrameID uniquely identifies a frame (16 bytes)
type FrameID [16]byte

// GenerateFrameID generates a random frame ID. The first 8 bytes are a
// nanosecond timestamp so IDs sort roughly by send time.
func GenerateFrameID() FrameID {
	var id FrameID
	binary.BigEndian.PutUint64(id[0:8], uint64(time.Now().UnixNano()))
	if _, err := rand.Read(id[8:]); err != nil {
		binary.BigEndian.PutUint64(id[8:], uint64(time.Now().UnixNano()^0xDEADBEEF))
	}
	return id
}

// Header is the fixed-size frame header
type Header struct {
	Magic    uint32    // Magic number (0x5A534553)
	Version  uint16    // Protocol version
	Event    EventType // Event type
	Length   uint32    // Payload length
	Flags    uint16    // Feature flags
	FrameID  FrameID   // Unique frame ID
	Reserved uint16    // Reserved for future use
}

// Encode encodes the header to bytes
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)

	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Event))
	binary.BigEndian.PutUint32(buf[8:12], h.Length)
	binary.BigEndian.PutUint16(buf[12:14], h.Flags)
	copy(buf[14:30], h.FrameID[:])
	binary.BigEndian.PutUint16(buf[30:32], h.Reserved)

	return buf
}

// Decode decodes the header from bytes
func (h *Header) Decode(buf []byte) error {
	if len(buf) < HeaderSize {
		return ErrInvalidHeader
	}

	h.Magic = binary.BigEndian.Uint32(buf[0:4])
	h.Version = binary.BigEndian.Uint16(buf[4:6])
	h.Event = EventType(binary.BigEndian.Uint16(buf[6:8]))
	h.Length = binary.BigEndian.Uint32(buf[8:12])
	h.Flags = binary.BigEndian.Uint16(buf[12:14])
	copy(h.FrameID[:], buf[14:30])
	h.Reserved = binary.BigEndian.Uint16(buf[30:32])

	return nil
}

// Validate validates the header
func (h *Header) Validate() error {
	if h.Magic != ProtocolMagic {
		return ErrInvalidMagic
	}
	if h.Version != ProtocolVersion {
		return ErrInvalidVersion
	}
	if h.Length > MaxPayloadSize {
		return ErrFrameTooLarge
	}
	return nil
}

// HasFlag checks if a flag is set
func (h *Header) HasFlag(flag uint16) bool {
	return (h.Flags & flag) != 0
}

// Frame is a decoded wire frame: header plus raw JSON payload
type Frame struct {
	Header  Header
	Payload []byte
}

// Decode unmarshals the frame payload into v
func (f *Frame) Decode(v interface{}) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", f.Header.Event)
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("%s: malformed payload: %w", f.Header.Event, err)
	}
	return nil
}

// ReadFrame reads one complete frame from r
func ReadFrame(r io.Reader) (*Frame, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	var header Header
	if err := header.Decode(buf); err != nil {
		return nil, err
	}
	if err := header.Validate(); err != nil {
		return nil, err
	}

	payload := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}

	return &Frame{Header: header, Payload: payload}, nil
}

// WriteFrame marshals payload as JSON and writes a complete frame to w
func WriteFrame(w io.Writer, event EventType, flags uint16, payload interface{}) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode %s payload: %w", event, err)
		}
	}

	if len(body) > MaxPayloadSize {
		return ErrFrameTooLarge
	}

	header := Header{
		Magic:   ProtocolMagic,
		Version: ProtocolVersion,
		Event:   event,
		Length:  uint32(len(body)),
		Flags:   flags,
		FrameID: GenerateFrameID(),
	}

	if _, err := w.Write(header.Encode()); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return err
		}
	}

	return nil
}
