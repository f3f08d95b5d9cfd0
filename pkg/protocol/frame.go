// Package protocol implements the SEER robot wire format: a fixed 16-byte
// binary header followed by a UTF-8 JSON payload.
//
// Layout (big-endian):
//
//	byte 0      magic (0x5A)
//	byte 1      version (0x01)
//	bytes 2-3   request id
//	bytes 4-7   payload length
//	bytes 8-9   message type
//	bytes 10-15 reserved, zero on send, ignored on receive
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame constants.
const (
	Magic      byte = 0x5A
	Version    byte = 0x01
	HeaderSize      = 16

	// MaxPayloadSize bounds the declared length accepted when scanning a
	// push stream for frame boundaries. Larger values are treated as a
	// false magic match rather than a frame.
	MaxPayloadSize = 16 << 20
)

// ErrFrameTooShort is returned when fewer than HeaderSize bytes are decoded.
var ErrFrameTooShort = errors.New("protocol: frame shorter than header")

// Header is the decoded fixed-size frame header.
type Header struct {
	Magic     byte
	Version   byte
	RequestID uint16
	Length    uint32
	Type      uint16
	Reserved  [6]byte
}

// Valid reports whether the header starts with the magic sentinel.
func (h Header) Valid() bool {
	return h.Magic == Magic
}

// Encode builds a complete frame. An empty or nil payload is sent with
// length 0 and no body.
func Encode(requestID, msgType uint16, payload Payload) ([]byte, error) {
	var body []byte
	if len(payload) > 0 {
		var err error
		body, err = Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload for type %d: %w", msgType, err)
		}
	}

	frame := make([]byte, HeaderSize+len(body))
	frame[0] = Magic
	frame[1] = Version
	binary.BigEndian.PutUint16(frame[2:4], requestID)
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(body)))
	binary.BigEndian.PutUint16(frame[8:10], msgType)
	copy(frame[HeaderSize:], body)
	return frame, nil
}

// DecodeHeader unpacks the first HeaderSize bytes of b. It only checks the
// shape; callers decide what to do with a header whose magic is wrong.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: got %d bytes", ErrFrameTooShort, len(b))
	}
	h := Header{
		Magic:     b[0],
		Version:   b[1],
		RequestID: binary.BigEndian.Uint16(b[2:4]),
		Length:    binary.BigEndian.Uint32(b[4:8]),
		Type:      binary.BigEndian.Uint16(b[8:10]),
	}
	copy(h.Reserved[:], b[10:16])
	return h, nil
}

// Decode splits a complete frame into its header and parsed payload.
// A zero-length body decodes to an empty Payload.
func Decode(frame []byte) (Header, Payload, error) {
	h, err := DecodeHeader(frame)
	if err != nil {
		return Header{}, nil, err
	}
	end := HeaderSize + int(h.Length)
	if len(frame) < end {
		return h, nil, fmt.Errorf("%w: declared %d payload bytes, have %d", ErrFrameTooShort, h.Length, len(frame)-HeaderSize)
	}
	if h.Length == 0 {
		return h, Payload{}, nil
	}
	p, err := Unmarshal(frame[HeaderSize:end])
	if err != nil {
		return h, nil, err
	}
	return h, p, nil
}
