package protocol

import (
	"bytes"
	"encoding/binary"
)

// Delimiters accepted for unframed JSON, in order of preference after '\n'.
var unframedDelimiters = [][]byte{[]byte("\r\n"), {0x00}, []byte("\r")}

// ExtractMessage pulls the next complete message out of a push-stream
// buffer and returns it with the unconsumed remainder.
//
// The push channel sometimes sends header-framed JSON and sometimes raw
// JSON, so three strategies are tried in order:
//
//  1. Header framing: sync on the first magic byte that starts a
//     plausible header, then slice the declared payload once it is fully
//     buffered. A complete raw message ahead of the header is returned
//     first; any other bytes before it are dropped.
//  2. Delimiters: '\n', then "\r\n", NUL and '\r'.
//  3. Brace balancing, aware of strings and escapes.
//
// A nil message means no complete message is available. The remainder may
// still be shorter than buf when garbage or an empty frame was consumed, so
// callers should keep calling while the buffer shrinks.
func ExtractMessage(buf []byte) (msg, rest []byte) {
	if len(buf) == 0 {
		return nil, buf
	}

	for off := 0; off < len(buf); {
		i := bytes.IndexByte(buf[off:], Magic)
		if i < 0 {
			break
		}
		pos := off + i
		switch headerAt(buf[pos:]) {
		case headerPartial:
			return nil, buf
		case headerPlausible:
			if pos > 0 {
				if m, r := extractUnframed(buf[:pos]); m != nil {
					return m, buf[pos-len(r):]
				}
			}
			return extractFramed(buf[pos:])
		}
		off = pos + 1
	}
	return extractUnframed(buf)
}

type headerState int

const (
	headerFalse headerState = iota
	headerPartial
	headerPlausible
)

// headerAt classifies the bytes at a magic byte. A header is plausible
// when it carries the protocol version and a length within MaxPayloadSize.
// Reserved bytes are not checked.
func headerAt(b []byte) headerState {
	if len(b) >= 2 && b[1] != Version {
		return headerFalse
	}
	if len(b) < 8 {
		return headerPartial
	}
	if binary.BigEndian.Uint32(b[4:8]) > MaxPayloadSize {
		return headerFalse
	}
	if len(b) < HeaderSize {
		return headerPartial
	}
	return headerPlausible
}

func extractFramed(buf []byte) (msg, rest []byte) {
	total := HeaderSize + int(binary.BigEndian.Uint32(buf[4:8]))
	if len(buf) < total {
		return nil, buf
	}
	payload := bytes.TrimSpace(buf[HeaderSize:total])
	rest = buf[total:]
	if len(payload) == 0 {
		return nil, rest
	}
	return payload, rest
}

func extractUnframed(buf []byte) (msg, rest []byte) {
	if i := bytes.IndexByte(buf, '\n'); i >= 0 {
		candidate := bytes.TrimSpace(buf[:i])
		if len(candidate) > 0 && candidate[0] == '{' {
			return candidate, buf[i+1:]
		}
		return nil, buf[i+1:]
	}

	if m, r, ok := scanBraces(buf); ok {
		return m, r
	}

	for _, d := range unframedDelimiters {
		if i := bytes.Index(buf, d); i >= 0 {
			candidate := bytes.TrimSpace(buf[:i])
			if len(candidate) > 0 && candidate[0] == '{' {
				return candidate, buf[i+len(d):]
			}
			return nil, buf[i+len(d):]
		}
	}
	return nil, buf
}

// scanBraces finds the first balanced {...} object. Leading bytes before
// the opening brace are dropped.
func scanBraces(buf []byte) (msg, rest []byte, ok bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, c := range buf {
		if start < 0 {
			if c == '{' {
				start = i
				depth = 1
			}
			continue
		}
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return buf[start : i+1], buf[i+1:], true
			}
		}
	}
	return nil, buf, false
}
