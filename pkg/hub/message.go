// Package hub fans telemetry out to websocket subscribers using a single
// owner goroutine for the client set.
package hub

// MessageType selects the websocket frame type.
type MessageType int

const (
	// TextMessage carries JSON.
	TextMessage MessageType = iota
	// BinaryMessage carries raw bytes.
	BinaryMessage
)

// Message is one broadcast unit.
type Message struct {
	Type MessageType
	Data []byte
}

// NewTextMessage wraps pre-encoded JSON.
func NewTextMessage(data []byte) Message {
	return Message{Type: TextMessage, Data: data}
}

// NewBinaryMessage wraps raw bytes.
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}
