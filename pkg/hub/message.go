// Package hub fans composited overlay frames and view updates out to
// connected viewers, and relays their pointer, touch and wheel input back
// to the viewport and render engine.
package hub

// MessageType selects the websocket frame a Message is written as.
type MessageType int

const (
	// JSONMessage is written as a text frame: protocol messages, including
	// base64 frame payloads.
	JSONMessage MessageType = iota
	// BinaryMessage is written as a binary frame.
	BinaryMessage
)

// Message is one queued write to a viewer.
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage wraps an encoded protocol message.
func NewJSONMessage(data []byte) Message { return Message{Type: JSONMessage, Data: data} }

// NewBinaryMessage wraps raw bytes.
func NewBinaryMessage(data []byte) Message { return Message{Type: BinaryMessage, Data: data} }
