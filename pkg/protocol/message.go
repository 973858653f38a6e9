// Package protocol defines the WebSocket message types exchanged between
// the overlay server, its viewers and remote detectors.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/go-overlay/pkg/annotation"
	"github.com/teslashibe/go-overlay/pkg/geometry"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Server → viewer
	TypeFrame MessageType = "frame" // Composited frame
	TypeView  MessageType = "view"  // View state change
	TypeHit   MessageType = "hit"   // Hit test result
	TypeError MessageType = "error" // Rejected input

	// Viewer → server
	TypePointerDown  MessageType = "pointer_down"
	TypePointerMove  MessageType = "pointer_move"
	TypePointerUp    MessageType = "pointer_up"
	TypePointerLeave MessageType = "pointer_leave"
	TypeTouch        MessageType = "touch"
	TypeWheel        MessageType = "wheel"
	TypeReset        MessageType = "reset"
	TypeZoom         MessageType = "zoom"    // Direct scale
	TypeDetail       MessageType = "detail"  // Detail level 0-100
	TypeDisplay      MessageType = "display" // Canvas size and pixel ratio
	TypeHitTest      MessageType = "hit_test"

	// Detector → server
	TypeDetections MessageType = "detections"

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// IsInput reports whether the type is a viewer interaction event.
func (t MessageType) IsInput() bool {
	switch t {
	case TypePointerDown, TypePointerMove, TypePointerUp, TypePointerLeave,
		TypeTouch, TypeWheel, TypeReset, TypeZoom:
		return true
	}
	return false
}

// =============================================================================
// Server → Viewer
// =============================================================================

// FrameData contains a composited frame.
type FrameData struct {
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	Format  string  `json:"format"` // "jpeg", "png"
	Data    string  `json:"data"`   // base64 encoded
	FrameID uint64  `json:"frame_id,omitempty"`
	Time    float64 `json:"time"` // playback seconds
}

// ViewData mirrors the viewport state.
type ViewData struct {
	Scale   float64 `json:"scale"`
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
	Mode    string  `json:"mode"`
}

// HitData is the answer to a hit_test request.
type HitData struct {
	Found    bool   `json:"found"`
	EntityID string `json:"entity_id,omitempty"`
	Label    string `json:"label,omitempty"`
	Kind     string `json:"kind,omitempty"`
}

// ErrorData explains a rejected message.
type ErrorData struct {
	Message string `json:"message"`
}

// =============================================================================
// Viewer → Server
// =============================================================================

// PointerData is a pointer position in CSS pixels.
type PointerData struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Point returns the position as a geometry point.
func (p PointerData) Point() geometry.Point { return geometry.Point{X: p.X, Y: p.Y} }

// TouchPhase is the stage of a touch gesture.
type TouchPhase string

const (
	TouchStart TouchPhase = "start"
	TouchMove  TouchPhase = "move"
	TouchEnd   TouchPhase = "end"
)

// TouchData carries every active touch point after the event.
type TouchData struct {
	Phase   TouchPhase    `json:"phase"`
	Touches []PointerData `json:"touches"`
}

// Points returns the touch positions as geometry points.
func (t TouchData) Points() []geometry.Point {
	out := make([]geometry.Point, len(t.Touches))
	for i, p := range t.Touches {
		out[i] = p.Point()
	}
	return out
}

// WheelData is a scroll delta; positive zooms out.
type WheelData struct {
	DeltaY float64 `json:"delta_y"`
}

// ZoomData sets the scale directly.
type ZoomData struct {
	Scale float64 `json:"scale"`
}

// DetailData sets the detail level.
type DetailData struct {
	Level int `json:"level"`
}

// DisplayData describes the viewer canvas.
type DisplayData struct {
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	PixelRatio float64 `json:"pixel_ratio"`
}

// =============================================================================
// Detector → Server
// =============================================================================

// DetectionsData is one live detection batch. CaptureTS stamps every
// detection that carries no capture time of its own.
type DetectionsData struct {
	CaptureTS  float64                    `json:"capture_ts"`
	Detections []annotation.LiveDetection `json:"detections"`
}

// Stamped returns the detections with missing capture times filled in.
func (d DetectionsData) Stamped() []annotation.LiveDetection {
	out := make([]annotation.LiveDetection, len(d.Detections))
	for i, det := range d.Detections {
		if det.CaptureTime == 0 {
			det.CaptureTime = d.CaptureTS
		}
		out[i] = det
	}
	return out
}

// =============================================================================
// Bidirectional
// =============================================================================

// PingData is a health check
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData is a health check response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
