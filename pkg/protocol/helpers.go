package protocol

import (
	"encoding/base64"

	"github.com/teslashibe/go-overlay/pkg/annotation"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewFrameMessage creates a frame message from encoded image data
func NewFrameMessage(width, height int, format string, data []byte, frameID uint64, t float64) (*Message, error) {
	return NewMessage(TypeFrame, FrameData{
		Width:   width,
		Height:  height,
		Format:  format,
		Data:    base64.StdEncoding.EncodeToString(data),
		FrameID: frameID,
		Time:    t,
	})
}

// NewViewMessage creates a view state message
func NewViewMessage(scale, offsetX, offsetY float64, mode string) (*Message, error) {
	return NewMessage(TypeView, ViewData{
		Scale:   scale,
		OffsetX: offsetX,
		OffsetY: offsetY,
		Mode:    mode,
	})
}

// NewHitMessage creates a hit test answer
func NewHitMessage(h HitData) (*Message, error) {
	return NewMessage(TypeHit, h)
}

// NewErrorMessage creates an error message
func NewErrorMessage(text string) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Message: text})
}

// NewDetectionsMessage creates a live detection batch
func NewDetectionsMessage(captureTS float64, dets []annotation.LiveDetection) (*Message, error) {
	return NewMessage(TypeDetections, DetectionsData{
		CaptureTS:  captureTS,
		Detections: dets,
	})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: 0, // Will be set by NewMessage
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetFrameData extracts frame data from a message
func (m *Message) GetFrameData() (*FrameData, error) {
	var data FrameData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DecodeFrameData decodes the base64 image data
func (f *FrameData) DecodeFrameData() ([]byte, error) {
	return base64.StdEncoding.DecodeString(f.Data)
}

// GetPointerData extracts a pointer position from a message
func (m *Message) GetPointerData() (*PointerData, error) {
	var data PointerData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetTouchData extracts touch points from a message
func (m *Message) GetTouchData() (*TouchData, error) {
	var data TouchData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetWheelData extracts a wheel delta from a message
func (m *Message) GetWheelData() (*WheelData, error) {
	var data WheelData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetDetectionsData extracts a detection batch from a message
func (m *Message) GetDetectionsData() (*DetectionsData, error) {
	var data DetectionsData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
