package live

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/teslashibe/go-overlay/pkg/annotation"
	"github.com/teslashibe/go-overlay/pkg/protocol"
)

// ErrNotDetections is returned for a well-formed message of another type.
var ErrNotDetections = errors.New("live: not a detections message")

// DecodeBatch parses a remote detection payload. It accepts a protocol
// envelope of type "detections" or a bare detections object. Detections
// with invalid boxes are dropped.
func DecodeBatch(payload []byte) ([]annotation.LiveDetection, error) {
	var envelope struct {
		Type protocol.MessageType `json:"type"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}

	var data protocol.DetectionsData
	if envelope.Type != "" {
		msg, err := protocol.ParseMessage(payload)
		if err != nil {
			return nil, err
		}
		if msg.Type != protocol.TypeDetections {
			return nil, ErrNotDetections
		}
		d, err := msg.GetDetectionsData()
		if err != nil {
			return nil, fmt.Errorf("decode batch: %w", err)
		}
		data = *d
	} else if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}

	dets := data.Stamped()
	out := dets[:0]
	for _, d := range dets {
		if d.Box.Valid() {
			out = append(out, d)
		}
	}
	return out, nil
}
