package protocol

import (
	"encoding/json"
	"testing"

	"github.com/teslashibe/go-overlay/pkg/annotation"
)

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    interface{}
		wantErr bool
	}{
		{
			name:    "frame message",
			msgType: TypeFrame,
			data:    FrameData{Width: 640, Height: 480, Format: "jpeg"},
			wantErr: false,
		},
		{
			name:    "pointer message",
			msgType: TypePointerMove,
			data:    PointerData{X: 10, Y: 20},
			wantErr: false,
		},
		{
			name:    "nil data",
			msgType: TypeReset,
			data:    nil,
			wantErr: false,
		},
		{
			name:    "unmarshalable data",
			msgType: TypeFrame,
			data:    make(chan int),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewMessage() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if msg.Type != tt.msgType {
				t.Errorf("NewMessage() type = %v, want %v", msg.Type, tt.msgType)
			}
			if msg.Timestamp == 0 {
				t.Error("NewMessage() timestamp should be set")
			}
		})
	}
}

func TestFrameMessage(t *testing.T) {
	payload := []byte{0xFF, 0xD8, 0xFF, 0xE0, 1, 2, 3}
	msg, err := NewFrameMessage(1280, 720, "jpeg", payload, 42, 3.5)
	if err != nil {
		t.Fatal(err)
	}

	raw, _ := msg.Bytes()
	parsed, err := ParseMessage(raw)
	if err != nil {
		t.Fatal(err)
	}
	fd, err := parsed.GetFrameData()
	if err != nil {
		t.Fatal(err)
	}
	if fd.Width != 1280 || fd.Height != 720 || fd.FrameID != 42 || fd.Time != 3.5 {
		t.Errorf("frame data: %+v", fd)
	}
	decoded, err := fd.DecodeFrameData()
	if err != nil || string(decoded) != string(payload) {
		t.Errorf("payload: %v, %v", decoded, err)
	}
}

func TestViewerInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(t *testing.T, m *Message)
	}{
		{
			name:  "pointer",
			input: `{"type":"pointer_down","data":{"x":12.5,"y":40}}`,
			check: func(t *testing.T, m *Message) {
				p, err := m.GetPointerData()
				if err != nil || p.X != 12.5 || p.Y != 40 {
					t.Errorf("pointer: %+v, %v", p, err)
				}
			},
		},
		{
			name:  "touch",
			input: `{"type":"touch","data":{"phase":"move","touches":[{"x":1,"y":2},{"x":3,"y":4}]}}`,
			check: func(t *testing.T, m *Message) {
				td, err := m.GetTouchData()
				if err != nil || td.Phase != TouchMove {
					t.Fatalf("touch: %+v, %v", td, err)
				}
				pts := td.Points()
				if len(pts) != 2 || pts[1].X != 3 || pts[1].Y != 4 {
					t.Errorf("points: %+v", pts)
				}
			},
		},
		{
			name:  "wheel",
			input: `{"type":"wheel","data":{"delta_y":-120}}`,
			check: func(t *testing.T, m *Message) {
				w, err := m.GetWheelData()
				if err != nil || w.DeltaY != -120 {
					t.Errorf("wheel: %+v, %v", w, err)
				}
			},
		},
		{
			name:  "reset without data",
			input: `{"type":"reset"}`,
			check: func(t *testing.T, m *Message) {
				if !m.Type.IsInput() {
					t.Error("reset is an input event")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseMessage([]byte(tt.input))
			if err != nil {
				t.Fatal(err)
			}
			tt.check(t, m)
		})
	}
}

func TestIsInput(t *testing.T) {
	for _, mt := range []MessageType{TypePointerDown, TypePointerMove, TypePointerUp, TypePointerLeave, TypeTouch, TypeWheel, TypeReset, TypeZoom} {
		if !mt.IsInput() {
			t.Errorf("%s should be input", mt)
		}
	}
	for _, mt := range []MessageType{TypeFrame, TypeDetections, TypePing, TypeDetail} {
		if mt.IsInput() {
			t.Errorf("%s should not be input", mt)
		}
	}
}

func TestDetectionsStamped(t *testing.T) {
	msg, err := NewDetectionsMessage(7.5, []annotation.LiveDetection{
		{Label: "a", Box: annotation.NewBox([]float64{0, 0, 10, 10})},
		{Label: "b", Box: annotation.NewBox([]float64{0, 0, 10, 10}), CaptureTime: 7.2},
	})
	if err != nil {
		t.Fatal(err)
	}

	raw, _ := msg.Bytes()
	parsed, _ := ParseMessage(raw)
	data, err := parsed.GetDetectionsData()
	if err != nil {
		t.Fatal(err)
	}
	dets := data.Stamped()
	if dets[0].CaptureTime != 7.5 || dets[1].CaptureTime != 7.2 {
		t.Errorf("stamps: %v, %v", dets[0].CaptureTime, dets[1].CaptureTime)
	}
	if !dets[0].Box.Valid() {
		t.Error("box lost in transit")
	}
}

func TestPingPongMessage(t *testing.T) {
	ping, err := NewPingMessage("abc")
	if err != nil {
		t.Fatal(err)
	}
	pd, err := ping.GetPingData()
	if err != nil || pd.ID != "abc" {
		t.Errorf("ping: %+v, %v", pd, err)
	}

	pong, _ := NewPongMessage("abc", 100, 145)
	var data PongData
	if err := pong.ParseData(&data); err != nil {
		t.Fatal(err)
	}
	if data.LatencyMs != 45 {
		t.Errorf("latency: got %d, want 45", data.LatencyMs)
	}
}

func TestParseInvalidMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name:    "invalid json",
			input:   "not json",
			wantErr: true,
		},
		{
			name:    "missing type",
			input:   "{}",
			wantErr: true,
		},
		{
			name:    "valid message",
			input:   `{"type":"ping","ts":1234567890}`,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessage([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMessageJSON(t *testing.T) {
	msg, _ := NewViewMessage(2, 10, -5, "panning")
	bytes, _ := msg.Bytes()

	var parsed map[string]interface{}
	if err := json.Unmarshal(bytes, &parsed); err != nil {
		t.Fatalf("Failed to unmarshal as map: %v", err)
	}
	if parsed["type"] != "view" {
		t.Errorf("type = %v, want view", parsed["type"])
	}
	if _, ok := parsed["ts"]; !ok {
		t.Error("ts field should be present")
	}
	data, ok := parsed["data"].(map[string]interface{})
	if !ok || data["mode"] != "panning" || data["offset_y"] != -5.0 {
		t.Errorf("data = %v", parsed["data"])
	}
}

func BenchmarkNewFrameMessage(b *testing.B) {
	jpegData := make([]byte, 100*1024)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		NewFrameMessage(1920, 1080, "jpeg", jpegData, uint64(i), 0)
	}
}

func BenchmarkParseMessage(b *testing.B) {
	msg, _ := NewFrameMessage(1920, 1080, "jpeg", make([]byte, 100*1024), 1, 0)
	bytes, _ := msg.Bytes()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ParseMessage(bytes)
	}
}
