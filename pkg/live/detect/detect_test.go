package detect

import (
	"testing"
)

func TestDetection_Live(t *testing.T) {
	tests := []struct {
		name      string
		det       Detection
		wantValid bool
		want      []float64
	}{
		{
			name:      "inside frame",
			det:       Detection{X: 0.1, Y: 0.2, W: 0.3, H: 0.4, Confidence: 0.91234, Label: "cat"},
			wantValid: true,
			want:      []float64{200, 100, 600, 400},
		},
		{
			name:      "clipped at right edge",
			det:       Detection{X: 0.8, Y: 0, W: 0.5, H: 0.5, Confidence: 0.9},
			wantValid: true,
			want:      []float64{0, 800, 500, 1000},
		},
		{
			name: "entirely outside",
			det:  Detection{X: 1.2, Y: 0.1, W: 0.2, H: 0.2, Confidence: 0.9},
		},
		{
			name: "zero area",
			det:  Detection{X: 0.5, Y: 0.5, Confidence: 0.9},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ld := tt.det.Live()
			if ld.Box.Valid() != tt.wantValid {
				t.Fatalf("valid = %v, want %v (box %+v)", ld.Box.Valid(), tt.wantValid, ld.Box)
			}
			if !tt.wantValid {
				return
			}
			got := ld.Box.Slice()
			for i := range got {
				if diff := got[i] - tt.want[i]; diff > 1e-9 || diff < -1e-9 {
					t.Errorf("box = %v, want %v", got, tt.want)
					break
				}
			}
			if ld.Label != tt.det.Label {
				t.Errorf("label = %q", ld.Label)
			}
		})
	}
}

func TestDetection_LiveRoundsConfidence(t *testing.T) {
	ld := Detection{X: 0, Y: 0, W: 0.5, H: 0.5, Confidence: 0.91264}.Live()
	if ld.Confidence != 0.913 {
		t.Errorf("confidence = %v, want 0.913", ld.Confidence)
	}
}

func TestDetection_Center(t *testing.T) {
	d := Detection{X: 0.25, Y: 0.25, W: 0.5, H: 0.5}
	x, y := d.Center()
	if x != 0.5 || y != 0.5 {
		t.Errorf("Center() = (%v, %v), want (0.5, 0.5)", x, y)
	}
	if a := d.Area(); a != 0.25 {
		t.Errorf("Area() = %v, want 0.25", a)
	}
}

func TestToLive(t *testing.T) {
	cfg := DefaultYOLOConfig()
	cfg.Classes = []string{"Person", "dog"}

	dets := []Detection{
		{X: 0.1, Y: 0.1, W: 0.2, H: 0.2, Confidence: 0.9, Label: "person"},
		{X: 0.1, Y: 0.1, W: 0.2, H: 0.2, Confidence: 0.3, Label: "dog"},
		{X: 0.1, Y: 0.1, W: 0.2, H: 0.2, Confidence: 0.9, Label: "car"},
		{X: 2, Y: 2, W: 0.2, H: 0.2, Confidence: 0.9, Label: "dog"},
	}

	got := toLive(cfg, dets)
	if len(got) != 1 || got[0].Label != "person" {
		t.Errorf("toLive() = %+v, want only the person", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	if errs := DefaultConfig().Validate(); len(errs) != 0 {
		t.Errorf("default yunet config invalid: %v", errs)
	}
	if errs := DefaultYOLOConfig().Validate(); len(errs) != 0 {
		t.Errorf("default yolo config invalid: %v", errs)
	}

	bad := Config{Backend: "haar", ConfidenceThresh: 2}
	if errs := bad.Validate(); len(errs) != 4 {
		t.Errorf("Validate() = %v, want 4 problems", errs)
	}
}

func TestClassName(t *testing.T) {
	tests := []struct {
		id   int
		want string
	}{
		{0, "person"},
		{16, "dog"},
		{79, "toothbrush"},
		{80, "object"},
		{-1, "object"},
	}
	for _, tt := range tests {
		if got := ClassName(tt.id); got != tt.want {
			t.Errorf("ClassName(%d) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown backend", Config{Backend: "haar", ModelPath: "x.onnx"}},
		{"missing yunet model", Config{Backend: "yunet", ModelPath: "/nonexistent/yunet.onnx"}},
		{"missing yolo model", Config{Backend: "yolo", ModelPath: "/nonexistent/yolo.onnx"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.cfg)
			if err == nil || d != nil {
				t.Errorf("New() = %v, %v; want nil detector and an error", d, err)
			}
		})
	}
}
