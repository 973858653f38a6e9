// Package detect runs OpenCV DNN detectors over media frames and reports
// live detections in normalized 0-1000 space.
package detect

import (
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/teslashibe/go-overlay/pkg/annotation"
	"github.com/teslashibe/go-overlay/pkg/geometry"
)

// Detector runs on one frame at a time.
type Detector interface {
	Detect(frame image.Image) ([]annotation.LiveDetection, error)
	Close() error
}

// New opens the detector named by cfg.Backend.
func New(cfg Config) (Detector, error) {
	switch cfg.Backend {
	case "yunet":
		d, err := NewYuNet(cfg)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "yolo":
		d, err := NewYOLO(cfg)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, fmt.Errorf("detect: unknown backend %q", cfg.Backend)
}

// Detection is a raw detector hit with a box normalized to 0-1.
type Detection struct {
	X, Y       float64 // top-left corner
	W, H       float64
	Confidence float64
	Label      string
}

// Center returns the center point of the detection
func (d Detection) Center() (x, y float64) {
	return d.X + d.W/2, d.Y + d.H/2
}

// Area returns the area of the bounding box
func (d Detection) Area() float64 {
	return d.W * d.H
}

// Live converts the detection to the overlay's live form. The box is
// clipped to the frame; a box with no area after clipping is invalid.
func (d Detection) Live() annotation.LiveDetection {
	scale := func(v float64) float64 {
		return geometry.Clamp(v*geometry.Extent, 0, geometry.Extent)
	}
	box := annotation.NewBox([]float64{
		scale(d.Y), scale(d.X), scale(d.Y + d.H), scale(d.X + d.W),
	})
	return annotation.LiveDetection{
		Label:      d.Label,
		Box:        box,
		Confidence: math.Round(d.Confidence*1000) / 1000,
	}
}

// Config holds detector configuration
type Config struct {
	Backend          string   `yaml:"backend"`    // "yunet" or "yolo"
	ModelPath        string   `yaml:"model_path"` // Path to ONNX model
	ConfidenceThresh float64  `yaml:"confidence"` // Minimum confidence
	NMSThresh        float64  `yaml:"nms"`
	InputWidth       int      `yaml:"input_width"`
	InputHeight      int      `yaml:"input_height"`
	Classes          []string `yaml:"classes"` // keep only these labels; empty keeps all
}

// DefaultConfig returns production defaults for YuNet
func DefaultConfig() Config {
	return Config{
		Backend:          "yunet",
		ModelPath:        "models/face_detection_yunet.onnx",
		ConfidenceThresh: 0.5,
		NMSThresh:        0.3,
		InputWidth:       320,
		InputHeight:      320,
	}
}

// DefaultYOLOConfig returns production defaults for YOLOv8n
func DefaultYOLOConfig() Config {
	return Config{
		Backend:          "yolo",
		ModelPath:        "models/yolov8n.onnx",
		ConfidenceThresh: 0.5,
		NMSThresh:        0.45,
		InputWidth:       640,
		InputHeight:      640,
	}
}

// Validate returns a list of problems, or nil if the config is usable.
func (c Config) Validate() []string {
	var errs []string
	switch c.Backend {
	case "yunet", "yolo":
	default:
		errs = append(errs, "detector backend must be yunet or yolo")
	}
	if c.ModelPath == "" {
		errs = append(errs, "detector model_path is required")
	}
	if c.ConfidenceThresh < 0 || c.ConfidenceThresh > 1 {
		errs = append(errs, "detector confidence must be within [0, 1]")
	}
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		errs = append(errs, "detector input size must be positive")
	}
	return errs
}

// keep reports whether a label passes the class filter.
func (c Config) keep(label string) bool {
	if len(c.Classes) == 0 {
		return true
	}
	for _, cl := range c.Classes {
		if strings.EqualFold(cl, label) {
			return true
		}
	}
	return false
}

// toLive filters and converts raw detections.
func toLive(cfg Config, dets []Detection) []annotation.LiveDetection {
	out := make([]annotation.LiveDetection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence < cfg.ConfidenceThresh || !cfg.keep(d.Label) {
			continue
		}
		if ld := d.Live(); ld.Box.Valid() {
			out = append(out, ld)
		}
	}
	return out
}
