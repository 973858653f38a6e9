// Package annotation defines the entities the overlay engine draws: committed
// analysis results and ephemeral live detections.
//
// All coordinates are in normalized space (0-1000 on both axes). Entities are
// immutable once a Result is built; a new analysis replaces the whole set.
package annotation

import (
	"encoding/json"
	"math"
	"time"

	"github.com/teslashibe/go-overlay/pkg/geometry"
)

// Box is a bounding region in normalized space, stored in the
// [ymin, xmin, ymax, xmax] order used by the analysis service.
type Box struct {
	YMin float64 `json:"ymin"`
	XMin float64 `json:"xmin"`
	YMax float64 `json:"ymax"`
	XMax float64 `json:"xmax"`
}

// NewBox builds a box from a [ymin, xmin, ymax, xmax] slice.
// Missing, non-finite or out-of-range coordinates yield the zero box.
func NewBox(v []float64) Box {
	if len(v) != 4 {
		return Box{}
	}
	b := Box{YMin: v[0], XMin: v[1], YMax: v[2], XMax: v[3]}
	if !b.Valid() {
		return Box{}
	}
	return b
}

// Valid reports whether the box is inside normalized space with positive area.
func (b Box) Valid() bool {
	for _, v := range []float64{b.YMin, b.XMin, b.YMax, b.XMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > geometry.Extent {
			return false
		}
	}
	return b.XMax > b.XMin && b.YMax > b.YMin
}

// Empty reports whether the box has no drawable area.
func (b Box) Empty() bool { return !b.Valid() }

// Rect returns the box as a normalized-space rect.
func (b Box) Rect() geometry.Rect {
	return geometry.Rect{X: b.XMin, Y: b.YMin, W: b.XMax - b.XMin, H: b.YMax - b.YMin}
}

// Center returns the box center in normalized space.
func (b Box) Center() geometry.Point { return b.Rect().Center() }

// Slice returns the box in [ymin, xmin, ymax, xmax] order.
func (b Box) Slice() []float64 { return []float64{b.YMin, b.XMin, b.YMax, b.XMax} }

// MarshalJSON encodes the box as a [ymin, xmin, ymax, xmax] array.
func (b Box) MarshalJSON() ([]byte, error) { return json.Marshal(b.Slice()) }

// UnmarshalJSON accepts the array form or an object with named fields.
// Invalid coordinates decode to the zero box rather than failing.
func (b *Box) UnmarshalJSON(data []byte) error {
	var arr []float64
	if err := json.Unmarshal(data, &arr); err == nil {
		*b = NewBox(arr)
		return nil
	}
	type named Box
	var n named
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*b = NewBox(Box(n).Slice())
	return nil
}

// Detail is a point sub-annotation attached to an entity.
type Detail struct {
	Name        string         `json:"name"`
	Point       geometry.Point `json:"point"`
	Description string         `json:"description"`
}

// Attribute is an opaque classification field (speed, emotion, age, ...)
// consumed only for label text.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Entity is a detected or described subject from a completed analysis.
type Entity struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Box   Box    `json:"box"`

	// Timestamp is the video-relative time in seconds. Only meaningful
	// when Timed is true; untimed entities are scene-persistent.
	Timestamp float64 `json:"timestamp"`
	Timed     bool    `json:"timed"`

	Trajectory []geometry.Point `json:"trajectory,omitempty"`
	Details    []Detail         `json:"details,omitempty"`
	Attributes []Attribute      `json:"attributes,omitempty"`
}

// Attr returns the value of a classification field.
func (e Entity) Attr(key string) (string, bool) {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// MarshalJSON writes the entity in the analysis wire format ParseResult
// reads: "box_2d", a timestamp only when timed, and attributes as
// top-level fields.
func (e Entity) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, 6+len(e.Attributes))
	for _, a := range e.Attributes {
		m[a.Key] = a.Value
	}
	m["id"] = e.ID
	m["label"] = e.Label
	m["box_2d"] = e.Box
	if e.Timed {
		m["timestamp"] = e.Timestamp
	}
	if len(e.Trajectory) > 0 {
		m["trajectory"] = e.Trajectory
	}
	if len(e.Details) > 0 {
		m["details"] = e.Details
	}
	return json.Marshal(m)
}

// Drawable reports whether the entity has a usable box.
func (e Entity) Drawable() bool { return e.Box.Valid() }

// LiveDetection is a transient detection from a continuous stream. It is
// superseded by the next stream tick and never persisted.
type LiveDetection struct {
	Label      string  `json:"label"`
	Box        Box     `json:"box"`
	Confidence float64 `json:"confidence,omitempty"`

	// CaptureTime is the playback time, in seconds, of the frame the
	// detector ran on.
	CaptureTime float64 `json:"capture_ts"`
}

// Result is one completed analysis: the full entity set for a media item.
type Result struct {
	ID        string    `json:"id"`
	Summary   string    `json:"summary,omitempty"`
	Entities  []Entity  `json:"entities"`
	CreatedAt time.Time `json:"created_at"`
}

// Len returns the number of entities, tolerating a nil result.
func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Entities)
}
