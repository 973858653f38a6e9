package annotation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-overlay/pkg/geometry"
)

// ErrNoEntities is returned when a payload contains no entity list at all.
var ErrNoEntities = errors.New("annotation: no entities in payload")

// attributeOrder fixes where well-known classification fields appear in
// label text. Unknown fields follow in key order.
var attributeOrder = map[string]int{
	"speed":      0,
	"emotion":    1,
	"age":        2,
	"gender":     3,
	"confidence": 4,
}

// reserved keys are structural and never become attributes.
var reserved = map[string]bool{
	"id": true, "label": true, "name": true, "box": true, "box_2d": true,
	"timestamp": true, "time": true, "trajectory": true, "details": true,
}

type wirePayload struct {
	Summary  string            `json:"summary"`
	Entities []json.RawMessage `json:"entities"`
	Objects  []json.RawMessage `json:"objects"`
}

// ParseResult decodes an analysis payload into a sanitized Result.
//
// The payload is either {"entities": [...]} or a bare array, optionally
// wrapped in a markdown code fence. Each entity carries a "box_2d" (or
// "box") as [ymin, xmin, ymax, xmax] in 0-1000 space. Points are [y, x]
// pairs or {"x","y"} objects. Any other scalar field is kept as a
// classification attribute.
//
// Malformed elements are sanitized, never rejected: a bad box becomes the
// zero box, bad trajectory points and details are dropped. Entities without
// an id get a fresh UUID.
func ParseResult(data []byte) (*Result, error) {
	data = StripCodeFence(data)

	var raws []json.RawMessage
	trimmed := bytes.TrimSpace(data)
	var summary string
	switch {
	case len(trimmed) > 0 && trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, fmt.Errorf("decode entity list: %w", err)
		}
	default:
		var p wirePayload
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		raws = p.Entities
		if raws == nil {
			raws = p.Objects
		}
		if raws == nil {
			return nil, ErrNoEntities
		}
		summary = p.Summary
	}

	res := &Result{
		ID:        uuid.New().String(),
		Summary:   summary,
		Entities:  make([]Entity, 0, len(raws)),
		CreatedAt: time.Now(),
	}
	for _, raw := range raws {
		e, ok := decodeEntity(raw)
		if !ok {
			continue
		}
		res.Entities = append(res.Entities, e)
	}
	return res, nil
}

// StripCodeFence removes a surrounding ``` or ```json fence if present.
func StripCodeFence(data []byte) []byte {
	s := strings.TrimSpace(string(data))
	if !strings.HasPrefix(s, "```") {
		return []byte(s)
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return []byte(strings.TrimSpace(s))
}

func decodeEntity(raw json.RawMessage) (Entity, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Entity{}, false
	}

	e := Entity{
		ID:    stringField(fields, "id"),
		Label: stringField(fields, "label"),
	}
	if e.Label == "" {
		e.Label = stringField(fields, "name")
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	box := fields["box_2d"]
	if box == nil {
		box = fields["box"]
	}
	e.Box = NewBox(floatSlice(box))

	ts := fields["timestamp"]
	if ts == nil {
		ts = fields["time"]
	}
	if sec, ok := decodeTimestamp(ts); ok {
		e.Timestamp, e.Timed = sec, true
	}

	if rawTraj := fields["trajectory"]; rawTraj != nil {
		var pts []json.RawMessage
		if json.Unmarshal(rawTraj, &pts) == nil {
			for _, rp := range pts {
				if p, ok := decodePoint(rp); ok {
					e.Trajectory = append(e.Trajectory, p)
				}
			}
		}
	}

	if rawDetails := fields["details"]; rawDetails != nil {
		var ds []struct {
			Name        string          `json:"name"`
			Label       string          `json:"label"`
			Point       json.RawMessage `json:"point"`
			Description string          `json:"description"`
		}
		if json.Unmarshal(rawDetails, &ds) == nil {
			for _, d := range ds {
				p, ok := decodePoint(d.Point)
				if !ok {
					continue
				}
				name := d.Name
				if name == "" {
					name = d.Label
				}
				e.Details = append(e.Details, Detail{Name: name, Point: p, Description: d.Description})
			}
		}
	}

	for k, v := range fields {
		if reserved[k] {
			continue
		}
		if s, ok := scalarString(v); ok && s != "" {
			e.Attributes = append(e.Attributes, Attribute{Key: k, Value: s})
		}
	}
	sortAttributes(e.Attributes)

	return e, true
}

func sortAttributes(attrs []Attribute) {
	rank := func(k string) int {
		if r, ok := attributeOrder[k]; ok {
			return r
		}
		return len(attributeOrder)
	}
	sort.SliceStable(attrs, func(i, j int) bool {
		ri, rj := rank(attrs[i].Key), rank(attrs[j].Key)
		if ri != rj {
			return ri < rj
		}
		return attrs[i].Key < attrs[j].Key
	})
}

func stringField(fields map[string]json.RawMessage, key string) string {
	s, _ := scalarString(fields[key])
	return strings.TrimSpace(s)
}

// scalarString renders a JSON string, number or bool as text.
func scalarString(raw json.RawMessage) (string, bool) {
	if raw == nil {
		return "", false
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

func floatSlice(raw json.RawMessage) []float64 {
	if raw == nil {
		return nil
	}
	var v []float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

func decodeTimestamp(raw json.RawMessage) (float64, bool) {
	if raw == nil {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, n >= 0
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	sec, err := ParseTimestamp(s)
	return sec, err == nil
}

// decodePoint accepts [y, x] or {"x": .., "y": ..} in normalized space.
func decodePoint(raw json.RawMessage) (geometry.Point, bool) {
	if raw == nil {
		return geometry.Point{}, false
	}
	var p geometry.Point
	if v := floatSlice(raw); len(v) == 2 {
		p = geometry.Point{X: v[1], Y: v[0]}
	} else if err := json.Unmarshal(raw, &p); err != nil {
		return geometry.Point{}, false
	}
	if !p.Finite() || p.X < 0 || p.Y < 0 || p.X > geometry.Extent || p.Y > geometry.Extent {
		return geometry.Point{}, false
	}
	return p, true
}
