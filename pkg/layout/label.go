// Package layout places annotation labels in the lateral margin bands beside
// the media and routes connector lines from each anchor to its label.
//
// Labels are pinned to one of two vertical channels (left or right of the
// media), which reduces placement to two independent 1D problems along the
// vertical axis. Everything in this package works in media space.
package layout

import (
	"strconv"
	"strings"

	"github.com/teslashibe/go-overlay/pkg/annotation"
	"github.com/teslashibe/go-overlay/pkg/geometry"
)

// Side is the margin band a label is pinned to.
type Side int

const (
	SideLeft Side = iota
	SideRight
)

func (s Side) String() string {
	if s == SideRight {
		return "right"
	}
	return "left"
}

// Kind distinguishes entity header labels from detail labels.
type Kind int

const (
	KindHeader Kind = iota
	KindDetail
)

// Measurer reports text extents in media-space units.
type Measurer interface {
	// MeasureString returns the advance width of s.
	MeasureString(s string) float64
	// LineHeight returns the distance between consecutive baselines.
	LineHeight() float64
}

// Label is one placed call-out. Anchor, Size and Side are fixed when the
// label is built; only Target is moved by the Solver.
type Label struct {
	Key      string // stable identity: entity id, or id/detail-index
	EntityID string
	Kind     Kind
	Lines    []string

	Anchor geometry.Point // on the media
	Target geometry.Point // label center, inside the margin band
	Size   geometry.Size
	Side   Side
}

// Rect returns the label's current bounds.
func (l Label) Rect() geometry.Rect {
	return geometry.Rect{
		X: l.Target.X - l.Size.W/2,
		Y: l.Target.Y - l.Size.H/2,
		W: l.Size.W,
		H: l.Size.H,
	}
}

// NearEdgeX is the x of the label edge facing the media.
func (l Label) NearEdgeX() float64 {
	if l.Side == SideLeft {
		return l.Target.X + l.Size.W/2
	}
	return l.Target.X - l.Size.W/2
}

// SideFor assigns the band by which half of the media the point falls in.
func SideFor(p geometry.Point, media geometry.Size) Side {
	if p.X < media.W/2 {
		return SideLeft
	}
	return SideRight
}

// Build derives one header label per drawable entity and one label per
// detail, in entity order. Entities with a zero-area box produce nothing.
// Targets start level with their anchors, clamped into the band.
func Build(entities []annotation.Entity, media geometry.Size, m Measurer, cfg Config) []Label {
	if media.Empty() {
		return nil
	}
	cfg = cfg.withDefaults()

	var labels []Label
	for _, e := range entities {
		if !e.Drawable() {
			continue
		}
		box := geometry.RectToMedia(e.Box.Rect(), media)
		side := SideFor(box.Center(), media)
		anchor := geometry.Point{X: box.X, Y: box.Center().Y}
		if side == SideRight {
			anchor.X = box.X + box.W
		}
		labels = append(labels, newLabel(e.ID, e.ID, KindHeader, annotation.HeaderLines(e), anchor, side, media, m, cfg))

		for i, d := range e.Details {
			p := geometry.ToMedia(d.Point, media)
			key := e.ID + "/" + strconv.Itoa(i)
			labels = append(labels, newLabel(key, e.ID, KindDetail, annotation.DetailLines(d), p, SideFor(p, media), media, m, cfg))
		}
	}
	return labels
}

func newLabel(key, entityID string, kind Kind, text []string, anchor geometry.Point, side Side, media geometry.Size, m Measurer, cfg Config) Label {
	anchor.X = geometry.Clamp(anchor.X, 0, media.W)
	anchor.Y = geometry.Clamp(anchor.Y, 0, media.H)

	maxText := cfg.MaxLabelWidth() - 2*cfg.Padding
	lines := wrap(text, maxText, m)

	var widest float64
	for _, ln := range lines {
		if w := m.MeasureString(ln); w > widest {
			widest = w
		}
	}
	size := geometry.Size{
		W: minf(widest+2*cfg.Padding, cfg.MaxLabelWidth()),
		H: float64(len(lines))*m.LineHeight() + 2*cfg.Padding,
	}

	l := Label{
		Key:      key,
		EntityID: entityID,
		Kind:     kind,
		Lines:    lines,
		Anchor:   anchor,
		Size:     size,
		Side:     side,
	}
	l.Target = geometry.Point{X: bandCenterX(side, size.W, media, cfg), Y: anchor.Y}
	l.Target.Y = clampToBand(l.Target.Y, size.H, media.H)
	return l
}

// bandCenterX places the label with its near edge one inset beyond the channel.
func bandCenterX(side Side, w float64, media geometry.Size, cfg Config) float64 {
	near := cfg.ChannelOffset + cfg.Inset
	if side == SideLeft {
		return -near - w/2
	}
	return media.W + near + w/2
}

// clampToBand shifts a center so the label lies flush within [0, bandH].
// Labels taller than the band sit flush with its top.
func clampToBand(y, h, bandH float64) float64 {
	if h >= bandH {
		return h / 2
	}
	return geometry.Clamp(y, h/2, bandH-h/2)
}

// wrap breaks each line on spaces so no line exceeds maxW. Words longer
// than maxW stay on their own line.
func wrap(lines []string, maxW float64, m Measurer) []string {
	var out []string
	for _, ln := range lines {
		words := strings.Fields(ln)
		if len(words) == 0 {
			continue
		}
		cur := words[0]
		for _, w := range words[1:] {
			next := cur + " " + w
			if m.MeasureString(next) > maxW {
				out = append(out, cur)
				cur = w
				continue
			}
			cur = next
		}
		out = append(out, cur)
	}
	if len(out) == 0 {
		out = []string{""}
	}
	return out
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
