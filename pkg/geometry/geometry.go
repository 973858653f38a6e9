// Package geometry maps points between the three coordinate spaces used by
// the overlay engine.
//
//   - Normalized space: a fixed 0-1000 square independent of resolution.
//     Analysis results and live detections are expressed here.
//   - Media space: pixels at the media's native resolution.
//   - Screen space: backing-surface pixels after the viewport transform.
//
// Every drawing and hit-testing path goes through Camera so the background
// frame, overlays and pointer input share one transform ordering.
package geometry

import "math"

// Extent is the side length of normalized space.
const Extent = 1000.0

// Point is a 2D point. The space it lives in depends on context.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns p+q.
func (p Point) Add(q Point) Point { return Point{p.X + q.X, p.Y + q.Y} }

// Sub returns p-q.
func (p Point) Sub(q Point) Point { return Point{p.X - q.X, p.Y - q.Y} }

// Dist returns the euclidean distance between p and q.
func (p Point) Dist(q Point) float64 { return math.Hypot(p.X-q.X, p.Y-q.Y) }

// Finite reports whether both coordinates are finite numbers.
func (p Point) Finite() bool { return finite(p.X) && finite(p.Y) }

// Size is a width/height pair.
type Size struct {
	W float64 `json:"width"`
	H float64 `json:"height"`
}

// Empty reports whether the size has no drawable area.
func (s Size) Empty() bool { return !(s.W > 0 && s.H > 0) }

// Center returns the center of a rectangle of this size anchored at the origin.
func (s Size) Center() Point { return Point{s.W / 2, s.H / 2} }

// Rect is an axis-aligned rectangle given by its minimum corner and size.
type Rect struct {
	X, Y, W, H float64
}

// RectFromCorners builds a rect from two opposite corners.
func RectFromCorners(a, b Point) Rect {
	x0, x1 := math.Min(a.X, b.X), math.Max(a.X, b.X)
	y0, y1 := math.Min(a.Y, b.Y), math.Max(a.Y, b.Y)
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// Empty reports whether the rect has zero or negative area.
func (r Rect) Empty() bool { return !(r.W > 0 && r.H > 0) }

// Min returns the top-left corner.
func (r Rect) Min() Point { return Point{r.X, r.Y} }

// Max returns the bottom-right corner.
func (r Rect) Max() Point { return Point{r.X + r.W, r.Y + r.H} }

// Center returns the center point of the rect.
func (r Rect) Center() Point { return Point{r.X + r.W/2, r.Y + r.H/2} }

// Contains checks if a point is inside the rect.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.W && p.Y >= r.Y && p.Y <= r.Y+r.H
}

// ToMedia maps a normalized point into media space.
func ToMedia(p Point, media Size) Point {
	return Point{X: p.X * media.W / Extent, Y: p.Y * media.H / Extent}
}

// ToNormalized maps a media point back into normalized space.
// A degenerate media size maps everything to the origin.
func ToNormalized(p Point, media Size) Point {
	if media.Empty() {
		return Point{}
	}
	return Point{X: p.X * Extent / media.W, Y: p.Y * Extent / media.H}
}

// RectToMedia maps a normalized rect into media space.
func RectToMedia(r Rect, media Size) Rect {
	return RectFromCorners(ToMedia(r.Min(), media), ToMedia(r.Max(), media))
}

// Camera is the viewport transform from media space to screen space.
//
// The media center is the scaling origin: a media point is re-centered on
// the media dimensions, scaled, offset by the pan, translated to the canvas
// center and finally multiplied by the device pixel ratio. The offset is
// applied after scaling, so a pan moves content by the same number of CSS
// pixels at every zoom level and tracks the pointer while dragging.
type Camera struct {
	Canvas     Size    // display size in CSS pixels
	Media      Size    // native media size
	Scale      float64 // zoom factor
	Offset     Point   // pan in CSS pixels
	PixelRatio float64 // backing pixels per CSS pixel; 0 means 1
}

func (c Camera) ratio() float64 {
	if c.PixelRatio > 0 {
		return c.PixelRatio
	}
	return 1
}

func (c Camera) scale() float64 {
	if c.Scale > 0 {
		return c.Scale
	}
	return 1
}

// BackingSize returns the backing surface size in device pixels.
func (c Camera) BackingSize() (int, int) {
	r := c.ratio()
	return int(math.Round(c.Canvas.W * r)), int(math.Round(c.Canvas.H * r))
}

// PixelScale is the number of backing pixels one media pixel covers.
func (c Camera) PixelScale() float64 { return c.scale() * c.ratio() }

// ToScreen maps a media point to backing-surface pixels.
func (c Camera) ToScreen(p Point) Point {
	s, r := c.scale(), c.ratio()
	mc, cc := c.Media.Center(), c.Canvas.Center()
	return Point{
		X: r * (cc.X + c.Offset.X + s*(p.X-mc.X)),
		Y: r * (cc.Y + c.Offset.Y + s*(p.Y-mc.Y)),
	}
}

// ToMedia maps a backing-surface pixel back to media space.
func (c Camera) ToMedia(p Point) Point {
	s, r := c.scale(), c.ratio()
	mc, cc := c.Media.Center(), c.Canvas.Center()
	return Point{
		X: (p.X/r-cc.X-c.Offset.X)/s + mc.X,
		Y: (p.Y/r-cc.Y-c.Offset.Y)/s + mc.Y,
	}
}

// CSSToMedia maps a pointer position in CSS pixels to media space.
func (c Camera) CSSToMedia(p Point) Point {
	r := c.ratio()
	return c.ToMedia(Point{p.X * r, p.Y * r})
}

// RectToScreen maps a media rect to screen space.
func (c Camera) RectToScreen(r Rect) Rect {
	return RectFromCorners(c.ToScreen(r.Min()), c.ToScreen(r.Max()))
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
