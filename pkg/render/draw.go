package render

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"

	"github.com/teslashibe/go-overlay/pkg/geometry"
)

// pixelRect converts float corners to an integer rectangle clipped to dst.
func pixelRect(dst *image.RGBA, x0, y0, x1, y1 float64) image.Rectangle {
	b := dst.Bounds()
	clip := func(v float64, lo, hi int) int {
		if math.IsNaN(v) {
			return lo
		}
		return int(geometry.Clamp(v, float64(lo), float64(hi)))
	}
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	return image.Rect(
		clip(math.Floor(x0), b.Min.X, b.Max.X),
		clip(math.Floor(y0), b.Min.Y, b.Max.Y),
		clip(math.Ceil(x1), b.Min.X, b.Max.X),
		clip(math.Ceil(y1), b.Min.Y, b.Max.Y),
	)
}

// spanRect builds a rect from two corners in any order.
func spanRect(x0, y0, x1, y1 float64) geometry.Rect {
	return geometry.RectFromCorners(geometry.Point{X: x0, Y: y0}, geometry.Point{X: x1, Y: y1})
}

func fillRect(dst *image.RGBA, r geometry.Rect, c color.Color) {
	pr := pixelRect(dst, r.X, r.Y, r.X+r.W, r.Y+r.H)
	if pr.Empty() {
		return
	}
	draw.Draw(dst, pr, image.NewUniform(c), image.Point{}, draw.Over)
}

// strokeRect outlines r with a stroke of width w centered on its edges.
func strokeRect(dst *image.RGBA, r geometry.Rect, w float64, c color.Color) {
	h := w / 2
	fillRect(dst, spanRect(r.X-h, r.Y-h, r.X+r.W+h, r.Y+h), c)
	fillRect(dst, spanRect(r.X-h, r.Y+r.H-h, r.X+r.W+h, r.Y+r.H+h), c)
	fillRect(dst, spanRect(r.X-h, r.Y+h, r.X+h, r.Y+r.H-h), c)
	fillRect(dst, spanRect(r.X+r.W-h, r.Y+h, r.X+r.W+h, r.Y+r.H-h), c)
}

// line draws a segment of width w. Axis-aligned segments are filled as a
// single rect; others are stamped along their length after clipping.
func line(dst *image.RGBA, a, b geometry.Point, w float64, c color.Color) {
	h := w / 2
	if a.X == b.X || a.Y == b.Y {
		fillRect(dst, spanRect(math.Min(a.X, b.X)-h, math.Min(a.Y, b.Y)-h, math.Max(a.X, b.X)+h, math.Max(a.Y, b.Y)+h), c)
		return
	}

	bounds := dst.Bounds()
	a, b, ok := clipSegment(a, b, geometry.Rect{
		X: float64(bounds.Min.X) - w, Y: float64(bounds.Min.Y) - w,
		W: float64(bounds.Dx()) + 2*w, H: float64(bounds.Dy()) + 2*w,
	})
	if !ok {
		return
	}

	steps := math.Ceil(math.Max(math.Abs(b.X-a.X), math.Abs(b.Y-a.Y)))
	if steps < 1 {
		steps = 1
	}
	u := image.NewUniform(c)
	for i := 0.0; i <= steps; i++ {
		t := i / steps
		x := a.X + (b.X-a.X)*t
		y := a.Y + (b.Y-a.Y)*t
		pr := pixelRect(dst, x-h, y-h, x+h, y+h)
		if !pr.Empty() {
			draw.Draw(dst, pr, u, image.Point{}, draw.Src)
		}
	}
}

// dashed draws a polyline with an on/off dash pattern carried across
// vertices.
func dashed(dst *image.RGBA, pts []geometry.Point, w, on, off float64, c color.Color) {
	if on <= 0 || off <= 0 {
		for i := 1; i < len(pts); i++ {
			line(dst, pts[i-1], pts[i], w, c)
		}
		return
	}

	drawing := true
	remain := on
	for i := 1; i < len(pts); i++ {
		a, b := pts[i-1], pts[i]
		seg := a.Dist(b)
		if seg == 0 || math.IsNaN(seg) || math.IsInf(seg, 0) {
			continue
		}
		dir := geometry.Point{X: (b.X - a.X) / seg, Y: (b.Y - a.Y) / seg}
		pos := 0.0
		for pos < seg {
			n := math.Min(remain, seg-pos)
			if drawing {
				p0 := geometry.Point{X: a.X + dir.X*pos, Y: a.Y + dir.Y*pos}
				p1 := geometry.Point{X: a.X + dir.X*(pos+n), Y: a.Y + dir.Y*(pos+n)}
				line(dst, p0, p1, w, c)
			}
			pos += n
			remain -= n
			if remain <= 0 {
				drawing = !drawing
				if drawing {
					remain = on
				} else {
					remain = off
				}
			}
		}
	}
}

// clipSegment clips ab to r (Liang-Barsky).
func clipSegment(a, b geometry.Point, r geometry.Rect) (geometry.Point, geometry.Point, bool) {
	dx, dy := b.X-a.X, b.Y-a.Y
	t0, t1 := 0.0, 1.0
	edges := [4][2]float64{
		{-dx, a.X - r.X},
		{dx, r.X + r.W - a.X},
		{-dy, a.Y - r.Y},
		{dy, r.Y + r.H - a.Y},
	}
	for _, e := range edges {
		p, q := e[0], e[1]
		if p == 0 {
			if q < 0 {
				return a, b, false
			}
			continue
		}
		t := q / p
		if p < 0 {
			if t > t1 {
				return a, b, false
			}
			if t > t0 {
				t0 = t
			}
		} else {
			if t < t0 {
				return a, b, false
			}
			if t < t1 {
				t1 = t
			}
		}
	}
	return geometry.Point{X: a.X + t0*dx, Y: a.Y + t0*dy},
		geometry.Point{X: a.X + t1*dx, Y: a.Y + t1*dy}, true
}
