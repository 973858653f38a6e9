// Package render composites a media frame, its annotations and the solved
// label layout onto an RGBA surface.
//
// Everything is drawn in backing-surface pixels. Media-space geometry is
// mapped through a single geometry.Camera so the frame, overlays and
// labels move together under pan and zoom.
package render

import (
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"math"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"

	"github.com/teslashibe/go-overlay/pkg/annotation"
	"github.com/teslashibe/go-overlay/pkg/geometry"
	"github.com/teslashibe/go-overlay/pkg/layout"
)

// ErrNoFont is returned when the embedded font cannot be loaded.
var ErrNoFont = errors.New("render: font unavailable")

// minTextPx is the smallest on-screen font size worth rasterizing.
const minTextPx = 4

// Config controls the look of a composited frame.
type Config struct {
	GridSpacing float64 `json:"grid_spacing" yaml:"grid_spacing"` // native pixels between grid lines; 0 disables
	GridOpacity float64 `json:"grid_opacity" yaml:"grid_opacity"` // 0..1
	FontSize    float64 `json:"font_size" yaml:"font_size"`       // label text size in media pixels
	LineWidth   float64 `json:"line_width" yaml:"line_width"`     // base stroke width in screen pixels
}

// DefaultConfig returns the standard overlay style.
func DefaultConfig() Config {
	return Config{
		GridSpacing: 100,
		GridOpacity: 0.08,
		FontSize:    13,
		LineWidth:   2,
	}
}

// Validate returns a list of problems, or nil if the config is usable.
func (c Config) Validate() []string {
	var errs []string
	if c.GridSpacing < 0 {
		errs = append(errs, "render grid_spacing must not be negative")
	}
	if c.GridOpacity < 0 || c.GridOpacity > 1 {
		errs = append(errs, "render grid_opacity must be within [0, 1]")
	}
	if !(c.FontSize > 0) {
		errs = append(errs, "render font_size must be positive")
	}
	if !(c.LineWidth > 0) {
		errs = append(errs, "render line_width must be positive")
	}
	return errs
}

// Palette
var (
	Background  = color.RGBA{18, 18, 22, 255}
	LiveColor   = color.RGBA{57, 255, 20, 255}
	LiveText    = color.RGBA{0, 0, 0, 255}
	DetailFill  = color.RGBA{255, 255, 255, 255}
	DetailText  = color.RGBA{30, 30, 30, 255}
	HeaderText  = color.RGBA{255, 255, 255, 255}
	StatusColor = color.RGBA{170, 170, 180, 255}

	accents = []color.RGBA{
		{0, 168, 255, 255},
		{255, 94, 58, 255},
		{255, 196, 0, 255},
		{186, 85, 255, 255},
		{0, 200, 150, 255},
		{255, 64, 160, 255},
	}
)

// Accent returns the stable accent color for an entity id.
func Accent(id string) color.RGBA {
	h := fnv.New32a()
	h.Write([]byte(id))
	return accents[h.Sum32()%uint32(len(accents))]
}

// Scene is everything needed to composite one frame.
type Scene struct {
	Camera geometry.Camera

	// Frame is the current media frame; nil draws the placeholder.
	Frame  image.Image
	Status string // placeholder text

	Live       []annotation.LiveDetection
	Entities   []annotation.Entity
	Labels     []layout.Label
	Connectors []layout.Polyline
	Padding    float64 // label padding in media pixels
}

// Renderer draws scenes. Measurement is safe for concurrent use; Render
// calls are serialized.
type Renderer struct {
	cfg  Config
	font *opentype.Font

	renderMu sync.Mutex

	mu    sync.Mutex
	faces map[int]font.Face // keyed by quarter-pixel size
	base  font.Face

	lineHeight float64
}

// New parses the embedded Go Regular font and creates a renderer.
func New(cfg Config) (*Renderer, error) {
	def := DefaultConfig()
	if !(cfg.FontSize > 0) {
		cfg.FontSize = def.FontSize
	}
	if !(cfg.LineWidth > 0) {
		cfg.LineWidth = def.LineWidth
	}

	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoFont, err)
	}
	r := &Renderer{cfg: cfg, font: f, faces: make(map[int]font.Face)}

	r.base, err = r.face(cfg.FontSize)
	if err != nil {
		return nil, err
	}
	r.lineHeight = float64(r.base.Metrics().Height) / 64
	return r, nil
}

// Config returns the active configuration.
func (r *Renderer) Config() Config { return r.cfg }

// MeasureString returns the advance width of s in media pixels.
func (r *Renderer) MeasureString(s string) float64 { return r.measure(r.base, s) }

func (r *Renderer) measure(face font.Face, s string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return float64(font.MeasureString(face, s)) / 64
}

// LineHeight returns the label line spacing in media pixels.
func (r *Renderer) LineHeight() float64 { return r.lineHeight }

var _ layout.Measurer = (*Renderer)(nil)

func (r *Renderer) face(px float64) (font.Face, error) {
	key := int(math.Round(px * 4))
	if key < 1 {
		key = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.faces[key]; ok {
		return f, nil
	}
	f, err := opentype.NewFace(r.font, &opentype.FaceOptions{
		Size:    float64(key) / 4,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoFont, err)
	}
	r.faces[key] = f
	return f, nil
}

// Render composites s into dst and returns it. dst is reallocated when it
// is nil or its size no longer matches the camera's backing size.
func (r *Renderer) Render(dst *image.RGBA, s Scene) *image.RGBA {
	r.renderMu.Lock()
	defer r.renderMu.Unlock()

	w, h := s.Camera.BackingSize()
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	if dst == nil || dst.Bounds().Dx() != w || dst.Bounds().Dy() != h {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	draw.Draw(dst, dst.Bounds(), image.NewUniform(Background), image.Point{}, draw.Src)

	if s.Frame == nil || s.Camera.Media.Empty() {
		r.placeholder(dst, s.Status)
		return dst
	}

	r.drawFrame(dst, s.Camera, s.Frame)
	r.drawGrid(dst, s.Camera)

	if len(s.Live) > 0 {
		r.drawLive(dst, s.Camera, s.Live)
	} else {
		for _, e := range s.Entities {
			r.drawEntity(dst, s.Camera, e)
		}
	}

	for i, l := range s.Labels {
		c := Accent(l.EntityID)
		if i < len(s.Connectors) {
			r.drawConnector(dst, s.Camera, s.Connectors[i], c)
		}
		r.drawLabel(dst, s.Camera, l, s.Padding, c)
	}
	return dst
}

func (r *Renderer) placeholder(dst *image.RGBA, status string) {
	if status == "" {
		status = "waiting for media"
	}
	b := dst.Bounds()
	width := r.measure(r.base, status)

	x := float64(b.Dx())/2 - width/2
	y := float64(b.Dy())/2 + r.lineHeight/4
	r.text(dst, r.base, geometry.Point{X: x, Y: y}, status, StatusColor)
}

// drawFrame maps the native frame onto the surface through the camera.
func (r *Renderer) drawFrame(dst *image.RGBA, cam geometry.Camera, frame image.Image) {
	k := cam.PixelScale()
	o := cam.ToScreen(geometry.Point{})
	sb := frame.Bounds()

	m := f64.Aff3{
		k, 0, o.X - k*float64(sb.Min.X),
		0, k, o.Y - k*float64(sb.Min.Y),
	}
	draw.ApproxBiLinear.Transform(dst, m, frame, sb, draw.Over, nil)
}

func (r *Renderer) drawGrid(dst *image.RGBA, cam geometry.Camera) {
	step := r.cfg.GridSpacing
	if step <= 0 || r.cfg.GridOpacity <= 0 {
		return
	}
	a := uint8(math.Round(255 * r.cfg.GridOpacity))
	c := image.NewUniform(color.NRGBA{255, 255, 255, a})

	top := cam.ToScreen(geometry.Point{})
	bottom := cam.ToScreen(geometry.Point{X: cam.Media.W, Y: cam.Media.H})
	for x := step; x < cam.Media.W; x += step {
		sx := cam.ToScreen(geometry.Point{X: x}).X
		draw.Draw(dst, pixelRect(dst, sx, top.Y, sx+1, bottom.Y), c, image.Point{}, draw.Over)
	}
	for y := step; y < cam.Media.H; y += step {
		sy := cam.ToScreen(geometry.Point{Y: y}).Y
		draw.Draw(dst, pixelRect(dst, top.X, sy, bottom.X, sy+1), c, image.Point{}, draw.Over)
	}
}

// drawLive outlines live detections with a constant screen-space stroke and
// a filled caption strip.
func (r *Renderer) drawLive(dst *image.RGBA, cam geometry.Camera, dets []annotation.LiveDetection) {
	ratio := cam.PixelRatio
	if ratio <= 0 {
		ratio = 1
	}
	lw := math.Max(1, r.cfg.LineWidth*ratio/2)

	for _, d := range dets {
		if !d.Box.Valid() {
			continue
		}
		box := cam.RectToScreen(geometry.RectToMedia(d.Box.Rect(), cam.Media))
		strokeRect(dst, box, lw, LiveColor)

		face, err := r.face(r.cfg.FontSize * ratio)
		if err != nil {
			continue
		}
		caption := annotation.LiveCaption(d)
		tw := r.measure(face, caption)
		th := float64(face.Metrics().Height) / 64
		strip := geometry.Rect{X: box.X, Y: box.Y - th - 2*lw, W: tw + 4*lw, H: th + 2*lw}
		fillRect(dst, strip, LiveColor)
		r.text(dst, face, geometry.Point{X: strip.X + 2*lw, Y: strip.Y + lw + float64(face.Metrics().Ascent)/64}, caption, LiveText)
	}
}

// drawEntity strokes the bounding box with heavier corner accents and the
// trajectory as a dashed polyline.
func (r *Renderer) drawEntity(dst *image.RGBA, cam geometry.Camera, e annotation.Entity) {
	if !e.Drawable() {
		return
	}
	c := Accent(e.ID)
	k := cam.PixelScale()
	lw := math.Max(1, r.cfg.LineWidth*k/2)

	box := cam.RectToScreen(geometry.RectToMedia(e.Box.Rect(), cam.Media))
	strokeRect(dst, box, lw, withAlpha(c, 160))

	corner := math.Min(math.Min(box.W, box.H)/4, 24*k)
	cw := lw * 2
	for _, p := range [...]struct{ x, y, dx, dy float64 }{
		{box.X, box.Y, 1, 1},
		{box.X + box.W, box.Y, -1, 1},
		{box.X, box.Y + box.H, 1, -1},
		{box.X + box.W, box.Y + box.H, -1, -1},
	} {
		fillRect(dst, spanRect(p.x, p.y, p.x+p.dx*corner, p.y+p.dy*cw), c)
		fillRect(dst, spanRect(p.x, p.y, p.x+p.dx*cw, p.y+p.dy*corner), c)
	}

	if len(e.Trajectory) > 1 {
		pts := make([]geometry.Point, len(e.Trajectory))
		for i, p := range e.Trajectory {
			pts[i] = cam.ToScreen(geometry.ToMedia(p, cam.Media))
		}
		dashed(dst, pts, lw, 6*k, 4*k, c)
	}
}

func (r *Renderer) drawConnector(dst *image.RGBA, cam geometry.Camera, pl layout.Polyline, c color.RGBA) {
	lw := math.Max(1, r.cfg.LineWidth*cam.PixelScale()/2)
	for i := 1; i < len(pl); i++ {
		line(dst, cam.ToScreen(pl[i-1]), cam.ToScreen(pl[i]), lw, c)
	}
	a := cam.ToScreen(pl[0])
	fillRect(dst, geometry.Rect{X: a.X - 2*lw, Y: a.Y - 2*lw, W: 4 * lw, H: 4 * lw}, c)
}

// drawLabel fills the label box and lays its lines out top-down.
func (r *Renderer) drawLabel(dst *image.RGBA, cam geometry.Camera, l layout.Label, padding float64, accent color.RGBA) {
	k := cam.PixelScale()
	box := cam.RectToScreen(l.Rect())

	fill, ink := DetailFill, DetailText
	if l.Kind == layout.KindHeader {
		fill, ink = accent, HeaderText
	}
	fillRect(dst, box, fill)
	if l.Kind == layout.KindDetail {
		strokeRect(dst, box, math.Max(1, k), accent)
	}

	px := r.cfg.FontSize * k
	if px < minTextPx {
		return
	}
	face, err := r.face(px)
	if err != nil {
		return
	}
	ascent := float64(face.Metrics().Ascent) / 64
	step := r.lineHeight * k
	y := box.Y + padding*k + ascent
	for _, ln := range l.Lines {
		r.text(dst, face, geometry.Point{X: box.X + padding*k, Y: y}, ln, ink)
		y += step
	}
}

func (r *Renderer) text(dst *image.RGBA, face font.Face, at geometry.Point, s string, c color.Color) {
	if !at.Finite() || math.Abs(at.X) > 1e6 || math.Abs(at.Y) > 1e6 {
		return
	}
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.Int26_6(at.X * 64), Y: fixed.Int26_6(at.Y * 64)},
	}
	r.mu.Lock()
	d.DrawString(s)
	r.mu.Unlock()
}

func withAlpha(c color.RGBA, a uint8) color.NRGBA {
	return color.NRGBA{c.R, c.G, c.B, a}
}
