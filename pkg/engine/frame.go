package engine

import (
	"errors"
	"image"

	"github.com/teslashibe/go-overlay/pkg/annotation"
	"github.com/teslashibe/go-overlay/pkg/geometry"
	"github.com/teslashibe/go-overlay/pkg/layout"
	"github.com/teslashibe/go-overlay/pkg/media"
	"github.com/teslashibe/go-overlay/pkg/render"
	"github.com/teslashibe/go-overlay/pkg/visibility"
)

// frameInputs is the state read once at the start of a frame.
type frameInputs struct {
	sampler media.Sampler
	live    LiveSource
	result  *annotation.Result
	gen     uint64
	level   int
	display geometry.Size
	ratio   float64
}

func (e *Engine) inputs() frameInputs {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return frameInputs{
		sampler: e.sampler,
		live:    e.live,
		result:  e.result,
		gen:     e.gen,
		level:   e.level,
		display: e.display,
		ratio:   e.pixelRatio(),
	}
}

// RenderFrame composites one frame and returns its description. A sampler
// that is not ready yields a placeholder frame.
func (e *Engine) RenderFrame() FrameInfo {
	in := e.inputs()

	e.renderMu.Lock()
	defer e.renderMu.Unlock()

	frame, err := in.sampler.Frame()
	info := FrameInfo{Time: in.sampler.PlaybackTime()}
	mediaSize := in.sampler.Size()

	canvas := in.display
	if canvas.Empty() {
		canvas = e.defaultCanvas(mediaSize)
	}
	vs := e.view.State()
	cam := geometry.Camera{
		Canvas:     canvas,
		Media:      mediaSize,
		Scale:      vs.Scale,
		Offset:     vs.Offset,
		PixelRatio: in.ratio,
	}
	e.camera = cam

	if err != nil || mediaSize.Empty() {
		status := "waiting for media"
		if errors.Is(err, media.ErrClosed) {
			status = "media closed"
		}
		if err != nil && !errors.Is(err, media.ErrNotReady) {
			e.logger.Debug("frame unavailable", "error", err)
		}
		if canvas.Empty() {
			cam.Canvas = geometry.Size{W: 640, H: 360}
			e.camera = cam
		}
		e.surface = e.renderer.Render(e.surface, render.Scene{Camera: cam, Status: status})
		e.shown, e.labels = nil, nil
		info.Placeholder = true
		e.stats.placeholders.Add(1)
		return e.finish(info)
	}

	var entities []annotation.Entity
	if in.result != nil {
		entities = e.filter.Visible(in.result.Entities, info.Time, in.sampler.Source())
	}
	entities = visibility.ApplyDetailLevel(entities, in.level)

	var live []annotation.LiveDetection
	if in.live != nil {
		live = e.filter.Live(in.live.Latest(), info.Time)
	}

	entry := e.layoutFor(entities, in, mediaSize)
	info.CacheHit = entry.fromCache
	info.Passes = entry.stats.Passes
	info.Converged = entry.stats.Converged

	e.surface = e.renderer.Render(e.surface, render.Scene{
		Camera:     cam,
		Frame:      frame,
		Live:       live,
		Entities:   entities,
		Labels:     entry.labels,
		Connectors: entry.connectors,
		Padding:    e.solver.Config().Padding,
	})
	e.shown, e.labels = entities, entry.labels

	info.Visible = len(entities)
	info.Live = len(live)
	info.Labels = len(entry.labels)
	return e.finish(info)
}

// defaultCanvas fits the media and both label bands at scale 1.
func (e *Engine) defaultCanvas(media geometry.Size) geometry.Size {
	if media.Empty() {
		return media
	}
	return geometry.Size{W: media.W + 2*e.solver.Config().Margin, H: media.H}
}

func (e *Engine) finish(info FrameInfo) FrameInfo {
	e.last = info
	e.stats.frames.Add(1)
	return info
}

type solvedLayout struct {
	*layoutEntry
	fromCache bool
}

// layoutFor returns the solved labels for the visible set, reusing the
// previous solve when nothing that affects placement has changed.
func (e *Engine) layoutFor(entities []annotation.Entity, in frameInputs, mediaSize geometry.Size) solvedLayout {
	key := layoutKey{gen: in.gen, level: in.level, media: mediaSize, ids: entityKey(entities)}
	if e.cache != nil && e.cache.key == key {
		e.stats.cacheHits.Add(1)
		return solvedLayout{layoutEntry: e.cache, fromCache: true}
	}

	cfg := e.solver.Config()
	labels := layout.Build(entities, mediaSize, e.renderer, cfg)
	stats := e.solver.Solve(labels, mediaSize)
	entry := &layoutEntry{
		key:        key,
		labels:     labels,
		connectors: layout.RouteAll(labels, mediaSize, cfg),
		stats:      stats,
	}
	e.cache = entry

	e.stats.solves.Add(1)
	e.stats.passes.Add(uint64(stats.Passes))
	if stats.Exhausted() {
		e.stats.exhausted.Add(1)
		e.logger.Debug("layout budget exhausted", "labels", len(labels), "passes", stats.Passes)
	}
	return solvedLayout{layoutEntry: entry}
}

// Snapshot returns a copy of the most recent composited frame.
func (e *Engine) Snapshot() (*image.RGBA, error) {
	e.renderMu.Lock()
	defer e.renderMu.Unlock()
	if e.surface == nil {
		return nil, ErrNoFrame
	}
	out := image.NewRGBA(e.surface.Bounds())
	copy(out.Pix, e.surface.Pix)
	return out, nil
}

// Hit is the result of a hit test.
type Hit struct {
	EntityID string            `json:"entity_id"`
	Label    string            `json:"label"`
	Kind     string            `json:"kind"` // "label" or "box"
	Entity   annotation.Entity `json:"-"`
}

// HitTest finds what lies under a pointer position in CSS pixels on the
// last rendered frame. Labels are drawn above boxes and are tested first.
func (e *Engine) HitTest(p geometry.Point) (Hit, bool) {
	e.renderMu.Lock()
	defer e.renderMu.Unlock()

	cam := e.camera
	if cam.Media.Empty() {
		return Hit{}, false
	}
	m := cam.CSSToMedia(p)

	byID := func(id string) (annotation.Entity, bool) {
		for _, en := range e.shown {
			if en.ID == id {
				return en, true
			}
		}
		return annotation.Entity{}, false
	}

	for i := len(e.labels) - 1; i >= 0; i-- {
		l := e.labels[i]
		if l.Rect().Contains(m) {
			en, _ := byID(l.EntityID)
			return Hit{EntityID: l.EntityID, Label: en.Label, Kind: "label", Entity: en}, true
		}
	}

	n := geometry.ToNormalized(m, cam.Media)
	for i := len(e.shown) - 1; i >= 0; i-- {
		en := e.shown[i]
		if en.Drawable() && en.Box.Rect().Contains(n) {
			return Hit{EntityID: en.ID, Label: en.Label, Kind: "box", Entity: en}, true
		}
	}
	return Hit{}, false
}
