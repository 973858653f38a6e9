// Package engine runs the overlay render loop.
//
// Each frame flows one way: entities and playback time go through the
// visibility filter; the visible set is laid out and routed in media space;
// the renderer composites the frame through the camera built from the
// current view state. The loop renders continuously for video and on
// demand for still images, and is owned through a Handle that must be
// stopped on teardown.
package engine

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-overlay/internal/log"
	"github.com/teslashibe/go-overlay/pkg/annotation"
	"github.com/teslashibe/go-overlay/pkg/geometry"
	"github.com/teslashibe/go-overlay/pkg/layout"
	"github.com/teslashibe/go-overlay/pkg/media"
	"github.com/teslashibe/go-overlay/pkg/render"
	"github.com/teslashibe/go-overlay/pkg/viewport"
	"github.com/teslashibe/go-overlay/pkg/visibility"
)

var (
	// ErrRunning is returned by Start when a loop is already active.
	ErrRunning = errors.New("engine: render loop already running")
	// ErrNoFrame is returned by Snapshot before the first composite.
	ErrNoFrame = errors.New("engine: no frame rendered yet")
)

// Config holds render loop settings.
type Config struct {
	FPS        int               `json:"fps" yaml:"fps"`
	PixelRatio float64           `json:"pixel_ratio" yaml:"pixel_ratio"`
	Layout     layout.Config     `json:"layout" yaml:"layout"`
	Visibility visibility.Config `json:"visibility" yaml:"visibility"`
}

// DefaultConfig returns the standard loop settings.
func DefaultConfig() Config {
	return Config{
		FPS:        60,
		PixelRatio: 1,
		Layout:     layout.DefaultConfig(),
		Visibility: visibility.DefaultConfig(),
	}
}

// Validate returns a list of problems, or nil if the config is usable.
func (c Config) Validate() []string {
	var errs []string
	if c.FPS < 1 || c.FPS > 240 {
		errs = append(errs, "render fps must be within [1, 240]")
	}
	if c.PixelRatio < 0 {
		errs = append(errs, "render device_pixel_ratio must not be negative")
	}
	errs = append(errs, c.Layout.Validate()...)
	errs = append(errs, c.Visibility.Validate()...)
	return errs
}

// LiveSource supplies the latest live-detection batch.
type LiveSource interface {
	Latest() []annotation.LiveDetection
}

// FrameInfo describes one composited frame.
type FrameInfo struct {
	Time        float64 `json:"time"`
	Placeholder bool    `json:"placeholder"`
	Visible     int     `json:"visible"`
	Live        int     `json:"live"`
	Labels      int     `json:"labels"`
	Passes      int     `json:"passes"`
	Converged   bool    `json:"converged"`
	CacheHit    bool    `json:"cache_hit"`
}

// Stats are cumulative render counters.
type Stats struct {
	Running      bool   `json:"running"`
	Frames       uint64 `json:"frames"`
	Placeholders uint64 `json:"placeholders"`
	LayoutSolves uint64 `json:"layout_solves"`
	LayoutPasses uint64 `json:"layout_passes"`
	Exhausted    uint64 `json:"exhausted"`
	CacheHits    uint64 `json:"cache_hits"`

	Last FrameInfo `json:"last"`
}

type counters struct {
	frames       atomic.Uint64
	placeholders atomic.Uint64
	solves       atomic.Uint64
	passes       atomic.Uint64
	exhausted    atomic.Uint64
	cacheHits    atomic.Uint64
}

// layoutKey identifies a solved layout. A new result bumps gen.
type layoutKey struct {
	gen   uint64
	level int
	media geometry.Size
	ids   string
}

type layoutEntry struct {
	key        layoutKey
	labels     []layout.Label
	connectors []layout.Polyline
	stats      layout.Stats
}

// Engine composes frames from media, annotations and view state.
type Engine struct {
	cfg      Config
	renderer *render.Renderer
	filter   *visibility.Filter
	solver   *layout.Solver
	view     *viewport.Controller
	logger   *slog.Logger

	mu      sync.RWMutex
	sampler media.Sampler
	live    LiveSource
	result  *annotation.Result
	gen     uint64
	level   int
	display geometry.Size
	ratio   float64
	onFrame func(*image.RGBA, FrameInfo)
	onView  func(viewport.ViewState)

	renderMu sync.Mutex
	surface  *image.RGBA
	cache    *layoutEntry
	last     FrameInfo
	shown    []annotation.Entity
	labels   []layout.Label
	camera   geometry.Camera

	loopMu  sync.Mutex
	loopCtx context.Context
	handle  *Handle
	loop    *loop

	dirty chan struct{}
	stats counters
}

// New creates an engine with no media loaded. It registers itself as the
// view controller's change listener.
func New(cfg Config, r *render.Renderer, view *viewport.Controller) *Engine {
	def := DefaultConfig()
	if cfg.FPS < 1 {
		cfg.FPS = def.FPS
	}
	if cfg.PixelRatio <= 0 {
		cfg.PixelRatio = def.PixelRatio
	}

	e := &Engine{
		cfg:      cfg,
		renderer: r,
		filter:   visibility.New(cfg.Visibility),
		solver:   layout.NewSolver(cfg.Layout),
		view:     view,
		logger:   log.Component("engine"),
		sampler:  media.NewStill(nil),
		level:    visibility.MaxLevel,
		ratio:    cfg.PixelRatio,
		dirty:    make(chan struct{}, 1),
	}
	view.OnChange(func(vs viewport.ViewState) {
		e.Invalidate()
		e.mu.RLock()
		fn := e.onView
		e.mu.RUnlock()
		if fn != nil {
			fn(vs)
		}
	})
	return e
}

// View returns the interaction controller driving the camera.
func (e *Engine) View() *viewport.Controller { return e.view }

// Invalidate requests a redraw on the next loop iteration.
func (e *Engine) Invalidate() {
	select {
	case e.dirty <- struct{}{}:
	default:
	}
}

// OnFrame registers a callback run on the loop goroutine after each
// composite. The image is reused by the next frame and is only valid for
// the duration of the call.
func (e *Engine) OnFrame(fn func(*image.RGBA, FrameInfo)) {
	e.mu.Lock()
	e.onFrame = fn
	e.mu.Unlock()
}

// OnViewChange registers a callback run after every view state change.
func (e *Engine) OnViewChange(fn func(viewport.ViewState)) {
	e.mu.Lock()
	e.onView = fn
	e.mu.Unlock()
}

// SetResult replaces the committed entity set wholesale.
func (e *Engine) SetResult(r *annotation.Result) {
	e.mu.Lock()
	e.result = r
	e.gen++
	e.mu.Unlock()
	e.logger.Info("result replaced", "entities", r.Len())
	e.Invalidate()
}

// Result returns the committed entity set.
func (e *Engine) Result() *annotation.Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.result
}

// SetDetailLevel sets the 0-100 detail budget and returns the clamped value.
func (e *Engine) SetDetailLevel(level int) int {
	level = visibility.ClampLevel(level)
	e.mu.Lock()
	e.level = level
	e.mu.Unlock()
	e.Invalidate()
	return level
}

// DetailLevel returns the current detail budget.
func (e *Engine) DetailLevel() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.level
}

// SetDisplay sets the canvas size in CSS pixels and the device pixel ratio.
// A zero size fits the media plus both label bands.
func (e *Engine) SetDisplay(size geometry.Size, ratio float64) {
	if ratio <= 0 {
		ratio = e.cfg.PixelRatio
	}
	e.mu.Lock()
	e.display = size
	e.ratio = ratio
	e.mu.Unlock()
	e.Invalidate()
}

// SetLive sets the live-detection source; nil disables live overlays.
func (e *Engine) SetLive(l LiveSource) {
	e.mu.Lock()
	e.live = l
	e.mu.Unlock()
	e.Invalidate()
}

// Sampler returns the current media sampler.
func (e *Engine) Sampler() media.Sampler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sampler
}

// SetMedia swaps the media sampler and closes the previous one. A running
// loop is stopped and restarted under the same Handle so its scheduling
// matches the new source. It must not be called from an OnFrame callback.
func (e *Engine) SetMedia(s media.Sampler) {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()

	if e.loop != nil {
		e.loop.stop()
		e.loop = nil
	}

	e.mu.Lock()
	old := e.sampler
	e.sampler = s
	e.mu.Unlock()

	if old != nil && old != s {
		if err := old.Close(); err != nil {
			e.logger.Warn("close previous media", "error", err)
		}
	}

	e.renderMu.Lock()
	e.cache = nil
	e.renderMu.Unlock()

	e.logger.Info("media changed", "source", s.Source().String(), "live", s.Live())
	if e.active() {
		e.loop = e.spawn(e.loopCtx)
	}
}

// Camera returns the camera used by the most recent frame.
func (e *Engine) Camera() geometry.Camera {
	e.renderMu.Lock()
	defer e.renderMu.Unlock()
	return e.camera
}

// Close stops the loop and releases the media.
func (e *Engine) Close() error {
	e.loopMu.Lock()
	h := e.handle
	e.loopMu.Unlock()
	if h != nil {
		h.Stop()
	}

	e.mu.Lock()
	s := e.sampler
	e.sampler = media.NewStill(nil)
	e.mu.Unlock()
	return s.Close()
}

// Stats returns a snapshot of the render counters.
func (e *Engine) Stats() Stats {
	e.loopMu.Lock()
	running := e.handle != nil && !e.handle.stopped()
	e.loopMu.Unlock()

	e.renderMu.Lock()
	last := e.last
	e.renderMu.Unlock()

	return Stats{
		Running:      running,
		Frames:       e.stats.frames.Load(),
		Placeholders: e.stats.placeholders.Load(),
		LayoutSolves: e.stats.solves.Load(),
		LayoutPasses: e.stats.passes.Load(),
		Exhausted:    e.stats.exhausted.Load(),
		CacheHits:    e.stats.cacheHits.Load(),
		Last:         last,
	}
}

func entityKey(entities []annotation.Entity) string {
	var b strings.Builder
	for _, en := range entities {
		b.WriteString(en.ID)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(len(en.Details)))
		b.WriteByte(';')
	}
	return b.String()
}

func (e *Engine) pixelRatio() float64 {
	if e.ratio > 0 {
		return e.ratio
	}
	return 1
}
