package engine

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-overlay/pkg/annotation"
	"github.com/teslashibe/go-overlay/pkg/geometry"
	"github.com/teslashibe/go-overlay/pkg/media"
	"github.com/teslashibe/go-overlay/pkg/render"
	"github.com/teslashibe/go-overlay/pkg/viewport"
)

type staticLive []annotation.LiveDetection

func (s staticLive) Latest() []annotation.LiveDetection { return s }

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	r, err := render.New(render.DefaultConfig())
	if err != nil {
		t.Fatalf("render.New: %v", err)
	}
	e := New(cfg, r, viewport.New(viewport.DefaultConfig()))
	t.Cleanup(func() { e.Close() })
	return e
}

func still(w, h int) *media.Still {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return media.NewStill(img)
}

func box(id string, ymin, xmin, ymax, xmax float64) annotation.Entity {
	return annotation.Entity{ID: id, Label: id, Box: annotation.NewBox([]float64{ymin, xmin, ymax, xmax})}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRenderFrame_PlaceholderWhenNotReady(t *testing.T) {
	e := newEngine(t, DefaultConfig())

	info := e.RenderFrame()
	if !info.Placeholder {
		t.Fatal("empty sampler should render a placeholder")
	}
	if s := e.Stats(); s.Placeholders != 1 || s.Frames != 1 {
		t.Errorf("stats: %+v", s)
	}
	if _, err := e.Snapshot(); err != nil {
		t.Errorf("placeholder frames are still snapshots: %v", err)
	}
}

func TestSnapshot_BeforeFirstFrame(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	if _, err := e.Snapshot(); !errors.Is(err, ErrNoFrame) {
		t.Errorf("got %v, want ErrNoFrame", err)
	}
}

func TestRenderFrame_LayoutCache(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	e.SetMedia(still(800, 600))
	e.SetResult(&annotation.Result{Entities: []annotation.Entity{
		box("a", 100, 100, 300, 300),
		box("b", 500, 600, 700, 900),
	}})

	first := e.RenderFrame()
	if first.Placeholder || first.Visible != 2 || first.Labels != 2 {
		t.Fatalf("first frame: %+v", first)
	}
	if first.CacheHit {
		t.Error("first frame cannot hit the cache")
	}

	// A view change does not invalidate layout.
	e.View().SetScale(2)
	second := e.RenderFrame()
	if !second.CacheHit {
		t.Error("unchanged entities should reuse the layout")
	}

	e.SetDetailLevel(50)
	third := e.RenderFrame()
	if third.CacheHit || third.Visible != 1 {
		t.Errorf("detail change: %+v", third)
	}

	s := e.Stats()
	if s.LayoutSolves != 2 || s.CacheHits != 1 || s.Frames != 3 {
		t.Errorf("stats: %+v", s)
	}
}

func TestRenderFrame_DetailLevelClamped(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	if got := e.SetDetailLevel(150); got != 100 {
		t.Errorf("SetDetailLevel(150): got %d", got)
	}
	if got := e.SetDetailLevel(-5); got != 0 {
		t.Errorf("SetDetailLevel(-5): got %d", got)
	}

	e.SetMedia(still(100, 100))
	e.SetResult(&annotation.Result{Entities: []annotation.Entity{box("a", 0, 0, 500, 500)}})
	if info := e.RenderFrame(); info.Visible != 0 || info.Labels != 0 {
		t.Errorf("level 0 should draw nothing: %+v", info)
	}
}

func TestRenderFrame_VideoTimeline(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	stream := media.NewStream(false)
	e.SetMedia(stream)

	timed := box("t", 100, 100, 200, 200)
	timed.Timed, timed.Timestamp = true, 5.2
	persistent := box("p", 600, 600, 700, 700)
	e.SetResult(&annotation.Result{Entities: []annotation.Entity{timed, persistent}})

	frame := image.NewRGBA(image.Rect(0, 0, 320, 240))
	stream.Push(frame, 5.0)
	if info := e.RenderFrame(); info.Visible != 2 {
		t.Errorf("t=5.0: visible %d, want 2", info.Visible)
	}

	stream.Push(frame, 6.0)
	if info := e.RenderFrame(); info.Visible != 1 {
		t.Errorf("t=6.0: visible %d, want only the untimed entity", info.Visible)
	}
}

func TestRenderFrame_LiveStaleness(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	stream := media.NewStream(true)
	e.SetMedia(stream)
	e.SetLive(staticLive{
		{Label: "fresh", Box: annotation.NewBox([]float64{0, 0, 100, 100}), CaptureTime: 9.5},
		{Label: "ghost", Box: annotation.NewBox([]float64{0, 0, 100, 100}), CaptureTime: 8.0},
	})

	stream.Push(image.NewRGBA(image.Rect(0, 0, 64, 64)), 10)
	if info := e.RenderFrame(); info.Live != 1 {
		t.Errorf("live: got %d, want only the fresh detection", info.Live)
	}
}

func TestRenderFrame_DefaultCanvasShowsBands(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	e.SetMedia(still(640, 480))
	e.SetResult(&annotation.Result{Entities: []annotation.Entity{
		box("a", 400, 100, 600, 200),
		box("b", 400, 800, 600, 900),
	}})

	if info := e.RenderFrame(); info.Labels != 2 {
		t.Fatalf("labels: got %d, want 2", info.Labels)
	}
	snap, err := e.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	bounds := snap.Bounds()
	if bounds.Dx() != 640+2*240 || bounds.Dy() != 480 {
		t.Errorf("surface: got %v", bounds)
	}

	cam := e.Camera()
	for _, l := range e.labels {
		r := cam.RectToScreen(l.Rect())
		if r.X < 0 || r.Max().X > float64(bounds.Dx()) || r.Y < 0 || r.Max().Y > float64(bounds.Dy()) {
			t.Errorf("label %s (%s) off the surface: %+v", l.EntityID, l.Side, r)
			continue
		}
		want := render.Accent(l.EntityID)
		if got := snap.RGBAAt(int(r.X)+1, int(r.Y)+1); got != want {
			t.Errorf("label %s fill: got %v, want %v", l.EntityID, got, want)
		}
	}
}

func TestHitTest(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	e.SetMedia(still(1000, 1000))
	e.SetResult(&annotation.Result{Entities: []annotation.Entity{box("car", 400, 400, 600, 600)}})

	if _, ok := e.HitTest(geometry.Point{X: 740, Y: 500}); ok {
		t.Error("hit test before any frame should miss")
	}
	e.RenderFrame()

	// The default canvas adds a 240px band on each side of the media.
	hit, ok := e.HitTest(geometry.Point{X: 740, Y: 500})
	if !ok || hit.EntityID != "car" || hit.Kind != "box" {
		t.Errorf("center: got %+v, %v", hit, ok)
	}
	if _, ok := e.HitTest(geometry.Point{X: 290, Y: 50}); ok {
		t.Error("corner should miss")
	}

	// The same spot follows the box under zoom.
	e.View().SetScale(2)
	e.RenderFrame()
	if _, ok := e.HitTest(geometry.Point{X: 540, Y: 500}); !ok {
		t.Error("x=540 lies on the box at 2x zoom")
	}
	if _, ok := e.HitTest(geometry.Point{X: 390, Y: 500}); ok {
		t.Error("x=390 lies outside the box at 2x zoom")
	}

	e.View().Reset()
	e.RenderFrame()
	label := e.labels[0]
	hit, ok = e.HitTest(label.Target.Add(geometry.Point{X: 240}))
	if !ok || hit.Kind != "label" || hit.EntityID != "car" {
		t.Errorf("label: got %+v, %v", hit, ok)
	}
}

func TestLoop_StillRendersOnDemand(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	e.SetMedia(still(200, 100))

	var frames atomic.Int64
	e.OnFrame(func(img *image.RGBA, _ FrameInfo) {
		if img == nil {
			t.Error("nil surface")
		}
		frames.Add(1)
	})

	h, err := e.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "initial frame", func() bool { return frames.Load() >= 1 })

	if _, err := e.Start(context.Background()); !errors.Is(err, ErrRunning) {
		t.Errorf("second Start: got %v", err)
	}

	// No state change, no redraw.
	time.Sleep(50 * time.Millisecond)
	if n := frames.Load(); n != 1 {
		t.Errorf("idle still redrew: %d frames", n)
	}

	e.View().PointerDown(geometry.Point{})
	e.View().PointerMove(geometry.Point{X: 10})
	waitFor(t, "redraw after pan", func() bool { return frames.Load() >= 2 })

	h.Stop()
	h.Stop()
	if e.Running() {
		t.Error("loop still running after Stop")
	}

	n := frames.Load()
	e.Invalidate()
	time.Sleep(30 * time.Millisecond)
	if frames.Load() != n {
		t.Error("stopped loop kept rendering")
	}
}

func TestLoop_VideoRendersContinuously(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FPS = 200
	e := newEngine(t, cfg)

	stream := media.NewStream(false)
	stream.Push(image.NewRGBA(image.Rect(0, 0, 32, 32)), 0)
	e.SetMedia(stream)

	var frames atomic.Int64
	e.OnFrame(func(*image.RGBA, FrameInfo) { frames.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	h, err := e.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "continuous frames", func() bool { return frames.Load() >= 5 })

	cancel()
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("loop ignored context cancellation")
	}
}

func TestLoop_SetMediaRestarts(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	e.SetMedia(still(10, 10))

	var frames atomic.Int64
	e.OnFrame(func(*image.RGBA, FrameInfo) { frames.Add(1) })

	h, err := e.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first frame", func() bool { return frames.Load() >= 1 })

	var closed atomic.Bool
	next := media.NewStream(false)
	next.OnClose(func() error {
		closed.Store(true)
		return nil
	})
	e.SetMedia(next)

	select {
	case <-h.Done():
		t.Error("handle should survive a media change")
	default:
	}
	if !e.Running() {
		t.Error("loop should restart on the new media")
	}

	e.SetMedia(still(10, 10))
	if !closed.Load() {
		t.Error("replaced media should be closed")
	}
	waitFor(t, "frame on new media", func() bool { return frames.Load() >= 2 })

	h.Stop()
	if e.Running() {
		t.Error("Stop after SetMedia left the loop running")
	}
	n := frames.Load()
	e.Invalidate()
	time.Sleep(30 * time.Millisecond)
	if got := frames.Load(); got != n {
		t.Errorf("frames drawn after Stop: %d", got-n)
	}

	// A stopped engine swaps media without restarting.
	e.SetMedia(still(10, 10))
	if e.Running() {
		t.Error("SetMedia restarted a stopped loop")
	}
}

func TestEngine_ViewChangeListener(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	var got viewport.ViewState
	e.OnViewChange(func(vs viewport.ViewState) { got = vs })

	e.View().SetScale(3)
	if got.Scale != 3 {
		t.Errorf("listener: got %+v", got)
	}
}

func TestSnapshot_IsCopy(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	e.SetMedia(still(40, 30))
	e.RenderFrame()

	snap, err := e.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	snap.Set(0, 0, color.RGBA{1, 2, 3, 255})
	again, _ := e.Snapshot()
	if again.RGBAAt(0, 0) == (color.RGBA{1, 2, 3, 255}) {
		t.Error("snapshot shares memory with the live surface")
	}
	if b := snap.Bounds(); b.Dx() != 40+2*240 || b.Dy() != 30 {
		t.Errorf("bounds: %v", b)
	}
}

func TestConfig_Validate(t *testing.T) {
	if errs := DefaultConfig().Validate(); errs != nil {
		t.Errorf("defaults: %v", errs)
	}
	cfg := DefaultConfig()
	cfg.FPS = 0
	if errs := cfg.Validate(); len(errs) != 1 {
		t.Errorf("got %v", errs)
	}
}
