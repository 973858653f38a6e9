package engine

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/go-overlay/pkg/media"
	"github.com/teslashibe/go-overlay/pkg/visibility"
)

// Handle owns the render loop for its whole life, across media changes.
// Stop must be called on teardown.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop cancels the loop and waits for it to exit. It is safe to call more
// than once and from multiple goroutines.
func (h *Handle) Stop() {
	h.once.Do(h.cancel)
	<-h.done
}

// Done is closed when the loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) stopped() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// loop is one run of the render goroutine, bound to a single sampler.
type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (l *loop) stop() {
	l.cancel()
	<-l.done
}

// Start launches the render loop. The loop ends when ctx is cancelled or
// the returned handle is stopped. SetMedia swaps the loop underneath the
// same handle.
func (e *Engine) Start(ctx context.Context) (*Handle, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	e.loopMu.Lock()
	defer e.loopMu.Unlock()

	if e.handle != nil && !e.handle.stopped() {
		return nil, ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	e.handle, e.loopCtx = h, ctx
	e.loop = e.spawn(ctx)

	go e.supervise(ctx, h)
	return h, nil
}

// supervise closes the handle once its context ends and the current loop
// has exited.
func (e *Engine) supervise(ctx context.Context, h *Handle) {
	<-ctx.Done()
	e.loopMu.Lock()
	if l := e.loop; l != nil {
		l.stop()
		e.loop = nil
	}
	e.loopMu.Unlock()
	close(h.done)
}

// Running reports whether a loop is active.
func (e *Engine) Running() bool {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()
	return e.handle != nil && !e.handle.stopped()
}

// active reports whether a started handle still wants a loop. loopMu held.
func (e *Engine) active() bool {
	return e.handle != nil && e.loopCtx.Err() == nil
}

func (e *Engine) spawn(parent context.Context) *loop {
	ctx, cancel := context.WithCancel(parent)
	l := &loop{cancel: cancel, done: make(chan struct{})}
	go e.run(ctx, l, e.Sampler())
	return l
}

// run renders on every tick for video and on invalidation for stills.
// A placeholder frame schedules a retry on the next tick.
func (e *Engine) run(ctx context.Context, l *loop, sampler media.Sampler) {
	defer close(l.done)

	interval := time.Second / time.Duration(e.cfg.FPS)
	continuous := sampler.Source() == visibility.SourceVideo

	var tick <-chan time.Time
	if continuous {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}

	retry := time.NewTimer(interval)
	defer retry.Stop()
	retry.Stop()

	e.logger.Debug("render loop started", "continuous", continuous, "fps", e.cfg.FPS)
	defer e.logger.Debug("render loop stopped")

	draw := func() {
		info := e.RenderFrame()
		if info.Placeholder && !continuous {
			retry.Reset(interval)
		}
		e.publish(info)
	}

	draw()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			draw()
		case <-e.dirty:
			if !continuous {
				draw()
			}
		case <-retry.C:
			draw()
		}
	}
}

func (e *Engine) publish(info FrameInfo) {
	e.mu.RLock()
	fn := e.onFrame
	e.mu.RUnlock()
	if fn == nil {
		return
	}

	e.renderMu.Lock()
	surface := e.surface
	e.renderMu.Unlock()
	fn(surface, info)
}
