package hub

import (
	"bytes"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-overlay/pkg/engine"
	"github.com/teslashibe/go-overlay/pkg/protocol"
	"github.com/teslashibe/go-overlay/pkg/render"
	"github.com/teslashibe/go-overlay/pkg/viewport"
)

// FramePublisher encodes composited frames and broadcasts them to a hub.
// Frames are skipped while no client is connected. A frame that arrives
// less than 1/MaxFPS after the previous one is held and sent when the gap
// expires, unless a newer frame replaces it first.
type FramePublisher struct {
	hub     *Hub
	format  render.Format
	quality int
	minGap  time.Duration

	mu          sync.Mutex
	last        time.Time
	buf         bytes.Buffer
	pending     *image.RGBA
	pendingInfo engine.FrameInfo
	hasPending  bool
	timer       *time.Timer

	frameID   atomic.Uint64
	published atomic.Uint64
	skipped   atomic.Uint64
	deferred  atomic.Uint64
}

// PublisherStats summarizes frame publishing.
type PublisherStats struct {
	Published uint64 `json:"published"`
	Skipped   uint64 `json:"skipped"`
	Deferred  uint64 `json:"deferred"`
}

// NewFramePublisher creates a publisher. maxFPS <= 0 disables rate limiting.
func NewFramePublisher(h *Hub, format render.Format, quality int, maxFPS int) *FramePublisher {
	p := &FramePublisher{hub: h, format: format, quality: quality}
	if maxFPS > 0 {
		p.minGap = time.Second / time.Duration(maxFPS)
	}
	return p
}

// Publish encodes img and broadcasts it as a frame message. It has the
// signature of an engine frame callback.
func (p *FramePublisher) Publish(img *image.RGBA, info engine.FrameInfo) {
	if img == nil || p.hub.ClientCount() == 0 {
		p.skipped.Add(1)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.minGap > 0 && !p.last.IsZero() {
		if wait := p.minGap - time.Since(p.last); wait > 0 {
			p.hold(img, info, wait)
			return
		}
	}
	p.send(img, info)
}

// hold keeps a copy of img for the trailing flush. img is reused by the
// engine after the callback returns. p.mu held.
func (p *FramePublisher) hold(img *image.RGBA, info engine.FrameInfo, wait time.Duration) {
	if p.hasPending {
		p.skipped.Add(1)
	}
	if p.pending == nil || p.pending.Bounds() != img.Bounds() {
		p.pending = image.NewRGBA(img.Bounds())
	}
	copy(p.pending.Pix, img.Pix)
	p.pendingInfo = info
	p.hasPending = true
	p.deferred.Add(1)

	if p.timer == nil {
		p.timer = time.AfterFunc(wait, p.flush)
	}
}

// flush sends the held frame once the rate limit allows it.
func (p *FramePublisher) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.timer = nil
	if !p.hasPending {
		return
	}
	if p.hub.ClientCount() == 0 {
		p.hasPending = false
		p.skipped.Add(1)
		return
	}
	p.send(p.pending, p.pendingInfo)
}

// send encodes and broadcasts one frame. p.mu held.
func (p *FramePublisher) send(img *image.RGBA, info engine.FrameInfo) {
	if p.hasPending && img != p.pending {
		p.skipped.Add(1)
	}
	p.hasPending = false
	p.last = time.Now()

	p.buf.Reset()
	if err := render.Encode(&p.buf, img, p.format, p.quality); err != nil {
		p.skipped.Add(1)
		p.hub.logger.Warn("frame encode failed", "error", err)
		return
	}

	b := img.Bounds()
	msg, err := protocol.NewFrameMessage(b.Dx(), b.Dy(), string(p.format), p.buf.Bytes(), p.frameID.Add(1), info.Time)
	if err != nil {
		p.skipped.Add(1)
		return
	}
	data, err := msg.Bytes()
	if err != nil {
		p.skipped.Add(1)
		return
	}
	p.hub.Broadcast(NewJSONMessage(data))
	p.published.Add(1)
}

// PublishView broadcasts a view state change. It has the signature of an
// engine view callback.
func (p *FramePublisher) PublishView(vs viewport.ViewState) {
	msg, err := protocol.NewViewMessage(vs.Scale, vs.Offset.X, vs.Offset.Y, vs.Mode.String())
	if err != nil {
		return
	}
	if data, err := msg.Bytes(); err == nil {
		p.hub.Broadcast(NewJSONMessage(data))
	}
}

// Stats returns publisher counters.
func (p *FramePublisher) Stats() PublisherStats {
	return PublisherStats{
		Published: p.published.Load(),
		Skipped:   p.skipped.Load(),
		Deferred:  p.deferred.Load(),
	}
}
