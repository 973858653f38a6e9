package live

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-overlay/internal/log"
	"github.com/teslashibe/go-overlay/pkg/annotation"
	"github.com/teslashibe/go-overlay/pkg/media"
)

// Detector finds objects in a single frame. Boxes are in normalized
// 0-1000 space; CaptureTime is filled in by the caller.
type Detector interface {
	Detect(frame image.Image) ([]annotation.LiveDetection, error)
	Close() error
}

// Frames is the part of a media sampler the poller reads.
type Frames interface {
	Frame() (image.Image, error)
	PlaybackTime() float64
}

// Poller runs a detector over the current media frame at a fixed interval
// and publishes each batch, stamped with the frame's playback time.
type Poller struct {
	frames   Frames
	detector Detector
	out      *Mailbox
	interval time.Duration
	logger   *slog.Logger

	runs   atomic.Uint64
	errors atomic.Uint64
}

// PollerStats summarizes poller activity.
type PollerStats struct {
	Runs   uint64 `json:"runs"`
	Errors uint64 `json:"errors"`
}

// NewPoller creates a poller. A non-positive interval defaults to 200ms.
func NewPoller(frames Frames, d Detector, out *Mailbox, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &Poller{
		frames:   frames,
		detector: d,
		out:      out,
		interval: interval,
		logger:   log.With("component", "live.poller"),
	}
}

// Run polls until ctx is cancelled. A frame already detected at the same
// playback time is skipped, so a still image is detected once; swapping
// in another image is detected again.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var last seen
	for {
		if s, ok := p.poll(last); ok {
			last = s
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// seen identifies the last frame the detector ran on.
type seen struct {
	pts   float64
	frame image.Image
	valid bool
}

func (s seen) same(pts float64, frame image.Image) bool {
	return s.valid && s.pts == pts && sameImage(s.frame, frame)
}

// sameImage reports whether a and b are the same image value. Images of
// an uncomparable type never match.
func sameImage(a, b image.Image) bool {
	if a == nil || b == nil {
		return false
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	return ta == tb && ta.Comparable() && a == b
}

// poll runs one detection pass. It reports the frame consumed.
func (p *Poller) poll(last seen) (seen, bool) {
	pts := p.frames.PlaybackTime()
	frame, err := p.frames.Frame()
	if err != nil {
		if !errors.Is(err, media.ErrNotReady) {
			p.logger.Debug("frame unavailable", "error", err)
		}
		return seen{}, false
	}
	if last.same(pts, frame) {
		return seen{}, false
	}
	cur := seen{pts: pts, frame: frame, valid: true}

	dets, err := p.detector.Detect(frame)
	p.runs.Add(1)
	if err != nil {
		p.errors.Add(1)
		p.logger.Warn("detection failed", "error", err, "pts", pts)
		return cur, true
	}
	for i := range dets {
		dets[i].CaptureTime = pts
	}
	p.out.Put(dets)
	return cur, true
}

// Stats returns poller counters.
func (p *Poller) Stats() PollerStats {
	return PollerStats{Runs: p.runs.Load(), Errors: p.errors.Load()}
}
