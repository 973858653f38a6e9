// Package media provides the frame sources the render loop draws from: a
// decoded still image or a stream of video frames with a playback clock.
package media

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders
	_ "image/png"
	"io"
	"os"
	"sync"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/teslashibe/go-overlay/pkg/geometry"
	"github.com/teslashibe/go-overlay/pkg/visibility"
)

var (
	// ErrNotReady means no frame has been decoded yet.
	ErrNotReady = errors.New("media: frame not ready")
	// ErrClosed is returned by a sampler after Close.
	ErrClosed = errors.New("media: sampler closed")
)

// Sampler abstracts the current media frame and its timing.
type Sampler interface {
	// Frame returns the current frame or ErrNotReady.
	Frame() (image.Image, error)
	// Size is the native media size; zero until the first frame is known.
	Size() geometry.Size
	// PlaybackTime is the current position in seconds.
	PlaybackTime() float64
	// Source reports whether timed entities follow playback.
	Source() visibility.Source
	// Live reports whether frames come from a camera rather than a file.
	Live() bool
	Close() error
}

// Still is a sampler over a single decoded image.
type Still struct {
	img image.Image
}

// NewStill wraps an already decoded image.
func NewStill(img image.Image) *Still { return &Still{img: img} }

// DecodeStill decodes a JPEG, PNG, BMP or WebP image.
func DecodeStill(r io.Reader) (*Still, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return NewStill(img), nil
}

// OpenStill decodes an image file.
func OpenStill(path string) (*Still, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	return DecodeStill(f)
}

func (s *Still) Frame() (image.Image, error) {
	if s.img == nil {
		return nil, ErrNotReady
	}
	return s.img, nil
}

func (s *Still) Size() geometry.Size {
	if s.img == nil {
		return geometry.Size{}
	}
	b := s.img.Bounds()
	return geometry.Size{W: float64(b.Dx()), H: float64(b.Dy())}
}

func (s *Still) PlaybackTime() float64     { return 0 }
func (s *Still) Source() visibility.Source { return visibility.SourceImage }
func (s *Still) Live() bool                { return false }
func (s *Still) Close() error              { return nil }

// Stream holds the latest frame pushed by a decoder or camera together
// with its presentation time.
type Stream struct {
	live bool

	mu     sync.RWMutex
	frame  image.Image
	size   geometry.Size
	pts    float64
	closed bool

	frames  uint64
	updated chan struct{}
	done    chan struct{}

	closeFn func() error
}

// NewStream creates an empty stream. live marks camera input.
func NewStream(live bool) *Stream {
	return &Stream{live: live, updated: make(chan struct{}, 1), done: make(chan struct{})}
}

// OnClose registers a hook run once by Close, typically releasing the
// producer.
func (s *Stream) OnClose(fn func() error) {
	s.mu.Lock()
	s.closeFn = fn
	s.mu.Unlock()
}

// Push publishes a frame at presentation time pts (seconds).
func (s *Stream) Push(img image.Image, pts float64) error {
	if img == nil {
		return nil
	}
	b := img.Bounds()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.frame = img
	s.size = geometry.Size{W: float64(b.Dx()), H: float64(b.Dy())}
	s.pts = pts
	s.frames++
	s.mu.Unlock()

	select {
	case s.updated <- struct{}{}:
	default:
	}
	return nil
}

// Updated signals (coalesced) after each Push.
func (s *Stream) Updated() <-chan struct{} { return s.updated }

// Done is closed once the stream is closed. Producers stop on it.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Frames returns the number of frames pushed.
func (s *Stream) Frames() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frames
}

func (s *Stream) Frame() (image.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.frame == nil {
		return nil, ErrNotReady
	}
	return s.frame, nil
}

func (s *Stream) Size() geometry.Size {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

func (s *Stream) PlaybackTime() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pts
}

func (s *Stream) Source() visibility.Source { return visibility.SourceVideo }
func (s *Stream) Live() bool                { return s.live }

// Close marks the stream closed and runs the OnClose hook once.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	fn := s.closeFn
	close(s.done)
	s.mu.Unlock()

	if fn != nil {
		return fn()
	}
	return nil
}

// Clock measures playback time against the wall clock for sources without
// presentation timestamps.
type Clock struct {
	start time.Time
	now   func() time.Time
}

// NewClock starts a clock at zero.
func NewClock() *Clock {
	return &Clock{start: time.Now(), now: time.Now}
}

// Seconds returns the elapsed playback time.
func (c *Clock) Seconds() float64 { return c.now().Sub(c.start).Seconds() }
