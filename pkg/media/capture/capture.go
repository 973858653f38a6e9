// Package capture decodes image files, video files and cameras with OpenCV
// and feeds the frames into media samplers.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-overlay/internal/log"
	"github.com/teslashibe/go-overlay/pkg/media"
)

// ErrOpen is returned when a capture device or file cannot be opened.
var ErrOpen = errors.New("capture: cannot open source")

// LoadImage decodes an image file with OpenCV.
func LoadImage(path string) (*media.Still, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("%w: %s", ErrOpen, path)
	}
	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert %s: %w", path, err)
	}
	return media.NewStill(img), nil
}

// reader is the part of gocv.VideoCapture a Source uses.
type reader interface {
	Read(m *gocv.Mat) bool
	Get(prop gocv.VideoCaptureProperties) float64
	Close() error
}

// Source pumps frames from a VideoCapture into a media.Stream. Only Run
// touches the capture, and Run releases it on exit.
type Source struct {
	vc     reader
	stream *media.Stream
	name   string
	live   bool
	fps    float64
	logger *slog.Logger
}

// OpenFile opens a video file. Frames are paced at the file's native rate.
func OpenFile(path string) (*Source, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, path, err)
	}
	return newSource(vc, path, false), nil
}

// OpenCamera opens a camera by device index.
func OpenCamera(device int) (*Source, error) {
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("%w: camera %d: %v", ErrOpen, device, err)
	}
	return newSource(vc, fmt.Sprintf("camera:%d", device), true), nil
}

func newSource(vc reader, name string, live bool) *Source {
	fps := vc.Get(gocv.VideoCaptureFPS)
	if !(fps > 0) || fps > 240 {
		fps = 30
	}
	s := &Source{
		vc:     vc,
		stream: media.NewStream(live),
		name:   name,
		live:   live,
		fps:    fps,
		logger: log.Component("capture").With("source", name),
	}
	return s
}

// Stream returns the sampler this source feeds.
func (s *Source) Stream() *media.Stream { return s.stream }

// Run reads frames until ctx is cancelled, the stream is closed or a file
// reaches its end, then releases the capture.
func (s *Source) Run(ctx context.Context) error {
	defer func() {
		if err := s.vc.Close(); err != nil {
			s.logger.Warn("release capture", "error", err)
		}
	}()
	mat := gocv.NewMat()
	defer mat.Close()

	clock := media.NewClock()
	ticker := time.NewTicker(time.Duration(float64(time.Second) / s.fps))
	defer ticker.Stop()

	s.logger.Info("capture started", "fps", s.fps)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stream.Done():
			return nil
		case <-ticker.C:
		}

		if ok := s.vc.Read(&mat); !ok || mat.Empty() {
			if s.live {
				continue
			}
			s.logger.Info("end of file", "frames", s.stream.Frames())
			return nil
		}

		img, err := mat.ToImage()
		if err != nil {
			s.logger.Debug("frame conversion failed", "error", err)
			continue
		}

		pts := clock.Seconds()
		if !s.live {
			pts = s.vc.Get(gocv.VideoCapturePosMsec) / 1000
		}
		if err := s.stream.Push(img, pts); err != nil {
			if errors.Is(err, media.ErrClosed) {
				return nil
			}
			return err
		}
	}
}
