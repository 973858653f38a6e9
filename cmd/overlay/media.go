package main

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-overlay/internal/log"
	"github.com/teslashibe/go-overlay/pkg/engine"
	"github.com/teslashibe/go-overlay/pkg/media"
	"github.com/teslashibe/go-overlay/pkg/media/capture"
)

// openMedia loads the media named on the command line into the engine.
// At most one of -image, -video and -camera may be set; with none the
// engine shows a placeholder until media is posted to /api/media.
func openMedia(ctx context.Context, g *errgroup.Group, eng *engine.Engine) error {
	set := 0
	for _, on := range []bool{*imagePath != "", *videoPath != "", *camera >= 0} {
		if on {
			set++
		}
	}
	if set > 1 {
		return errors.New("use only one of -image, -video and -camera")
	}

	switch {
	case *imagePath != "":
		still, err := loadStill(*imagePath)
		if err != nil {
			return err
		}
		eng.SetMedia(still)
		log.Info("image loaded", "path", *imagePath, "size", still.Size())

	case *videoPath != "":
		src, err := capture.OpenFile(*videoPath)
		if err != nil {
			return err
		}
		eng.SetMedia(src.Stream())
		g.Go(func() error { return ignoreCanceled(src.Run(ctx)) })

	case *camera >= 0:
		src, err := capture.OpenCamera(*camera)
		if err != nil {
			return err
		}
		eng.SetMedia(src.Stream())
		g.Go(func() error { return ignoreCanceled(src.Run(ctx)) })
	}
	return nil
}

// loadStill decodes with the Go image codecs and falls back to OpenCV for
// formats they do not cover.
func loadStill(path string) (*media.Still, error) {
	still, err := media.OpenStill(path)
	if err == nil {
		return still, nil
	}
	log.Debug("falling back to OpenCV decode", "path", path, "error", err)
	still, cvErr := capture.LoadImage(path)
	if cvErr != nil {
		return nil, fmt.Errorf("load image %s: %w", path, errors.Join(err, cvErr))
	}
	return still, nil
}
