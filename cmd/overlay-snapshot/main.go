// overlay-snapshot: renders one annotated still image to PNG or JPEG.
//
// The result comes from a JSON file (-result) or from the configured
// analysis provider (-analyze), in which case it can also be saved with
// -save-result for later runs.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/teslashibe/go-overlay/internal/config"
	"github.com/teslashibe/go-overlay/internal/log"
	"github.com/teslashibe/go-overlay/pkg/analysis"
	"github.com/teslashibe/go-overlay/pkg/annotation"
	"github.com/teslashibe/go-overlay/pkg/engine"
	"github.com/teslashibe/go-overlay/pkg/geometry"
	"github.com/teslashibe/go-overlay/pkg/media"
	"github.com/teslashibe/go-overlay/pkg/media/capture"
	"github.com/teslashibe/go-overlay/pkg/render"
	"github.com/teslashibe/go-overlay/pkg/viewport"
)

var (
	configPath = flag.String("config", "", "YAML config file")
	imagePath  = flag.String("image", "", "Input image (required)")
	resultPath = flag.String("result", "", "Analysis result JSON")
	analyze    = flag.Bool("analyze", false, "Run the configured analysis provider on the image")
	focus      = flag.String("focus", "", "What the analysis should pay attention to")
	saveResult = flag.String("save-result", "", "Write the analysis result JSON here")
	outPath    = flag.String("out", "overlay.png", "Output file")
	format     = flag.String("format", "", "Output format: png or jpeg (default from -out extension)")
	detail     = flag.Int("detail", 100, "Detail level 0-100")
	scale      = flag.Float64("scale", 1, "Zoom scale")
	width      = flag.Int("width", 0, "Canvas width in CSS pixels (default: image width plus both label bands)")
	height     = flag.Int("height", 0, "Canvas height in CSS pixels (default: image height)")
	ratio      = flag.Float64("ratio", 0, "Device pixel ratio (default from config)")
	quality    = flag.Int("quality", 90, "JPEG quality")
)

func main() {
	flag.Parse()

	if *imagePath == "" {
		fmt.Fprintln(os.Stderr, "Usage: overlay-snapshot -image photo.jpg [-result result.json | -analyze] [-out overlay.png]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}
	log.Init(cfg.LogLevel)

	if err := run(cfg); err != nil {
		fatal(err)
	}
}

func run(cfg *config.Config) error {
	still, err := media.OpenStill(*imagePath)
	if err != nil {
		log.Debug("falling back to OpenCV decode", "error", err)
		if still, err = capture.LoadImage(*imagePath); err != nil {
			return err
		}
	}

	result, err := loadResult(cfg, still)
	if err != nil {
		return err
	}

	renderer, err := render.New(cfg.Render.Config)
	if err != nil {
		return err
	}
	view := viewport.New(cfg.Viewport)
	eng := engine.New(cfg.Engine(), renderer, view)
	defer eng.Close()

	eng.SetMedia(still)
	eng.SetResult(result)
	eng.SetDetailLevel(*detail)
	eng.SetDisplay(geometry.Size{W: float64(*width), H: float64(*height)}, *ratio)
	view.SetScale(*scale)

	info := eng.RenderFrame()
	img, err := eng.Snapshot()
	if err != nil {
		return err
	}

	f := *format
	if f == "" {
		f = filepath.Ext(*outPath)
	}
	outFormat, err := render.ParseFormat(f)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := render.Encode(&buf, img, outFormat, *quality); err != nil {
		return err
	}
	if err := os.WriteFile(*outPath, buf.Bytes(), 0o644); err != nil {
		return err
	}

	log.Info("snapshot written",
		"path", *outPath,
		"entities", result.Len(),
		"visible", info.Visible,
		"labels", info.Labels,
		"passes", info.Passes,
		"converged", info.Converged)
	return nil
}

// loadResult reads -result or runs the analyzer.
func loadResult(cfg *config.Config, still *media.Still) (*annotation.Result, error) {
	if *resultPath != "" {
		data, err := os.ReadFile(*resultPath)
		if err != nil {
			return nil, err
		}
		return annotation.ParseResult(data)
	}
	if !*analyze {
		return &annotation.Result{}, nil
	}

	a, err := analysis.New(cfg.Analysis)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Analysis.Timeout*time.Duration(cfg.Analysis.MaxRetries+1))
	defer cancel()

	frame, err := still.Frame()
	if err != nil {
		return nil, err
	}
	result, err := a.Analyze(ctx, &analysis.Request{
		Frames: []analysis.Frame{{Image: frame}},
		Focus:  *focus,
	})
	if err != nil {
		return nil, err
	}
	log.Info("analysis complete", "provider", a.Name(), "entities", result.Len())

	if *saveResult != "" {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(*saveResult, data, 0o644); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
