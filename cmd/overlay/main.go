// overlay: serves an annotated view of an image, video file or camera.
// Viewers connect over websocket to receive composited frames and drive
// pan and zoom; the REST API exposes view state, detail level, entities
// and snapshots.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-overlay/internal/config"
	"github.com/teslashibe/go-overlay/internal/log"
	"github.com/teslashibe/go-overlay/pkg/analysis"
	"github.com/teslashibe/go-overlay/pkg/annotation"
	"github.com/teslashibe/go-overlay/pkg/engine"
	"github.com/teslashibe/go-overlay/pkg/hub"
	"github.com/teslashibe/go-overlay/pkg/ingest"
	"github.com/teslashibe/go-overlay/pkg/live"
	"github.com/teslashibe/go-overlay/pkg/live/detect"
	"github.com/teslashibe/go-overlay/pkg/render"
	"github.com/teslashibe/go-overlay/pkg/viewport"
	"github.com/teslashibe/go-overlay/pkg/web"
)

var (
	version    = "0.1.0"
	configPath = flag.String("config", "", "YAML config file")
	imagePath  = flag.String("image", "", "Still image to annotate")
	videoPath  = flag.String("video", "", "Video file to annotate")
	camera     = flag.Int("camera", -1, "Camera device index (-1 disables)")
	resultPath = flag.String("result", "", "Analysis result JSON to load at startup")
	detail     = flag.Int("detail", 100, "Initial detail level 0-100")
	debug      = flag.Bool("debug", false, "Enable debug logging and request logs")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	log.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error("overlay stopped", "error", err)
		os.Exit(1)
	}
	log.Info("goodbye")
}

func run(ctx context.Context, cfg *config.Config) error {
	log.Info("starting go-overlay", "version", version, "port", cfg.Server.Port)

	renderer, err := render.New(cfg.Render.Config)
	if err != nil {
		return fmt.Errorf("renderer: %w", err)
	}
	eng := engine.New(cfg.Engine(), renderer, viewport.New(cfg.Viewport))
	defer eng.Close()
	eng.SetDetailLevel(*detail)

	g, ctx := errgroup.WithContext(ctx)

	if err := openMedia(ctx, g, eng); err != nil {
		return err
	}

	if *resultPath != "" {
		data, err := os.ReadFile(*resultPath)
		if err != nil {
			return fmt.Errorf("read result: %w", err)
		}
		r, err := annotation.ParseResult(data)
		if err != nil {
			return fmt.Errorf("parse result %s: %w", *resultPath, err)
		}
		eng.SetResult(r)
	}

	mailbox := live.NewMailbox(func() float64 { return eng.Sampler().PlaybackTime() })
	eng.SetLive(mailbox)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-mailbox.Updated():
				eng.Invalidate()
			}
		}
	})

	sourceStats, err := startLive(ctx, g, cfg.Live, eng, mailbox)
	if err != nil {
		return err
	}

	var analyzer analysis.Analyzer
	if a, err := analysis.New(cfg.Analysis); err != nil {
		log.Warn("analysis disabled", "provider", cfg.Analysis.Provider, "error", err)
	} else {
		analyzer = a
		defer a.Close()
	}

	srv := web.NewServer(web.Options{
		Port:        cfg.Server.Port,
		JPEGQuality: cfg.Server.JPEGQuality,
		StaticDir:   cfg.Server.StaticDir,
		Debug:       *debug,
		Engine:      eng,
		Analyzer:    analyzer,
	})

	format, err := render.ParseFormat(cfg.Server.FrameFormat)
	if err != nil {
		return err
	}
	pub := hub.NewFramePublisher(srv.Viewers(), format, cfg.Server.JPEGQuality, cfg.Server.MaxFPS)
	srv.SetPublisher(pub)
	eng.OnFrame(pub.Publish)
	eng.OnViewChange(pub.PublishView)

	srv.AddStats("live", func() any { return mailbox.Stats() })
	if sourceStats != nil {
		srv.AddStats("live_source", sourceStats)
	}

	if cfg.Server.Ingest {
		in := ingest.NewHub(mailbox)
		in.RegisterRoutes(srv.App())
		in.RegisterAPIRoutes(srv.API())
		srv.AddStats("ingest", func() any { return in.GetStats() })
		log.Info("detector ingest enabled", "url", "ws://localhost:"+cfg.Server.Port+"/ws/detections")
	}

	handle, err := eng.Start(ctx)
	if err != nil {
		return err
	}
	defer handle.Stop()

	g.Go(func() error { return srv.Run(ctx) })

	log.Info("ready",
		"viewer", "ws://localhost:"+cfg.Server.Port+"/ws/view",
		"api", "http://localhost:"+cfg.Server.Port+"/api")

	return ignoreCanceled(g.Wait())
}

// startLive launches the configured live detection source. It returns a
// stats function for the source, or nil when none runs.
func startLive(ctx context.Context, g *errgroup.Group, cfg live.Config, eng *engine.Engine, mailbox *live.Mailbox) (func() any, error) {
	switch cfg.Source {
	case live.SourceNone, "":
		return nil, nil

	case live.SourceDetector:
		d, err := detect.New(cfg.Detector)
		if err != nil {
			return nil, fmt.Errorf("live detector: %w", err)
		}
		p := live.NewPoller(samplerFrames{eng}, d, mailbox, cfg.Interval)
		g.Go(func() error {
			defer d.Close()
			return ignoreCanceled(p.Run(ctx))
		})
		log.Info("live detector started", "backend", cfg.Detector.Backend, "interval", cfg.Interval)
		return func() any { return p.Stats() }, nil

	case live.SourceWebSocket:
		f := live.NewWebSocketFeed(cfg.WebSocketURL, nil, mailbox)
		g.Go(func() error { return ignoreCanceled(f.Run(ctx)) })
		log.Info("live websocket feed started", "url", cfg.WebSocketURL)
		return func() any { return f.Stats() }, nil

	case live.SourceMQTT:
		f := live.NewMQTTFeed(cfg.MQTT, mailbox)
		g.Go(func() error { return ignoreCanceled(f.Run(ctx)) })
		log.Info("live mqtt feed started", "broker", cfg.MQTT.Broker, "topic", cfg.MQTT.Topic)
		return func() any { return f.Stats() }, nil
	}
	return nil, fmt.Errorf("unknown live source %q", cfg.Source)
}

// samplerFrames reads whatever media the engine currently shows.
type samplerFrames struct{ eng *engine.Engine }

func (s samplerFrames) Frame() (image.Image, error) { return s.eng.Sampler().Frame() }
func (s samplerFrames) PlaybackTime() float64       { return s.eng.Sampler().PlaybackTime() }

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
