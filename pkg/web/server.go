// Package web serves the overlay's HTTP API and the viewer websocket.
package web

import (
	"context"
	"image"
	"log/slog"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-overlay/internal/log"
	"github.com/teslashibe/go-overlay/pkg/analysis"
	"github.com/teslashibe/go-overlay/pkg/annotation"
	"github.com/teslashibe/go-overlay/pkg/engine"
	"github.com/teslashibe/go-overlay/pkg/geometry"
	"github.com/teslashibe/go-overlay/pkg/hub"
	"github.com/teslashibe/go-overlay/pkg/media"
	"github.com/teslashibe/go-overlay/pkg/viewport"
)

// Overlay is the render engine as seen by the server. *engine.Engine
// satisfies it.
type Overlay interface {
	View() *viewport.Controller
	Result() *annotation.Result
	SetResult(r *annotation.Result)
	DetailLevel() int
	SetDetailLevel(level int) int
	SetDisplay(size geometry.Size, ratio float64)
	HitTest(p geometry.Point) (engine.Hit, bool)
	Snapshot() (*image.RGBA, error)
	Sampler() media.Sampler
	SetMedia(s media.Sampler)
	Stats() engine.Stats
}

// Options configures a Server.
type Options struct {
	Port        string
	JPEGQuality int
	// StaticDir, when set, is served at "/".
	StaticDir string
	// Debug logs every request.
	Debug bool

	Engine   Overlay
	Analyzer analysis.Analyzer
}

// Server is the overlay HTTP and websocket server.
type Server struct {
	app    *fiber.App
	port   string
	engine Overlay
	logger *slog.Logger

	quality  int
	analyzer analysis.Analyzer

	viewers   *hub.Hub
	relay     *hub.Relay
	publisher *hub.FramePublisher

	// analyzeMu serializes analysis requests
	analyzeMu sync.Mutex

	statsMu sync.RWMutex
	extra   map[string]func() any
}

// NewServer creates the server and registers its routes.
func NewServer(opts Options) *Server {
	if opts.Port == "" {
		opts.Port = "8080"
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = 85
	}

	s := &Server{
		port:     opts.Port,
		engine:   opts.Engine,
		logger:   log.Component("web"),
		quality:  opts.JPEGQuality,
		analyzer: opts.Analyzer,
		viewers:  hub.New("viewers"),
		extra:    make(map[string]func() any),
	}
	s.relay = hub.NewRelay(opts.Engine.View(), opts.Engine)
	s.relay.Attach(s.viewers)
	s.viewers.OnConnect(s.greet)

	app := fiber.New(fiber.Config{
		AppName:               "go-overlay",
		DisableStartupMessage: true,
		BodyLimit:             32 * 1024 * 1024,
	})

	app.Use(recover.New())
	// CORS for local development
	app.Use(cors.New())
	if opts.Debug {
		app.Use(logger.New())
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"viewers": s.viewers.ClientCount(),
		})
	})

	if opts.StaticDir != "" {
		app.Static("/", opts.StaticDir)
	}

	api := app.Group("/api")
	api.Get("/view", s.handleGetView)
	api.Post("/view/reset", s.handleResetView)
	api.Post("/view/zoom", s.handleZoom)
	api.Get("/detail", s.handleGetDetail)
	api.Post("/detail", s.handleSetDetail)
	api.Post("/display", s.handleDisplay)
	api.Get("/entities", s.handleGetEntities)
	api.Post("/entities", s.handleSetEntities)
	api.Delete("/entities", s.handleClearEntities)
	api.Post("/media", s.handleSetMedia)
	api.Get("/snapshot", s.handleSnapshot)
	api.Post("/hit", s.handleHit)
	api.Post("/analyze", s.handleAnalyze)
	api.Get("/stats", s.handleStats)

	// WebSocket upgrade middleware
	app.Use("/ws/view", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/view", websocket.New(s.handleViewerWS))

	s.app = app
	return s
}

// App returns the underlying Fiber app so other packages can register
// routes on it.
func (s *Server) App() *fiber.App { return s.app }

// API returns the /api route group.
func (s *Server) API() fiber.Router { return s.app.Group("/api") }

// Viewers returns the hub that fans frames out to viewers.
func (s *Server) Viewers() *hub.Hub { return s.viewers }

// SetPublisher records the frame publisher so its counters show in /api/stats.
func (s *Server) SetPublisher(p *hub.FramePublisher) {
	s.statsMu.Lock()
	s.publisher = p
	s.statsMu.Unlock()
}

// AddStats adds a named section to the /api/stats response.
func (s *Server) AddStats(name string, fn func() any) {
	s.statsMu.Lock()
	s.extra[name] = fn
	s.statsMu.Unlock()
}

// Run starts the viewer hub and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	hubCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.viewers.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "url", "http://localhost:"+s.port)
		errCh <- s.app.Listen(":" + s.port)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if err := s.app.Shutdown(); err != nil {
			s.logger.Warn("shutdown", "error", err)
		}
		return nil
	}
}

// handleViewerWS attaches a viewer connection to the hub.
func (s *Server) handleViewerWS(c *websocket.Conn) {
	client := hub.NewClient(s.viewers, c)
	client.Run()
}

// greet sends the current view state to a newly connected viewer.
func (s *Server) greet(c *hub.Client) {
	msg, err := viewMessage(s.engine.View().State())
	if err != nil {
		return
	}
	if data, err := msg.Bytes(); err == nil {
		c.Send(hub.NewJSONMessage(data))
	}
}
