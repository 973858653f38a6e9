package web

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-overlay/pkg/analysis"
	"github.com/teslashibe/go-overlay/pkg/annotation"
	"github.com/teslashibe/go-overlay/pkg/engine"
	"github.com/teslashibe/go-overlay/pkg/geometry"
	"github.com/teslashibe/go-overlay/pkg/media"
	"github.com/teslashibe/go-overlay/pkg/protocol"
	"github.com/teslashibe/go-overlay/pkg/render"
	"github.com/teslashibe/go-overlay/pkg/viewport"
)

func viewMessage(vs viewport.ViewState) (*protocol.Message, error) {
	return protocol.NewViewMessage(vs.Scale, vs.Offset.X, vs.Offset.Y, vs.Mode.String())
}

func errorJSON(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// handleGetView returns the current view state
func (s *Server) handleGetView(c *fiber.Ctx) error {
	return c.JSON(s.engine.View().State())
}

// handleResetView restores identity scale and zero offset
func (s *Server) handleResetView(c *fiber.Ctx) error {
	view := s.engine.View()
	view.Reset()
	return c.JSON(view.State())
}

// ZoomRequest is the body of POST /api/view/zoom
type ZoomRequest struct {
	Scale float64 `json:"scale"`
}

func (s *Server) handleZoom(c *fiber.Ctx) error {
	var req ZoomRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err)
	}
	if req.Scale <= 0 {
		return errorJSON(c, fiber.StatusBadRequest, errors.New("scale must be positive"))
	}
	view := s.engine.View()
	view.SetScale(req.Scale)
	return c.JSON(view.State())
}

// DetailRequest is the body of POST /api/detail
type DetailRequest struct {
	Level int `json:"level"`
}

func (s *Server) handleGetDetail(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"level": s.engine.DetailLevel()})
}

func (s *Server) handleSetDetail(c *fiber.Ctx) error {
	var req DetailRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err)
	}
	return c.JSON(fiber.Map{"level": s.engine.SetDetailLevel(req.Level)})
}

func (s *Server) handleDisplay(c *fiber.Ctx) error {
	var req protocol.DisplayData
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err)
	}
	if req.Width < 0 || req.Height < 0 {
		return errorJSON(c, fiber.StatusBadRequest, errors.New("display size must not be negative"))
	}
	s.engine.SetDisplay(geometry.Size{W: req.Width, H: req.Height}, req.PixelRatio)
	return c.SendStatus(fiber.StatusNoContent)
}

// handleGetEntities returns the committed result, or an empty one
func (s *Server) handleGetEntities(c *fiber.Ctx) error {
	r := s.engine.Result()
	if r == nil {
		r = &annotation.Result{Entities: []annotation.Entity{}}
	}
	return c.JSON(r)
}

// handleSetEntities replaces the result wholesale from an analysis payload
func (s *Server) handleSetEntities(c *fiber.Ctx) error {
	r, err := annotation.ParseResult(c.Body())
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err)
	}
	s.engine.SetResult(r)
	return c.JSON(fiber.Map{"id": r.ID, "entities": r.Len()})
}

func (s *Server) handleClearEntities(c *fiber.Ctx) error {
	s.engine.SetResult(nil)
	return c.SendStatus(fiber.StatusNoContent)
}

// handleSetMedia replaces the media with an uploaded still image
func (s *Server) handleSetMedia(c *fiber.Ctx) error {
	body := c.Body()
	if fh, err := c.FormFile("image"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return errorJSON(c, fiber.StatusBadRequest, err)
		}
		defer f.Close()
		still, err := media.DecodeStill(f)
		if err != nil {
			return errorJSON(c, fiber.StatusBadRequest, err)
		}
		return s.swapMedia(c, still)
	}
	if len(body) == 0 {
		return errorJSON(c, fiber.StatusBadRequest, errors.New("no image in request"))
	}
	still, err := media.DecodeStill(bytes.NewReader(body))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err)
	}
	return s.swapMedia(c, still)
}

func (s *Server) swapMedia(c *fiber.Ctx, still *media.Still) error {
	s.engine.SetMedia(still)
	size := still.Size()
	return c.JSON(fiber.Map{"width": size.W, "height": size.H})
}

// handleSnapshot encodes the last composited frame
func (s *Server) handleSnapshot(c *fiber.Ctx) error {
	format, err := render.ParseFormat(c.Query("format"))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err)
	}
	img, err := s.engine.Snapshot()
	if errors.Is(err, engine.ErrNoFrame) {
		return errorJSON(c, fiber.StatusServiceUnavailable, err)
	}
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err)
	}

	var buf bytes.Buffer
	if err := render.Encode(&buf, img, format, s.quality); err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err)
	}
	c.Set(fiber.HeaderContentType, format.ContentType())
	return c.Send(buf.Bytes())
}

// handleHit hit-tests a CSS pixel position on the last frame
func (s *Server) handleHit(c *fiber.Ctx) error {
	var req protocol.PointerData
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err)
	}
	hit, ok := s.engine.HitTest(req.Point())
	return c.JSON(protocol.HitData{
		Found:    ok,
		EntityID: hit.EntityID,
		Label:    hit.Label,
		Kind:     hit.Kind,
	})
}

// AnalyzeRequest is the body of POST /api/analyze
type AnalyzeRequest struct {
	Prompt string `json:"prompt"`
	Focus  string `json:"focus"`
}

// handleAnalyze runs the analyzer on the current frame and commits the result
func (s *Server) handleAnalyze(c *fiber.Ctx) error {
	if s.analyzer == nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, errors.New("analysis not configured"))
	}
	var req AnalyzeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, err)
		}
	}

	sampler := s.engine.Sampler()
	frame, err := sampler.Frame()
	if err != nil {
		return errorJSON(c, fiber.StatusConflict, err)
	}

	if !s.analyzeMu.TryLock() {
		return errorJSON(c, fiber.StatusTooManyRequests, errors.New("analysis already running"))
	}
	defer s.analyzeMu.Unlock()

	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Minute)
	defer cancel()

	start := time.Now()
	result, err := s.analyzer.Analyze(ctx, &analysis.Request{
		Frames: []analysis.Frame{{Image: frame, Time: sampler.PlaybackTime()}},
		Prompt: req.Prompt,
		Focus:  req.Focus,
	})
	if err != nil {
		s.logger.Warn("analysis failed", "provider", s.analyzer.Name(), "error", err)
		var apiErr *analysis.APIError
		if errors.As(err, &apiErr) && apiErr.IsRateLimited() {
			return errorJSON(c, fiber.StatusTooManyRequests, err)
		}
		return errorJSON(c, fiber.StatusBadGateway, err)
	}

	s.engine.SetResult(result)
	s.logger.Info("analysis committed", "provider", s.analyzer.Name(),
		"entities", result.Len(), "elapsed", time.Since(start).Round(time.Millisecond))
	return c.JSON(result)
}

// handleStats returns render, viewer and any registered counters
func (s *Server) handleStats(c *fiber.Ctx) error {
	out := fiber.Map{
		"render":  s.engine.Stats(),
		"viewers": s.viewers.Stats(),
	}

	s.statsMu.RLock()
	if s.publisher != nil {
		out["frames"] = s.publisher.Stats()
	}
	for name, fn := range s.extra {
		out[name] = fn()
	}
	s.statsMu.RUnlock()

	return c.JSON(out)
}
