// Package analysis requests entity annotations for media from an external
// vision model and turns the reply into an annotation.Result.
//
// Example usage:
//
//	a, _ := analysis.New(analysis.Config{
//	    Provider: "gemini",
//	    APIKey:   os.Getenv("GEMINI_API_KEY"),
//	})
//	defer a.Close()
//
//	res, _ := a.Analyze(ctx, &analysis.Request{
//	    Frames: []analysis.Frame{{Image: img}},
//	})
package analysis

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/teslashibe/go-overlay/internal/log"
	"github.com/teslashibe/go-overlay/pkg/annotation"
)

// Analyzer produces annotation results for still images or sampled video.
type Analyzer interface {
	// Analyze sends the frames to the model and parses its reply.
	Analyze(ctx context.Context, req *Request) (*annotation.Result, error)

	// Name identifies the provider.
	Name() string

	// Close releases any resources held by the analyzer.
	Close() error
}

// Frame is one image sent for analysis. Time is the playback position of
// a sampled video frame; it is ignored for a single still.
type Frame struct {
	Image image.Image
	Time  float64
}

// Request describes one analysis call.
type Request struct {
	Frames []Frame

	// Prompt replaces the default instructions when set.
	Prompt string

	// Focus narrows what the model should annotate, e.g. "people and vehicles".
	Focus string
}

// Video reports whether the request carries more than one frame.
func (r *Request) Video() bool { return len(r.Frames) > 1 }

// Config selects and configures an analyzer.
type Config struct {
	Provider    string        `yaml:"provider"` // "gemini" or "mock"
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"-"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	JPEGQuality int           `yaml:"jpeg_quality"`

	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns sensible defaults for Gemini.
func DefaultConfig() Config {
	return Config{
		Provider:    providerGemini,
		Model:       "gemini-2.0-flash",
		BaseURL:     "https://generativelanguage.googleapis.com/v1beta",
		Timeout:     60 * time.Second,
		MaxRetries:  2,
		RetryDelay:  500 * time.Millisecond,
		Temperature: 0.2,
		MaxTokens:   8192,
		JPEGQuality: 85,
	}
}

// Validate returns a list of problems, or nil if the config is usable.
// A missing API key is not reported here; New fails for it instead.
func (c Config) Validate() []string {
	var errs []string
	switch c.Provider {
	case providerGemini, providerMock:
	default:
		errs = append(errs, fmt.Sprintf("analysis provider %q must be gemini or mock", c.Provider))
	}
	if c.Provider == providerGemini && c.Model == "" {
		errs = append(errs, "analysis model is required")
	}
	if c.Timeout <= 0 {
		errs = append(errs, "analysis timeout must be positive")
	}
	if c.MaxRetries < 0 {
		errs = append(errs, "analysis max_retries cannot be negative")
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, "analysis jpeg_quality must be within [1, 100]")
	}
	return errs
}

// New builds the analyzer named by cfg.Provider.
func New(cfg Config) (Analyzer, error) {
	switch cfg.Provider {
	case providerGemini:
		return NewGemini(cfg)
	case providerMock:
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.L()
}

const basePrompt = `Detect the notable entities in the image. Return JSON only, no prose, in this shape:
{"summary": "<one sentence>", "entities": [{"label": "<short name>", "box_2d": [ymin, xmin, ymax, xmax], ...}]}
Box coordinates are integers normalized to 0-1000 relative to the image.
Add short classification fields where they apply, such as "emotion", "age", "gender" or "speed".
For entities with distinct parts, add "details": [{"name": "<part>", "point": [y, x], "description": "<short>"}] with points in the same 0-1000 space.`

const videoPrompt = `The images are frames sampled from one video, each preceded by its timestamp.
Give every entity a "timestamp" ("MM:SS") for the frame it appears in, using the box from that frame.
For entities that move, add "trajectory": [[y, x], ...] with the center point in each frame it appears in.`

// prompt returns the instructions sent with the request.
func (r *Request) prompt() string {
	if r.Prompt != "" {
		return r.Prompt
	}
	var b strings.Builder
	b.WriteString(basePrompt)
	if r.Video() {
		b.WriteString("\n")
		b.WriteString(videoPrompt)
	}
	if r.Focus != "" {
		b.WriteString("\nOnly annotate: ")
		b.WriteString(r.Focus)
		b.WriteString(".")
	}
	return b.String()
}
