// Package config loads go-overlay settings from a YAML file and the
// environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-overlay/pkg/analysis"
	"github.com/teslashibe/go-overlay/pkg/engine"
	"github.com/teslashibe/go-overlay/pkg/layout"
	"github.com/teslashibe/go-overlay/pkg/live"
	"github.com/teslashibe/go-overlay/pkg/render"
	"github.com/teslashibe/go-overlay/pkg/viewport"
	"github.com/teslashibe/go-overlay/pkg/visibility"
)

// Environment overrides.
const (
	EnvPort      = "OVERLAY_PORT"
	EnvLogLevel  = "OVERLAY_LOG_LEVEL"
	EnvGeminiKey = "GEMINI_API_KEY"
)

// ServerConfig configures the HTTP surface and frame streaming.
type ServerConfig struct {
	Port        string `yaml:"port"`
	JPEGQuality int    `yaml:"jpeg_quality"`
	StaticDir   string `yaml:"static_dir"`
	// FrameFormat is the encoding of streamed frames: jpeg or png.
	FrameFormat string `yaml:"frame_format"`
	// MaxFPS caps frames streamed to viewers; 0 streams every frame.
	MaxFPS int `yaml:"max_fps"`
	// Ingest enables the /ws/detections endpoint for remote detectors.
	Ingest bool `yaml:"ingest"`
}

// RenderConfig is the render section: loop rate and pixel ratio sit
// next to the drawing style.
type RenderConfig struct {
	render.Config `yaml:",inline"`
	FPS           int     `yaml:"fps"`
	PixelRatio    float64 `yaml:"device_pixel_ratio"`
}

// Config is the full configuration tree.
type Config struct {
	LogLevel   string            `yaml:"log_level"`
	Visibility visibility.Config `yaml:"visibility"`
	Layout     layout.Config     `yaml:"layout"`
	Viewport   viewport.Config   `yaml:"viewport"`
	Render     RenderConfig      `yaml:"render"`
	Live       live.Config       `yaml:"live"`
	Analysis   analysis.Config   `yaml:"analysis"`
	Server     ServerConfig      `yaml:"server"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	eng := engine.DefaultConfig()
	return &Config{
		LogLevel:   "info",
		Visibility: visibility.DefaultConfig(),
		Layout:     layout.DefaultConfig(),
		Viewport:   viewport.DefaultConfig(),
		Render: RenderConfig{
			Config:     render.DefaultConfig(),
			FPS:        eng.FPS,
			PixelRatio: eng.PixelRatio,
		},
		Live:     live.DefaultConfig(),
		Analysis: analysis.DefaultConfig(),
		Server: ServerConfig{
			Port:        "8080",
			JPEGQuality: 80,
			FrameFormat: string(render.FormatJPEG),
			MaxFPS:      30,
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file. Unknown keys are an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvPort); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvGeminiKey); v != "" {
		c.Analysis.APIKey = v
	}
}

// Engine assembles the render loop settings.
func (c *Config) Engine() engine.Config {
	return engine.Config{
		FPS:        c.Render.FPS,
		PixelRatio: c.Render.PixelRatio,
		Layout:     c.Layout,
		Visibility: c.Visibility,
	}
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []string
	errs = append(errs, c.Engine().Validate()...)
	errs = append(errs, c.Viewport.Validate()...)
	errs = append(errs, c.Render.Config.Validate()...)
	errs = append(errs, c.Live.Validate()...)
	errs = append(errs, c.Analysis.Validate()...)
	errs = append(errs, c.Server.validate()...)
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid config:\n  %s", strings.Join(errs, "\n  "))
}

func (s ServerConfig) validate() []string {
	var errs []string
	if p, err := strconv.Atoi(s.Port); err != nil || p < 1 || p > 65535 {
		errs = append(errs, fmt.Sprintf("server port %q must be a number within [1, 65535]", s.Port))
	}
	if s.JPEGQuality < 1 || s.JPEGQuality > 100 {
		errs = append(errs, "server jpeg_quality must be within [1, 100]")
	}
	if _, err := render.ParseFormat(s.FrameFormat); err != nil {
		errs = append(errs, fmt.Sprintf("server frame_format %q must be jpeg or png", s.FrameFormat))
	}
	if s.MaxFPS < 0 {
		errs = append(errs, "server max_fps must not be negative")
	}
	return errs
}
