// Package visibility decides which entities are live at the current playback
// instant and trims the set to the user's detail budget.
package visibility

import (
	"math"

	"github.com/teslashibe/go-overlay/pkg/annotation"
)

// Source identifies what kind of media the entities are drawn over.
type Source int

const (
	// SourceImage is a still image: every entity is visible.
	SourceImage Source = iota
	// SourceVideo is a playing video or live camera.
	SourceVideo
)

func (s Source) String() string {
	if s == SourceVideo {
		return "video"
	}
	return "image"
}

// Config holds the timing constants of the filter, in seconds.
// Both depend on display refresh and detector cadence, so they are tunable.
type Config struct {
	Window    float64 `json:"window_s" yaml:"window_s"`       // timed entity visible while |t - ts| < Window
	Staleness float64 `json:"staleness_s" yaml:"staleness_s"` // live detection dropped once |t - capture| > Staleness
}

// DefaultConfig returns the recommended timing constants.
func DefaultConfig() Config {
	return Config{
		Window:    0.6,
		Staleness: 1.2,
	}
}

// Validate returns a list of problems, or nil if the config is usable.
func (c Config) Validate() []string {
	var errs []string
	if !(c.Window > 0) {
		errs = append(errs, "visibility window must be positive")
	}
	if !(c.Staleness > 0) {
		errs = append(errs, "visibility staleness must be positive")
	}
	return errs
}

// Filter applies the temporal visibility rules.
type Filter struct {
	cfg Config
}

// New creates a filter. Zero fields fall back to defaults.
func New(cfg Config) *Filter {
	def := DefaultConfig()
	if !(cfg.Window > 0) {
		cfg.Window = def.Window
	}
	if !(cfg.Staleness > 0) {
		cfg.Staleness = def.Staleness
	}
	return &Filter{cfg: cfg}
}

// Config returns the active configuration.
func (f *Filter) Config() Config { return f.cfg }

// IsVisible reports whether one entity is visible at playback time t.
func (f *Filter) IsVisible(e annotation.Entity, t float64, src Source) bool {
	if src != SourceVideo || !e.Timed {
		return true
	}
	return math.Abs(t-e.Timestamp) < f.cfg.Window
}

// Visible returns the subset of entities visible at playback time t,
// preserving input order. The input slice is not modified.
func (f *Filter) Visible(entities []annotation.Entity, t float64, src Source) []annotation.Entity {
	out := make([]annotation.Entity, 0, len(entities))
	for _, e := range entities {
		if f.IsVisible(e, t, src) {
			out = append(out, e)
		}
	}
	return out
}

// Fresh reports whether a live detection is recent enough to draw.
func (f *Filter) Fresh(d annotation.LiveDetection, t float64) bool {
	return math.Abs(t-d.CaptureTime) <= f.cfg.Staleness
}

// Live discards stale live detections so a slow detector cadence never
// leaves ghost boxes on screen.
func (f *Filter) Live(dets []annotation.LiveDetection, t float64) []annotation.LiveDetection {
	out := make([]annotation.LiveDetection, 0, len(dets))
	for _, d := range dets {
		if f.Fresh(d, t) {
			out = append(out, d)
		}
	}
	return out
}

// MaxLevel is the detail level that keeps everything.
const MaxLevel = 100

// ClampLevel limits a detail level to [0, MaxLevel].
func ClampLevel(level int) int {
	if level < 0 {
		return 0
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}

// ApplyDetailLevel truncates the entity list and each entity's details to
// the budget implied by level (0-100). Truncation is a stable prefix: the
// same level always yields the same subset. Entities keep ceil(level*n/100)
// items, details keep floor(level*d/100).
func ApplyDetailLevel(entities []annotation.Entity, level int) []annotation.Entity {
	level = ClampLevel(level)
	if level == MaxLevel {
		return entities
	}

	keep := (level*len(entities) + 99) / 100
	out := make([]annotation.Entity, keep)
	for i := 0; i < keep; i++ {
		e := entities[i]
		nd := level * len(e.Details) / 100
		e.Details = e.Details[:nd:nd]
		out[i] = e
	}
	return out
}
