// Package viewport converts pointer, touch and wheel input into pan/zoom
// view state.
//
// The Controller is the single writer of ViewState. Gesture handling is an
// explicit state machine (Idle, Panning, Pinching); the active state and its
// data live in one tagged value so stale drag anchors cannot leak between
// gestures.
package viewport

import (
	"math"
	"sync"

	"github.com/teslashibe/go-overlay/pkg/geometry"
)

// Mode is the interaction state exposed to readers.
type Mode int

const (
	ModeIdle Mode = iota
	ModePanning
	ModePinching
)

func (m Mode) String() string {
	switch m {
	case ModePanning:
		return "panning"
	case ModePinching:
		return "pinching"
	default:
		return "idle"
	}
}

// MarshalText renders the mode by name in JSON.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// ViewState is the camera state read by the render loop.
type ViewState struct {
	Scale  float64        `json:"scale"`
	Offset geometry.Point `json:"offset"`
	Mode   Mode           `json:"mode"`
}

// Config holds the zoom limits and input sensitivity.
type Config struct {
	MinScale         float64 `json:"min_scale" yaml:"min_scale"`
	MaxScale         float64 `json:"max_scale" yaml:"max_scale"`
	DefaultScale     float64 `json:"default_scale" yaml:"default_scale"`
	WheelSensitivity float64 `json:"wheel_sensitivity" yaml:"wheel_sensitivity"` // scale factor per wheel delta unit, exponential
}

// DefaultConfig returns the standard zoom limits.
func DefaultConfig() Config {
	return Config{
		MinScale:         0.05,
		MaxScale:         8.0,
		DefaultScale:     1.0,
		WheelSensitivity: 0.001,
	}
}

// Validate returns a list of problems, or nil if the config is usable.
func (c Config) Validate() []string {
	var errs []string
	if !(c.MinScale > 0) {
		errs = append(errs, "viewport min_scale must be positive")
	}
	if !(c.MaxScale >= c.MinScale) {
		errs = append(errs, "viewport max_scale must be at least min_scale")
	}
	if c.DefaultScale < c.MinScale || c.DefaultScale > c.MaxScale {
		errs = append(errs, "viewport default_scale must lie within [min_scale, max_scale]")
	}
	return errs
}

// gesture is the tagged union of interaction states.
type gesture interface{ mode() Mode }

type idle struct {
	// panLocked suppresses single-touch pan after a pinch until every
	// finger has lifted.
	panLocked bool
}

type panning struct {
	dragAnchor geometry.Point // pointer position minus offset at gesture start
}

type pinching struct {
	initialScale    float64
	initialDistance float64
}

func (idle) mode() Mode     { return ModeIdle }
func (panning) mode() Mode  { return ModePanning }
func (pinching) mode() Mode { return ModePinching }

// Controller owns the view state.
type Controller struct {
	cfg Config

	mu     sync.RWMutex
	scale  float64
	offset geometry.Point
	state  gesture

	onChange func(ViewState)
}

// New creates a controller at the default scale with zero offset.
func New(cfg Config) *Controller {
	def := DefaultConfig()
	if !(cfg.MinScale > 0) {
		cfg.MinScale = def.MinScale
	}
	if !(cfg.MaxScale >= cfg.MinScale) {
		cfg.MaxScale = math.Max(def.MaxScale, cfg.MinScale)
	}
	if !(cfg.DefaultScale > 0) {
		cfg.DefaultScale = def.DefaultScale
	}
	cfg.DefaultScale = geometry.Clamp(cfg.DefaultScale, cfg.MinScale, cfg.MaxScale)
	if cfg.WheelSensitivity <= 0 {
		cfg.WheelSensitivity = def.WheelSensitivity
	}

	return &Controller{
		cfg:   cfg,
		scale: cfg.DefaultScale,
		state: idle{},
	}
}

// Config returns the active configuration.
func (c *Controller) Config() Config { return c.cfg }

// OnChange registers a callback invoked after every state change.
// The callback runs outside the controller lock.
func (c *Controller) OnChange(fn func(ViewState)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// State returns a snapshot of the current view state.
func (c *Controller) State() ViewState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot()
}

func (c *Controller) snapshot() ViewState {
	return ViewState{Scale: c.scale, Offset: c.offset, Mode: c.state.mode()}
}

// update runs fn under the write lock and notifies the listener if fn
// reports a change.
func (c *Controller) update(fn func() bool) {
	c.mu.Lock()
	changed := fn()
	vs := c.snapshot()
	cb := c.onChange
	c.mu.Unlock()

	if changed && cb != nil {
		cb(vs)
	}
}

func (c *Controller) clamp(s float64) float64 {
	if math.IsNaN(s) {
		return c.cfg.DefaultScale
	}
	return geometry.Clamp(s, c.cfg.MinScale, c.cfg.MaxScale)
}

// PointerDown starts a pan from Idle.
func (c *Controller) PointerDown(p geometry.Point) {
	c.update(func() bool {
		if _, ok := c.state.(idle); !ok {
			return false
		}
		c.state = panning{dragAnchor: p.Sub(c.offset)}
		return true
	})
}

// PointerMove updates the offset while panning.
func (c *Controller) PointerMove(p geometry.Point) {
	c.update(func() bool {
		pan, ok := c.state.(panning)
		if !ok {
			return false
		}
		c.offset = p.Sub(pan.dragAnchor)
		return true
	})
}

// PointerUp ends a pan.
func (c *Controller) PointerUp() { c.endPan() }

// PointerLeave ends a pan when the pointer exits the surface.
func (c *Controller) PointerLeave() { c.endPan() }

func (c *Controller) endPan() {
	c.update(func() bool {
		if _, ok := c.state.(panning); !ok {
			return false
		}
		c.state = idle{}
		return true
	})
}

// TouchStart handles a change in the set of active touches (all current
// touch points are passed). One touch starts a pan, two start a pinch.
func (c *Controller) TouchStart(touches []geometry.Point) {
	c.update(func() bool {
		switch {
		case len(touches) >= 2:
			d := touches[0].Dist(touches[1])
			if d <= 0 {
				return false
			}
			c.state = pinching{initialScale: c.scale, initialDistance: d}
			return true
		case len(touches) == 1:
			st, ok := c.state.(idle)
			if !ok || st.panLocked {
				return false
			}
			c.state = panning{dragAnchor: touches[0].Sub(c.offset)}
			return true
		}
		return false
	})
}

// TouchMove updates pan or pinch from the current touch points.
func (c *Controller) TouchMove(touches []geometry.Point) {
	c.update(func() bool {
		switch st := c.state.(type) {
		case panning:
			if len(touches) != 1 {
				return false
			}
			c.offset = touches[0].Sub(st.dragAnchor)
			return true
		case pinching:
			if len(touches) < 2 {
				return false
			}
			d := touches[0].Dist(touches[1])
			if d <= 0 {
				return false
			}
			c.scale = c.clamp(st.initialScale * d / st.initialDistance)
			return true
		}
		return false
	})
}

// TouchEnd is called with the touches that remain after a lift.
func (c *Controller) TouchEnd(remaining []geometry.Point) {
	c.update(func() bool {
		switch c.state.(type) {
		case pinching:
			if len(remaining) >= 2 {
				return false
			}
			c.state = idle{panLocked: len(remaining) > 0}
			return true
		case panning:
			if len(remaining) > 0 {
				return false
			}
			c.state = idle{}
			return true
		case idle:
			if len(remaining) == 0 {
				c.state = idle{}
			}
		}
		return false
	})
}

// Wheel zooms by a scroll delta regardless of the gesture state.
// Positive delta zooms out.
func (c *Controller) Wheel(deltaY float64) {
	c.update(func() bool {
		next := c.clamp(c.scale * math.Exp(-deltaY*c.cfg.WheelSensitivity))
		if next == c.scale {
			return false
		}
		c.scale = next
		return true
	})
}

// SetScale sets the zoom directly, clamped to the configured bounds.
func (c *Controller) SetScale(s float64) {
	c.update(func() bool {
		next := c.clamp(s)
		if next == c.scale {
			return false
		}
		c.scale = next
		return true
	})
}

// Reset restores the default scale and zero offset and abandons any gesture.
func (c *Controller) Reset() {
	c.update(func() bool {
		c.scale = c.cfg.DefaultScale
		c.offset = geometry.Point{}
		c.state = idle{}
		return true
	})
}
