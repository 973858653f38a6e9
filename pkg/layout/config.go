package layout

// Config holds the tunable parameters of label placement, in media pixels.
type Config struct {
	Iterations    int     `json:"iterations" yaml:"iterations"`         // relaxation pass budget
	Gap           float64 `json:"gap" yaml:"gap"`                       // minimum clear space between stacked labels
	Tolerance     float64 `json:"tolerance" yaml:"tolerance"`           // residual overlap accepted as converged
	Margin        float64 `json:"margin" yaml:"margin"`                 // width of each lateral band
	ChannelOffset float64 `json:"channel_offset" yaml:"channel_offset"` // distance of the connector channel from the media edge
	Inset         float64 `json:"inset" yaml:"inset"`                   // gap between channel and label
	Padding       float64 `json:"padding" yaml:"padding"`               // label inner padding
}

// DefaultConfig returns the recommended placement parameters.
func DefaultConfig() Config {
	return Config{
		Iterations:    20,
		Gap:           6,
		Tolerance:     0.5,
		Margin:        240,
		ChannelOffset: 16,
		Inset:         8,
		Padding:       6,
	}
}

// MaxLabelWidth is the widest label that still fits in the band.
func (c Config) MaxLabelWidth() float64 {
	w := c.Margin - c.ChannelOffset - c.Inset
	if w < 2*c.Padding+1 {
		return 2*c.Padding + 1
	}
	return w
}

// Validate returns a list of problems, or nil if the config is usable.
func (c Config) Validate() []string {
	var errs []string
	if c.Iterations < 1 {
		errs = append(errs, "layout iterations must be at least 1")
	}
	if c.Gap < 0 {
		errs = append(errs, "layout gap must not be negative")
	}
	if c.Tolerance < 0 {
		errs = append(errs, "layout tolerance must not be negative")
	}
	if c.Margin <= c.ChannelOffset+c.Inset {
		errs = append(errs, "layout margin must exceed channel offset plus inset")
	}
	return errs
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Iterations < 1 {
		c.Iterations = def.Iterations
	}
	if c.Margin <= 0 {
		c.Margin = def.Margin
	}
	if c.ChannelOffset <= 0 {
		c.ChannelOffset = def.ChannelOffset
	}
	if c.Gap < 0 {
		c.Gap = 0
	}
	if c.Tolerance < 0 {
		c.Tolerance = 0
	}
	if c.Padding < 0 {
		c.Padding = 0
	}
	if c.Inset < 0 {
		c.Inset = 0
	}
	return c
}
