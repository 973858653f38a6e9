package layout

import "github.com/teslashibe/go-overlay/pkg/geometry"

// Polyline is an ordered list of media-space points.
type Polyline []geometry.Point

// ChannelX is the x of the vertical routing channel just outside the media
// edge on the given side.
func ChannelX(side Side, media geometry.Size, cfg Config) float64 {
	cfg = cfg.withDefaults()
	if side == SideLeft {
		return -cfg.ChannelOffset
	}
	return media.W + cfg.ChannelOffset
}

// Route returns the three-segment connector for a solved label: horizontal
// from the anchor out to the channel, vertical along the channel, and
// horizontal into the label's near edge. The vertical run never crosses
// the media because the channel sits outside it.
func Route(l Label, media geometry.Size, cfg Config) Polyline {
	cx := ChannelX(l.Side, media, cfg)
	return Polyline{
		l.Anchor,
		{X: cx, Y: l.Anchor.Y},
		{X: cx, Y: l.Target.Y},
		{X: l.NearEdgeX(), Y: l.Target.Y},
	}
}

// RouteAll routes every label, index-aligned with the input.
func RouteAll(labels []Label, media geometry.Size, cfg Config) []Polyline {
	out := make([]Polyline, len(labels))
	for i, l := range labels {
		out[i] = Route(l, media, cfg)
	}
	return out
}
