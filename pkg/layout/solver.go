package layout

import (
	"sort"

	"github.com/teslashibe/go-overlay/pkg/geometry"
)

// Stats describes one Solve run.
type Stats struct {
	Passes    int  // relaxation passes performed on the busier side
	Converged bool // both sides finished with no overlap beyond tolerance
	Left      int  // labels in the left band
	Right     int  // labels in the right band
}

// Exhausted reports whether the pass budget ran out before convergence.
func (s Stats) Exhausted() bool { return !s.Converged }

// Solver de-overlaps labels within each margin band by symmetric 1D
// relaxation. It is not a global optimizer: residual overlap under extreme
// density is accepted once the pass budget is spent.
type Solver struct {
	cfg Config
}

// NewSolver creates a solver. Unset fields fall back to defaults.
func NewSolver(cfg Config) *Solver {
	return &Solver{cfg: cfg.withDefaults()}
}

// Config returns the active configuration.
func (s *Solver) Config() Config { return s.cfg }

// Solve moves label targets in place. The band spans the media height.
func (s *Solver) Solve(labels []Label, media geometry.Size) Stats {
	left, right := partition(labels)

	lp, lok := s.solveSide(labels, left, media.H)
	rp, rok := s.solveSide(labels, right, media.H)

	passes := lp
	if rp > passes {
		passes = rp
	}
	return Stats{
		Passes:    passes,
		Converged: lok && rok,
		Left:      len(left),
		Right:     len(right),
	}
}

// partition splits label indices by side, each sorted by anchor height.
// The sort is stable so equal anchors keep their reading order.
func partition(labels []Label) (left, right []int) {
	for i, l := range labels {
		if l.Side == SideLeft {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	byAnchor := func(idx []int) {
		sort.SliceStable(idx, func(a, b int) bool {
			return labels[idx[a]].Anchor.Y < labels[idx[b]].Anchor.Y
		})
	}
	byAnchor(left)
	byAnchor(right)
	return left, right
}

func (s *Solver) solveSide(labels []Label, idx []int, bandH float64) (int, bool) {
	if len(idx) < 2 {
		for _, i := range idx {
			labels[i].Target.Y = clampToBand(labels[i].Target.Y, labels[i].Size.H, bandH)
		}
		return 0, true
	}

	for _, i := range idx {
		labels[i].Target.Y = clampToBand(labels[i].Target.Y, labels[i].Size.H, bandH)
	}
	for pass := 1; pass <= s.cfg.Iterations; pass++ {
		overlapped := false
		for k := 0; k+1 < len(idx); k++ {
			a, b := &labels[idx[k]], &labels[idx[k+1]]
			deficit := s.required(*a, *b) - (b.Target.Y - a.Target.Y)
			if deficit <= s.cfg.Tolerance {
				continue
			}
			overlapped = true
			a.Target.Y -= deficit / 2
			b.Target.Y += deficit / 2
		}
		if !overlapped {
			return pass, true
		}
		for _, i := range idx {
			labels[i].Target.Y = clampToBand(labels[i].Target.Y, labels[i].Size.H, bandH)
		}
	}
	return s.cfg.Iterations, s.settled(labels, idx)
}

// settled checks the final state after the last pass's clamp.
func (s *Solver) settled(labels []Label, idx []int) bool {
	for k := 0; k+1 < len(idx); k++ {
		a, b := labels[idx[k]], labels[idx[k+1]]
		if s.required(a, b)-(b.Target.Y-a.Target.Y) > s.cfg.Tolerance {
			return false
		}
	}
	return true
}

// required is the minimum center distance between two stacked labels.
func (s *Solver) required(a, b Label) float64 {
	return (a.Size.H+b.Size.H)/2 + s.cfg.Gap
}

// MaxOverlap returns the largest vertical interval overlap between any two
// labels in the same band. Zero means no two labels touch.
func MaxOverlap(labels []Label) float64 {
	var worst float64
	for i := range labels {
		for j := i + 1; j < len(labels); j++ {
			a, b := labels[i], labels[j]
			if a.Side != b.Side {
				continue
			}
			top := maxf(a.Target.Y-a.Size.H/2, b.Target.Y-b.Size.H/2)
			bottom := minf(a.Target.Y+a.Size.H/2, b.Target.Y+b.Size.H/2)
			if o := bottom - top; o > worst {
				worst = o
			}
		}
	}
	return worst
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
