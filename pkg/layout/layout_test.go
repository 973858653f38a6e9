package layout

import (
	"math"
	"testing"

	"github.com/teslashibe/go-overlay/pkg/annotation"
	"github.com/teslashibe/go-overlay/pkg/geometry"
)

// fixedMeasurer treats every rune as 7px wide with 14px lines.
type fixedMeasurer struct{}

func (fixedMeasurer) MeasureString(s string) float64 { return float64(len([]rune(s))) * 7 }
func (fixedMeasurer) LineHeight() float64            { return 14 }

var square = geometry.Size{W: 1000, H: 1000}

func entityAt(id string, xmin, ymin, xmax, ymax float64) annotation.Entity {
	return annotation.Entity{
		ID:    id,
		Label: id,
		Box:   annotation.NewBox([]float64{ymin, xmin, ymax, xmax}),
	}
}

// stacked builds n single-line labels anchored at the given heights on one side.
func stacked(side Side, ys ...float64) []Label {
	labels := make([]Label, len(ys))
	for i, y := range ys {
		labels[i] = Label{
			Key:    string(rune('a' + i)),
			Anchor: geometry.Point{X: 100, Y: y},
			Target: geometry.Point{X: -100, Y: y},
			Size:   geometry.Size{W: 80, H: 26},
			Side:   side,
		}
	}
	return labels
}

func TestBuild_SideAssignment(t *testing.T) {
	entities := []annotation.Entity{
		entityAt("l1", 10, 10, 200, 100),
		entityAt("l2", 100, 300, 400, 500),
		entityAt("l3", 0, 800, 490, 990),
		entityAt("r1", 510, 10, 900, 100),
		entityAt("r2", 700, 400, 1000, 600),
		entityAt("r3", 600, 800, 990, 900),
	}

	labels := Build(entities, square, fixedMeasurer{}, DefaultConfig())
	if len(labels) != 6 {
		t.Fatalf("got %d labels, want 6", len(labels))
	}
	for _, l := range labels {
		want := SideLeft
		if l.EntityID[0] == 'r' {
			want = SideRight
		}
		if l.Side != want {
			t.Errorf("%s: side = %v, want %v", l.EntityID, l.Side, want)
		}
	}
}

func TestBuild_AnchorAndBand(t *testing.T) {
	media := geometry.Size{W: 1920, H: 1080}
	cfg := DefaultConfig()
	e := entityAt("p", 100, 200, 300, 600)
	e.Details = []annotation.Detail{
		{Name: "hat", Point: geometry.Point{X: 800, Y: 200}, Description: "a red cap"},
	}

	labels := Build([]annotation.Entity{e}, media, fixedMeasurer{}, cfg)
	if len(labels) != 2 {
		t.Fatalf("got %d labels, want header + detail", len(labels))
	}

	header, detail := labels[0], labels[1]
	if header.Kind != KindHeader || detail.Kind != KindDetail {
		t.Fatalf("kinds: got %v, %v", header.Kind, detail.Kind)
	}
	if header.Key != "p" || detail.Key != "p/0" {
		t.Errorf("keys: got %q, %q", header.Key, detail.Key)
	}

	// Header anchors on the left edge of the box, level with its center.
	wantAnchor := geometry.Point{X: 100 * 1.92, Y: 400 * 1.08}
	if math.Abs(header.Anchor.X-wantAnchor.X) > 1e-9 || math.Abs(header.Anchor.Y-wantAnchor.Y) > 1e-9 {
		t.Errorf("header anchor: got %+v, want %+v", header.Anchor, wantAnchor)
	}
	if detail.Side != SideRight {
		t.Errorf("detail at x=800 should be right, got %v", detail.Side)
	}

	for _, l := range labels {
		if l.Anchor.X < 0 || l.Anchor.X > media.W || l.Anchor.Y < 0 || l.Anchor.Y > media.H {
			t.Errorf("%s: anchor %+v outside media", l.Key, l.Anchor)
		}
		r := l.Rect()
		if l.Side == SideLeft && (r.X < -cfg.Margin || r.X+r.W > 0) {
			t.Errorf("%s: left label %+v outside band", l.Key, r)
		}
		if l.Side == SideRight && (r.X < media.W || r.X+r.W > media.W+cfg.Margin) {
			t.Errorf("%s: right label %+v outside band", l.Key, r)
		}
		if r.Y < 0 || r.Y+r.H > media.H {
			t.Errorf("%s: label %+v outside band height", l.Key, r)
		}
	}
}

func TestBuild_SkipsMalformedEntities(t *testing.T) {
	bad := annotation.Entity{ID: "bad", Box: annotation.NewBox([]float64{1, 2})}
	labels := Build([]annotation.Entity{bad, entityAt("ok", 0, 0, 10, 10)}, square, fixedMeasurer{}, DefaultConfig())
	if len(labels) != 1 || labels[0].EntityID != "ok" {
		t.Errorf("got %+v", labels)
	}
	if Build(nil, geometry.Size{}, fixedMeasurer{}, DefaultConfig()) != nil {
		t.Error("empty media should yield no labels")
	}
}

func TestWrap(t *testing.T) {
	lines := wrap([]string{"one two three four"}, 7*9, fixedMeasurer{})
	want := []string{"one two", "three", "four"}
	if len(lines) != len(want) {
		t.Fatalf("got %q", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestSolver_ConvergesWithinTolerance(t *testing.T) {
	tests := []struct {
		name string
		ys   []float64
	}{
		{"identical anchors", []float64{500, 500, 500, 500, 500}},
		{"tight cluster", []float64{500, 505, 510, 515, 520}},
		{"against the top edge", []float64{10, 12, 14}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSolver(DefaultConfig())
			labels := stacked(SideLeft, tt.ys...)

			stats := s.Solve(labels, square)
			if !stats.Converged {
				t.Fatalf("expected convergence, got %+v", stats)
			}
			if stats.Passes > s.Config().Iterations {
				t.Errorf("passes %d exceed budget", stats.Passes)
			}
			if o := MaxOverlap(labels); o > s.Config().Tolerance {
				t.Errorf("overlap %.3f exceeds tolerance", o)
			}
			for i := 1; i < len(labels); i++ {
				if labels[i].Target.Y < labels[i-1].Target.Y {
					t.Errorf("reading order broken at %d", i)
				}
			}
			for _, l := range labels {
				if l.Target.Y-l.Size.H/2 < 0 || l.Target.Y+l.Size.H/2 > square.H {
					t.Errorf("%s: target %+v outside band", l.Key, l.Target)
				}
			}
		})
	}
}

func TestSolver_Idempotent(t *testing.T) {
	s := NewSolver(DefaultConfig())
	labels := stacked(SideRight, 300, 301, 302, 303)
	if stats := s.Solve(labels, square); !stats.Converged {
		t.Fatalf("first solve did not converge: %+v", stats)
	}

	before := make([]Label, len(labels))
	copy(before, labels)

	stats := s.Solve(labels, square)
	if !stats.Converged || stats.Passes != 1 {
		t.Errorf("second solve: got %+v, want a single clean pass", stats)
	}
	for i := range labels {
		if labels[i].Target != before[i].Target {
			t.Errorf("label %d moved on re-solve: %+v -> %+v", i, before[i].Target, labels[i].Target)
		}
	}
}

func TestSolver_BudgetExhaustion(t *testing.T) {
	cfg := DefaultConfig()
	s := NewSolver(cfg)

	ys := make([]float64, 40)
	for i := range ys {
		ys[i] = 50
	}
	labels := stacked(SideLeft, ys...)
	band := geometry.Size{W: 1000, H: 200}

	stats := s.Solve(labels, band)
	if stats.Converged {
		t.Fatal("40 labels cannot fit in a 200px band")
	}
	if !stats.Exhausted() || stats.Passes != cfg.Iterations {
		t.Errorf("expected the full budget to be spent, got %+v", stats)
	}
	// Non-convergence still leaves every label inside the band.
	for _, l := range labels {
		if l.Target.Y-l.Size.H/2 < -1e-9 || l.Target.Y+l.Size.H/2 > band.H+1e-9 {
			t.Errorf("%s: target %+v left the band", l.Key, l.Target)
		}
	}
}

func TestSolver_SidesAreIndependent(t *testing.T) {
	s := NewSolver(DefaultConfig())
	labels := append(stacked(SideLeft, 500), stacked(SideRight, 500)...)

	stats := s.Solve(labels, square)
	if !stats.Converged || stats.Left != 1 || stats.Right != 1 {
		t.Errorf("got %+v", stats)
	}
	for _, l := range labels {
		if l.Target.Y != 500 {
			t.Errorf("%v label moved to %v with no same-side neighbor", l.Side, l.Target.Y)
		}
	}
}

func TestRoute(t *testing.T) {
	media := geometry.Size{W: 640, H: 480}
	cfg := DefaultConfig()

	left := Label{
		Anchor: geometry.Point{X: 100, Y: 200},
		Target: geometry.Point{X: -80, Y: 50},
		Size:   geometry.Size{W: 100, H: 30},
		Side:   SideLeft,
	}
	got := Route(left, media, cfg)
	want := Polyline{{X: 100, Y: 200}, {X: -16, Y: 200}, {X: -16, Y: 50}, {X: -30, Y: 50}}
	if len(got) != len(want) {
		t.Fatalf("got %d points", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("left point %d: got %+v, want %+v", i, got[i], want[i])
		}
	}

	right := left
	right.Side = SideRight
	right.Anchor = geometry.Point{X: 600, Y: 100}
	right.Target = geometry.Point{X: 710, Y: 400}
	got = Route(right, media, cfg)
	if got[1].X != 656 || got[2].X != 656 || got[3] != (geometry.Point{X: 660, Y: 400}) {
		t.Errorf("right route: got %+v", got)
	}

	// The vertical run stays outside the media.
	for _, pl := range RouteAll([]Label{left, right}, media, cfg) {
		if x := pl[1].X; x >= 0 && x <= media.W {
			t.Errorf("channel x=%v lies inside the media", x)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	if errs := DefaultConfig().Validate(); errs != nil {
		t.Errorf("defaults should validate: %v", errs)
	}
	bad := Config{Iterations: 0, Gap: -1, Tolerance: -1, Margin: 10, ChannelOffset: 16}
	if errs := bad.Validate(); len(errs) != 4 {
		t.Errorf("expected 4 problems, got %v", errs)
	}
}
