package viewport

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/teslashibe/go-overlay/pkg/geometry"
)

const floatTolerance = 1e-9

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < floatTolerance
}

func pt(x, y float64) geometry.Point { return geometry.Point{X: x, Y: y} }

func TestController_Defaults(t *testing.T) {
	c := New(DefaultConfig())
	vs := c.State()

	if vs.Scale != 1.0 {
		t.Errorf("Scale: got %v, want 1.0", vs.Scale)
	}
	if vs.Offset != (geometry.Point{}) {
		t.Errorf("Offset: got %+v, want zero", vs.Offset)
	}
	if vs.Mode != ModeIdle {
		t.Errorf("Mode: got %v, want idle", vs.Mode)
	}
}

func TestController_SetScaleClamps(t *testing.T) {
	c := New(DefaultConfig())

	c.SetScale(20)
	if got := c.State().Scale; got != 8.0 {
		t.Errorf("SetScale(20): got %v, want 8.0", got)
	}

	c.SetScale(0.001)
	if got := c.State().Scale; got != 0.05 {
		t.Errorf("SetScale(0.001): got %v, want 0.05", got)
	}

	c.SetScale(math.NaN())
	if got := c.State().Scale; got != 1.0 {
		t.Errorf("SetScale(NaN): got %v, want default", got)
	}
}

func TestController_PanThenReset(t *testing.T) {
	c := New(DefaultConfig())

	c.PointerDown(pt(100, 100))
	if c.State().Mode != ModePanning {
		t.Fatalf("Mode after PointerDown: got %v", c.State().Mode)
	}
	c.PointerMove(pt(150, 70))

	if got := c.State().Offset; got != pt(50, -30) {
		t.Errorf("Offset after drag: got %+v, want {50 -30}", got)
	}

	c.PointerUp()
	if c.State().Mode != ModeIdle {
		t.Errorf("Mode after PointerUp: got %v", c.State().Mode)
	}

	c.SetScale(3)
	c.Reset()
	vs := c.State()
	if vs.Offset != (geometry.Point{}) {
		t.Errorf("Offset after reset: got %+v, want exactly zero", vs.Offset)
	}
	if vs.Scale != DefaultConfig().DefaultScale {
		t.Errorf("Scale after reset: got %v, want %v", vs.Scale, DefaultConfig().DefaultScale)
	}
}

func TestController_PanAccumulatesAcrossDrags(t *testing.T) {
	c := New(DefaultConfig())

	c.PointerDown(pt(0, 0))
	c.PointerMove(pt(10, 10))
	c.PointerLeave()

	c.PointerDown(pt(200, 200))
	c.PointerMove(pt(205, 190))
	c.PointerUp()

	if got := c.State().Offset; got != pt(15, 0) {
		t.Errorf("Offset: got %+v, want {15 0}", got)
	}
}

func TestController_MoveWhileIdleIsIgnored(t *testing.T) {
	c := New(DefaultConfig())
	c.PointerMove(pt(500, 500))
	if got := c.State().Offset; got != (geometry.Point{}) {
		t.Errorf("idle move changed offset to %+v", got)
	}
}

func TestController_Pinch(t *testing.T) {
	c := New(DefaultConfig())

	c.TouchStart([]geometry.Point{pt(100, 100), pt(200, 100)})
	if c.State().Mode != ModePinching {
		t.Fatalf("Mode: got %v, want pinching", c.State().Mode)
	}

	c.TouchMove([]geometry.Point{pt(50, 100), pt(250, 100)})
	if got := c.State().Scale; !floatEquals(got, 2.0) {
		t.Errorf("Scale after spreading 2x: got %v", got)
	}

	// Spreading far past the cap clamps.
	c.TouchMove([]geometry.Point{pt(0, 0), pt(10000, 0)})
	if got := c.State().Scale; got != 8.0 {
		t.Errorf("Scale clamp: got %v, want 8.0", got)
	}

	// Pinching far in clamps to the floor.
	c.TouchMove([]geometry.Point{pt(100, 100), pt(100.5, 100)})
	if got := c.State().Scale; got != 0.05 {
		t.Errorf("Scale floor: got %v, want 0.05", got)
	}
}

func TestController_PinchLocksPanUntilRelease(t *testing.T) {
	c := New(DefaultConfig())

	c.TouchStart([]geometry.Point{pt(100, 100), pt(200, 100)})
	c.TouchEnd([]geometry.Point{pt(200, 100)})
	if c.State().Mode != ModeIdle {
		t.Fatalf("Mode after lifting one finger: got %v, want idle", c.State().Mode)
	}

	// The remaining finger must not pan.
	c.TouchStart([]geometry.Point{pt(200, 100)})
	c.TouchMove([]geometry.Point{pt(300, 300)})
	if got := c.State().Offset; got != (geometry.Point{}) {
		t.Errorf("pan after pinch: offset %+v, want zero", got)
	}

	// After a full release a single touch pans again.
	c.TouchEnd(nil)
	c.TouchStart([]geometry.Point{pt(10, 10)})
	c.TouchMove([]geometry.Point{pt(20, 30)})
	if got := c.State().Offset; got != pt(10, 20) {
		t.Errorf("pan after release: offset %+v, want {10 20}", got)
	}
	c.TouchEnd(nil)
	if c.State().Mode != ModeIdle {
		t.Errorf("Mode: got %v, want idle", c.State().Mode)
	}
}

func TestController_WheelIsModeless(t *testing.T) {
	c := New(DefaultConfig())

	c.PointerDown(pt(0, 0))
	c.Wheel(-100)
	vs := c.State()
	if vs.Mode != ModePanning {
		t.Errorf("wheel must not change mode, got %v", vs.Mode)
	}
	if want := math.Exp(0.1); !floatEquals(vs.Scale, want) {
		t.Errorf("Scale: got %v, want %v", vs.Scale, want)
	}

	c.Wheel(1e6)
	if got := c.State().Scale; got != 0.05 {
		t.Errorf("wheel zoom-out clamp: got %v", got)
	}
	c.Wheel(-1e6)
	if got := c.State().Scale; got != 8.0 {
		t.Errorf("wheel zoom-in clamp: got %v", got)
	}
}

func TestController_OnChange(t *testing.T) {
	c := New(DefaultConfig())
	var calls int
	var last ViewState
	c.OnChange(func(vs ViewState) {
		calls++
		last = vs
	})

	c.PointerMove(pt(1, 1)) // idle: no change
	c.PointerDown(pt(0, 0))
	c.PointerMove(pt(5, 5))
	c.SetScale(1.0) // unchanged

	if calls != 2 {
		t.Errorf("OnChange calls: got %d, want 2", calls)
	}
	if last.Offset != pt(5, 5) {
		t.Errorf("last state: got %+v", last)
	}
}

func TestNew_SanitizesConfig(t *testing.T) {
	c := New(Config{MinScale: 0.5, MaxScale: 2, DefaultScale: 10})
	if got := c.State().Scale; got != 2 {
		t.Errorf("default scale should clamp to max, got %v", got)
	}
	if errs := (Config{MinScale: 0.5, MaxScale: 2, DefaultScale: 10}).Validate(); len(errs) != 1 {
		t.Errorf("Validate: got %v", errs)
	}
}

func TestViewState_JSON(t *testing.T) {
	data, err := json.Marshal(ViewState{Scale: 2, Mode: ModePinching})
	if err != nil {
		t.Fatal(err)
	}
	var back map[string]interface{}
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back["mode"] != "pinching" {
		t.Errorf("mode: got %v", back["mode"])
	}
}
