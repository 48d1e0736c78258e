package render

import (
	"math"
	"testing"

	"steersim/engine/internal/physics"
	"steersim/engine/internal/vmath"
)

func near(a, b vmath.Vec2) bool {
	return math.Abs(a.X()-b.X()) < 1e-9 && math.Abs(a.Y()-b.Y()) < 1e-9
}

func restState(cfg physics.Config) physics.VehicleState {
	ig, err := physics.NewIntegrator(cfg, nil)
	if err != nil {
		panic(err)
	}
	return ig.Initial()
}

func TestBuildFrameBodyAtRest(t *testing.T) {
	cfg := physics.SimpleConfig()
	frame := BuildFrame(restState(cfg), cfg.Tuning, 1280)

	//1.- Heading 0 at (500,100): the body spans the wheelbase plus overhangs.
	want := Quad{{515, 62.5}, {515, 137.5}, {385, 137.5}, {385, 62.5}}
	for i := range want {
		if !near(frame.Body[i], want[i]) {
			t.Fatalf("body corner %d = %v, want %v", i, frame.Body[i], want[i])
		}
	}
	if frame.Trailer != nil {
		t.Fatalf("simple variant must not draw a trailer")
	}
	//2.- Wheels are 30x10 boxes centred on the axle corners.
	fl := frame.Wheels[0]
	if !near(fl[0], vmath.Vec2{485, 62.5}) || !near(fl[2], vmath.Vec2{515, 72.5}) {
		t.Fatalf("unexpected front-left wheel %v", fl)
	}
}

func TestBuildFrameFrontWheelsFollowWheelAngle(t *testing.T) {
	cfg := physics.SimpleConfig()
	state := restState(cfg)
	state.WheelAngle = math.Pi / 2 * 0.5
	frame := BuildFrame(state, cfg.Tuning, 1280)

	front := frame.Wheels[0]
	rear := frame.Wheels[2]
	frontAxis := front[2].Sub(front[1])
	rearAxis := rear[2].Sub(rear[1])
	if math.Abs(math.Atan2(frontAxis.Y(), frontAxis.X())-state.WheelAngle) > 1e-9 {
		t.Fatalf("front wheel not rotated by the wheel angle: %v", frontAxis)
	}
	if math.Abs(math.Atan2(rearAxis.Y(), rearAxis.X())) > 1e-9 {
		t.Fatalf("rear wheel must follow the body: %v", rearAxis)
	}
}

func TestBuildFrameTrailer(t *testing.T) {
	cfg := physics.TrailerConfig()
	frame := BuildFrame(restState(cfg), cfg.Tuning, 1280)
	if frame.Trailer == nil {
		t.Fatalf("expected trailer quad")
	}
	//1.- Hitch at (400,100); the box extends 15 ahead and length+15 behind.
	tr := *frame.Trailer
	if !near(tr[0], vmath.Vec2{415, 100 - 37.5}) || !near(tr[2], vmath.Vec2{400 - 15 - 323, 100 + 37.5}) {
		t.Fatalf("unexpected trailer quad %v", tr)
	}
	if got := len(frame.Polygons(DefaultPalette())); got != 6 {
		t.Fatalf("expected 6 polygons, got %d", got)
	}
}

func TestBuildFrameGauge(t *testing.T) {
	cfg := physics.SimpleConfig()
	state := restState(cfg)
	frame := BuildFrame(state, cfg.Tuning, 1280)
	g := frame.Gauge
	if g.Track != [4]float64{400, 10, 480, 24} {
		t.Fatalf("unexpected track %v", g.Track)
	}
	if !near(g.Dot, vmath.Vec2{640, 22}) || g.Radius != 12 || g.Active {
		t.Fatalf("unexpected idle gauge %+v", g)
	}

	//1.- Full right lock reaches the end of the track and lights the dot.
	state.WheelAngle = cfg.Tuning.MaxWheelAngle
	state.Mode = physics.SteeringKey
	g = BuildFrame(state, cfg.Tuning, 1280).Gauge
	if !near(g.Dot, vmath.Vec2{880, 22}) || !g.Active {
		t.Fatalf("unexpected active gauge %+v", g)
	}
	palette := DefaultPalette()
	if palette.DotColor(g) != palette.DotActive {
		t.Fatalf("active gauge should use the active colour")
	}
}

func TestBuildFrameDoesNotMutateState(t *testing.T) {
	cfg := physics.TrailerConfig()
	state := restState(cfg)
	before := *state.Trailer
	_ = BuildFrame(state, cfg.Tuning, 800)
	if *state.Trailer != before {
		t.Fatalf("frame building mutated the trailer")
	}
}
