// Package physics advances the tractor and optional trailer by one fixed
// logical tick. The step is a pure function of the previous state and the
// sampled input; it is not scaled by wall-clock time.
package physics

import (
	"fmt"
	"math"

	"steersim/engine/internal/input"
	"steersim/engine/internal/logging"
	"steersim/engine/internal/vmath"
)

// Integrator applies the bicycle-model update for one configuration.
type Integrator struct {
	cfg    Config
	logger *logging.Logger
}

// NewIntegrator validates cfg and returns an integrator bound to it.
func NewIntegrator(cfg Config, logger *logging.Logger) (*Integrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("vehicle config %q: %w", cfg.Name, err)
	}
	if logger == nil {
		logger = logging.L()
	}
	return &Integrator{
		cfg:    cfg,
		logger: logger.With(logging.String("component", "integrator"), logging.String("variant", cfg.Name)),
	}, nil
}

// Config returns the configuration the integrator was built with.
func (ig *Integrator) Config() Config {
	return ig.cfg
}

// Initial builds the state at simulation start. The trailer starts pinned at
// the hitch and aligned with the tractor.
func (ig *Integrator) Initial() VehicleState {
	pose := ig.cfg.Initial
	state := VehicleState{
		Position:   pose.Position,
		Heading:    pose.Heading,
		WheelAngle: vmath.Clamp(pose.WheelAngle, -ig.cfg.Tuning.MaxWheelAngle, ig.cfg.Tuning.MaxWheelAngle),
		Geometry:   ig.cfg.Geometry,
	}
	if ig.cfg.HasTrailer {
		state.Trailer = &TrailerState{
			Position: hitchPoint(state, ig.cfg.Trailer.HitchOffset),
			Heading:  pose.Heading,
			Length:   ig.cfg.Trailer.Length,
		}
	}
	return state
}

// Step advances prev by one tick. It never fails: ratios that would leave the
// asin domain are clamped and logged.
func (ig *Integrator) Step(prev VehicleState, in input.Snapshot) VehicleState {
	t := ig.cfg.Tuning

	//1.- Throttle and friction.
	speed := integrateSpeed(prev.Speed, throttleAccel(in.Throttle, t.AccelRate), t)

	//2.- Resolve steering. A pointer gesture steers the wheel directly and
	// lands before motion; key steering settles the wheel for the next tick.
	var (
		mode      SteeringMode
		wheel     = prev.WheelAngle
		nextWheel float64
	)
	if in.Pointer {
		mode = SteeringPointer
		wheel = ig.clampWheel(prev.WheelAngle + in.PointerDelta)
		nextWheel = wheel
	} else {
		if in.PointerDelta != 0 {
			//1.- Movement trailing a released gesture still lands on the wheel.
			wheel = ig.clampWheel(prev.WheelAngle + in.PointerDelta)
		}
		delta := ig.safeAsin(-t.RestoreGain*math.Abs(speed)*math.Sin(wheel), "restore")
		mode = SteeringKey
		switch in.Steer {
		case input.SteerLeft:
			delta -= t.TurnRate
		case input.SteerRight:
			delta += t.TurnRate
		default:
			mode = SteeringNone
		}
		nextWheel = ig.clampWheel(wheel + delta)
	}

	//3.- Translate along the front wheel direction.
	position := vmath.Translate(prev.Position, vmath.Polar(speed, prev.Heading+wheel))

	//4.- Yaw from the wheelbase-scaled wheel deflection.
	torque := speed / ig.cfg.Geometry.Wheelbase * math.Sin(wheel)
	heading := prev.Heading + ig.safeAsin(torque, "yaw")

	if in.Pointer && ig.cfg.PointerWorldFrame {
		//5.- Hold the wheel's world heading while the body turns under it.
		nextWheel = ig.clampWheel(prev.Heading + wheel - heading)
	}

	next := VehicleState{
		Position:   position,
		Heading:    heading,
		Speed:      speed,
		WheelAngle: nextWheel,
		Mode:       mode,
		Geometry:   prev.Geometry,
	}
	if ig.cfg.HasTrailer && prev.Trailer != nil {
		trailer := ig.StepTrailer(*prev.Trailer, prev, next, ig.cfg.Trailer.HitchOffset)
		next.Trailer = &trailer
	}
	return next
}

// StepTrailer pins the trailer at the tractor's new hitch point and lets its
// heading lag the tractor's previous heading.
func (ig *Integrator) StepTrailer(prevTrailer TrailerState, tractorPrev, tractorNew VehicleState, hitchOffset float64) TrailerState {
	ratio := tractorNew.Speed / prevTrailer.Length * math.Sin(tractorPrev.Heading-prevTrailer.Heading)
	return TrailerState{
		Position: hitchPoint(tractorNew, hitchOffset),
		Heading:  prevTrailer.Heading + ig.safeAsin(ratio, "trailer_yaw"),
		Length:   prevTrailer.Length,
	}
}

func hitchPoint(tractor VehicleState, hitchOffset float64) vmath.Vec2 {
	return vmath.Translate(tractor.Position, vmath.Polar(-hitchOffset, tractor.Heading))
}

func throttleAccel(throttle input.Throttle, rate float64) float64 {
	switch throttle {
	case input.ThrottleAccelerate:
		return rate
	case input.ThrottleBrake:
		return -rate
	default:
		return 0
	}
}

// integrateSpeed applies accel and friction so that friction alone never
// carries the speed across zero.
func integrateSpeed(speed, accel float64, t Tuning) float64 {
	switch {
	case speed < 0:
		return vmath.Clamp(speed+accel+t.Friction, -t.MaxSpeed, 0)
	case speed > 0:
		return vmath.Clamp(speed+accel-t.Friction, 0, t.MaxSpeed)
	case accel != 0:
		return vmath.Clamp(speed+accel-t.Friction, -t.MaxSpeed, t.MaxSpeed)
	default:
		return speed
	}
}

func (ig *Integrator) clampWheel(angle float64) float64 {
	if math.IsNaN(angle) {
		return 0
	}
	limit := ig.cfg.Tuning.MaxWheelAngle
	return vmath.Clamp(angle, -limit, limit)
}

// safeAsin is asin over [-1, 1]. Anything outside is a broken clamp upstream:
// it is logged and clamped rather than allowed to produce NaN.
func (ig *Integrator) safeAsin(ratio float64, term string) float64 {
	if ratio >= -1 && ratio <= 1 {
		return math.Asin(ratio)
	}
	ig.logger.Warn("asin ratio out of domain", logging.String("term", term), logging.Float64("ratio", ratio))
	if math.IsNaN(ratio) {
		return 0
	}
	return math.Asin(vmath.Clamp(ratio, -1, 1))
}
