package physics

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"steersim/engine/internal/vmath"
)

// Geometry is the static tractor shape. It never changes after construction.
type Geometry struct {
	Wheelbase float64 `json:"wheelbase"`
	BodyWidth float64 `json:"body_width"`
}

// TrailerGeometry describes the towed body and where it is pinned.
type TrailerGeometry struct {
	Length float64 `json:"length"`
	// HitchOffset is the distance from the tractor's front axle back to the hitch.
	HitchOffset float64 `json:"hitch_offset"`
}

// Tuning holds the per-tick control constants. All rates are per logical
// tick, not per second.
type Tuning struct {
	AccelRate     float64 `json:"accel_rate"`
	Friction      float64 `json:"friction"`
	MaxSpeed      float64 `json:"max_speed"`
	MaxWheelAngle float64 `json:"max_wheel_angle"`
	RestoreGain   float64 `json:"restore_gain"`
	TurnRate      float64 `json:"turn_rate"`
}

// Pose is the initial placement of the tractor.
type Pose struct {
	Position   vmath.Vec2 `json:"position"`
	Heading    float64    `json:"heading"`
	WheelAngle float64    `json:"wheel_angle"`
}

// Config selects the vehicle variant and its constants.
type Config struct {
	Name     string   `json:"name"`
	Geometry Geometry `json:"geometry"`
	Tuning   Tuning   `json:"tuning"`
	Initial  Pose     `json:"initial"`

	HasTrailer bool            `json:"has_trailer"`
	Trailer    TrailerGeometry `json:"trailer"`

	// PointerWorldFrame makes pointer drags steer the wheel's world heading
	// (body heading plus wheel angle) instead of the angle relative to the body.
	PointerWorldFrame bool `json:"pointer_world_frame"`
}

// DefaultTuning returns the shared control constants; only MaxSpeed differs
// between variants.
func DefaultTuning(maxSpeed float64) Tuning {
	return Tuning{
		AccelRate:     0.2,
		Friction:      0.1,
		MaxSpeed:      maxSpeed,
		MaxWheelAngle: math.Pi / 4,
		RestoreGain:   0.01,
		TurnRate:      0.02,
	}
}

// SimpleConfig is the single-body steering variant.
func SimpleConfig() Config {
	return Config{
		Name:     "simple",
		Geometry: Geometry{Wheelbase: 100, BodyWidth: 65},
		Tuning:   DefaultTuning(3),
		Initial:  Pose{Position: vmath.Vec2{500, 100}},
	}
}

// TrailerConfig is the tractor with an articulated trailer.
func TrailerConfig() Config {
	return Config{
		Name:              "trailer",
		Geometry:          Geometry{Wheelbase: 100, BodyWidth: 65},
		Tuning:            DefaultTuning(5),
		Initial:           Pose{Position: vmath.Vec2{500, 100}},
		HasTrailer:        true,
		Trailer:           TrailerGeometry{Length: 323, HitchOffset: 100},
		PointerWorldFrame: true,
	}
}

// Preset resolves a variant name.
func Preset(name string) (Config, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "simple":
		return SimpleConfig(), nil
	case "trailer", "":
		return TrailerConfig(), nil
	default:
		return Config{}, fmt.Errorf("unknown vehicle variant %q", name)
	}
}

// Validate rejects geometry and tuning for which the asin terms of the
// integrator could leave [-1, 1].
func (c Config) Validate() error {
	var problems []string
	g, t := c.Geometry, c.Tuning
	if !(g.Wheelbase > 0) || !(g.BodyWidth > 0) {
		problems = append(problems, "wheelbase and body width must be positive")
	}
	if !(t.MaxSpeed > 0) {
		problems = append(problems, "max speed must be positive")
	}
	if !(t.MaxWheelAngle > 0) || t.MaxWheelAngle > math.Pi/2 {
		problems = append(problems, "max wheel angle must be in (0, pi/2]")
	}
	if t.AccelRate < 0 || t.Friction < 0 || t.RestoreGain < 0 || t.TurnRate < 0 {
		problems = append(problems, "rates and gains must be non-negative")
	}
	if g.Wheelbase > 0 && t.MaxSpeed*math.Sin(t.MaxWheelAngle)/g.Wheelbase > 1 {
		problems = append(problems, "max speed too high for wheelbase: yaw ratio exceeds 1")
	}
	if t.RestoreGain*t.MaxSpeed > 1 {
		problems = append(problems, "restore gain too high for max speed")
	}
	if c.HasTrailer {
		if !(c.Trailer.Length > 0) || c.Trailer.HitchOffset < 0 {
			problems = append(problems, "trailer length must be positive and hitch offset non-negative")
		} else if t.MaxSpeed/c.Trailer.Length > 1 {
			problems = append(problems, "max speed too high for trailer length")
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
