package physics

import "steersim/engine/internal/vmath"

// SteeringMode records which input channel governs the wheel angle.
type SteeringMode int

const (
	SteeringNone SteeringMode = iota
	SteeringPointer
	SteeringKey
)

func (m SteeringMode) String() string {
	switch m {
	case SteeringPointer:
		return "pointer"
	case SteeringKey:
		return "key"
	default:
		return "none"
	}
}

// MarshalText encodes the mode by name.
func (m SteeringMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name; unknown names map to SteeringNone.
func (m *SteeringMode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "pointer":
		*m = SteeringPointer
	case "key":
		*m = SteeringKey
	default:
		*m = SteeringNone
	}
	return nil
}

// VehicleState is one immutable simulation snapshot. Step returns a new value
// every tick; nothing reachable from a returned state is mutated afterwards.
type VehicleState struct {
	Position   vmath.Vec2    `json:"position"`
	Heading    float64       `json:"heading"`
	Speed      float64       `json:"speed"`
	WheelAngle float64       `json:"wheel_angle"`
	Mode       SteeringMode  `json:"mode"`
	Geometry   Geometry      `json:"geometry"`
	Trailer    *TrailerState `json:"trailer,omitempty"`
}

// TrailerState is the pose of the towed body.
type TrailerState struct {
	Position vmath.Vec2 `json:"position"`
	Heading  float64    `json:"heading"`
	Length   float64    `json:"length"`
}

// Equal reports exact equality including the trailer.
func (s VehicleState) Equal(o VehicleState) bool {
	if s.Position != o.Position || s.Heading != o.Heading || s.Speed != o.Speed ||
		s.WheelAngle != o.WheelAngle || s.Mode != o.Mode || s.Geometry != o.Geometry {
		return false
	}
	if (s.Trailer == nil) != (o.Trailer == nil) {
		return false
	}
	return s.Trailer == nil || *s.Trailer == *o.Trailer
}
