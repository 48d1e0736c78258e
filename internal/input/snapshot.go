// Package input turns raw key and pointer events into the per-tick control
// snapshot consumed by the integrator.
package input

// Key codes understood by the simulator. They match DOM KeyboardEvent.code values.
const (
	KeyW = "KeyW"
	KeyS = "KeyS"
	KeyA = "KeyA"
	KeyD = "KeyD"
)

// Throttle is the longitudinal command for one tick.
type Throttle int

const (
	ThrottleNone Throttle = iota
	ThrottleAccelerate
	ThrottleBrake
)

func (t Throttle) String() string {
	switch t {
	case ThrottleAccelerate:
		return "accelerate"
	case ThrottleBrake:
		return "brake"
	default:
		return "none"
	}
}

// SteerKey is the key-driven steering command for one tick.
type SteerKey int

const (
	SteerNone SteerKey = iota
	SteerLeft
	SteerRight
)

func (s SteerKey) String() string {
	switch s {
	case SteerLeft:
		return "left"
	case SteerRight:
		return "right"
	default:
		return "none"
	}
}

// Snapshot is the control input sampled once per tick and consumed once.
// While Pointer is true PointerDelta is the gesture's movement since the last
// sample; otherwise it is movement left over from a gesture that just ended.
type Snapshot struct {
	Throttle     Throttle `json:"throttle"`
	Steer        SteerKey `json:"steer"`
	Pointer      bool     `json:"pointer"`
	PointerDelta float64  `json:"pointer_delta"`
}

// WithPointer returns a copy of s carrying an active pointer gesture delta.
func (s Snapshot) WithPointer(delta float64) Snapshot {
	s.Pointer = true
	s.PointerDelta = delta
	return s
}

// FromKeys resolves a held-key set into throttle and steering commands.
// W is checked before S and A before D, so the first wins when both are held.
func FromKeys(held map[string]bool) Snapshot {
	var snap Snapshot
	switch {
	case held[KeyW]:
		snap.Throttle = ThrottleAccelerate
	case held[KeyS]:
		snap.Throttle = ThrottleBrake
	}
	switch {
	case held[KeyA]:
		snap.Steer = SteerLeft
	case held[KeyD]:
		snap.Steer = SteerRight
	}
	return snap
}
