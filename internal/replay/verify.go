package replay

import (
	"fmt"

	"steersim/engine/internal/logging"
	"steersim/engine/internal/physics"
)

// Report summarises a determinism check.
type Report struct {
	Ticks    int    `json:"ticks"`
	Diverged bool   `json:"diverged"`
	Tick     uint64 `json:"tick,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Verify re-simulates the recorded inputs from the bundle's base frame and
// compares every recorded pose bit for bit.
func Verify(bundle *Bundle, logger *logging.Logger) (Report, error) {
	if bundle == nil {
		return Report{}, fmt.Errorf("bundle is required")
	}
	if logger == nil {
		logger = logging.L()
	}
	integrator, err := physics.NewIntegrator(bundle.Header.Vehicle, logger)
	if err != nil {
		return Report{}, err
	}

	//1.- Index frames by tick and locate the base state.
	frames := make(map[uint64]Frame, len(bundle.Frames))
	for _, frame := range bundle.Frames {
		frames[frame.Tick] = frame
	}
	base, ok := frames[bundle.Header.BaseTick]
	if !ok {
		return Report{}, fmt.Errorf("base frame %d missing", bundle.Header.BaseTick)
	}
	state, err := DecodePose(base.Payload, bundle.Header.Vehicle)
	if err != nil {
		return Report{}, fmt.Errorf("base frame: %w", err)
	}

	//2.- Step through inputs in order; each must follow the previous tick.
	report := Report{}
	tick := bundle.Header.BaseTick
	for _, record := range bundle.Inputs {
		if record.Tick <= bundle.Header.BaseTick {
			continue
		}
		if record.Tick != tick+1 {
			return report, fmt.Errorf("input gap: tick %d follows %d", record.Tick, tick)
		}
		tick = record.Tick
		state = integrator.Step(state, record.Input)
		report.Ticks++

		frame, ok := frames[tick]
		if !ok {
			continue
		}
		recorded, err := DecodePose(frame.Payload, bundle.Header.Vehicle)
		if err != nil {
			return report, fmt.Errorf("frame %d: %w", tick, err)
		}
		//3.- Stop at the first divergence; later ticks inherit it.
		if !recorded.Equal(state) {
			report.Diverged = true
			report.Tick = tick
			report.Detail = fmt.Sprintf("recorded %+v, simulated %+v", poseSummary(recorded), poseSummary(state))
			logger.Warn("replay diverged", logging.Uint64("tick", tick), logging.String("bundle", bundle.Dir))
			return report, nil
		}
	}
	return report, nil
}

type summary struct {
	X, Y, Heading, Speed, Wheel float64
	Mode                        string
}

func poseSummary(s physics.VehicleState) summary {
	return summary{X: s.Position.X(), Y: s.Position.Y(), Heading: s.Heading, Speed: s.Speed, Wheel: s.WheelAngle, Mode: s.Mode.String()}
}
