package desktop

import (
	"steersim/engine/internal/input"
	"steersim/engine/internal/logging"
)

// mousePointerID is the pointer id used for the single desktop mouse.
const mousePointerID = 1

// pointerDevice is the per-frame view of one mouse button and the cursor.
type pointerDevice interface {
	CursorX() int
	Focused() bool
	JustPressed() bool
	Pressed() bool
	JustReleased() bool
	PixelRatio() float64
}

// gestureSource starts pointer gestures; *input.Session satisfies it.
type gestureSource interface {
	PointerDown(pointerID int64) (*input.Gesture, error)
}

// pointerTracker turns polled mouse state into a steering gesture: a press
// starts it, horizontal drag feeds it, release or focus loss ends it.
type pointerTracker struct {
	logger  *logging.Logger
	gesture *input.Gesture
	lastX   int
}

func newPointerTracker(logger *logging.Logger) *pointerTracker {
	if logger == nil {
		logger = logging.L()
	}
	return &pointerTracker{logger: logger}
}

// Poll advances the gesture by one frame of device state.
func (p *pointerTracker) Poll(dev pointerDevice, source gestureSource) {
	x := dev.CursorX()
	defer func() { p.lastX = x }()

	if !dev.Focused() {
		//1.- Losing focus is losing pointer capture.
		if p.gesture != nil {
			p.gesture.Cancel()
			p.gesture = nil
		}
		return
	}
	if p.gesture == nil {
		if !dev.JustPressed() {
			return
		}
		gesture, err := source.PointerDown(mousePointerID)
		if err != nil {
			p.logger.Warn("pointer gesture rejected", logging.Error(err))
			return
		}
		p.gesture = gesture
		return
	}
	if dx := x - p.lastX; dx != 0 {
		p.gesture.Move(mousePointerID, float64(dx), dev.PixelRatio())
	}
	if dev.JustReleased() || !dev.Pressed() {
		p.gesture.Release(mousePointerID)
		p.gesture = nil
	}
}

// Active reports whether a gesture is in progress.
func (p *pointerTracker) Active() bool {
	return p.gesture != nil
}
