package input

import (
	"errors"
	"math"
	"sync"

	"steersim/engine/internal/logging"
)

// ErrSessionClosed is returned when events arrive after Close.
var ErrSessionClosed = errors.New("input session closed")

// ErrGestureActive is returned when a second pointer tries to start a gesture.
var ErrGestureActive = errors.New("pointer gesture already active")

// PointerScale converts horizontal pointer movement into wheel angle.
type PointerScale struct {
	// AnglePerWidth is the wheel travel for a drag across the full reference width.
	AnglePerWidth float64
	// ReferenceWidth is the width in device pixels the drag is measured against.
	ReferenceWidth float64
}

// Delta returns the wheel angle change for movementX CSS pixels at the given
// device pixel ratio.
func (p PointerScale) Delta(movementX, devicePixelRatio float64) float64 {
	if !(p.ReferenceWidth > 0) {
		return 0
	}
	if !(devicePixelRatio > 0) {
		devicePixelRatio = 1
	}
	return p.AnglePerWidth * movementX * devicePixelRatio / p.ReferenceWidth
}

// Session owns the held keys and the active pointer gesture for one
// simulation run. A key stays held while any producer holds it. It is safe
// for concurrent use by event producers and the tick loop.
type Session struct {
	mu      sync.Mutex
	scale   PointerScale
	logger  *logging.Logger
	keys    map[string]int
	gesture *Gesture
	// residual holds movement that arrived after the last sample of a gesture
	// that has since ended; it is delivered on the next sample.
	residual    float64
	hasResidual bool
	closed      bool
}

// NewSession acquires an input session.
func NewSession(scale PointerScale, logger *logging.Logger) *Session {
	if logger == nil {
		logger = logging.L()
	}
	return &Session{
		scale:  scale,
		logger: logger.With(logging.String("component", "input")),
		keys:   make(map[string]int),
	}
}

// Scale exposes the pointer conversion used by gestures.
func (s *Session) Scale() PointerScale {
	return s.scale
}

// KeyDown adds one hold on code.
func (s *Session) KeyDown(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.keys[code]++
	return nil
}

// KeyUp drops one hold on code; the key is released when no holds remain.
func (s *Session) KeyUp(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.keys[code] <= 1 {
		delete(s.keys, code)
		return nil
	}
	s.keys[code]--
	return nil
}

// SetKeys replaces the held-key set, for hosts that poll keyboard state.
func (s *Session) SetKeys(held map[string]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.keys = make(map[string]int, len(held))
	for code, down := range held {
		if down {
			s.keys[code] = 1
		}
	}
	return nil
}

// PointerDown starts a steering gesture owned by pointerID. The returned
// gesture must be released or cancelled to end pointer steering.
func (s *Session) PointerDown(pointerID int64) (*Gesture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.gesture != nil {
		return nil, ErrGestureActive
	}
	s.gesture = &Gesture{session: s, pointerID: pointerID}
	s.logger.Debug("pointer gesture started", logging.Int("pointer_id", int(pointerID)))
	return s.gesture, nil
}

// Gesture returns the active gesture, if any.
func (s *Session) Gesture() *Gesture {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gesture
}

// Sample resolves held keys and drains the pointer delta accumulated since
// the previous call. Movement left over from an ended gesture is delivered
// as a trailing delta without pointer ownership.
func (s *Session) Sample() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	held := make(map[string]bool, len(s.keys))
	for code, holds := range s.keys {
		held[code] = holds > 0
	}
	snap := FromKeys(held)
	switch {
	case s.gesture != nil:
		snap = snap.WithPointer(s.residual + s.gesture.pending)
		s.gesture.pending = 0
	case s.hasResidual:
		snap.PointerDelta = s.residual
	}
	s.residual = 0
	s.hasResidual = false
	return snap
}

// Close releases the session: keys are cleared and any gesture is cancelled.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.keys = map[string]int{}
	if s.gesture != nil {
		s.gesture.endLocked()
	}
	s.residual = 0
	s.hasResidual = false
}

// Gesture is a pointer steering drag. Only events carrying the owning pointer
// id affect it.
type Gesture struct {
	session   *Session
	pointerID int64
	pending   float64
	done      bool
}

// PointerID reports the pointer that owns the gesture.
func (g *Gesture) PointerID() int64 {
	return g.pointerID
}

// Move accumulates horizontal movement. It reports whether the event was consumed.
func (g *Gesture) Move(pointerID int64, movementX, devicePixelRatio float64) bool {
	if g == nil || pointerID != g.pointerID {
		return false
	}
	delta := g.session.scale.Delta(movementX, devicePixelRatio)
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return false
	}
	g.session.mu.Lock()
	defer g.session.mu.Unlock()
	if g.done {
		return false
	}
	g.pending += delta
	return true
}

// Release ends the gesture on the matching pointer-up. It reports whether the
// event belonged to this gesture.
func (g *Gesture) Release(pointerID int64) bool {
	if g == nil || pointerID != g.pointerID {
		return false
	}
	g.session.mu.Lock()
	defer g.session.mu.Unlock()
	if g.done {
		return false
	}
	g.endLocked()
	return true
}

// Cancel ends the gesture regardless of pointer id; capture loss and client
// disconnects are treated as a release.
func (g *Gesture) Cancel() {
	if g == nil {
		return
	}
	g.session.mu.Lock()
	defer g.session.mu.Unlock()
	g.endLocked()
}

// Done reports whether the gesture has ended.
func (g *Gesture) Done() bool {
	g.session.mu.Lock()
	defer g.session.mu.Unlock()
	return g.done
}

func (g *Gesture) endLocked() {
	if g.done {
		return
	}
	g.done = true
	if !g.session.closed && g.pending != 0 {
		g.session.residual += g.pending
		g.session.hasResidual = true
	}
	g.pending = 0
	if g.session.gesture == g {
		g.session.gesture = nil
	}
	g.session.logger.Debug("pointer gesture ended", logging.Int("pointer_id", int(g.pointerID)))
}
