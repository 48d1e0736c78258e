package input

import (
	"math"
	"sync"
	"time"

	"steersim/engine/internal/logging"
)

// EventType names a remote input event.
type EventType string

const (
	EventKeyDown       EventType = "keydown"
	EventKeyUp         EventType = "keyup"
	EventPointerDown   EventType = "pointerdown"
	EventPointerMove   EventType = "pointermove"
	EventPointerUp     EventType = "pointerup"
	EventPointerCancel EventType = "pointercancel"
)

// Event is one input event forwarded by a remote host.
type Event struct {
	Type             EventType `json:"type"`
	Code             string    `json:"code,omitempty"`
	PointerID        int64     `json:"pointer_id,omitempty"`
	MovementX        float64   `json:"movement_x,omitempty"`
	DevicePixelRatio float64   `json:"dpr,omitempty"`
	Sequence         uint64    `json:"seq"`
	SentAtMs         int64     `json:"sent_at_ms,omitempty"`
}

// SentAt converts the millisecond epoch timestamp.
func (e Event) SentAt() time.Time {
	if e.SentAtMs <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(e.SentAtMs)
}

// Throttled reports whether the event may be dropped by rate limiting.
// Releases and gesture ends are never throttled.
func (e Event) Throttled() bool {
	return e.Type == EventKeyDown || e.Type == EventPointerMove
}

// ValidationReason identifies why an event was rejected.
type ValidationReason string

const (
	ValidationReasonNone      ValidationReason = ""
	ValidationReasonType      ValidationReason = "unknown_type"
	ValidationReasonKey       ValidationReason = "unknown_key"
	ValidationReasonMovement  ValidationReason = "movement_range"
	ValidationReasonPixelRate ValidationReason = "dpr_range"
)

// Limits bounds the values accepted from remote hosts.
type Limits struct {
	MaxMovementX       float64
	MaxDevicePixelRate float64
	InvalidBurstLimit  int
	InvalidBurstWindow time.Duration
}

// DefaultLimits is tuned for browser pointer events.
var DefaultLimits = Limits{
	MaxMovementX:       4096,
	MaxDevicePixelRate: 8,
	InvalidBurstLimit:  20,
	InvalidBurstWindow: time.Second,
}

// ValidationDecision summarises the result of Validate.
type ValidationDecision struct {
	Accepted   bool
	Reason     ValidationReason
	Disconnect bool
}

type burstState struct {
	first time.Time
	count int
}

// Validator rejects malformed events and flags clients that keep sending them.
type Validator struct {
	mu      sync.Mutex
	limits  Limits
	clock   Clock
	logger  *logging.Logger
	bursts  map[string]*burstState
	rejects map[string]map[ValidationReason]uint64
}

// NewValidator builds a validator; zero limits fall back to DefaultLimits.
func NewValidator(limits Limits, logger *logging.Logger, clock Clock) *Validator {
	if limits.MaxMovementX <= 0 {
		limits.MaxMovementX = DefaultLimits.MaxMovementX
	}
	if limits.MaxDevicePixelRate <= 0 {
		limits.MaxDevicePixelRate = DefaultLimits.MaxDevicePixelRate
	}
	if limits.InvalidBurstLimit <= 0 {
		limits.InvalidBurstLimit = DefaultLimits.InvalidBurstLimit
	}
	if limits.InvalidBurstWindow <= 0 {
		limits.InvalidBurstWindow = DefaultLimits.InvalidBurstWindow
	}
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = logging.L()
	}
	return &Validator{
		limits:  limits,
		clock:   clock,
		logger:  logger,
		bursts:  make(map[string]*burstState),
		rejects: make(map[string]map[ValidationReason]uint64),
	}
}

// Check reports the first rule the event violates.
func (v *Validator) Check(e Event) ValidationReason {
	switch e.Type {
	case EventKeyDown, EventKeyUp:
		switch e.Code {
		case KeyW, KeyS, KeyA, KeyD:
			return ValidationReasonNone
		}
		return ValidationReasonKey
	case EventPointerMove:
		if math.IsNaN(e.MovementX) || math.Abs(e.MovementX) > v.limits.MaxMovementX {
			return ValidationReasonMovement
		}
		if math.IsNaN(e.DevicePixelRatio) || e.DevicePixelRatio < 0 || e.DevicePixelRatio > v.limits.MaxDevicePixelRate {
			return ValidationReasonPixelRate
		}
		return ValidationReasonNone
	case EventPointerDown, EventPointerUp, EventPointerCancel:
		return ValidationReasonNone
	}
	return ValidationReasonType
}

// Validate checks the event and tracks invalid bursts per client.
func (v *Validator) Validate(clientID string, e Event) ValidationDecision {
	reason := v.Check(e)
	if reason == ValidationReasonNone {
		return ValidationDecision{Accepted: true}
	}
	now := v.clock.Now()

	v.mu.Lock()
	defer v.mu.Unlock()
	counts := v.rejects[clientID]
	if counts == nil {
		counts = make(map[ValidationReason]uint64)
		v.rejects[clientID] = counts
	}
	counts[reason]++

	//1.- Restart the burst window once it has elapsed.
	burst := v.bursts[clientID]
	if burst == nil || now.Sub(burst.first) > v.limits.InvalidBurstWindow {
		burst = &burstState{first: now}
		v.bursts[clientID] = burst
	}
	burst.count++
	decision := ValidationDecision{Reason: reason, Disconnect: burst.count >= v.limits.InvalidBurstLimit}
	if decision.Disconnect {
		v.logger.Warn("disconnecting client after invalid input burst",
			logging.String("client_id", clientID),
			logging.Int("invalid", burst.count),
		)
	}
	return decision
}

// Rejects returns a copy of the per-client rejection counters.
func (v *Validator) Rejects(clientID string) map[ValidationReason]uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	clone := make(map[ValidationReason]uint64, len(v.rejects[clientID]))
	for reason, count := range v.rejects[clientID] {
		clone[reason] = count
	}
	return clone
}

// Forget drops all state for the client.
func (v *Validator) Forget(clientID string) {
	v.mu.Lock()
	delete(v.bursts, clientID)
	delete(v.rejects, clientID)
	v.mu.Unlock()
}
