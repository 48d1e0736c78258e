package input

import (
	"sync"
	"time"

	"steersim/engine/internal/logging"
)

// Clock exposes the current time for gating decisions.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now implements Clock by delegating to time.Now.
func (systemClock) Now() time.Time { return time.Now() }

// GateConfig controls the freshness and throughput gates applied to remote input events.
type GateConfig struct {
	MaxAge      time.Duration
	MinInterval time.Duration
}

// DropReason enumerates why an event was rejected by the gate.
type DropReason string

const (
	DropReasonNone        DropReason = ""
	DropReasonSequence    DropReason = "sequence"
	DropReasonStale       DropReason = "stale"
	DropReasonRateLimited DropReason = "rate_limit"
)

// String returns the textual representation of the drop reason.
func (r DropReason) String() string { return string(r) }

// Decision summarises whether an event passed the gate.
type Decision struct {
	Accepted bool
	Reason   DropReason
	Delay    time.Duration
}

// Envelope carries the ordering metadata of a remote input event.
type Envelope struct {
	ClientID string
	Sequence uint64
	SentAt   time.Time
}

// DropCounters aggregates per-reason drop counts.
type DropCounters struct {
	Sequence    uint64 `json:"sequence"`
	Stale       uint64 `json:"stale"`
	RateLimited uint64 `json:"rate_limited"`
}

type clientState struct {
	lastSequence uint64
	lastAccepted time.Time
}

// Gate validates ordering, freshness and throughput of remote input events.
// Key releases must never be lost, so callers should gate only events whose
// loss is harmless or rely on the sequence check alone for releases.
type Gate struct {
	mu      sync.Mutex
	cfg     GateConfig
	clock   Clock
	logger  *logging.Logger
	clients map[string]*clientState
	drops   map[string]DropCounters
}

// GateOption customises gate construction.
type GateOption func(*Gate)

// WithClock overrides the clock used for latency calculations.
func WithClock(clock Clock) GateOption {
	return func(g *Gate) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// NewGate constructs a gate with the supplied configuration and logger.
func NewGate(cfg GateConfig, logger *logging.Logger, opts ...GateOption) *Gate {
	//1.- Treat negative limits as disabled.
	if cfg.MaxAge < 0 {
		cfg.MaxAge = 0
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	if logger == nil {
		logger = logging.L()
	}
	gate := &Gate{
		cfg:     cfg,
		clock:   systemClock{},
		logger:  logger,
		clients: make(map[string]*clientState),
		drops:   make(map[string]DropCounters),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(gate)
		}
	}
	return gate
}

// Evaluate applies ordering, freshness and throughput checks. Rate limiting is
// skipped when throttled is false so releases and gesture ends always land.
func (g *Gate) Evaluate(env Envelope, throttled bool) Decision {
	decision := Decision{Accepted: true}
	if g == nil || env.ClientID == "" {
		return decision
	}
	now := g.clock.Now()
	if !env.SentAt.IsZero() {
		if delay := now.Sub(env.SentAt); delay > 0 {
			decision.Delay = delay
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	state := g.clients[env.ClientID]
	if state == nil {
		state = &clientState{}
		g.clients[env.ClientID] = state
	}

	switch {
	case env.Sequence == 0 || (state.lastSequence != 0 && env.Sequence <= state.lastSequence):
		decision.Accepted, decision.Reason = false, DropReasonSequence
	case throttled && g.cfg.MaxAge > 0 && decision.Delay > g.cfg.MaxAge:
		decision.Accepted, decision.Reason = false, DropReasonStale
	case throttled && g.cfg.MinInterval > 0 && !state.lastAccepted.IsZero() && now.Sub(state.lastAccepted) < g.cfg.MinInterval:
		decision.Accepted, decision.Reason = false, DropReasonRateLimited
	default:
		//1.- Promote the event as the latest accepted one for this client.
		state.lastSequence = env.Sequence
		state.lastAccepted = now
		return decision
	}

	counters := g.drops[env.ClientID]
	switch decision.Reason {
	case DropReasonSequence:
		counters.Sequence++
	case DropReasonStale:
		counters.Stale++
	case DropReasonRateLimited:
		counters.RateLimited++
	}
	g.drops[env.ClientID] = counters
	g.logger.Debug("input event dropped",
		logging.String("client_id", env.ClientID),
		logging.String("reason", decision.Reason.String()),
		logging.Uint64("sequence", env.Sequence),
	)
	return decision
}

// Forget clears sequencing state and counters for a disconnected client.
func (g *Gate) Forget(clientID string) {
	if g == nil || clientID == "" {
		return
	}
	g.mu.Lock()
	delete(g.clients, clientID)
	delete(g.drops, clientID)
	g.mu.Unlock()
}

// Drops returns a copy of the per-client drop counters.
func (g *Gate) Drops() map[string]DropCounters {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.drops) == 0 {
		return nil
	}
	clone := make(map[string]DropCounters, len(g.drops))
	for id, counters := range g.drops {
		clone[id] = counters
	}
	return clone
}
