// Package simulation owns the tick driver: it samples input, advances the
// integrator once per tick and publishes immutable snapshots to observers.
package simulation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"steersim/engine/internal/input"
	"steersim/engine/internal/logging"
	"steersim/engine/internal/physics"
)

// ErrRunnerClosed is returned when a closed runner is asked to run.
var ErrRunnerClosed = errors.New("simulation runner closed")

// Snapshot is the state published after a tick together with the input that
// produced it. Tick 0 is the initial state.
type Snapshot struct {
	Tick    uint64               `json:"tick"`
	Input   input.Snapshot       `json:"input"`
	Vehicle physics.VehicleState `json:"vehicle"`
}

// Observer receives every published snapshot synchronously on the tick
// goroutine. Observers must not block.
type Observer func(Snapshot)

// Runner couples an integrator with the input session feeding it.
type Runner struct {
	integrator *physics.Integrator
	session    *input.Session
	logger     *logging.Logger

	stepMu sync.Mutex
	latest atomic.Pointer[Snapshot]
	closed atomic.Bool

	subsMu    sync.Mutex
	subs      map[uint64]chan Snapshot
	nextSub   uint64
	observers []Observer
	dropped   atomic.Uint64
}

// NewRunner publishes the integrator's initial state as tick 0.
func NewRunner(integrator *physics.Integrator, session *input.Session, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.L()
	}
	r := &Runner{
		integrator: integrator,
		session:    session,
		logger:     logger.With(logging.String("component", "runner")),
		subs:       make(map[uint64]chan Snapshot),
	}
	initial := Snapshot{Vehicle: integrator.Initial()}
	r.latest.Store(&initial)
	return r
}

// Session exposes the input session the runner samples each tick.
func (r *Runner) Session() *input.Session {
	return r.session
}

// Integrator exposes the integrator driven by the runner.
func (r *Runner) Integrator() *physics.Integrator {
	return r.integrator
}

// Latest returns the most recent published snapshot.
func (r *Runner) Latest() Snapshot {
	return *r.latest.Load()
}

// Advance samples input and performs exactly one logical step.
func (r *Runner) Advance() Snapshot {
	r.stepMu.Lock()
	defer r.stepMu.Unlock()

	//1.- Sample after the previous tick published, so input between ticks lands on this one.
	prev := r.latest.Load()
	in := r.session.Sample()

	//2.- Step from the previous immutable state into a fresh one.
	next := &Snapshot{
		Tick:    prev.Tick + 1,
		Input:   in,
		Vehicle: r.integrator.Step(prev.Vehicle, in),
	}
	r.latest.Store(next)

	//3.- Fan out to observers and subscribers without blocking the tick.
	r.publish(*next)
	return *next
}

// Replay steps the runner with a recorded input instead of sampling the
// session. It is used to reproduce recorded sessions.
func (r *Runner) Replay(in input.Snapshot) Snapshot {
	r.stepMu.Lock()
	defer r.stepMu.Unlock()

	prev := r.latest.Load()
	next := &Snapshot{Tick: prev.Tick + 1, Input: in, Vehicle: r.integrator.Step(prev.Vehicle, in)}
	r.latest.Store(next)
	r.publish(*next)
	return *next
}

// Observe registers fn to be called with every snapshot.
func (r *Runner) Observe(fn Observer) {
	if fn == nil {
		return
	}
	r.subsMu.Lock()
	r.observers = append(r.observers, fn)
	r.subsMu.Unlock()
}

// Subscribe streams snapshots until ctx is cancelled, then closes the channel.
// A subscriber that falls more than buffer snapshots behind misses snapshots.
func (r *Runner) Subscribe(ctx context.Context, buffer int) <-chan Snapshot {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)
	r.subsMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.subsMu.Unlock()

	go func() {
		<-ctx.Done()
		r.subsMu.Lock()
		if _, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(ch)
		}
		r.subsMu.Unlock()
	}()
	return ch
}

// Dropped reports how many snapshots were skipped for slow subscribers.
func (r *Runner) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Runner) publish(snap Snapshot) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for _, fn := range r.observers {
		fn(snap)
	}
	for _, ch := range r.subs {
		select {
		case ch <- snap:
		default:
			r.dropped.Add(1)
		}
	}
}

// Run advances the runner at hz ticks per second until ctx is cancelled.
func (r *Runner) Run(ctx context.Context, hz float64, monitor *TickMonitor) error {
	if r.closed.Load() {
		return ErrRunnerClosed
	}
	loop := NewLoop(hz, func(uint64) { r.Advance() }).WithMonitor(monitor)
	r.logger.Info("simulation loop started", logging.Float64("hz", hz))
	loop.Run(ctx)
	r.logger.Info("simulation loop stopped",
		logging.Uint64("tick", r.Latest().Tick),
		logging.Uint64("dropped", r.Dropped()),
		logging.Uint64("overruns", loop.Overruns()))
	return nil
}

// Close releases the input session and closes every subscriber channel.
func (r *Runner) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	r.session.Close()
	r.subsMu.Lock()
	for id, ch := range r.subs {
		delete(r.subs, id)
		close(ch)
	}
	r.subsMu.Unlock()
}
