package simulation

import (
	"context"
	"sync/atomic"
	"time"
)

const defaultHz = 60

// StepFunc advances the simulation by exactly one logical tick.
type StepFunc func(tick uint64)

// Loop calls a StepFunc at a fixed rate. A step that outlives its interval is
// an overrun; the ticks it swallowed are dropped, never replayed.
type Loop struct {
	interval time.Duration
	step     StepFunc
	monitor  *TickMonitor

	ticks    atomic.Uint64
	overruns atomic.Uint64
}

// NewLoop builds a loop for targetHz steps per second, falling back to 60.
func NewLoop(targetHz float64, step StepFunc) *Loop {
	interval := time.Second / defaultHz
	if targetHz > 0 {
		if d := time.Duration(float64(time.Second) / targetHz); d > 0 {
			interval = d
		}
	}
	if step == nil {
		step = func(uint64) {}
	}
	return &Loop{interval: interval, step: step}
}

// WithMonitor records the wall-clock cost of every tick on monitor.
func (l *Loop) WithMonitor(monitor *TickMonitor) *Loop {
	l.monitor = monitor
	return l
}

// Run steps until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			started := time.Now()
			l.step(l.ticks.Add(1))
			cost := time.Since(started)
			if cost > l.interval {
				l.overruns.Add(1)
			}
			l.monitor.Observe(ctx, cost)
		}
	}
}

// Interval is the configured time between steps.
func (l *Loop) Interval() time.Duration { return l.interval }

// Ticks counts the steps taken so far.
func (l *Loop) Ticks() uint64 { return l.ticks.Load() }

// Overruns counts steps that took longer than one interval.
func (l *Loop) Overruns() uint64 { return l.overruns.Load() }
