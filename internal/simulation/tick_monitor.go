package simulation

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "steersim/engine/simulation"

// TickMetricsSnapshot summarises observed tick durations.
type TickMetricsSnapshot struct {
	Samples int
	Average time.Duration
	Max     time.Duration
	Last    time.Duration
}

// AverageFPS derives the frames-per-second equivalent of the sampled tick duration.
func (s TickMetricsSnapshot) AverageFPS() float64 {
	if s.Average <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.Average)
}

// TickMonitor accumulates timing statistics for the simulation loop and
// mirrors every sample into an OpenTelemetry histogram.
type TickMonitor struct {
	mu        sync.Mutex
	samples   int
	total     time.Duration
	max       time.Duration
	last      time.Duration
	histogram metric.Float64Histogram
}

// NewTickMonitor constructs an empty monitor bound to the global meter provider.
func NewTickMonitor() *TickMonitor {
	return NewTickMonitorWithMeter(otel.Meter(meterName))
}

// NewTickMonitorWithMeter constructs a monitor recording into meter. A nil
// meter or a failed instrument registration keeps only the local statistics.
func NewTickMonitorWithMeter(meter metric.Meter) *TickMonitor {
	m := &TickMonitor{}
	if meter == nil {
		return m
	}
	histogram, err := meter.Float64Histogram(
		"steersim.tick.duration",
		metric.WithDescription("Wall-clock cost of one simulation tick."),
		metric.WithUnit("ms"),
	)
	if err == nil {
		m.histogram = histogram
	}
	return m
}

// Observe records the duration of a completed simulation tick.
func (m *TickMonitor) Observe(ctx context.Context, duration time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.mu.Lock()
	//1.- Accumulate the sample count and aggregate duration for average calculations.
	m.samples++
	m.total += duration
	//2.- Track the worst-case tick so overruns are easy to spot.
	if duration > m.max {
		m.max = duration
	}
	m.last = duration
	m.mu.Unlock()

	//3.- Export the sample; the histogram is safe for concurrent use.
	if m.histogram != nil {
		m.histogram.Record(ctx, float64(duration)/float64(time.Millisecond))
	}
}

// Snapshot returns a copy of the aggregated tick statistics.
func (m *TickMonitor) Snapshot() TickMetricsSnapshot {
	if m == nil {
		return TickMetricsSnapshot{}
	}
	m.mu.Lock()
	samples := m.samples
	total := m.total
	max := m.max
	last := m.last
	m.mu.Unlock()

	average := time.Duration(0)
	if samples > 0 {
		average = total / time.Duration(samples)
	}
	return TickMetricsSnapshot{Samples: samples, Average: average, Max: max, Last: last}
}

// Reset clears the accumulated statistics.
func (m *TickMonitor) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.samples = 0
	m.total = 0
	m.max = 0
	m.last = 0
	m.mu.Unlock()
}
