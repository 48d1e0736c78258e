package stream

import "sync"

// DropReason names why a snapshot was not delivered to a client.
type DropReason string

const (
	// DropBandwidth means the client's byte budget was exhausted.
	DropBandwidth DropReason = "bandwidth"
	// DropBackpressure means the client's send queue was full.
	DropBackpressure DropReason = "backpressure"
)

// Metrics tracks payload sizes and delivery drops for snapshot fan-out.
type Metrics struct {
	mu    sync.RWMutex
	bytes map[string]int64
	drops map[DropReason]int64
	sent  int64
}

// NewMetrics constructs an empty metrics tracker.
func NewMetrics() *Metrics {
	return &Metrics{
		bytes: make(map[string]int64),
		drops: make(map[DropReason]int64),
	}
}

// ObserveSent records a delivered payload for clientID.
func (m *Metrics) ObserveSent(clientID string, payloadBytes int) {
	if m == nil {
		return
	}
	size := int64(payloadBytes)
	if size < 0 {
		size = 0
	}
	m.mu.Lock()
	if clientID != "" {
		m.bytes[clientID] = size
	}
	m.sent++
	m.mu.Unlock()
}

// ObserveDrop counts a snapshot skipped for reason.
func (m *Metrics) ObserveDrop(reason DropReason) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.drops[reason]++
	m.mu.Unlock()
}

// ForgetClient removes the tracked gauge for a disconnected client.
func (m *Metrics) ForgetClient(clientID string) {
	if m == nil || clientID == "" {
		return
	}
	m.mu.Lock()
	delete(m.bytes, clientID)
	m.mu.Unlock()
}

// BytesPerClient returns a copy of the latest payload size per client.
func (m *Metrics) BytesPerClient() map[string]int64 {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	clone := make(map[string]int64, len(m.bytes))
	for id, size := range m.bytes {
		clone[id] = size
	}
	return clone
}

// Drops returns a copy of the drop counters.
func (m *Metrics) Drops() map[DropReason]int64 {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	clone := make(map[DropReason]int64, len(m.drops))
	for reason, count := range m.drops {
		clone[reason] = count
	}
	return clone
}

// Sent reports the number of payloads queued for delivery.
func (m *Metrics) Sent() int64 {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sent
}
