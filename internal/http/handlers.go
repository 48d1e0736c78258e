// Package httpapi serves the operational endpoints next to the stream hub:
// liveness, readiness, Prometheus text metrics and replay dumps.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"steersim/engine/internal/input"
	"steersim/engine/internal/logging"
	"steersim/engine/internal/replay"
	"steersim/engine/internal/simulation"
	"steersim/engine/internal/stream"
)

// ReadinessProvider exposes server state required for readiness checks.
type ReadinessProvider interface {
	ClientCount() int
	StartupError() error
	Uptime() time.Duration
}

// SimulationStats summarises the tick driver.
type SimulationStats struct {
	Tick             uint64
	DroppedSnapshots uint64
}

// ReplayDumper triggers a replay dump and optionally returns the artifact location.
type ReplayDumper interface {
	DumpReplay(ctx context.Context) (string, error)
}

// ReplayDumperFunc adapts a function into a ReplayDumper.
type ReplayDumperFunc func(ctx context.Context) (string, error)

// DumpReplay implements ReplayDumper.
func (f ReplayDumperFunc) DumpReplay(ctx context.Context) (string, error) { return f(ctx) }

// RateLimiter gates how often replay dumps may be requested. A denial carries
// the delay before the next attempt can succeed.
type RateLimiter interface {
	Allow() (bool, time.Duration)
}

// Options configures the HandlerSet. Every source is optional.
type Options struct {
	Logger       *logging.Logger
	Readiness    ReadinessProvider
	Simulation   func() SimulationStats
	Ticks        *simulation.TickMonitor
	Stream       *stream.Metrics
	Bandwidth    *stream.BandwidthRegulator
	InputDrops   func() map[string]input.DropCounters
	Replay       ReplayDumper
	ReplayStats  func() replay.Stats
	StorageStats func() replay.StorageStats
	AdminToken   string
	RateLimiter  RateLimiter
	TimeSource   func() time.Time
}

// HandlerSet bundles the operational handlers.
type HandlerSet struct {
	opts       Options
	logger     *logging.Logger
	adminToken string
	now        func() time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		opts:       opts,
		logger:     logger.With(logging.String("component", "httpapi")),
		adminToken: strings.TrimSpace(opts.AdminToken),
		now:        now,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/replay/dump", h.ReplayDumpHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports whether the simulation is stepping, with client
// count and the current tick.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Message       string  `json:"message,omitempty"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Clients       int     `json:"clients"`
		Tick          uint64  `json:"tick"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.opts.Simulation != nil {
			resp.Tick = h.opts.Simulation().Tick
		}
		if h.opts.Readiness != nil {
			resp.Clients = h.opts.Readiness.ClientCount()
			resp.UptimeSeconds = h.opts.Readiness.Uptime().Seconds()
			if err := h.opts.Readiness.StartupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if h.opts.Readiness != nil {
			metric(w, "steersim_uptime_seconds", "gauge", "Server uptime in seconds.")
			fmt.Fprintf(w, "steersim_uptime_seconds %.0f\n", h.opts.Readiness.Uptime().Seconds())
			metric(w, "steersim_clients", "gauge", "Current connected stream clients.")
			fmt.Fprintf(w, "steersim_clients %d\n", h.opts.Readiness.ClientCount())
		}
		if h.opts.Simulation != nil {
			stats := h.opts.Simulation()
			metric(w, "steersim_ticks_total", "counter", "Logical simulation ticks stepped.")
			fmt.Fprintf(w, "steersim_ticks_total %d\n", stats.Tick)
			metric(w, "steersim_snapshot_subscriber_drops_total", "counter", "Snapshots skipped for slow subscribers.")
			fmt.Fprintf(w, "steersim_snapshot_subscriber_drops_total %d\n", stats.DroppedSnapshots)
		}
		if h.opts.Ticks != nil {
			ticks := h.opts.Ticks.Snapshot()
			metric(w, "steersim_tick_duration_seconds_avg", "gauge", "Average wall-clock cost of a tick.")
			fmt.Fprintf(w, "steersim_tick_duration_seconds_avg %.6f\n", ticks.Average.Seconds())
			metric(w, "steersim_tick_duration_seconds_max", "gauge", "Slowest observed tick.")
			fmt.Fprintf(w, "steersim_tick_duration_seconds_max %.6f\n", ticks.Max.Seconds())
		}
		if h.opts.Stream != nil {
			metric(w, "steersim_stream_sent_total", "counter", "Snapshot payloads queued for stream clients.")
			fmt.Fprintf(w, "steersim_stream_sent_total %d\n", h.opts.Stream.Sent())
			bytes := h.opts.Stream.BytesPerClient()
			metric(w, "steersim_snapshot_bytes_per_client", "gauge", "Last encoded snapshot size per client in bytes.")
			for _, clientID := range slices.Sorted(maps.Keys(bytes)) {
				fmt.Fprintf(w, "steersim_snapshot_bytes_per_client{client=%q} %d\n", clientID, bytes[clientID])
			}
			drops := h.opts.Stream.Drops()
			metric(w, "steersim_snapshot_dropped_total", "counter", "Snapshots not delivered to a client, by reason.")
			for _, reason := range slices.Sorted(maps.Keys(drops)) {
				fmt.Fprintf(w, "steersim_snapshot_dropped_total{reason=%q} %d\n", reason, drops[reason])
			}
		}
		if usage := h.opts.Bandwidth.SnapshotUsage(); len(usage) > 0 {
			clients := slices.Sorted(maps.Keys(usage))
			metric(w, "steersim_bandwidth_bytes_per_second", "gauge", "Observed outbound bandwidth per client in bytes per second.")
			for _, clientID := range clients {
				fmt.Fprintf(w, "steersim_bandwidth_bytes_per_second{client=%q} %.2f\n", clientID, usage[clientID].BytesPerSecond)
			}
			metric(w, "steersim_bandwidth_denied_total", "counter", "Total throttled deliveries per client.")
			for _, clientID := range clients {
				fmt.Fprintf(w, "steersim_bandwidth_denied_total{client=%q} %d\n", clientID, usage[clientID].DeniedDeliveries)
			}
		}
		if h.opts.InputDrops != nil {
			drops := h.opts.InputDrops()
			metric(w, "steersim_input_dropped_total", "counter", "Remote input events dropped by the gate, by reason.")
			for _, clientID := range slices.Sorted(maps.Keys(drops)) {
				counters := drops[clientID]
				fmt.Fprintf(w, "steersim_input_dropped_total{client=%q,reason=%q} %d\n", clientID, input.DropReasonSequence, counters.Sequence)
				fmt.Fprintf(w, "steersim_input_dropped_total{client=%q,reason=%q} %d\n", clientID, input.DropReasonStale, counters.Stale)
				fmt.Fprintf(w, "steersim_input_dropped_total{client=%q,reason=%q} %d\n", clientID, input.DropReasonRateLimited, counters.RateLimited)
			}
		}
		if h.opts.ReplayStats != nil {
			stats := h.opts.ReplayStats()
			metric(w, "steersim_replay_recorded_ticks", "gauge", "Ticks recorded into the open replay bundle.")
			fmt.Fprintf(w, "steersim_replay_recorded_ticks %d\n", stats.RecordedTicks)
			metric(w, "steersim_replay_dumps_total", "counter", "Replay dumps completed successfully.")
			fmt.Fprintf(w, "steersim_replay_dumps_total %d\n", stats.Dumps)
			metric(w, "steersim_replay_write_errors_total", "counter", "Replay writes that failed.")
			fmt.Fprintf(w, "steersim_replay_write_errors_total %d\n", stats.WriteErrors)
		}
		if h.opts.StorageStats != nil {
			storage := h.opts.StorageStats()
			metric(w, "steersim_replay_bundles", "gauge", "Replay bundles retained on disk.")
			fmt.Fprintf(w, "steersim_replay_bundles %d\n", storage.Bundles)
			metric(w, "steersim_replay_bytes", "gauge", "Disk usage of retained replay bundles in bytes.")
			fmt.Fprintf(w, "steersim_replay_bytes %d\n", storage.Bytes)
		}
	}
}

func metric(w io.Writer, name, kind, help string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

// ReplayDumpHandler authorises and triggers replay dump creation.
func (h *HandlerSet) ReplayDumpHandler() http.HandlerFunc {
	type response struct {
		Status   string `json:"status"`
		Location string `json:"location,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "replay_dump"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("replay dump denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("replay dump denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if ok, wait := h.allowDump(); !ok {
			reqLogger.Warn("replay dump denied: rate limit exceeded", logging.Duration("retry_after", wait))
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if h.opts.Replay == nil {
			reqLogger.Warn("replay dump denied: recording disabled")
			http.Error(w, "replay recording is disabled", http.StatusServiceUnavailable)
			return
		}
		location, err := h.opts.Replay.DumpReplay(r.Context())
		if err != nil {
			reqLogger.Error("replay dump failed", logging.Error(err))
			status := http.StatusInternalServerError
			if errors.Is(err, replay.ErrNothingRecorded) {
				status = http.StatusConflict
			}
			http.Error(w, "failed to dump replay", status)
			return
		}
		reqLogger.Info("replay dumped", logging.String("location", location))
		writeJSON(w, http.StatusAccepted, response{Status: "accepted", Location: location})
	}
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *HandlerSet) allowDump() (bool, time.Duration) {
	if h.opts.RateLimiter == nil {
		return true, 0
	}
	return h.opts.RateLimiter.Allow()
}
