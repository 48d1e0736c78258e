package replay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"steersim/engine/internal/logging"
	"steersim/engine/internal/physics"
	"steersim/engine/internal/simulation"
)

// ErrNothingRecorded is returned by Roll before any tick was observed.
var ErrNothingRecorded = errors.New("no replay frames recorded")

// Recorder turns the runner's snapshot stream into consecutive bundles. The
// first snapshot a bundle sees becomes its base frame.
type Recorder struct {
	mu          sync.Mutex
	root        string
	sessionID   string
	vehicle     physics.Config
	now         func() time.Time
	logger      *logging.Logger
	writer      *Writer
	lastTick    uint64
	dumps       int64
	writeErrors int64
	lastDump    time.Time
	lastDumpURI string
	closed      bool
}

// Stats summarises recorder health for monitoring endpoints.
type Stats struct {
	Recording     bool
	RecordedTicks int
	Dumps         int64
	WriteErrors   int64
	LastDumpURI   string
	LastDumpTime  time.Time
}

// NewRecorder constructs a recorder writing bundles under root.
func NewRecorder(root, sessionID string, vehicle physics.Config, logger *logging.Logger, clock func() time.Time) (*Recorder, error) {
	if root == "" {
		return nil, fmt.Errorf("replay directory must be provided")
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = logging.L()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{
		root:      root,
		sessionID: sessionID,
		vehicle:   vehicle,
		now:       clock,
		logger:    logger.With(logging.String("component", "replay")),
	}, nil
}

// Observe records one published snapshot. It is a simulation.Observer.
func (r *Recorder) Observe(snap simulation.Snapshot) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	//1.- A fresh bundle starts from this snapshot's state.
	if r.writer == nil {
		writer, _, err := NewWriter(r.root, r.sessionID, r.vehicle, r.now)
		if err != nil {
			r.failLocked("open replay bundle", err)
			return
		}
		writer.SetBaseTick(snap.Tick)
		r.writer = writer
		r.lastTick = snap.Tick
		if err := writer.AppendFrame(snap.Tick, snap.Vehicle); err != nil {
			r.failLocked("append base frame", err)
		}
		return
	}

	//2.- Later snapshots contribute the input that produced them and the result.
	if snap.Tick != r.lastTick+1 {
		r.logger.Warn("replay tick gap", logging.Uint64("expected", r.lastTick+1), logging.Uint64("got", snap.Tick))
	}
	r.lastTick = snap.Tick
	if err := r.writer.AppendInput(snap.Tick, snap.Input); err != nil {
		r.failLocked("append input", err)
		return
	}
	if err := r.writer.AppendFrame(snap.Tick, snap.Vehicle); err != nil {
		r.failLocked("append frame", err)
	}
}

func (r *Recorder) failLocked(msg string, err error) {
	r.writeErrors++
	//1.- Log the first failure and then every hundredth so a full disk does not flood the log.
	if r.writeErrors == 1 || r.writeErrors%100 == 0 {
		r.logger.Error(msg, logging.Error(err), logging.Int("failures", int(r.writeErrors)))
	}
}

// Roll closes the current bundle and returns its directory. The next
// observed snapshot opens a new bundle.
func (r *Recorder) Roll() (string, error) {
	if r == nil {
		return "", fmt.Errorf("recorder not configured")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writer == nil {
		return "", ErrNothingRecorded
	}
	writer := r.writer
	r.writer = nil
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close replay bundle: %w", err)
	}

	r.dumps++
	r.lastDump = r.now().UTC()
	r.lastDumpURI = writer.Directory()
	r.logger.Info("replay bundle written", logging.String("path", r.lastDumpURI), logging.Int("frames", writer.Frames()))
	return r.lastDumpURI, nil
}

// DumpReplay rolls the current bundle; it satisfies the HTTP dump trigger.
func (r *Recorder) DumpReplay(context.Context) (string, error) {
	return r.Roll()
}

// Close finalises the open bundle, if any, and stops recording.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	_, err := r.Roll()
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	if errors.Is(err, ErrNothingRecorded) {
		return nil
	}
	return err
}

// Snapshot returns statistics describing the recorder state.
func (r *Recorder) Snapshot() Stats {
	if r == nil {
		return Stats{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := Stats{
		Recording:    r.writer != nil,
		Dumps:        r.dumps,
		WriteErrors:  r.writeErrors,
		LastDumpURI:  r.lastDumpURI,
		LastDumpTime: r.lastDump,
	}
	if r.writer != nil {
		stats.RecordedTicks = r.writer.Frames()
	}
	return stats
}
