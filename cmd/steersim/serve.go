package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"steersim/engine/internal/config"
	httpapi "steersim/engine/internal/http"
	"steersim/engine/internal/input"
	"steersim/engine/internal/logging"
	"steersim/engine/internal/stream"
)

const (
	// remoteReferenceWidth is the drag width, in device pixels, that sweeps
	// the wheel lock to lock for stream clients.
	remoteReferenceWidth = 1920
	shutdownTimeout      = 5 * time.Second
	dumpWindow           = time.Minute
	dumpsPerWindow       = 6
)

var errLoopNotStarted = errors.New("simulation loop not started")

// serverState answers readiness probes.
type serverState struct {
	started time.Time
	hub     *stream.Hub

	mu  sync.Mutex
	err error
}

func (s *serverState) ClientCount() int { return s.hub.ClientCount() }

func (s *serverState) Uptime() time.Duration { return time.Since(s.started) }

func (s *serverState) StartupError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *serverState) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func runServe(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	stack, err := newSimulationStack(cfg, remoteReferenceWidth, logger)
	if err != nil {
		return err
	}
	defer stack.Close(logger)

	//1.- Remote input guards.
	gate := input.NewGate(input.GateConfig{MaxAge: cfg.Input.MaxAge, MinInterval: cfg.Input.MinInterval}, logger)
	validator := input.NewValidator(input.Limits{}, logger, nil)
	var authenticator stream.Authenticator = stream.AllowAll{}
	if cfg.WSAuthSecret != "" {
		tokens, err := stream.NewTokenAuthenticator(cfg.WSAuthSecret)
		if err != nil {
			return fmt.Errorf("init stream auth: %w", err)
		}
		authenticator = tokens
	}

	//2.- Stream hub and operational handlers share one HTTP listener.
	bandwidth := stream.NewBandwidthRegulator(cfg.BandwidthBPS, nil)
	metrics := stream.NewMetrics()
	hub := stream.NewHub(stack.runner, stream.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		MaxClients:       cfg.MaxClients,
		MaxPayloadBytes:  cfg.MaxPayloadBytes,
		PingInterval:     cfg.PingInterval,
		TimeSyncInterval: timeSyncInterval(cfg.TimeSyncInterval),
		Authenticator:    authenticator,
		Encoder:          stream.NewEncoder(stack.vehicle.Tuning, float64(cfg.Window.Width)),
		Bandwidth:        bandwidth,
		Gate:             gate,
		Validator:        validator,
		Metrics:          metrics,
		Logger:           logger,
	})
	defer hub.Close()

	state := &serverState{started: time.Now(), hub: hub, err: errLoopNotStarted}
	handlerOpts := httpapi.Options{
		Logger:    logger,
		Readiness: state,
		Simulation: func() httpapi.SimulationStats {
			return httpapi.SimulationStats{Tick: stack.runner.Latest().Tick, DroppedSnapshots: stack.runner.Dropped()}
		},
		Ticks:       stack.monitor,
		Stream:      metrics,
		Bandwidth:   bandwidth,
		InputDrops:  gate.Drops,
		AdminToken:  cfg.AdminToken,
		RateLimiter: httpapi.NewSlidingWindowLimiter(dumpWindow, dumpsPerWindow, nil),
	}
	if stack.recorder != nil {
		handlerOpts.Replay = stack.recorder
		handlerOpts.ReplayStats = stack.recorder.Snapshot
		handlerOpts.StorageStats = stack.cleaner.Stats
	}
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	httpapi.NewHandlerSet(handlerOpts).Register(mux)
	httpServer := &http.Server{Addr: cfg.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	//3.- gRPC health listener.
	grpcOpts, err := stream.GRPCServerOptions(cfg.GRPC, logger)
	if err != nil {
		return err
	}
	health := stream.NewHealthServer(grpcOpts...)
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddress)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errs := make(chan error, 2)
	var wg sync.WaitGroup
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	spawn(func() {
		state.setErr(nil)
		health.SetServing(true)
		_ = stack.runner.Run(ctx, cfg.TickHz, stack.monitor)
		health.SetServing(false)
	})
	spawn(func() { _ = hub.Run(ctx) })
	spawn(func() { stack.cleaner.Run(ctx, cfg.Replay.SweepInterval) })
	spawn(func() {
		if err := health.Serve(grpcListener); err != nil {
			errs <- fmt.Errorf("grpc server: %w", err)
		}
	})
	spawn(func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http server: %w", err)
		}
	})

	logger.Info("steersim serving",
		logging.String("variant", stack.vehicle.Name),
		logging.String("stream", listenerURL(cfg.Address, "/ws", true, false)),
		logging.String("metrics", listenerURL(cfg.Address, "/metrics", false, false)),
		logging.String("grpc", normaliseHostPort(cfg.GRPCAddress)),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
		state.setErr(runErr)
	}

	//4.- Ordered shutdown: stop accepting, stop ticking, then drain.
	logger.Info("shutting down")
	cancel()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", logging.Error(err))
	}
	hub.Close()
	health.Stop()
	wg.Wait()
	return runErr
}

// timeSyncInterval maps the config's "zero disables" onto the hub's negative
// sentinel.
func timeSyncInterval(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d
}
