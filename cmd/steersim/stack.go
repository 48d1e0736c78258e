package main

import (
	"fmt"

	"steersim/engine/internal/config"
	"steersim/engine/internal/input"
	"steersim/engine/internal/logging"
	"steersim/engine/internal/physics"
	"steersim/engine/internal/replay"
	"steersim/engine/internal/simulation"
)

// simulationStack is everything a host needs to drive one vehicle.
type simulationStack struct {
	vehicle  physics.Config
	runner   *simulation.Runner
	monitor  *simulation.TickMonitor
	recorder *replay.Recorder
	cleaner  *replay.Cleaner
}

func newSimulationStack(cfg *config.Config, referenceWidth float64, logger *logging.Logger) (*simulationStack, error) {
	vehicle, err := physics.Preset(cfg.Variant)
	if err != nil {
		return nil, err
	}
	integrator, err := physics.NewIntegrator(vehicle, logger)
	if err != nil {
		return nil, err
	}

	//1.- A drag across the reference width sweeps the wheel from lock to lock.
	scale := input.PointerScale{AnglePerWidth: 2 * vehicle.Tuning.MaxWheelAngle, ReferenceWidth: referenceWidth}
	session := input.NewSession(scale, logger)
	stack := &simulationStack{
		vehicle: vehicle,
		runner:  simulation.NewRunner(integrator, session, logger),
		monitor: simulation.NewTickMonitor(),
	}

	//2.- Recording is opt-in.
	if cfg.ReplayDir != "" {
		recorder, err := replay.NewRecorder(cfg.ReplayDir, "steersim-"+vehicle.Name, vehicle, logger, nil)
		if err != nil {
			stack.runner.Close()
			return nil, fmt.Errorf("init replay recorder: %w", err)
		}
		stack.recorder = recorder
		stack.runner.Observe(recorder.Observe)
		stack.cleaner = replay.NewCleaner(cfg.ReplayDir, replay.RetentionPolicy{
			MaxBundles: cfg.Replay.MaxBundles,
			MaxAge:     cfg.Replay.MaxAge,
		}, logger)
		logger.Info("replay recording enabled", logging.String("dir", cfg.ReplayDir))
	}
	return stack, nil
}

// Close stops input and finalises the open replay bundle.
func (s *simulationStack) Close(logger *logging.Logger) {
	s.runner.Close()
	if err := s.recorder.Close(); err != nil {
		logger.Error("replay close failed", logging.Error(err))
	}
	s.cleaner.RunOnce()
}
