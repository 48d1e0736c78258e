package main

import (
	"context"

	"steersim/engine/internal/config"
	"steersim/engine/internal/desktop"
	"steersim/engine/internal/logging"
)

func runDesktop(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	stack, err := newSimulationStack(cfg, desktop.ReferenceWidth(), logger)
	if err != nil {
		return err
	}
	defer stack.Close(logger)
	go stack.cleaner.Run(ctx, cfg.Replay.SweepInterval)

	logger.Info("opening desktop window",
		logging.String("variant", stack.vehicle.Name),
		logging.Int("width", cfg.Window.Width),
		logging.Int("height", cfg.Window.Height),
	)
	game := desktop.NewGame(ctx, stack.runner, stack.monitor, logger)
	return desktop.Run(game, "steersim", cfg.Window.Width, cfg.Window.Height)
}
