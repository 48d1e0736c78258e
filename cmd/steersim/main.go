// Command steersim runs the steerable vehicle simulation in a desktop window
// or as a headless stream server, and inspects recorded replay bundles.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"steersim/engine/internal/config"
	"steersim/engine/internal/logging"
)

const usageText = `usage: steersim [-config path] [command]

commands:
  desktop                         open the simulation window (default)
  serve                           run headless and stream snapshots over WebSocket
  replay list [-json] <dir>       list finished replay bundles under dir
  replay verify <bundle>          re-simulate a bundle and report the first divergence
  replay frames <bundle>          print every recorded pose as JSON lines
  token [-ttl 1h] <driver>        issue a stream token signed with ws_auth_secret
`

func main() {
	configPath := flag.String("config", "", "path to a config file (yaml, toml or json)")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usageText) }
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var errUsage = errors.New("invalid usage; run steersim -h")

func run(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	command := cfg.Mode
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	//1.- Offline commands log nowhere but stderr warnings; hosts get the rotating file logger.
	switch command {
	case "replay":
		return runReplay(args, out)
	case "token":
		return runToken(args, cfg, out)
	case config.ModeDesktop, config.ModeServe:
	default:
		return fmt.Errorf("unknown command %q: %w", command, errUsage)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	ctx = logging.ContextWithLogger(ctx, logger)

	if command == config.ModeServe {
		return runServe(ctx, cfg, logger)
	}
	return runDesktop(ctx, cfg, logger)
}
