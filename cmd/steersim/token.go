package main

import (
	"flag"
	"fmt"
	"io"
	"time"

	"steersim/engine/internal/config"
	"steersim/engine/internal/stream"
)

func runToken(args []string, cfg *config.Config, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("token needs a driver name: %w", errUsage)
	}
	if cfg.WSAuthSecret == "" {
		return fmt.Errorf("ws_auth_secret is not configured")
	}
	authenticator, err := stream.NewTokenAuthenticator(cfg.WSAuthSecret)
	if err != nil {
		return err
	}
	token, err := authenticator.Verifier().Issue(fs.Arg(0), *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}
