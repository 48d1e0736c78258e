package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"steersim/engine/internal/logging"
	"steersim/engine/internal/replay"
)

func runReplay(args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("replay needs a subcommand: %w", errUsage)
	}
	sub, args := args[0], args[1:]
	switch sub {
	case "list":
		return replayList(args, out)
	case "verify":
		return replayVerify(args, out)
	case "frames":
		return replayFrames(args, out)
	default:
		return fmt.Errorf("unknown replay subcommand %q: %w", sub, errUsage)
	}
}

func replayList(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("replay list", flag.ContinueOnError)
	jsonFlag := fs.Bool("json", false, "emit JSON instead of human-readable output")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("replay list needs a directory: %w", errUsage)
	}

	entries, err := replay.List(fs.Arg(0))
	if err != nil {
		return err
	}
	if *jsonFlag {
		payload, err := replay.MarshalEntries(entries)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(payload))
		return nil
	}
	for _, entry := range entries {
		fmt.Fprintf(out, "%s (schema %d)\n", entry.Header.SessionID, entry.Header.SchemaVersion)
		fmt.Fprintf(out, "  vehicle: %s\n", entry.Header.Vehicle.Name)
		fmt.Fprintf(out, "  base tick: %d\n", entry.Header.BaseTick)
		fmt.Fprintf(out, "  manifest: %s\n", entry.ManifestPath)
	}
	return nil
}

func replayVerify(args []string, out io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("replay verify needs a bundle path: %w", errUsage)
	}
	bundle, err := replay.ReadBundle(args[0])
	if err != nil {
		return err
	}
	report, err := replay.Verify(bundle, logging.NewWriterLogger(os.Stderr))
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return err
	}
	if report.Diverged {
		return fmt.Errorf("bundle %s diverged at tick %d", bundle.Dir, report.Tick)
	}
	return nil
}

func replayFrames(args []string, out io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("replay frames needs a bundle path: %w", errUsage)
	}
	bundle, err := replay.ReadBundle(args[0])
	if err != nil {
		return err
	}
	type line struct {
		Tick  uint64 `json:"tick"`
		State any    `json:"state"`
	}
	encoder := json.NewEncoder(out)
	for _, frame := range bundle.Frames {
		state, err := replay.DecodePose(frame.Payload, bundle.Header.Vehicle)
		if err != nil {
			return fmt.Errorf("frame %d: %w", frame.Tick, err)
		}
		if err := encoder.Encode(line{Tick: frame.Tick, State: state}); err != nil {
			return err
		}
	}
	return nil
}
