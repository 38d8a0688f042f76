package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/chazu/stackmem/manifest"
	"github.com/chazu/stackmem/mem"
	"github.com/chazu/stackmem/trace"
)

// handleDumpCommand processes the `stackmem dump` subcommand.
func handleDumpCommand(args []string, m *manifest.Manifest) {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	output := fs.String("o", "", "Snapshot output file (required)")
	fs.Parse(args)

	if *output == "" || fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: stackmem dump -o FILE SCRIPT")
		os.Exit(1)
	}
	n, err := dumpScript(context.Background(), m, fs.Arg(0), *output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s (%d bytes)\n", *output, n)
}

// dumpScript replays the script at path and writes the resulting store as a
// CBOR snapshot to output. It returns the snapshot size.
func dumpScript(ctx context.Context, m *manifest.Manifest, path, output string) (int, error) {
	store, err := replayFile(ctx, m, nil, path, func(*trace.Result, string) {})
	if err != nil {
		return 0, err
	}
	data, err := mem.MarshalSnapshot(store.Snapshot())
	if err != nil {
		return 0, fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return 0, fmt.Errorf("writing snapshot: %w", err)
	}
	return len(data), nil
}
