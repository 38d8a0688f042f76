package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/chazu/stackmem/manifest"
	"github.com/chazu/stackmem/mem"
	"github.com/chazu/stackmem/trace"
	"github.com/chazu/stackmem/tracedb"
)

// handleRunCommand processes the `stackmem run` subcommand.
func handleRunCommand(args []string, m *manifest.Manifest, verbose bool) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: stackmem run SCRIPT...")
		os.Exit(1)
	}

	var db *tracedb.DB
	if m.Trace.Record {
		var err error
		db, err = tracedb.Open(m.Trace.Driver, m.TraceDSN())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	failed := 0
	for _, path := range args {
		if err := runScript(context.Background(), m, db, path, os.Stdout, verbose); err != nil {
			fmt.Printf("FAIL %s\n     %v\n", path, err)
			failed++
		}
	}
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d scripts failed\n", failed, len(args))
		if db != nil {
			db.Close()
		}
		os.Exit(1)
	}
}

// runScript replays one script against a fresh store, recording it when db
// is non-nil, and reports the outcome to out.
func runScript(ctx context.Context, m *manifest.Manifest, db *tracedb.DB, path string, out io.Writer, verbose bool) error {
	_, err := replayFile(ctx, m, db, path, func(res *trace.Result, runID string) {
		if verbose {
			for _, ev := range res.Events {
				printEvent(out, ev)
			}
		}
		fmt.Fprintf(out, "ok   %s (%d ops, %d denied)", path, len(res.Events), res.Denied)
		if runID != "" {
			fmt.Fprintf(out, " run %s", runID)
		}
		fmt.Fprintln(out)
	})
	return err
}

// replayFile parses and replays the script at path. On success it calls
// report and returns the store the script ran against.
func replayFile(ctx context.Context, m *manifest.Manifest, db *tracedb.DB, path string,
	report func(res *trace.Result, runID string)) (*mem.Memory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	script, err := trace.Parse(path, f)
	if err != nil {
		return nil, err
	}

	opts := []trace.Option{
		trace.WithMemory(newMemory(m)),
		trace.WithInvariantChecks(m.Memory.CheckInvariants),
	}
	var run *tracedb.Run
	if db != nil {
		if run, err = db.BeginRun(ctx, path); err != nil {
			return nil, err
		}
		opts = append(opts, trace.WithRecorder(run))
	}

	r := trace.NewReplayer(opts...)
	res, replayErr := r.Replay(ctx, script)
	if run != nil {
		if err := run.Finish(replayErr); err != nil {
			return nil, errors.Join(replayErr, err)
		}
	}
	if replayErr != nil {
		return nil, replayErr
	}
	runID := ""
	if run != nil {
		runID = run.ID
	}
	report(res, runID)
	return r.Memory(), nil
}

func printEvent(out io.Writer, ev trace.Event) {
	mark := " "
	if ev.Denied {
		mark = "!"
	}
	if ev.Output == "" {
		fmt.Fprintf(out, "%s %4d  %s\n", mark, ev.Line, ev.Op)
		return
	}
	fmt.Fprintf(out, "%s %4d  %s => %s\n", mark, ev.Line, ev.Op, ev.Output)
}
