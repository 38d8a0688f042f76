package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/chazu/stackmem/manifest"
	"github.com/chazu/stackmem/tracedb"
)

// handleHistoryCommand processes the `stackmem history` subcommand.
func handleHistoryCommand(args []string, m *manifest.Manifest) {
	db, err := tracedb.Open(m.Trace.Driver, m.TraceDSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	switch len(args) {
	case 0:
		err = listRuns(ctx, db, os.Stdout)
	case 1:
		err = showRun(ctx, db, args[0], os.Stdout)
	default:
		fmt.Fprintln(os.Stderr, "Usage: stackmem history [RUN-ID]")
		db.Close()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		db.Close()
		os.Exit(1)
	}
}

func listRuns(ctx context.Context, db *tracedb.DB, out io.Writer) error {
	runs, err := db.Runs(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No recorded runs.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSCRIPT\tSTARTED\tSTATUS\tEVENTS\tDENIED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n",
			r.ID, r.Name, r.StartedAt.Format(time.DateTime), r.Status, r.Events, r.Denied)
	}
	return tw.Flush()
}

func showRun(ctx context.Context, db *tracedb.DB, id string, out io.Writer) error {
	info, err := db.Run(ctx, id)
	if err != nil {
		return err
	}
	events, err := db.Events(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s  %s  %s\n", info.Name, info.Status, info.StartedAt.Format(time.DateTime))
	if info.Error != "" {
		fmt.Fprintf(out, "  %s\n", info.Error)
	}
	for _, ev := range events {
		printEvent(out, ev)
	}
	return nil
}
