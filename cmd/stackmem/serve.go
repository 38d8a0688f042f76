package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chazu/stackmem/manifest"
	"github.com/chazu/stackmem/server"
	"github.com/chazu/stackmem/tracedb"
)

// handleServeCommand processes the `stackmem serve` subcommand.
func handleServeCommand(args []string, m *manifest.Manifest) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", m.Server.Addr, "Listen address")
	fs.Parse(args)

	opts := []server.ServerOption{server.WithInvariantChecks(m.Memory.CheckInvariants)}
	if m.Trace.Record {
		db, err := tracedb.Open(m.Trace.Driver, m.TraceDSN())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()
		opts = append(opts, server.WithTraceDB(db))
	}

	srv := server.New(newMemory(m), opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(shutdown)
	}()

	if err := srv.ListenAndServe(*addr); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}
