// stackmem CLI - replays memory traces against the borrow-stack memory
// model, serves a store over RPC, and browses recorded runs.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/stackmem/manifest"
	"github.com/chazu/stackmem/mem"
)

func main() {
	configPath := flag.String("config", "", "Path to stackmem.toml (default: search upward from the working directory)")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: stackmem [options] <command> [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  run SCRIPT...           Replay trace scripts, each against a fresh store\n")
		fmt.Fprintf(os.Stderr, "  dump -o FILE SCRIPT     Replay a script and write a CBOR snapshot of the store\n")
		fmt.Fprintf(os.Stderr, "  serve [-addr ADDR]      Serve a store over Connect RPC\n")
		fmt.Fprintf(os.Stderr, "  history [RUN-ID]        List recorded runs, or the events of one run\n")
		fmt.Fprintf(os.Stderr, "  config                  Print the effective configuration\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  stackmem run testdata/*.smt\n")
		fmt.Fprintf(os.Stderr, "  stackmem -v run scenario.smt     # print every event\n")
		fmt.Fprintf(os.Stderr, "  stackmem serve -addr :8080\n")
	}
	flag.Parse()

	m, err := loadManifest(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	configureLogging(m, *verbose)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	switch args[0] {
	case "run":
		handleRunCommand(args[1:], m, *verbose)
	case "dump":
		handleDumpCommand(args[1:], m)
	case "serve":
		handleServeCommand(args[1:], m)
	case "history":
		handleHistoryCommand(args[1:], m)
	case "config":
		if err := m.Encode(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		flag.Usage()
		os.Exit(1)
	}
}

// loadManifest reads the configuration from path, or searches for
// stackmem.toml upward from the working directory. Without one, defaults
// apply.
func loadManifest(path string) (*manifest.Manifest, error) {
	if path != "" {
		return manifest.LoadFile(path)
	}
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if m == nil {
		return manifest.Default(), nil
	}
	return m, nil
}

func configureLogging(m *manifest.Manifest, verbose bool) {
	verbosity := m.Log.Verbosity
	if verbose && verbosity < 2 {
		verbosity = 2
	}
	var path *string
	if f := m.LogFile(); f != "" {
		path = &f
	}
	commonlog.Configure(verbosity, path)
}

// newMemory creates a store with the configured pointer width.
func newMemory(m *manifest.Manifest) *mem.Memory {
	return mem.New(mem.WithPointerSize(m.Memory.PointerWidth))
}
