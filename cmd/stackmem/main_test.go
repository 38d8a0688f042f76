package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/stackmem/manifest"
	"github.com/chazu/stackmem/mem"
	"github.com/chazu/stackmem/tracedb"
)

func writeScript(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const scenarioB = `
alloc x 8
ref e1 excl x
ref e2 shared x
canwrite e1 x -> false
canwrite e2 x -> true
`

func TestRunScript(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "b.smt", scenarioB)

	var out bytes.Buffer
	if err := runScript(context.Background(), manifest.Default(), nil, path, &out, true); err != nil {
		t.Fatalf("runScript failed: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "(5 ops, 1 denied)") {
		t.Errorf("summary missing from output:\n%s", got)
	}
	if !strings.Contains(got, "!    5  canwrite e1 x => false") {
		t.Errorf("denied event not marked:\n%s", got)
	}
}

func TestRunScriptFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "bad.smt", "alloc x 2\nlive x -> false\n")

	var out bytes.Buffer
	err := runScript(context.Background(), manifest.Default(), nil, path, &out, false)
	if err == nil || !strings.Contains(err.Error(), "bad.smt:2") {
		t.Fatalf("error = %v, want failure at bad.smt:2", err)
	}
	if out.Len() != 0 {
		t.Errorf("failed run should print nothing, got %q", out.String())
	}
}

func TestRunScriptRecordsAndHistory(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "b.smt", scenarioB)
	db, err := tracedb.Open(tracedb.DriverSQLite, filepath.Join(dir, "traces.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	var out bytes.Buffer
	if err := runScript(context.Background(), manifest.Default(), db, path, &out, false); err != nil {
		t.Fatalf("runScript failed: %v", err)
	}

	runs, err := db.Runs(context.Background())
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs = %v, %v; want one", runs, err)
	}
	if !strings.Contains(out.String(), "run "+runs[0].ID) {
		t.Errorf("output should name the run id:\n%s", out.String())
	}

	var list bytes.Buffer
	if err := listRuns(context.Background(), db, &list); err != nil {
		t.Fatalf("listRuns failed: %v", err)
	}
	if !strings.Contains(list.String(), runs[0].ID) || !strings.Contains(list.String(), "ok") {
		t.Errorf("history listing:\n%s", list.String())
	}

	var show bytes.Buffer
	if err := showRun(context.Background(), db, runs[0].ID, &show); err != nil {
		t.Fatalf("showRun failed: %v", err)
	}
	if !strings.Contains(show.String(), "canwrite e2 x => true") {
		t.Errorf("run events:\n%s", show.String())
	}

	if err := showRun(context.Background(), db, "nope", &show); err == nil {
		t.Error("showRun should fail for an unknown run")
	}
}

func TestDumpScript(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "b.smt", scenarioB)
	output := filepath.Join(dir, "b.cbor")

	m := manifest.Default()
	m.Memory.PointerWidth = 4
	n, err := dumpScript(context.Background(), m, path, output)
	if err != nil {
		t.Fatalf("dumpScript failed: %v", err)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != n {
		t.Errorf("reported %d bytes, file has %d", n, len(data))
	}
	snap, err := mem.UnmarshalSnapshot(data)
	if err != nil {
		t.Fatalf("UnmarshalSnapshot failed: %v", err)
	}
	restored, err := mem.Restore(snap)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if restored.PointerSize() != 4 {
		t.Errorf("pointer size = %d, want 4", restored.PointerSize())
	}
	if len(restored.Edges()) != 2 {
		t.Errorf("edges = %v, want 2", restored.Edges())
	}
}

func TestLoadManifestDefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, manifest.FileName)
	if err := os.WriteFile(path, []byte("[server]\naddr = \":9\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := loadManifest(path)
	if err != nil {
		t.Fatalf("loadManifest failed: %v", err)
	}
	if m.Server.Addr != ":9" {
		t.Errorf("addr = %q, want :9", m.Server.Addr)
	}

	if _, err := loadManifest(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("loadManifest should fail for a missing explicit file")
	}
}
