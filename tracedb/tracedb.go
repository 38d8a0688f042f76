// Package tracedb stores replay runs and their events in a SQL database.
// Both SQLite (the default) and DuckDB are supported through database/sql.
package tracedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/stackmem/trace"
)

// ErrRunNotFound indicates the requested run doesn't exist.
var ErrRunNotFound = errors.New("tracedb: run not found")

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverDuckDB = "duckdb"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusFailed  = "failed"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		started_at  BIGINT NOT NULL,
		finished_at BIGINT,
		status      TEXT NOT NULL,
		error       TEXT NOT NULL DEFAULT '',
		events      INTEGER NOT NULL DEFAULT 0,
		denied      INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		run_id TEXT NOT NULL,
		seq    INTEGER NOT NULL,
		line   INTEGER NOT NULL,
		op     TEXT NOT NULL,
		output TEXT NOT NULL,
		denied INTEGER NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
}

// DB is an open trace database.
type DB struct {
	db     *sql.DB
	driver string
	mu     sync.Mutex
	log    commonlog.Logger
}

// Open opens (creating if needed) the trace database at dsn. For file
// databases the parent directory is created.
func Open(driver, dsn string) (*DB, error) {
	switch driver {
	case DriverSQLite, DriverDuckDB:
	default:
		return nil, fmt.Errorf("tracedb: unsupported driver %q", driver)
	}
	if isFile(dsn) {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("tracedb: creating directory: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("tracedb: opening database: %w", err)
	}
	if driver == DriverSQLite {
		// Set busy timeout for concurrent access
		if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("tracedb: setting busy timeout: %w", err)
		}
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("tracedb: creating schema: %w", err)
		}
	}

	log := commonlog.GetLogger("stackmem.tracedb")
	log.Debugf("opened %s database %s", driver, dsn)
	return &DB{db: db, driver: driver, log: log}, nil
}

func isFile(dsn string) bool {
	return dsn != "" && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:")
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Driver returns the database driver name.
func (d *DB) Driver() string {
	return d.driver
}

// ---------------------------------------------------------------------------
// Recording
// ---------------------------------------------------------------------------

// Run is one replay being recorded. It implements trace.Recorder.
type Run struct {
	ID   string
	Name string

	db     *DB
	events int
	denied int
}

// BeginRun records the start of a replay of the named script.
func (d *DB) BeginRun(ctx context.Context, name string) (*Run, error) {
	r := &Run{ID: uuid.NewString(), Name: name, db: d}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO runs (id, name, started_at, status) VALUES (?, ?, ?, ?)",
		r.ID, name, time.Now().UnixNano(), StatusRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("tracedb: beginning run: %w", err)
	}
	d.log.Debugf("run %s: %s", r.ID, name)
	return r, nil
}

// Record stores one event of the run.
func (r *Run) Record(ev trace.Event) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	_, err := r.db.db.Exec(
		"INSERT INTO events (run_id, seq, line, op, output, denied) VALUES (?, ?, ?, ?, ?, ?)",
		r.ID, ev.Seq, ev.Line, ev.Op, ev.Output, boolInt(ev.Denied),
	)
	if err != nil {
		return fmt.Errorf("tracedb: recording event %d: %w", ev.Seq, err)
	}
	r.events++
	if ev.Denied {
		r.denied++
	}
	return nil
}

// Finish marks the run done. A nil runErr records success; otherwise the
// error text is kept with the run.
func (r *Run) Finish(runErr error) error {
	status, msg := StatusOK, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	_, err := r.db.db.Exec(
		"UPDATE runs SET finished_at = ?, status = ?, error = ?, events = ?, denied = ? WHERE id = ?",
		time.Now().UnixNano(), status, msg, r.events, r.denied, r.ID,
	)
	if err != nil {
		return fmt.Errorf("tracedb: finishing run %s: %w", r.ID, err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// RunInfo describes a recorded run.
type RunInfo struct {
	ID         string
	Name       string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Status     string
	Error      string
	Events     int
	Denied     int
}

const runColumns = "id, name, started_at, finished_at, status, error, events, denied"

// Runs lists recorded runs, newest first.
func (d *DB) Runs(ctx context.Context) ([]RunInfo, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT "+runColumns+" FROM runs ORDER BY started_at DESC, id")
	if err != nil {
		return nil, fmt.Errorf("tracedb: querying runs: %w", err)
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		info, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tracedb: querying runs: %w", err)
	}
	return out, nil
}

// Run returns one recorded run.
func (d *DB) Run(ctx context.Context, id string) (RunInfo, error) {
	row := d.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	info, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunInfo{}, ErrRunNotFound
	}
	return info, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (RunInfo, error) {
	var (
		info     RunInfo
		started  int64
		finished sql.NullInt64
	)
	err := s.Scan(&info.ID, &info.Name, &started, &finished, &info.Status, &info.Error, &info.Events, &info.Denied)
	if errors.Is(err, sql.ErrNoRows) {
		return info, err
	}
	if err != nil {
		return info, fmt.Errorf("tracedb: reading run: %w", err)
	}
	info.StartedAt = time.Unix(0, started)
	if finished.Valid {
		info.FinishedAt = time.Unix(0, finished.Int64)
	}
	return info, nil
}

// Events returns the recorded events of a run in order.
func (d *DB) Events(ctx context.Context, runID string) ([]trace.Event, error) {
	if _, err := d.Run(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := d.db.QueryContext(ctx,
		"SELECT seq, line, op, output, denied FROM events WHERE run_id = ? ORDER BY seq", runID)
	if err != nil {
		return nil, fmt.Errorf("tracedb: querying events: %w", err)
	}
	defer rows.Close()

	var out []trace.Event
	for rows.Next() {
		var (
			ev     trace.Event
			denied int
		)
		if err := rows.Scan(&ev.Seq, &ev.Line, &ev.Op, &ev.Output, &denied); err != nil {
			return nil, fmt.Errorf("tracedb: reading event: %w", err)
		}
		ev.Denied = denied != 0
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tracedb: querying events: %w", err)
	}
	return out, nil
}
