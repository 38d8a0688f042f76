// Package manifest handles stackmem.toml configuration.
package manifest

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "stackmem.toml"

var log = commonlog.GetLogger("stackmem.manifest")

// Manifest represents a stackmem.toml configuration.
type Manifest struct {
	Memory Memory `toml:"memory"`
	Log    Log    `toml:"log"`
	Trace  Trace  `toml:"trace"`
	Server Server `toml:"server"`

	// Dir is the directory containing the stackmem.toml file (set at load
	// time). Relative paths in the file are resolved against it.
	Dir string `toml:"-"`
}

// Memory configures the memory store.
type Memory struct {
	PointerWidth    int  `toml:"pointer-width"`
	CheckInvariants bool `toml:"check-invariants"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file,omitempty"`
}

// Trace configures where replay runs are recorded.
type Trace struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
	Record bool   `toml:"record"`
}

// Server configures the RPC server.
type Server struct {
	Addr string `toml:"addr"`
}

// Default returns the configuration used when no stackmem.toml exists.
func Default() *Manifest {
	dir, _ := os.Getwd()
	return &Manifest{
		Memory: Memory{PointerWidth: 8},
		Log:    Log{Verbosity: 1},
		Trace:  Trace{Driver: "sqlite", DSN: filepath.Join(".stackmem", "traces.db")},
		Server: Server{Addr: ":4570"},
		Dir:    dir,
	}
}

// Load parses the stackmem.toml file in the given directory.
func Load(dir string) (*Manifest, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses a configuration file. Settings missing from the file keep
// their defaults.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if err := Validate(raw); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}

	m := Default()
	if err := toml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	log.Debugf("loaded %s", path)
	return m, nil
}

// FindAndLoad walks up from startDir to find a stackmem.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Resolve returns path made absolute against the manifest directory.
func (m *Manifest) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(m.Dir, path)
}

// TraceDSN returns the trace database DSN. File paths are resolved against
// the manifest directory; ":memory:" and "file:" URIs are passed through.
func (m *Manifest) TraceDSN() string {
	dsn := m.Trace.DSN
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return dsn
	}
	return m.Resolve(dsn)
}

// LogFile returns the absolute log file path, or "" for stderr.
func (m *Manifest) LogFile() string {
	return m.Resolve(m.Log.File)
}

// Encode writes the configuration as TOML.
func (m *Manifest) Encode(w io.Writer) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return fmt.Errorf("encoding configuration: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}
