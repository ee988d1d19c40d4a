// Package config holds the settings of a rebuild.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// SKYLOG_* environment variables, then command-line flags (applied by the
// caller after Load). Validate checks the merged result.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/daviddao/skylog/pkg/shard"
)

// Universe backends.
const (
	UniverseMemory = "memory"
	UniverseBolt   = "bolt"
)

// DefaultBatchSize is the default reorder capacity B.
const DefaultBatchSize = 1_000_000

// Config is the full configuration of a rebuild.
type Config struct {
	InputDir  string `yaml:"input_dir" json:"input_dir"`
	TempDir   string `yaml:"temp_dir" json:"temp_dir"`
	OutputDir string `yaml:"output_dir" json:"output_dir"`
	// EndDate (YYYY-MM-DD) is the last shard day read, inclusive. Empty
	// reads every shard.
	EndDate   string `yaml:"end_date" json:"end_date,omitempty"`
	BatchSize int    `yaml:"batch_size" json:"batch_size"`
	Compress  bool   `yaml:"compress" json:"compress"`
	KeepTemp  bool   `yaml:"keep_temp" json:"keep_temp"`
	ReadAhead int    `yaml:"read_ahead" json:"read_ahead"`

	Universe     string `yaml:"universe" json:"universe"`
	UniversePath string `yaml:"universe_path" json:"universe_path,omitempty"`

	ReportDB    string `yaml:"report_db" json:"report_db,omitempty"`
	MetricsFile string `yaml:"metrics_file" json:"metrics_file,omitempty"`

	LogLevel       string `yaml:"log_level" json:"log_level"`
	LogDevelopment bool   `yaml:"log_development" json:"log_development"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		InputDir:  "data/raw",
		TempDir:   "data/tmp",
		OutputDir: "data/ordered",
		BatchSize: DefaultBatchSize,
		ReadAhead: shard.DefaultReadAhead,
		Universe:  UniverseMemory,
		ReportDB:  "skylog.db",
		LogLevel:  "info",
	}
}

// Load builds a Config from defaults, the YAML file at path (if path is
// non-empty), and the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays SKYLOG_* variables. lookup is os.LookupEnv outside
// tests.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("SKYLOG_INPUT_DIR", &c.InputDir)
	str("SKYLOG_TEMP_DIR", &c.TempDir)
	str("SKYLOG_OUTPUT_DIR", &c.OutputDir)
	str("SKYLOG_END_DATE", &c.EndDate)
	integer("SKYLOG_BATCH_SIZE", &c.BatchSize)
	boolean("SKYLOG_COMPRESS", &c.Compress)
	boolean("SKYLOG_KEEP_TEMP", &c.KeepTemp)
	integer("SKYLOG_READ_AHEAD", &c.ReadAhead)
	str("SKYLOG_UNIVERSE", &c.Universe)
	str("SKYLOG_UNIVERSE_PATH", &c.UniversePath)
	str("SKYLOG_DB", &c.ReportDB)
	str("SKYLOG_METRICS_FILE", &c.MetricsFile)
	str("SKYLOG_LOG_LEVEL", &c.LogLevel)
	boolean("SKYLOG_LOG_DEVELOPMENT", &c.LogDevelopment)
	return errors.Join(errs...)
}

// End returns the parsed end date, or the zero time for no cutoff.
func (c Config) End() (time.Time, error) { return shard.ParseEndDate(c.EndDate) }

// BoltPath returns where the bolt universe lives: UniversePath, or a file
// next to the temp directory.
func (c Config) BoltPath() string {
	if c.UniversePath != "" {
		return c.UniversePath
	}
	return filepath.Clean(c.TempDir) + ".universe.db"
}

// Validate reports every problem with c.
func (c Config) Validate() error {
	var errs []error
	if c.InputDir == "" {
		errs = append(errs, errors.New("input_dir is required"))
	} else if fi, err := os.Stat(c.InputDir); err != nil {
		errs = append(errs, fmt.Errorf("input_dir: %w", err))
	} else if !fi.IsDir() {
		errs = append(errs, fmt.Errorf("input_dir %s is not a directory", c.InputDir))
	}
	if c.TempDir == "" {
		errs = append(errs, errors.New("temp_dir is required"))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output_dir is required"))
	}
	// temp_dir and output_dir are wiped with RemoveAll on every run.
	for _, d := range []string{c.TempDir, c.OutputDir} {
		if d != "" && c.InputDir != "" && within(d, c.InputDir) {
			errs = append(errs, fmt.Errorf("%s would wipe input_dir %s", d, c.InputDir))
		}
	}
	if c.TempDir != "" && c.OutputDir != "" {
		switch {
		case within(c.TempDir, c.OutputDir) && within(c.OutputDir, c.TempDir):
			errs = append(errs, errors.New("temp_dir and output_dir must differ"))
		case within(c.TempDir, c.OutputDir), within(c.OutputDir, c.TempDir):
			errs = append(errs, fmt.Errorf("temp_dir %s and output_dir %s must not be nested", c.TempDir, c.OutputDir))
		}
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch_size must be >= 1, got %d", c.BatchSize))
	}
	if c.ReadAhead < 0 {
		errs = append(errs, fmt.Errorf("read_ahead must be >= 0, got %d", c.ReadAhead))
	}
	if _, err := c.End(); err != nil {
		errs = append(errs, err)
	}
	switch c.Universe {
	case UniverseMemory, UniverseBolt:
	default:
		errs = append(errs, fmt.Errorf("universe must be %q or %q, got %q", UniverseMemory, UniverseBolt, c.Universe))
	}
	return errors.Join(errs...)
}

// within reports whether path is dir or lies below it. Symlinks are
// resolved for the parts that exist.
func within(dir, path string) bool {
	d, p := canonical(dir), canonical(path)
	rel, err := filepath.Rel(d, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func canonical(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	// Resolve the longest existing prefix so a symlinked parent still
	// compares equal to its target.
	rest := ""
	for cur := abs; ; {
		if resolved, err := filepath.EvalSymlinks(cur); err == nil {
			return filepath.Join(resolved, rest)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return abs
		}
		rest = filepath.Join(filepath.Base(cur), rest)
		cur = parent
	}
}
