package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) Config {
	t.Helper()
	root := t.TempDir()
	cfg := Default()
	cfg.InputDir = filepath.Join(root, "raw")
	cfg.TempDir = filepath.Join(root, "tmp")
	cfg.OutputDir = filepath.Join(root, "out")
	require.NoError(t, os.Mkdir(cfg.InputDir, 0o755))
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)
	assert.Equal(t, UniverseMemory, cfg.Universe)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skylog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
input_dir: /data/raw
batch_size: 500
compress: true
end_date: 2023-06-30
`), 0o644))

	t.Setenv("SKYLOG_BATCH_SIZE", "42")
	t.Setenv("SKYLOG_UNIVERSE", "bolt")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/raw", cfg.InputDir)
	assert.Equal(t, 42, cfg.BatchSize)
	assert.True(t, cfg.Compress)
	assert.Equal(t, "2023-06-30", cfg.EndDate)
	assert.Equal(t, UniverseBolt, cfg.Universe)
	assert.Equal(t, "data/tmp", cfg.TempDir)
}

func TestLoad_UnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skylog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batch_sise: 3\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skylog.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().BatchSize, cfg.BatchSize)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv_BadValues(t *testing.T) {
	env := map[string]string{"SKYLOG_BATCH_SIZE": "many", "SKYLOG_COMPRESS": "maybe"}
	cfg := Default()
	err := cfg.applyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SKYLOG_BATCH_SIZE")
	assert.Contains(t, err.Error(), "SKYLOG_COMPRESS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(*Config) {}, ""},
		{"batch size", func(c *Config) { c.BatchSize = 0 }, "batch_size"},
		{"same dirs", func(c *Config) { c.OutputDir = c.TempDir }, "must differ"},
		{"wipes input", func(c *Config) { c.TempDir = c.InputDir }, "would wipe input_dir"},
		{"output contains input", func(c *Config) { c.OutputDir = filepath.Dir(c.InputDir) }, "would wipe input_dir"},
		{"temp contains input", func(c *Config) { c.TempDir = filepath.Dir(c.InputDir) + "/" }, "would wipe input_dir"},
		{"relative output contains input", func(c *Config) {
			wd, _ := os.Getwd()
			rel, _ := filepath.Rel(wd, filepath.Dir(c.InputDir))
			c.OutputDir = rel
		}, "would wipe input_dir"},
		{"temp inside output", func(c *Config) { c.TempDir = filepath.Join(c.OutputDir, "tmp") }, "must not be nested"},
		{"output inside temp", func(c *Config) { c.OutputDir = filepath.Join(c.TempDir, "out") }, "must not be nested"},
		{"same dirs unclean", func(c *Config) { c.OutputDir = c.TempDir + "/./" }, "must differ"},
		{"output inside input", func(c *Config) { c.OutputDir = filepath.Join(c.InputDir, "ordered") }, ""},
		{"sibling prefix", func(c *Config) { c.OutputDir = c.InputDir + "-ordered" }, ""},
		{"missing input", func(c *Config) { c.InputDir = filepath.Join(c.InputDir, "nope") }, "input_dir"},
		{"end date", func(c *Config) { c.EndDate = "June 1" }, "end date"},
		{"universe", func(c *Config) { c.Universe = "redis" }, "universe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBoltPath(t *testing.T) {
	cfg := Default()
	cfg.TempDir = "data/tmp/"
	assert.Equal(t, "data/tmp.universe.db", cfg.BoltPath())
	cfg.UniversePath = "/scratch/u.db"
	assert.Equal(t, "/scratch/u.db", cfg.BoltPath())
}
