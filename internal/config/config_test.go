package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
node:
  id: node-7
  listen: ":9000"
storage:
  data_dir: /var/lib/graphshard
  shards: 4
  checkpoint_every: 500
  sync_index: true
logging:
  level: debug
  format: console
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "node-7", cfg.Node.ID)
	assert.Equal(t, ":9000", cfg.Node.Listen)
	assert.Equal(t, "/var/lib/graphshard", cfg.Storage.DataDir)
	assert.Equal(t, 4, cfg.Storage.Shards)
	assert.Equal(t, 500, cfg.Storage.CheckpointEvery)
	assert.True(t, cfg.Storage.SyncIndex)
	assert.Equal(t, FormatConsole, cfg.Logging.Format)

	// not set in the file and not yet defaulted
	assert.Zero(t, cfg.Storage.QueueSize)
	cfg.PopulateDefaults()
	assert.Equal(t, defaultStorage.QueueSize, cfg.Storage.QueueSize)
	assert.Equal(t, 500, cfg.Storage.CheckpointEvery)
	require.NoError(t, cfg.Validate())
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("storage:\n  shard: 3\n"))
	assert.ErrorIs(t, err, ErrParse)
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Config{}, *cfg)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	_, err := uuid.Parse(cfg.Node.ID)
	assert.NoError(t, err)
	assert.Equal(t, ":8081", cfg.Node.Listen)
	assert.Equal(t, 2, cfg.Storage.Shards)
	assert.Equal(t, FormatJSON, cfg.Logging.Format)
}

func TestPopulateDefaultsGeneratesID(t *testing.T) {
	var cfg Config
	cfg.PopulateDefaults()

	_, err := uuid.Parse(cfg.Node.ID)
	assert.NoError(t, err)
	assert.Equal(t, defaultStorage, cfg.Storage)
	assert.Equal(t, defaultLogging, cfg.Logging)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"missing listen", func(c *Config) { c.Node.Listen = "" }, ErrMissingListen},
		{"missing data dir", func(c *Config) { c.Storage.DataDir = "" }, ErrMissingDataDir},
		{"negative shards", func(c *Config) { c.Storage.Shards = -1 }, ErrInvalidShards},
		{"negative checkpoint", func(c *Config) { c.Storage.CheckpointEvery = -5 }, ErrInvalidCheckpoint},
		{"zero queue", func(c *Config) { c.Storage.QueueSize = 0 }, ErrInvalidQueueSize},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }, ErrUnknownLevel},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, ErrUnknownFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}

	var nilCfg *Config
	assert.ErrorIs(t, nilCfg.Validate(), ErrConfigIsNil)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvNodeID:   "from-env",
		EnvDataDir:  "/tmp/gs",
		EnvShards:   "8",
		EnvLogLevel: "warn",
	}
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(func(k string) string { return env[k] }))

	assert.Equal(t, "from-env", cfg.Node.ID)
	assert.Equal(t, ":8081", cfg.Node.Listen)
	assert.Equal(t, "/tmp/gs", cfg.Storage.DataDir)
	assert.Equal(t, 8, cfg.Storage.Shards)
	assert.Equal(t, "warn", cfg.Logging.Level)

	env[EnvShards] = "many"
	assert.ErrorIs(t, cfg.ApplyEnv(func(k string) string { return env[k] }), ErrInvalidShards)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graphshard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	t.Setenv(EnvConfig, path)
	t.Setenv(EnvShards, "3")
	t.Setenv(EnvNodeID, "")
	t.Setenv(EnvListen, "")
	t.Setenv(EnvDataDir, "")
	t.Setenv(EnvLogLevel, "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "node-7", cfg.Node.ID)
	assert.Equal(t, 3, cfg.Storage.Shards)
	assert.Equal(t, defaultStorage.MaxFileSize, cfg.Storage.MaxFileSize)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Setenv(EnvConfig, filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load()
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvNodeID, "solo")
	t.Setenv(EnvShards, "")
	t.Setenv(EnvListen, "")
	t.Setenv(EnvDataDir, "")
	t.Setenv(EnvLogLevel, "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "solo", cfg.Node.ID)
	assert.Equal(t, defaultStorage.Shards, cfg.Storage.Shards)
}
