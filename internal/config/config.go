// Package config loads the node configuration from a YAML file, fills in
// defaults and applies environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Environment variables read by ApplyEnv and Load.
const (
	EnvConfig   = "GRAPHSHARD_CONFIG"
	EnvNodeID   = "NODE_ID"
	EnvListen   = "NODE_LISTEN"
	EnvDataDir  = "DATA_DIR"
	EnvShards   = "SHARDS"
	EnvLogLevel = "LOG_LEVEL"
)

// DefaultPath is read by Load when GRAPHSHARD_CONFIG is unset and the file exists.
const DefaultPath = "config.yaml"

type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
}

type NodeConfig struct {
	ID     string `yaml:"id"`
	Listen string `yaml:"listen"`
}

type StorageConfig struct {
	DataDir         string `yaml:"data_dir"`
	Shards          int    `yaml:"shards"`
	MaxFileSize     uint64 `yaml:"max_file_size"`
	CheckpointEvery int    `yaml:"checkpoint_every"`
	QueueSize       int    `yaml:"queue_size"`
	SyncIndex       bool   `yaml:"sync_index"`
	NoSync          bool   `yaml:"no_sync"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Read parses the YAML file at path. Defaults are not applied.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses YAML bytes. Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// an empty document is an empty config
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return &cfg, nil
}

// Load reads the file named by GRAPHSHARD_CONFIG, or config.yaml when present,
// then applies environment overrides and defaults and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	path, explicit := os.LookupEnv(EnvConfig)
	if !explicit {
		path = DefaultPath
	}
	if path != "" {
		read, err := Read(path)
		switch {
		case err == nil:
			cfg = read
		case errors.Is(err, fs.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.PopulateDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields with the non-empty values returned by getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if c == nil {
		return ErrConfigIsNil
	}
	if v := getenv(EnvNodeID); v != "" {
		c.Node.ID = v
	}
	if v := getenv(EnvListen); v != "" {
		c.Node.Listen = v
	}
	if v := getenv(EnvDataDir); v != "" {
		c.Storage.DataDir = v
	}
	if v := getenv(EnvShards); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidShards, EnvShards, v)
		}
		c.Storage.Shards = n
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	return nil
}
