package config

import (
	"github.com/google/uuid"
)

var defaultNode = NodeConfig{
	Listen: ":8081",
}

var defaultStorage = StorageConfig{
	DataDir:         "data",
	Shards:          2,
	MaxFileSize:     1 << 30,
	CheckpointEvery: 10000,
	QueueSize:       1024,
}

var defaultLogging = LoggingConfig{
	Level:  "info",
	Format: FormatJSON,
}

func Default() *Config {
	cfg := &Config{
		Node:    defaultNode,
		Storage: defaultStorage,
		Logging: defaultLogging,
	}
	cfg.Node.ID = uuid.New().String()
	return cfg
}

func (c *NodeConfig) PopulateDefaults() {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}

	if c.Listen == "" {
		c.Listen = defaultNode.Listen
	}
}

func (c *StorageConfig) PopulateDefaults() {
	if c.DataDir == "" {
		c.DataDir = defaultStorage.DataDir
	}

	if c.Shards == 0 {
		c.Shards = defaultStorage.Shards
	}

	if c.MaxFileSize == 0 {
		c.MaxFileSize = defaultStorage.MaxFileSize
	}

	if c.CheckpointEvery == 0 {
		c.CheckpointEvery = defaultStorage.CheckpointEvery
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultStorage.QueueSize
	}
}

func (c *LoggingConfig) PopulateDefaults() {
	if c.Level == "" {
		c.Level = defaultLogging.Level
	}

	if c.Format == "" {
		c.Format = defaultLogging.Format
	}
}

func (c *Config) PopulateDefaults() {
	c.Node.PopulateDefaults()
	c.Storage.PopulateDefaults()
	c.Logging.PopulateDefaults()
}
