package config

import "strings"

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

var knownLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigIsNil
	}
	if err := c.Node.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	return nil
}

func (c *NodeConfig) Validate() error {
	if c.Listen == "" {
		return ErrMissingListen
	}
	return nil
}

func (c *StorageConfig) Validate() error {

	if c.DataDir == "" {
		return ErrMissingDataDir
	}

	if c.Shards < 1 {
		return ErrInvalidShards
	}

	if c.CheckpointEvery < 1 {
		return ErrInvalidCheckpoint
	}

	if c.QueueSize < 1 {
		return ErrInvalidQueueSize
	}

	return nil
}

func (c *LoggingConfig) Validate() error {
	if !knownLevels[strings.ToLower(c.Level)] {
		return ErrUnknownLevel
	}

	switch c.Format {
	case FormatJSON, FormatConsole:
		return nil
	default:
		return ErrUnknownFormat
	}
}
