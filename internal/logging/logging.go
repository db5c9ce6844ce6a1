// Package logging builds the process logger. Setup runs once at startup;
// components receive a zerolog.Logger and add their own context fields.
package logging

import (
	"errors"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dreamware/graphshard/internal/config"
)

// ErrAlreadyInitialized is returned by every Setup call after the first.
var ErrAlreadyInitialized = errors.New("logging: already initialized")

var initialized atomic.Bool

var logLevelMapping = map[string]zerolog.Level{
	"debug": zerolog.DebugLevel,
	"info":  zerolog.InfoLevel,
	"warn":  zerolog.WarnLevel,
	"error": zerolog.ErrorLevel,
}

// ParseLevel maps a level name to a zerolog level. Unknown names map to info.
func ParseLevel(s string) zerolog.Level {
	level, ok := logLevelMapping[strings.ToLower(s)]
	if !ok {
		return zerolog.InfoLevel
	}
	return level
}

// New builds a logger writing to out. The console format is meant for
// terminals; everything else is JSON.
func New(cfg config.LoggingConfig, nodeID string, out io.Writer) zerolog.Logger {
	if cfg.Format == config.FormatConsole {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if nodeID != "" {
		ctx = ctx.Str("node_id", nodeID)
	}
	return ctx.Logger()
}

// Setup builds the process logger on stdout and installs it as the global
// zerolog logger. Only the first call has an effect.
func Setup(cfg config.LoggingConfig, nodeID string) (zerolog.Logger, error) {
	return setup(cfg, nodeID, os.Stdout)
}

func setup(cfg config.LoggingConfig, nodeID string, out io.Writer) (zerolog.Logger, error) {
	if !initialized.CompareAndSwap(false, true) {
		return log.Logger, ErrAlreadyInitialized
	}

	logger := New(cfg, nodeID, out)
	log.Logger = logger
	zerolog.DefaultContextLogger = &logger
	return logger, nil
}
