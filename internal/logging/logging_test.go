package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/graphshard/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"INFO":    zerolog.InfoLevel,
		"Warn":    zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(config.LoggingConfig{Level: "warn", Format: config.FormatJSON}, "node-1", &buf)

	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn().Int("shard", 2).Msg("reply not delivered")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "node-1", line["node_id"])
	assert.Equal(t, float64(2), line["shard"])
	assert.Equal(t, "reply not delivered", line["message"])
	assert.Contains(t, line, "time")
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := New(config.LoggingConfig{Level: "debug", Format: config.FormatConsole}, "", &buf)

	logger.Debug().Msg("shard worker started")
	assert.Contains(t, buf.String(), "shard worker started")
	assert.False(t, json.Valid(buf.Bytes()))
}

func TestSetupOnce(t *testing.T) {
	initialized.Store(false)
	t.Cleanup(func() { initialized.Store(false) })

	var buf bytes.Buffer
	first, err := setup(config.LoggingConfig{Level: "info"}, "n1", &buf)
	require.NoError(t, err)

	log.Info().Msg("through the global logger")
	assert.Contains(t, buf.String(), "through the global logger")

	_, err = setup(config.LoggingConfig{Level: "debug"}, "n2", &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.Equal(t, first.GetLevel(), log.Logger.GetLevel())
}
