// Package main implements the graphshard node service, which opens a fixed set
// of shard workers over one data directory and serves them over HTTP.
//
// The node is responsible for:
//   - Loading configuration (YAML file plus environment overrides)
//   - Initialising the process logger exactly once
//   - Opening every shard worker and its fragment files and index
//   - Serving the JSON API until SIGINT or SIGTERM
//   - Draining HTTP requests and closing the shards on shutdown
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│                Node                     │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                              │
//	│    /health               - Liveness     │
//	│    /info                 - Statistics   │
//	│    /graphs/{g}/nodes     - Write / list │
//	│    /graphs/{g}/nodes/{id}- Read         │
//	├─────────────────────────────────────────┤
//	│  Shards:                                │
//	│    shard-0 … shard-N-1   - Workers      │
//	│    fragments/ + index/   - Per shard    │
//	└─────────────────────────────────────────┘
//
// Configuration:
//   - GRAPHSHARD_CONFIG: YAML file (default: ./config.yaml when present)
//   - NODE_ID: Node identifier (default: random UUID)
//   - NODE_LISTEN: Listen address (default: ":8081")
//   - DATA_DIR: Data directory (default: "data")
//   - SHARDS: Number of shards (default: 2)
//   - LOG_LEVEL: debug, info, warn or error (default: info)
//
// Example usage:
//
//	# Start node
//	NODE_ID=node-1 DATA_DIR=/var/lib/graphshard SHARDS=4 ./node
//
//	# Write two fragments
//	curl -X PUT localhost:8081/graphs/people/nodes \
//	  -d '[{"id":"1","properties":[{"name":"uses","value":{"string":"Linux"}}]}]'
//
//	# Read one back
//	curl localhost:8081/graphs/people/nodes/1
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dreamware/graphshard/internal/api"
	"github.com/dreamware/graphshard/internal/config"
	"github.com/dreamware/graphshard/internal/logging"
	"github.com/dreamware/graphshard/internal/node"
	"github.com/dreamware/graphshard/internal/shard"
)

// logFatal is a variable to allow mocking fatal exits in tests.
var logFatal = func(format string, v ...any) {
	log.Fatal().Msgf(format, v...)
}

// shutdownTimeout bounds how long in-flight requests may take after a signal.
const shutdownTimeout = 10 * time.Second

// main loads configuration, opens the node and serves it until a shutdown
// signal arrives.
//
// Exit codes:
//   - 0: Normal shutdown via signal
//   - 1: Invalid configuration
//   - 1: Failed to open shards or to listen
func main() {
	cfg, err := config.Load()
	if err != nil {
		logFatal("config: %v", err)
		return
	}

	logger, err := logging.Setup(cfg.Logging, cfg.Node.ID)
	if err != nil {
		logFatal("logging: %v", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, nil); err != nil {
		logFatal("node: %v", err)
	}
}

// run opens the node described by cfg and serves it until ctx is done. When
// ready is non-nil the bound listen address is sent on it once the server
// accepts connections.
//
// Shutdown order:
//  1. Stop accepting connections and drain in-flight requests
//  2. Close every shard worker, flushing fragment files and the index
func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger, ready chan<- string) error {
	n, err := node.Open(nodeOptions(cfg, logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			logger.Error().Err(err).Msg("close shards")
		}
	}()

	ln, err := net.Listen("tcp", cfg.Node.Listen)
	if err != nil {
		return err
	}

	s := &http.Server{
		Handler:           api.NewServer(n, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("listen", ln.Addr().String()).Int("shards", n.NumShards()).Msg("node listening")
		serveErr <- s.Serve(ln)
	}()
	if ready != nil {
		ready <- ln.Addr().String()
	}

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server shutdown")
	}
	logger.Info().Msg("node stopped")
	return nil
}

// nodeOptions maps the storage section of cfg onto node and shard options.
func nodeOptions(cfg *config.Config, logger zerolog.Logger) node.Options {
	return node.Options{
		Logger:  &logger,
		ID:      cfg.Node.ID,
		DataDir: cfg.Storage.DataDir,
		Shards:  cfg.Storage.Shards,
		Shard: shard.Options{
			QueueSize:       cfg.Storage.QueueSize,
			CheckpointEvery: cfg.Storage.CheckpointEvery,
			MaxFileSize:     cfg.Storage.MaxFileSize,
			SyncIndex:       cfg.Storage.SyncIndex,
			NoSync:          cfg.Storage.NoSync,
		},
	}
}
