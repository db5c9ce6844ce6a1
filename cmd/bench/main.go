// Package main is an ingest and read harness. It writes N fragments of the
// form {name, uses, eats} and then reads N/10 random ids back, either through
// an in-process node or against a running node's HTTP API.
//
// Configuration:
//   - BENCH_FRAGMENTS: Fragments to write (default: 2000000)
//   - BENCH_SHARDS: Shards of the in-process node (default: 2)
//   - BENCH_TARGET: Base URL of a running node; empty runs in-process
//   - BENCH_DATA_DIR: Data directory of the in-process node (default: temp dir)
//   - BENCH_BATCH: Fragments per HTTP write request (default: 10000)
//   - BENCH_SEED: Random seed for the read sample (default: time based)
//   - LOG_LEVEL: Log level (default: info)
//
// Example usage:
//
//	BENCH_FRAGMENTS=200000 ./bench
//	BENCH_TARGET=http://localhost:8081 ./bench
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dreamware/graphshard/internal/client"
	"github.com/dreamware/graphshard/internal/config"
	"github.com/dreamware/graphshard/internal/graph"
	"github.com/dreamware/graphshard/internal/logging"
	"github.com/dreamware/graphshard/internal/node"
	"github.com/dreamware/graphshard/internal/shard"
)

// logFatal is a variable to allow mocking fatal exits in tests.
var logFatal = func(format string, v ...any) {
	log.Fatal().Msgf(format, v...)
}

// benchGraph is the graph every generated fragment belongs to.
const benchGraph = graph.DefaultGraph

type benchConfig struct {
	Target    string
	DataDir   string
	Fragments int
	Shards    int
	Batch     int
	Seed      int64
}

// Result summarises one run.
type Result struct {
	Written    int
	Read       int
	IngestTook time.Duration
	ReadTook   time.Duration
}

func (r Result) String() string {
	return fmt.Sprintf("wrote %d fragments in %s (%.0f/s), read %d in %s (%.0f/s)",
		r.Written, r.IngestTook, rate(r.Written, r.IngestTook),
		r.Read, r.ReadTook, rate(r.Read, r.ReadTook))
}

func rate(n int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		logFatal("config: %v", err)
		return
	}

	logger, err := logging.Setup(config.LoggingConfig{Level: getenv(config.EnvLogLevel, "info"), Format: config.FormatConsole}, "bench")
	if err != nil {
		logFatal("logging: %v", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := runBench(ctx, cfg, logger)
	if err != nil {
		logFatal("bench: %v", err)
		return
	}
	logger.Info().
		Int("written", res.Written).
		Int("read", res.Read).
		Dur("ingest", res.IngestTook).
		Dur("reads", res.ReadTook).
		Msg(res.String())
}

func loadConfig() (benchConfig, error) {
	cfg := benchConfig{
		Target:  os.Getenv("BENCH_TARGET"),
		DataDir: os.Getenv("BENCH_DATA_DIR"),
		Seed:    time.Now().UnixNano(),
	}

	var err error
	if cfg.Fragments, err = getenvInt("BENCH_FRAGMENTS", 2000000); err != nil {
		return cfg, err
	}
	if cfg.Shards, err = getenvInt("BENCH_SHARDS", 2); err != nil {
		return cfg, err
	}
	if cfg.Batch, err = getenvInt("BENCH_BATCH", 10000); err != nil {
		return cfg, err
	}
	if v := os.Getenv("BENCH_SEED"); v != "" {
		if cfg.Seed, err = strconv.ParseInt(v, 10, 64); err != nil {
			return cfg, fmt.Errorf("BENCH_SEED: %w", err)
		}
	}

	if cfg.Fragments < 1 || cfg.Shards < 1 || cfg.Batch < 1 {
		return cfg, errors.New("BENCH_FRAGMENTS, BENCH_SHARDS and BENCH_BATCH must be positive")
	}
	return cfg, nil
}

// getenv retrieves an environment variable with a default fallback value.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) (int, error) {
	v, err := strconv.Atoi(getenv(k, strconv.Itoa(def)))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return v, nil
}

// fragment builds the fragment written for id i.
func fragment(i int, ts uint64) *graph.Fragment {
	return graph.NewFragment(graph.NewNodeID(benchGraph, strconv.Itoa(i))).
		Add(graph.NewKey(ts, "name"), graph.StringValue("Austin Harris")).
		Add(graph.NewKey(ts, "uses"), graph.StringValue("Linux")).
		Add(graph.NewKey(ts, "eats"), graph.StringValue("Pizza"))
}

// sample returns n/10 distinct ids in [0, n), at least one.
func sample(n int, seed int64) []int {
	k := n / 10
	if k == 0 {
		k = 1
	}
	return rand.New(rand.NewSource(seed)).Perm(n)[:k]
}

func runBench(ctx context.Context, cfg benchConfig, logger zerolog.Logger) (Result, error) {
	if cfg.Target != "" {
		return runRemote(ctx, cfg, logger)
	}
	return runLocal(ctx, cfg, logger)
}

func runLocal(ctx context.Context, cfg benchConfig, logger zerolog.Logger) (Result, error) {
	var res Result

	dir := cfg.DataDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "graphshard-bench-")
		if err != nil {
			return res, err
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	n, err := node.Open(node.Options{Logger: &logger, ID: "bench", DataDir: dir, Shards: cfg.Shards})
	if err != nil {
		return res, err
	}
	defer n.Close()

	logger.Info().Int("fragments", cfg.Fragments).Int("shards", cfg.Shards).Str("data_dir", dir).Msg("ingest started")
	start := time.Now()
	stream := make(chan *graph.Fragment, 1024)
	go func() {
		defer close(stream)
		ts := uint64(time.Now().Unix())
		for i := 0; i < cfg.Fragments; i++ {
			select {
			case stream <- fragment(i, ts):
			case <-ctx.Done():
				return
			}
		}
	}()
	if err := n.Ingest(ctx, stream); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	res.Written = cfg.Fragments
	res.IngestTook = time.Since(start)

	start = time.Now()
	read, err := readPipelined(ctx, n, sample(cfg.Fragments, cfg.Seed))
	res.Read = read
	res.ReadTook = time.Since(start)
	return res, err
}

// readPipelined reads ids through the shard command queues directly. Each
// shard gets one submitter and one shared reply channel, so many reads are in
// flight per shard at once.
func readPipelined(ctx context.Context, n *node.Node, ids []int) (int, error) {
	perShard := make([][]graph.NodeID, n.NumShards())
	for _, i := range ids {
		id := graph.NewNodeID(benchGraph, strconv.Itoa(i))
		s := shard.Owner(id, n.NumShards())
		perShard[s] = append(perShard[s], id)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		read int
		errs []error
	)
	for s, shardIDs := range perShard {
		if len(shardIDs) == 0 {
			continue
		}
		w := n.Shard(s)
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := readShard(ctx, w, shardIDs)
			mu.Lock()
			defer mu.Unlock()
			read += got
			if err != nil {
				errs = append(errs, fmt.Errorf("shard %d: %w", w.ID, err))
			}
		}()
	}
	wg.Wait()
	return read, errors.Join(errs...)
}

func readShard(ctx context.Context, w *shard.Worker, ids []graph.NodeID) (int, error) {
	reply := make(chan shard.ReadResult, 1)
	submitErr := make(chan error, 1)
	go func() {
		for _, id := range ids {
			if err := w.Submit(ctx, shard.ReadByID{Ctx: ctx, ID: id, Reply: reply}); err != nil {
				submitErr <- err
				return
			}
		}
		submitErr <- nil
	}()

	read := 0
	for read < len(ids) {
		select {
		case res := <-reply:
			if res.Err != nil {
				return read, res.Err
			}
			if v, ok := res.Fragment.Get("eats"); !ok || !v.Equal(graph.StringValue("Pizza")) {
				return read, fmt.Errorf("%s: unexpected fragment contents", res.ID)
			}
			read++
		case err := <-submitErr:
			if err != nil {
				return read, err
			}
			submitErr = nil
		case <-ctx.Done():
			return read, ctx.Err()
		}
	}
	return read, nil
}

func runRemote(ctx context.Context, cfg benchConfig, logger zerolog.Logger) (Result, error) {
	var res Result
	c := client.New(cfg.Target, nil)
	if err := c.Health(ctx); err != nil {
		return res, fmt.Errorf("target %s: %w", cfg.Target, err)
	}

	logger.Info().Int("fragments", cfg.Fragments).Str("target", cfg.Target).Msg("ingest started")
	start := time.Now()
	ts := uint64(time.Now().Unix())
	batch := make([]*graph.Fragment, 0, cfg.Batch)
	for i := 0; i < cfg.Fragments; i++ {
		batch = append(batch, fragment(i, ts))
		if len(batch) < cfg.Batch && i < cfg.Fragments-1 {
			continue
		}
		if _, err := c.PutFragments(ctx, benchGraph, batch); err != nil {
			return res, err
		}
		res.Written += len(batch)
		batch = batch[:0]
	}
	res.IngestTook = time.Since(start)

	start = time.Now()
	for _, i := range sample(cfg.Fragments, cfg.Seed) {
		f, err := c.Get(ctx, graph.NewNodeID(benchGraph, strconv.Itoa(i)))
		if err != nil {
			res.ReadTook = time.Since(start)
			return res, err
		}
		if v, ok := f.Get("eats"); !ok || !v.Equal(graph.StringValue("Pizza")) {
			return res, fmt.Errorf("%s: unexpected fragment contents", f.NodeID())
		}
		res.Read++
	}
	res.ReadTook = time.Since(start)
	return res, nil
}
