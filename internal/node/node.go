// Package node groups the shard workers of one process behind a single
// routing layer. A Node owns a fixed number of shards, opened under one data
// directory, and sends every node id to exactly one of them.
package node

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"

	"github.com/dreamware/graphshard/internal/graph"
	"github.com/dreamware/graphshard/internal/shard"
)

var (
	// ErrNoShards is returned when a node is configured without shards.
	ErrNoShards = errors.New("node: at least one shard is required")

	// ErrClosed is returned by operations on a closed node.
	ErrClosed = errors.New("node: closed")
)

// streamBuffer is the per-shard channel capacity used by Ingest. It lets the
// router run ahead of a worker that is busy checkpointing.
const streamBuffer = 256

// Options configures Open.
type Options struct {
	Logger *zerolog.Logger

	// ID names the node in logs and Info.
	ID string

	// DataDir holds one sub-directory per shard, shard-<n>.
	DataDir string

	// Shards is the number of shard workers.
	Shards int

	// Shard is passed to every worker. Its Logger is replaced by the node's.
	Shard shard.Options
}

// Info describes a node and its shards.
type Info struct {
	NodeID string            `json:"node_id"`
	Shards []shard.ShardInfo `json:"shards"`
	Count  int               `json:"shard_count"`
}

// Node routes fragments and reads to its shard workers.
//
// Routing:
//   - a node id belongs to shard Hash(id) % len(shards)
//   - the shard set is fixed for the life of the node, so routing is stable
//   - reopening a data directory with a different shard count strands data
//
// Concurrency:
//   - every method is safe for concurrent use
//   - shards process their own command queues in parallel
type Node struct {
	log    zerolog.Logger
	shards []*shard.Worker

	submitMu  sync.Mutex
	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}

	ID string
}

// Open opens opts.Shards workers under opts.DataDir.
func Open(opts Options) (*Node, error) {
	if opts.Shards <= 0 {
		return nil, ErrNoShards
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str("node_id", opts.ID).Logger()

	shardOpts := opts.Shard
	shardOpts.Logger = &logger

	workers := make([]*shard.Worker, 0, opts.Shards)
	for i := 0; i < opts.Shards; i++ {
		w, err := shard.Open(i, ShardDir(opts.DataDir, i), shardOpts)
		if err != nil {
			for _, opened := range workers {
				opened.Close()
			}
			return nil, fmt.Errorf("open shard %d: %w", i, err)
		}
		workers = append(workers, w)
	}

	n := New(opts.ID, logger, workers...)
	n.log.Info().Int("shards", len(workers)).Str("data_dir", opts.DataDir).Msg("node opened")
	return n, nil
}

// New builds a node over already running workers. Worker i must have ID i.
func New(id string, logger zerolog.Logger, workers ...*shard.Worker) *Node {
	return &Node{
		ID:     id,
		log:    logger,
		shards: workers,
		closed: make(chan struct{}),
	}
}

// ShardDir returns the directory of shard i under dataDir.
func ShardDir(dataDir string, i int) string {
	return filepath.Join(dataDir, fmt.Sprintf("shard-%d", i))
}

// NumShards returns the number of shards.
func (n *Node) NumShards() int {
	return len(n.shards)
}

// Shard returns worker i, or nil if i is out of range.
func (n *Node) Shard(i int) *shard.Worker {
	if i < 0 || i >= len(n.shards) {
		return nil
	}
	return n.shards[i]
}

// Route returns the worker that owns id.
func (n *Node) Route(id graph.NodeID) *shard.Worker {
	return n.shards[shard.Owner(id, len(n.shards))]
}

// Ingest drains fragments into the shards. One write batch is opened per
// shard and every fragment is forwarded to the batch of its owner; closing
// fragments closes all batches. The result joins every shard's error.
//
// A nil fragment stops routing: the batches are closed with what they have
// received so far and Ingest reports shard.ErrEncode.
func (n *Node) Ingest(ctx context.Context, fragments <-chan *graph.Fragment) error {
	select {
	case <-n.closed:
		return ErrClosed
	default:
	}

	streams := make([]chan *graph.Fragment, 0, len(n.shards))
	replies := make([]<-chan error, 0, len(n.shards))
	closeStreams := func() {
		for _, s := range streams {
			close(s)
		}
	}

	// Concurrent ingests must queue their batches in the same order on every
	// shard, otherwise each could wait on a shard busy with the other's batch.
	n.submitMu.Lock()
	for _, w := range n.shards {
		stream := make(chan *graph.Fragment, streamBuffer)
		cmd, reply := shard.NewWriteBatch(ctx, stream)
		if err := w.Submit(ctx, cmd); err != nil {
			n.submitMu.Unlock()
			closeStreams()
			return fmt.Errorf("shard %d: %w", w.ID, err)
		}
		streams = append(streams, stream)
		replies = append(replies, reply)
	}
	n.submitMu.Unlock()

	routed, routeErr := n.route(ctx, fragments, streams)
	closeStreams()

	errs := make([]error, 0, len(n.shards)+1)
	if routeErr != nil {
		errs = append(errs, routeErr)
	}
	for i, w := range n.shards {
		if err := n.await(ctx, w, replies[i]); err != nil {
			errs = append(errs, fmt.Errorf("shard %d: %w", w.ID, err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		n.log.Warn().Err(err).Int("routed", routed).Msg("ingest finished with errors")
		return err
	}
	n.log.Debug().Int("routed", routed).Msg("ingest complete")
	return nil
}

func (n *Node) route(ctx context.Context, fragments <-chan *graph.Fragment, streams []chan *graph.Fragment) (int, error) {
	routed := 0
	for {
		var (
			f  *graph.Fragment
			ok bool
		)
		select {
		case f, ok = <-fragments:
		case <-ctx.Done():
			return routed, ctx.Err()
		}
		if !ok {
			return routed, nil
		}
		if f == nil {
			return routed, fmt.Errorf("%w: nil fragment after %d", shard.ErrEncode, routed)
		}

		i := shard.Owner(f.NodeID(), len(n.shards))
		select {
		case streams[i] <- f:
			routed++
		case <-n.shards[i].Done():
			return routed, fmt.Errorf("shard %d: %w", i, shard.ErrChannelClosed)
		case <-ctx.Done():
			return routed, ctx.Err()
		}
	}
}

func (n *Node) await(ctx context.Context, w *shard.Worker, reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	case <-w.Done():
		select {
		case err := <-reply:
			return err
		default:
			return shard.ErrChannelClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Write ingests frags as one batch per shard.
func (n *Node) Write(ctx context.Context, frags []*graph.Fragment) error {
	stream := make(chan *graph.Fragment)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		defer close(stream)
		for _, f := range frags {
			select {
			case stream <- f:
			case <-stop:
				return
			}
		}
	}()
	return n.Ingest(ctx, stream)
}

// Read returns the fragment stored for id.
func (n *Node) Read(ctx context.Context, id graph.NodeID) (*graph.Fragment, error) {
	return n.Route(id).Read(ctx, id)
}

// IDs returns the ids stored for graph g across all shards, ordered by
// graph and then id. An empty g lists every graph.
func (n *Node) IDs(ctx context.Context, g string) ([]graph.NodeID, error) {
	var all []graph.NodeID
	for _, w := range n.shards {
		ids, err := w.IDs(ctx, g)
		if err != nil {
			return nil, fmt.Errorf("shard %d: %w", w.ID, err)
		}
		all = append(all, ids...)
	}
	slices.SortFunc(all, func(a, b graph.NodeID) int { return a.Compare(b) })
	return all, nil
}

// Info reports the node and all of its shards ordered by shard id.
func (n *Node) Info() Info {
	infos := make([]shard.ShardInfo, 0, len(n.shards))
	for _, w := range n.shards {
		infos = append(infos, w.Info())
	}
	slices.SortFunc(infos, func(a, b shard.ShardInfo) int { return a.ID - b.ID })

	return Info{
		NodeID: n.ID,
		Shards: infos,
		Count:  len(infos),
	}
}

// Close stops every shard and returns their joined close errors.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		close(n.closed)
		var errs []error
		for _, w := range n.shards {
			if err := w.Close(); err != nil {
				errs = append(errs, fmt.Errorf("shard %d: %w", w.ID, err))
			}
		}
		n.closeErr = errors.Join(errs...)
		n.log.Info().Msg("node closed")
	})
	return n.closeErr
}
