package shard

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dreamware/graphshard/internal/codec"
	"github.com/dreamware/graphshard/internal/fragstore"
	"github.com/dreamware/graphshard/internal/graph"
	"github.com/dreamware/graphshard/internal/index"
	"github.com/dreamware/graphshard/internal/placement"
	"github.com/dreamware/graphshard/internal/storage"
)

// ShardState represents what the worker is doing right now
type ShardState string

const (
	// ShardStateIdle means the worker is waiting for the next command
	ShardStateIdle ShardState = "idle"
	// ShardStateIngesting means the worker is draining a write batch
	ShardStateIngesting ShardState = "ingesting"
	// ShardStateServing means the worker is answering a read
	ShardStateServing ShardState = "serving"
	// ShardStateStopped means the worker has exited and released its resources
	ShardStateStopped ShardState = "stopped"
)

const (
	// DefaultQueueSize is the command queue capacity used when Options leaves it zero
	DefaultQueueSize = 1024
	// DefaultCheckpointEvery is the checkpoint interval used when Options leaves it zero
	DefaultCheckpointEvery = 10000
)

// FragmentStore is the append-only byte store a worker writes into.
// *fragstore.Store implements it.
type FragmentStore interface {
	Append(b []byte) (placement.Record, error)
	Read(rec placement.Record) ([]byte, error)
	Flush() error
	Close() error
}

// PlacementIndex maps node ids to placement records.
// *index.Index implements it.
type PlacementIndex interface {
	Insert(id graph.NodeID, rec placement.Record) error
	Apply(entries []index.Entry) error
	Lookup(id graph.NodeID) (placement.Record, error)
	IDs(g string) ([]graph.NodeID, error)
	Close() error
}

// Options configures a Worker
type Options struct {
	// Logger receives worker events; nil disables logging
	Logger *zerolog.Logger

	// Codec serializes fragments; nil selects codec.Proto
	Codec codec.Codec

	// QueueSize is the capacity of the command queue
	QueueSize int

	// CheckpointEvery is how many fragments are staged before the store is
	// flushed and their index entries applied. 1 flushes and inserts each
	// fragment on its own.
	CheckpointEvery int

	// MaxFileSize is the fragment file rotation threshold (Open only)
	MaxFileSize uint64

	// SyncIndex makes every index write wait for fsync (Open only)
	SyncIndex bool

	// NoSync skips fsync of fragment files on flush (Open only)
	NoSync bool
}

// OperationStats tracks operation counts
type OperationStats struct {
	Batches        uint64 `json:"batches"`         // Write batches completed or aborted
	Fragments      uint64 `json:"fragments"`       // Fragments appended to the store
	Bytes          uint64 `json:"bytes"`           // Encoded bytes appended
	IndexInserts   uint64 `json:"index_inserts"`   // Index entries made visible
	Checkpoints    uint64 `json:"checkpoints"`     // Flush+apply rounds
	Reads          uint64 `json:"reads"`           // Read commands served
	Misses         uint64 `json:"misses"`          // Reads answered with ErrNotFound
	Failures       uint64 `json:"failures"`        // Commands answered with any other error
	DroppedReplies uint64 `json:"dropped_replies"` // Replies nobody received
}

// ShardInfo contains metadata about a shard
type ShardInfo struct {
	ID         int             `json:"id"`
	State      ShardState      `json:"state"`
	QueueDepth int             `json:"queue_depth"`
	Ops        OperationStats  `json:"operations"`
	Files      fragstore.Stats `json:"files"`
}

// fileStatser is implemented by stores that count their own work.
type fileStatser interface {
	Stats() fragstore.Stats
}

// Worker is the single goroutine that owns one shard's fragment store and
// placement index. All access goes through its command queue.
type Worker struct {
	store FragmentStore
	idx   PlacementIndex
	codec codec.Codec
	log   zerolog.Logger

	cmds chan Command
	quit chan struct{}
	done chan struct{}

	pending []index.Entry // staged entries, owned by the worker goroutine

	closeErr  error
	closeOnce sync.Once

	stats OperationStats
	state ShardState
	files fragstore.Stats // last store snapshot
	mu    sync.RWMutex    // protects state and files

	checkpointEvery int

	ID int
}

// Open opens the fragment files under dir/fragments and a LevelDB index under
// dir/index, then starts a worker over them.
func Open(id int, dir string, opts Options) (*Worker, error) {
	store, err := fragstore.Open(filepath.Join(dir, "fragments"), fragstore.Options{
		Partition:   uint64(id),
		MaxFileSize: opts.MaxFileSize,
		NoSync:      opts.NoSync,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreIO, err)
	}

	idx, err := index.Open(filepath.Join(dir, "index"), storage.LevelOptions{Sync: opts.SyncIndex})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("%w: %w", ErrIndex, err)
	}

	return New(id, store, idx, opts), nil
}

// NewMemory starts a worker with fragment files in dir and an in-memory index.
func NewMemory(id int, dir string, opts Options) (*Worker, error) {
	store, err := fragstore.Open(dir, fragstore.Options{Partition: uint64(id), MaxFileSize: opts.MaxFileSize, NoSync: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreIO, err)
	}
	return New(id, store, index.New(storage.NewMemoryStore()), opts), nil
}

// New starts a worker over store and idx. The worker takes ownership of both
// and closes them when it stops.
func New(id int, store FragmentStore, idx PlacementIndex, opts Options) *Worker {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.CheckpointEvery <= 0 {
		opts.CheckpointEvery = DefaultCheckpointEvery
	}
	if opts.Codec == nil {
		opts.Codec = codec.Proto{}
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	w := &Worker{
		ID:              id,
		store:           store,
		idx:             idx,
		codec:           opts.Codec,
		log:             logger.With().Int("shard", id).Logger(),
		cmds:            make(chan Command, opts.QueueSize),
		quit:            make(chan struct{}),
		done:            make(chan struct{}),
		state:           ShardStateIdle,
		checkpointEvery: opts.CheckpointEvery,
	}
	go w.run()
	return w
}

// Submit enqueues cmd. It blocks while the queue is full and fails with
// ErrChannelClosed once the worker has stopped.
func (w *Worker) Submit(ctx context.Context, cmd Command) error {
	ctx = contextOf(ctx)
	select {
	case <-w.done:
		return ErrChannelClosed
	default:
	}
	select {
	case w.cmds <- cmd:
		return nil
	case <-w.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Write submits a write batch over fragments and waits for its result. The
// caller must close fragments to finish the batch.
func (w *Worker) Write(ctx context.Context, fragments <-chan *graph.Fragment) error {
	cmd, reply := NewWriteBatch(ctx, fragments)
	if err := w.Submit(ctx, cmd); err != nil {
		return err
	}
	return await(contextOf(ctx), w.done, reply)
}

// WriteFragments writes frags as a single batch.
func (w *Worker) WriteFragments(ctx context.Context, frags []*graph.Fragment) error {
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
	return w.Write(ctx, stream)
}

// Read returns the fragment stored for id.
func (w *Worker) Read(ctx context.Context, id graph.NodeID) (*graph.Fragment, error) {
	cmd, reply := NewReadByID(ctx, id)
	if err := w.Submit(ctx, cmd); err != nil {
		return nil, err
	}
	res, err := awaitResult(contextOf(ctx), w.done, reply)
	if err != nil {
		return nil, err
	}
	return res.Fragment, res.Err
}

// IDs returns the ids indexed for graph g.
func (w *Worker) IDs(ctx context.Context, g string) ([]graph.NodeID, error) {
	reply := make(chan ListResult, 1)
	if err := w.Submit(ctx, ListIDs{Ctx: ctx, Graph: g, Reply: reply}); err != nil {
		return nil, err
	}
	res, err := awaitResult(contextOf(ctx), w.done, reply)
	if err != nil {
		return nil, err
	}
	return res.IDs, res.Err
}

func await(ctx context.Context, done <-chan struct{}, reply <-chan error) error {
	res, err := awaitResult(ctx, done, reply)
	if err != nil {
		return err
	}
	return res
}

// awaitResult waits for one reply. A worker that stopped without answering
// surfaces as ErrChannelClosed.
func awaitResult[T any](ctx context.Context, done <-chan struct{}, reply <-chan T) (T, error) {
	var zero T
	select {
	case res := <-reply:
		return res, nil
	case <-done:
		select {
		case res := <-reply:
			return res, nil
		default:
			return zero, ErrChannelClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close stops the worker after the command in progress, answers queued
// commands with ErrChannelClosed and releases the store and index.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() { close(w.quit) })
	<-w.done
	return w.closeErr
}

// Done is closed once the worker has stopped.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) run() {
	defer close(w.done)
	w.log.Debug().Msg("shard worker started")

	for {
		// quit wins over queued commands
		select {
		case <-w.quit:
			w.stop()
			return
		default:
		}

		select {
		case <-w.quit:
			w.stop()
			return
		case cmd := <-w.cmds:
			w.dispatch(cmd)
		}
	}
}

func (w *Worker) stop() {
	w.rejectQueued()
	w.release()
}

func (w *Worker) dispatch(cmd Command) {
	switch c := cmd.(type) {
	case WriteBatch:
		w.ingest(c)
	case *WriteBatch:
		w.ingest(*c)
	case ReadByID:
		w.serve(c)
	case *ReadByID:
		w.serve(*c)
	case ListIDs:
		w.list(c)
	case *ListIDs:
		w.list(*c)
	default:
		w.log.Error().Str("command", fmt.Sprintf("%T", cmd)).Msg("unknown command dropped")
	}
}

// ingest drains one write batch. Fragments are encoded and appended in
// stream order; index entries are applied only after the store has been
// flushed, and the reply is sent after the final checkpoint.
func (w *Worker) ingest(c WriteBatch) {
	w.setState(ShardStateIngesting)
	defer w.idle()

	ctx := contextOf(c.Ctx)
	log := w.log.With().Str("batch", uuid.NewString()).Logger()
	start := time.Now()

	// Only this goroutine bumps IndexInserts, so the delta is this batch's.
	insertsBefore := atomic.LoadUint64(&w.stats.IndexInserts)

	var (
		streamClosed bool
		err          error
	)
	if c.Fragments == nil {
		err = fmt.Errorf("%w: nil fragment stream", ErrChannelClosed)
		streamClosed = true
	}

	for err == nil && !streamClosed {
		var (
			f  *graph.Fragment
			ok bool
		)
		select {
		case f, ok = <-c.Fragments:
		case <-ctx.Done():
			err = fmt.Errorf("%w: producer gone: %w", ErrChannelClosed, ctx.Err())
			continue
		case <-w.quit:
			err = fmt.Errorf("%w: shard stopping", ErrChannelClosed)
			continue
		}
		if !ok {
			streamClosed = true
			break
		}
		if err = w.write(f); err != nil {
			break
		}
		if len(w.pending) >= w.checkpointEvery {
			err = w.checkpoint()
		}
	}

	// Fragments accepted before a failure are still made durable and visible.
	cerr := w.checkpoint()
	applied := int(atomic.LoadUint64(&w.stats.IndexInserts) - insertsBefore)
	if err == nil {
		err = cerr
	} else if cerr != nil {
		err = errors.Join(err, cerr)
	}

	atomic.AddUint64(&w.stats.Batches, 1)
	if err != nil {
		discarded := 0
		if !streamClosed {
			discarded = w.discard(ctx, c.Fragments)
		}
		atomic.AddUint64(&w.stats.Failures, 1)
		err = &BatchError{Err: err, Applied: applied, Discarded: discarded}
		log.Warn().Err(err).Int("applied", applied).Int("discarded", discarded).Msg("write batch aborted")
	} else {
		log.Debug().Int("fragments", applied).Dur("took", time.Since(start)).Msg("write batch complete")
	}

	deliver(ctx, w, c.Reply, err, "write batch")
}

// write encodes and appends one fragment and stages its index entry.
func (w *Worker) write(f *graph.Fragment) error {
	data, err := w.codec.Encode(f)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrEncode, idOf(f), err)
	}
	// An id the index cannot key must fail here, before its bytes are appended.
	if _, err := index.Key(f.NodeID()); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrEncode, idOf(f), err)
	}
	rec, err := w.store.Append(data)
	if err != nil {
		return fmt.Errorf("%w: append %s: %w", ErrStoreIO, idOf(f), err)
	}
	atomic.AddUint64(&w.stats.Fragments, 1)
	atomic.AddUint64(&w.stats.Bytes, rec.Length)

	if w.checkpointEvery > 1 {
		w.pending = append(w.pending, index.Entry{ID: f.NodeID(), Record: rec})
		return nil
	}

	if err := w.store.Flush(); err != nil {
		return fmt.Errorf("%w: flush: %w", ErrStoreIO, err)
	}
	if err := w.idx.Insert(f.NodeID(), rec); err != nil {
		return fmt.Errorf("%w: %w", ErrIndex, err)
	}
	atomic.AddUint64(&w.stats.IndexInserts, 1)
	return nil
}

// checkpoint flushes the store and then applies the staged entries.
// Staged entries are dropped on failure.
func (w *Worker) checkpoint() error {
	defer func() { w.pending = w.pending[:0] }()

	if err := w.store.Flush(); err != nil {
		return fmt.Errorf("%w: flush: %w", ErrStoreIO, err)
	}
	if len(w.pending) == 0 {
		return nil
	}
	if err := w.idx.Apply(w.pending); err != nil {
		return fmt.Errorf("%w: %w", ErrIndex, err)
	}

	atomic.AddUint64(&w.stats.IndexInserts, uint64(len(w.pending)))
	atomic.AddUint64(&w.stats.Checkpoints, 1)
	return nil
}

// discard drains an aborted stream so a producer blocked on send can finish.
func (w *Worker) discard(ctx context.Context, fragments <-chan *graph.Fragment) int {
	n := 0
	for {
		select {
		case _, ok := <-fragments:
			if !ok {
				return n
			}
			n++
		case <-ctx.Done():
			return n
		case <-w.quit:
			return n
		}
	}
}

func (w *Worker) serve(c ReadByID) {
	w.setState(ShardStateServing)
	defer w.idle()

	atomic.AddUint64(&w.stats.Reads, 1)
	frag, err := w.lookup(c.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		atomic.AddUint64(&w.stats.Misses, 1)
	case err != nil:
		atomic.AddUint64(&w.stats.Failures, 1)
		w.log.Warn().Err(err).Stringer("node", c.ID).Msg("read failed")
	}

	deliver(contextOf(c.Ctx), w, c.Reply, ReadResult{ID: c.ID, Fragment: frag, Err: err}, "read")
}

func (w *Worker) lookup(id graph.NodeID) (*graph.Fragment, error) {
	rec, err := w.idx.Lookup(id)
	if errors.Is(err, index.ErrNotFound) || errors.Is(err, index.ErrInvalidKey) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndex, err)
	}

	data, err := w.store.Read(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %s at %s: %w", ErrStoreIO, id, rec, err)
	}

	frag, err := w.codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s at %s: %w", ErrDecode, id, rec, err)
	}
	if frag.NodeID() != id {
		return nil, fmt.Errorf("%w: %s points at fragment of %s", ErrDecode, id, frag.NodeID())
	}
	return frag, nil
}

func (w *Worker) list(c ListIDs) {
	ids, err := w.idx.IDs(c.Graph)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrIndex, err)
		atomic.AddUint64(&w.stats.Failures, 1)
	}
	deliver(contextOf(c.Ctx), w, c.Reply, ListResult{IDs: ids, Err: err}, "list")
}

// deliver sends v on reply, waiting for the receiver like a rendezvous. A
// reply that cannot be delivered is logged and counted.
func deliver[T any](ctx context.Context, w *Worker, reply chan<- T, v T, what string) {
	if reply == nil {
		w.dropped(what, "no reply channel")
		return
	}
	select {
	case reply <- v:
		return
	default:
	}
	select {
	case reply <- v:
	case <-ctx.Done():
		w.dropped(what, "caller gone: "+ctx.Err().Error())
	case <-w.quit:
		w.dropped(what, "shard stopping")
	}
}

func (w *Worker) dropped(what, why string) {
	atomic.AddUint64(&w.stats.DroppedReplies, 1)
	w.log.Warn().Str("command", what).Str("reason", why).Msg("reply not delivered")
}

// rejectQueued answers every command still in the queue with ErrChannelClosed.
func (w *Worker) rejectQueued() {
	for {
		select {
		case cmd := <-w.cmds:
			w.reject(cmd)
		default:
			return
		}
	}
}

func (w *Worker) reject(cmd Command) {
	var ok bool
	switch c := cmd.(type) {
	case WriteBatch:
		ok = trySend(c.Reply, error(ErrChannelClosed))
	case *WriteBatch:
		ok = c != nil && trySend(c.Reply, error(ErrChannelClosed))
	case ListIDs:
		ok = trySend(c.Reply, ListResult{Err: ErrChannelClosed})
	case *ListIDs:
		ok = c != nil && trySend(c.Reply, ListResult{Err: ErrChannelClosed})
	case ReadByID:
		ok = trySend(c.Reply, ReadResult{ID: c.ID, Err: ErrChannelClosed})
	case *ReadByID:
		ok = c != nil && trySend(c.Reply, ReadResult{ID: c.ID, Err: ErrChannelClosed})
	}
	if !ok {
		w.dropped(fmt.Sprintf("%T", cmd), "shard stopping")
	}
}

func trySend[T any](reply chan<- T, v T) bool {
	if reply == nil {
		return false
	}
	select {
	case reply <- v:
		return true
	default:
		return false
	}
}

// release closes the store and index; errors are kept for Close.
func (w *Worker) release() {
	var errs []error
	if err := w.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("%w: close: %w", ErrStoreIO, err))
	}
	if err := w.idx.Close(); err != nil {
		errs = append(errs, fmt.Errorf("%w: close: %w", ErrIndex, err))
	}
	w.closeErr = errors.Join(errs...)
	w.setState(ShardStateStopped)

	if w.closeErr != nil {
		w.log.Error().Err(w.closeErr).Msg("shard worker stopped with errors")
		return
	}
	w.log.Info().Msg("shard worker stopped")
}

func idOf(f *graph.Fragment) string {
	if f == nil {
		return "<nil fragment>"
	}
	return f.NodeID().String()
}

// OwnsKey determines if this shard owns a node id when the id space is split
// across numShards shards
func (w *Worker) OwnsKey(id graph.NodeID, numShards int) bool {
	return numShards > 0 && Owner(id, numShards) == w.ID
}

// Owner returns the shard index in [0, numShards) that owns id
func Owner(id graph.NodeID, numShards int) int {
	return int(id.Hash() % uint32(numShards))
}

// GetStats returns current shard statistics
func (w *Worker) GetStats() OperationStats {
	return OperationStats{
		Batches:        atomic.LoadUint64(&w.stats.Batches),
		Fragments:      atomic.LoadUint64(&w.stats.Fragments),
		Bytes:          atomic.LoadUint64(&w.stats.Bytes),
		IndexInserts:   atomic.LoadUint64(&w.stats.IndexInserts),
		Checkpoints:    atomic.LoadUint64(&w.stats.Checkpoints),
		Reads:          atomic.LoadUint64(&w.stats.Reads),
		Misses:         atomic.LoadUint64(&w.stats.Misses),
		Failures:       atomic.LoadUint64(&w.stats.Failures),
		DroppedReplies: atomic.LoadUint64(&w.stats.DroppedReplies),
	}
}

// State returns the current worker state
func (w *Worker) State() ShardState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(state ShardState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = state
}

// idle takes a snapshot of the store counters and marks the worker idle.
// The store is only touched here, on the worker goroutine.
func (w *Worker) idle() {
	var files fragstore.Stats
	if fs, ok := w.store.(fileStatser); ok {
		files = fs.Stats()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.files = files
	w.state = ShardStateIdle
}

// Info returns metadata about the shard
func (w *Worker) Info() ShardInfo {
	w.mu.RLock()
	state, files := w.state, w.files
	w.mu.RUnlock()

	return ShardInfo{
		ID:         w.ID,
		State:      state,
		QueueDepth: len(w.cmds),
		Ops:        w.GetStats(),
		Files:      files,
	}
}
