// Package shard implements the per-shard storage actor: a single goroutine
// that owns one shard's fragment store and placement index and serializes
// every write and read through a command queue.
//
// # Overview
//
// A shard is a disjoint slice of the node-id space. Its Worker is the only
// code that touches the shard's files and index, so neither needs locks.
// Callers talk to it exclusively by message passing:
//
//	 callers (any goroutine)
//	    │  WriteBatch{Fragments, Reply}
//	    │  ReadByID{ID, Reply}
//	    │  ListIDs{Graph, Reply}
//	    ▼
//	┌─────────────────────────────────────┐
//	│         command queue (MPSC)        │
//	└─────────────────────────────────────┘
//	    │ one command at a time
//	    ▼
//	┌─────────────────────────────────────┐
//	│               Worker                │
//	│  encode → append → stage entry      │
//	│  flush → apply entries → reply      │
//	├──────────────────┬──────────────────┤
//	│  FragmentStore   │  PlacementIndex  │
//	│  (fragstore)     │  (index/leveldb) │
//	└──────────────────┴──────────────────┘
//
// # State Machine
//
// The worker is always in exactly one state and returns to Idle between
// commands:
//
//	Idle ──WriteBatch──▶ Ingesting ──stream closed / abort──▶ Idle
//	Idle ──ReadByID───▶ Serving   ──reply sent──────────────▶ Idle
//	any  ──Close──────▶ Stopped
//
// A write batch is drained to completion before the next command is taken,
// so a very large batch delays queued reads. This is the price of never
// letting a read observe half of another caller's batch.
//
// # Write Batches
//
// The fragments of a batch travel on their own channel, separate from the
// command queue, so a producer can keep building fragments while the worker
// writes. Closing that channel is the only end-of-batch signal.
//
// Ordering per batch:
//  1. Each fragment is encoded and appended to the active fragment file
//  2. Its index entry is staged in memory
//  3. Every CheckpointEvery fragments, and once at the end, the store is
//     flushed (fsync) and only then are the staged entries applied
//  4. The reply is sent after the final checkpoint
//
// An index entry therefore never refers to bytes that are not durable.
//
// Failures are fail-fast. The first fragment that cannot be encoded or
// appended aborts the batch: fragments before it are checkpointed, the rest
// of the stream is drained and discarded so the producer is not left blocked,
// and a *BatchError is sent on the reply channel.
//
// # Replies
//
// Reply channels should have capacity 1. Several ReadByID commands may share
// one reply channel; the worker then waits for the caller to take each result
// before delivering the next, which keeps a slow reader from being flooded.
//
// A reply that cannot be delivered, because the command's context ended or
// the worker is stopping, is logged and counted in DroppedReplies.
//
// # Errors
//
// ErrEncode, ErrDecode, ErrStoreIO, ErrIndex, ErrNotFound and
// ErrChannelClosed classify every failure. The worker never panics on a bad
// fragment or a failed read; it answers the command and keeps serving.
//
// # Usage
//
//	w, err := shard.Open(0, "/data/shard-0", shard.Options{Logger: &logger})
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
//
//	stream := make(chan *graph.Fragment)
//	go func() {
//	    defer close(stream)
//	    for _, f := range fragments {
//	        stream <- f
//	    }
//	}()
//	if err := w.Write(ctx, stream); err != nil {
//	    return err
//	}
//
//	frag, err := w.Read(ctx, graph.NewNodeID("default", "1"))
package shard
