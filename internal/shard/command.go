package shard

import (
	"context"

	"github.com/dreamware/graphshard/internal/graph"
)

// Command is a message to a Worker. The set is closed: WriteBatch, ReadByID
// and ListIDs. Each variant carries its own reply channel; a reply channel
// should have capacity 1 and may be shared between commands of the same kind.
type Command interface {
	command()
}

// WriteBatch streams fragments into the shard. The producer ends the batch by
// closing Fragments. Exactly one result is sent on Reply once every fragment
// is durable and indexed, or the batch aborted.
type WriteBatch struct {
	// Ctx ends the batch early when done; nil means no deadline.
	Ctx       context.Context
	Fragments <-chan *graph.Fragment
	Reply     chan<- error
}

// ReadByID fetches the fragment stored for ID.
type ReadByID struct {
	Ctx   context.Context
	ID    graph.NodeID
	Reply chan<- ReadResult
}

// ReadResult answers a ReadByID. ID echoes the request so results can be
// matched when several reads share one reply channel.
type ReadResult struct {
	Fragment *graph.Fragment
	Err      error
	ID       graph.NodeID
}

// ListIDs returns the ids indexed by the shard for Graph, or for all graphs
// when Graph is empty.
type ListIDs struct {
	Ctx   context.Context
	Reply chan<- ListResult
	Graph string
}

// ListResult answers a ListIDs.
type ListResult struct {
	Err error
	IDs []graph.NodeID
}

func (WriteBatch) command() {}
func (ReadByID) command()   {}
func (ListIDs) command()    {}

// NewWriteBatch builds a WriteBatch with a fresh one-slot reply channel.
func NewWriteBatch(ctx context.Context, fragments <-chan *graph.Fragment) (WriteBatch, <-chan error) {
	reply := make(chan error, 1)
	return WriteBatch{Ctx: ctx, Fragments: fragments, Reply: reply}, reply
}

// NewReadByID builds a ReadByID with a fresh one-slot reply channel.
func NewReadByID(ctx context.Context, id graph.NodeID) (ReadByID, <-chan ReadResult) {
	reply := make(chan ReadResult, 1)
	return ReadByID{Ctx: ctx, ID: id, Reply: reply}, reply
}

func contextOf(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
