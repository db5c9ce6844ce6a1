package shard

import (
	"errors"
	"fmt"
)

// Error taxonomy surfaced on reply channels. Lower-level causes stay in the
// chain, so errors.Is works against both these and e.g. codec.ErrDecode.
var (
	// ErrEncode means a fragment could not be serialized.
	ErrEncode = errors.New("shard: encode failed")

	// ErrDecode means stored bytes did not decode into the expected fragment.
	ErrDecode = errors.New("shard: decode failed")

	// ErrStoreIO covers fragment file failures, including truncated reads.
	ErrStoreIO = errors.New("shard: store i/o")

	// ErrIndex covers failures of the embedded index engine.
	ErrIndex = errors.New("shard: index failure")

	// ErrNotFound is returned by reads for ids that were never written.
	ErrNotFound = errors.New("shard: not found")

	// ErrChannelClosed means the other side of a command went away: the
	// worker stopped, or the producer/caller context ended mid-command.
	ErrChannelClosed = errors.New("shard: channel closed")
)

// BatchError reports an aborted write batch. The first Applied fragments of
// the stream are durable and indexed; everything after the failing fragment
// was not written, Discarded of them were drained from the stream.
type BatchError struct {
	Err       error
	Applied   int
	Discarded int
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("write batch aborted after %d fragments (%d discarded): %v", e.Applied, e.Discarded, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
