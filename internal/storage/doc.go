// Package storage defines the embedded key-value boundary used by the
// placement index and provides the two engines behind it.
//
// # Overview
//
// The placement index only needs point reads, upserts and atomic batches over
// an ordered key space. Store captures exactly that surface so the index does
// not depend on a particular engine:
//
//	┌─────────────────────────────────────┐
//	│          Placement Index            │
//	│     (NodeID → placement record)     │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│          Store interface            │
//	│  Get, Put, PutBatch, Delete, List   │
//	└─────────────────────────────────────┘
//	          │                 │
//	          ▼                 ▼
//	   ┌────────────┐    ┌────────────┐
//	   │ MemoryStore│    │ LevelStore │
//	   └────────────┘    └────────────┘
//
// # Implementations
//
// MemoryStore: map guarded by sync.RWMutex
//   - No persistence (data lost on restart)
//   - Used by tests and ephemeral shards
//
// LevelStore: github.com/syndtr/goleveldb
//   - Persistent, ordered, crash-safe via its journal
//   - PutBatch maps to a single leveldb.Batch, so a checkpoint of index
//     entries becomes visible all at once
//   - LevelOptions.Sync makes every write wait for fsync
//
// # Error Handling
//
// ErrKeyNotFound: key doesn't exist (Get)
//
// ErrStoreClosed: the store has been closed; every operation fails
//
// Engine errors are returned as-is so callers can wrap them.
//
// # Usage
//
//	store, err := storage.OpenLevelStore("/data/shard-0/index", storage.LevelOptions{})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	err = store.PutBatch([]storage.Entry{{Key: "a", Value: v1}, {Key: "b", Value: v2}})
package storage
