// Package index maps logical node ids to the placement records of their
// fragments. It is a thin typed layer over a storage.Store; durability and
// ordering come from the underlying engine.
package index

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dreamware/graphshard/internal/graph"
	"github.com/dreamware/graphshard/internal/placement"
	"github.com/dreamware/graphshard/internal/storage"
)

var (
	// ErrNotFound is returned by Lookup for ids that were never inserted.
	ErrNotFound = errors.New("index: not found")

	// ErrInvalidKey is returned for node ids that cannot be serialized.
	ErrInvalidKey = errors.New("index: invalid key")
)

// separator splits graph from id inside a key. Using 0x00 keeps keys sorted
// by graph first and then by id.
const separator = "\x00"

// Entry is one staged insert.
type Entry struct {
	ID     graph.NodeID
	Record placement.Record
}

// Index is the durable NodeID -> placement.Record map of one shard.
type Index struct {
	store storage.Store
}

// New wraps store. The index takes ownership and closes it on Close.
func New(store storage.Store) *Index {
	return &Index{store: store}
}

// Open opens a LevelDB-backed index at path.
func Open(path string, o storage.LevelOptions) (*Index, error) {
	store, err := storage.OpenLevelStore(path, o)
	if err != nil {
		return nil, err
	}
	return New(store), nil
}

// Key serializes id as graph + 0x00 + id.
func Key(id graph.NodeID) (string, error) {
	if id.ID == "" {
		return "", fmt.Errorf("%w: empty id", ErrInvalidKey)
	}
	if strings.Contains(id.Graph, separator) {
		return "", fmt.Errorf("%w: graph %q contains NUL", ErrInvalidKey, id.Graph)
	}
	return id.Graph + separator + id.ID, nil
}

// ParseKey is the inverse of Key.
func ParseKey(key string) (graph.NodeID, error) {
	g, id, ok := strings.Cut(key, separator)
	if !ok || id == "" {
		return graph.NodeID{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return graph.NodeID{Graph: g, ID: id}, nil
}

// Insert upserts the record for id; the last write wins.
func (x *Index) Insert(id graph.NodeID, rec placement.Record) error {
	key, err := Key(id)
	if err != nil {
		return err
	}
	if err := x.store.Put(key, rec.AppendBinary(nil)); err != nil {
		return fmt.Errorf("index: put %s: %w", id, err)
	}
	return nil
}

// Apply upserts a batch of entries atomically. Entries later in the slice
// win over earlier ones for the same id.
func (x *Index) Apply(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := make([]storage.Entry, 0, len(entries))
	buf := make([]byte, 0, len(entries)*placement.Size)
	for _, e := range entries {
		key, err := Key(e.ID)
		if err != nil {
			return err
		}
		start := len(buf)
		buf = e.Record.AppendBinary(buf)
		batch = append(batch, storage.Entry{Key: key, Value: buf[start:len(buf):len(buf)]})
	}
	if err := x.store.PutBatch(batch); err != nil {
		return fmt.Errorf("index: apply %d entries: %w", len(entries), err)
	}
	return nil
}

// Lookup returns the record stored for id or ErrNotFound.
func (x *Index) Lookup(id graph.NodeID) (placement.Record, error) {
	var rec placement.Record
	key, err := Key(id)
	if err != nil {
		return rec, err
	}
	b, err := x.store.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return rec, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return rec, fmt.Errorf("index: get %s: %w", id, err)
	}
	if err := rec.UnmarshalBinary(b); err != nil {
		return rec, fmt.Errorf("index: entry for %s: %w", id, err)
	}
	return rec, nil
}

// IDs returns every indexed node id of graph g in ascending order. An empty
// g returns ids of all graphs.
func (x *Index) IDs(g string) ([]graph.NodeID, error) {
	var ids []graph.NodeID
	for _, key := range x.store.List() {
		id, err := ParseKey(key)
		if err != nil {
			return nil, err
		}
		if g == "" || id.Graph == g {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Close closes the underlying store.
func (x *Index) Close() error {
	return x.store.Close()
}
