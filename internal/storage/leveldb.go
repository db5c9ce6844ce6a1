package storage

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	lverrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelOptions tunes a LevelStore. Zero values use goleveldb's defaults.
type LevelOptions struct {
	// Sync makes every write wait for fsync of the leveldb journal.
	Sync bool

	// WriteBufferSize is the memtable size in bytes.
	WriteBufferSize int

	// BlockCacheSize is the block cache capacity in bytes.
	BlockCacheSize int
}

// LevelStore implements Store on top of an embedded LevelDB database.
// Keys are kept in byte order, so List returns them sorted.
type LevelStore struct {
	db *leveldb.DB
	wo *opt.WriteOptions
}

// OpenLevelStore opens or creates the database at path. A database whose
// manifest is corrupted is recovered in place.
func OpenLevelStore(path string, o LevelOptions) (*LevelStore, error) {
	options := &opt.Options{
		WriteBuffer:        o.WriteBufferSize,
		BlockCacheCapacity: o.BlockCacheSize,
	}

	db, err := leveldb.OpenFile(path, options)
	if lverrors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(path, options)
	}
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}

	return &LevelStore{
		db: db,
		wo: &opt.WriteOptions{Sync: o.Sync},
	}, nil
}

// Get retrieves a value by key
func (l *LevelStore) Get(key string) ([]byte, error) {
	v, err := l.db.Get([]byte(key), nil)
	if err != nil {
		return nil, translate(err)
	}
	return v, nil
}

// Put stores a value with the given key
func (l *LevelStore) Put(key string, value []byte) error {
	return translate(l.db.Put([]byte(key), value, l.wo))
}

// PutBatch writes all entries as one leveldb batch
func (l *LevelStore) PutBatch(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := new(leveldb.Batch)
	for _, e := range entries {
		batch.Put([]byte(e.Key), e.Value)
	}
	return translate(l.db.Write(batch, l.wo))
}

// Delete removes a key-value pair
func (l *LevelStore) Delete(key string) error {
	return translate(l.db.Delete([]byte(key), l.wo))
}

// List returns all keys in ascending byte order
func (l *LevelStore) List() []string {
	var keys []string
	iter := l.db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		keys = append(keys, string(iter.Key()))
	}
	return keys
}

// Stats walks the whole database; it is meant for diagnostics only
func (l *LevelStore) Stats() StoreStats {
	var stats StoreStats
	iter := l.db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		stats.Keys++
		stats.Bytes += len(iter.Value())
	}
	return stats
}

// Close closes the database
func (l *LevelStore) Close() error {
	return translate(l.db.Close())
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, leveldb.ErrNotFound):
		return ErrKeyNotFound
	case errors.Is(err, leveldb.ErrClosed):
		return ErrStoreClosed
	default:
		return err
	}
}
