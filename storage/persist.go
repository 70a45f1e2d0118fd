// Package storage is the node's durable layer: one LevelDB database
// carrying typed stores for blocks, manifests, the sync-event journal,
// client-state snapshots, checkpoints, proofs, the writer queue, and
// bridge signing sessions. Each store owns a key prefix; cross-key
// updates that must land together go through a write batch.
package storage

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// PersistenceStore wraps LevelDB for raw key-value persistence.
// Thread-safe: LevelDB handles its own synchronization.
type PersistenceStore struct {
	db *leveldb.DB
}

// NewPersistenceStore opens or creates a LevelDB database at path. An
// empty path opens an in-memory database, which tests lean on.
func NewPersistenceStore(path string) (*PersistenceStore, error) {
	var db *leveldb.DB
	var err error

	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: open %q: %w", path, err)
	}
	return &PersistenceStore{db: db}, nil
}

func NewMemoryPersistenceStore() (*PersistenceStore, error) {
	return NewPersistenceStore("")
}

// Get retrieves a value by key. Returns (nil, false, nil) if not found.
func (ps *PersistenceStore) Get(key []byte) ([]byte, bool, error) {
	data, err := ps.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: get %x: %w", key, err)
	}
	return data, true, nil
}

func (ps *PersistenceStore) Put(key []byte, value []byte) error {
	return ps.db.Put(key, value, nil)
}

func (ps *PersistenceStore) Delete(key []byte) error {
	return ps.db.Delete(key, nil)
}

// WriteBatch applies every operation staged by fn atomically.
func (ps *PersistenceStore) WriteBatch(fn func(b *leveldb.Batch)) error {
	batch := new(leveldb.Batch)
	fn(batch)
	return ps.db.Write(batch, nil)
}

// GetWithPrefix returns all pairs under prefix in key order. Keys and
// values are copied out of the iterator.
func (ps *PersistenceStore) GetWithPrefix(prefix []byte) ([][2][]byte, error) {
	iter := ps.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var results [][2][]byte
	for iter.Next() {
		key := append([]byte(nil), iter.Key()...)
		value := append([]byte(nil), iter.Value()...)
		results = append(results, [2][]byte{key, value})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("storage: scan %x: %w", prefix, err)
	}
	return results, nil
}

// LastWithPrefix returns the highest key under prefix. Keys under one
// prefix are fixed-width big-endian, so the highest key is the newest
// entry and no separate counter has to be kept in sync.
func (ps *PersistenceStore) LastWithPrefix(prefix []byte) ([]byte, []byte, bool, error) {
	iter := ps.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return nil, nil, false, fmt.Errorf("storage: last %x: %w", prefix, err)
		}
		return nil, nil, false, nil
	}
	key := append([]byte(nil), iter.Key()...)
	value := append([]byte(nil), iter.Value()...)
	return key, value, true, nil
}

// GetRange returns all pairs with start <= key < limit in key order.
func (ps *PersistenceStore) GetRange(start, limit []byte) ([][2][]byte, error) {
	iter := ps.db.NewIterator(&util.Range{Start: start, Limit: limit}, nil)
	defer iter.Release()

	var results [][2][]byte
	for iter.Next() {
		key := append([]byte(nil), iter.Key()...)
		value := append([]byte(nil), iter.Value()...)
		results = append(results, [2][]byte{key, value})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("storage: range %x..%x: %w", start, limit, err)
	}
	return results, nil
}

// PrefixLimit is the exclusive upper bound covering every key under
// prefix, for use as a GetRange limit.
func PrefixLimit(prefix []byte) []byte {
	return util.BytesPrefix(prefix).Limit
}

// DeleteRange removes every key in [start, limit).
func (ps *PersistenceStore) DeleteRange(start, limit []byte) error {
	iter := ps.db.NewIterator(&util.Range{Start: start, Limit: limit}, nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("storage: delete range %x..%x: %w", start, limit, err)
	}
	return ps.db.Write(batch, nil)
}

func (ps *PersistenceStore) Close() error {
	return ps.db.Close()
}
