package ledger

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Store is the ordered key-value contract the ledger runs on: point reads,
// atomic multi-key writes and prefix-ordered scans. The store holds oblivious
// bytes; every integrity property is maintained above it.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key []byte) ([]byte, error)

	// Has reports whether key exists.
	Has(key []byte) (bool, error)

	// Put writes a single key.
	Put(key, value []byte) error

	// Delete removes a single key. Missing keys are not an error.
	Delete(key []byte) error

	// WriteBatch applies every put in a single atomic write: all keys are
	// written or none are.
	WriteBatch(puts []KV) error

	// Scan returns an iterator over keys sharing prefix, in key order.
	// The caller must Release it.
	Scan(prefix []byte) Iterator

	// Close releases the store.
	Close() error
}

// KV is one write in an atomic batch.
type KV struct {
	Key   []byte
	Value []byte
}

// Iterator walks a key range in order.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Release()
}

// LevelStore backs the Store contract with goleveldb.
type LevelStore struct {
	db *leveldb.DB
}

// OpenLevelStore opens (creating if needed) a LevelDB database at path.
func OpenLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, ledgerError(ErrStorageUnavailable,
			fmt.Sprintf("open leveldb at %s: %v", path, err))
	}
	return &LevelStore{db: db}, nil
}

// OpenMemStore opens an in-memory store for tests and simnet runs.
func OpenMemStore() (*LevelStore, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, ledgerError(ErrStorageUnavailable,
			fmt.Sprintf("open in-memory leveldb: %v", err))
	}
	return &LevelStore{db: db}, nil
}

// Get implements Store.
func (s *LevelStore) Get(key []byte) ([]byte, error) {
	v, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ledgerError(ErrNotFound, fmt.Sprintf("key %q not found", key))
	}
	if err != nil {
		return nil, ledgerError(ErrStorageUnavailable, fmt.Sprintf("get %q: %v", key, err))
	}
	return v, nil
}

// Has implements Store.
func (s *LevelStore) Has(key []byte) (bool, error) {
	ok, err := s.db.Has(key, nil)
	if err != nil {
		return false, ledgerError(ErrStorageUnavailable, fmt.Sprintf("has %q: %v", key, err))
	}
	return ok, nil
}

// Put implements Store.
func (s *LevelStore) Put(key, value []byte) error {
	if err := s.db.Put(key, value, nil); err != nil {
		return ledgerError(ErrStorageUnavailable, fmt.Sprintf("put %q: %v", key, err))
	}
	return nil
}

// Delete implements Store.
func (s *LevelStore) Delete(key []byte) error {
	if err := s.db.Delete(key, nil); err != nil {
		return ledgerError(ErrStorageUnavailable, fmt.Sprintf("delete %q: %v", key, err))
	}
	return nil
}

// WriteBatch implements Store.
func (s *LevelStore) WriteBatch(puts []KV) error {
	batch := new(leveldb.Batch)
	for _, kv := range puts {
		batch.Put(kv.Key, kv.Value)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return ledgerError(ErrStorageUnavailable, fmt.Sprintf("write batch of %d: %v", len(puts), err))
	}
	return nil
}

// Scan implements Store.
func (s *LevelStore) Scan(prefix []byte) Iterator {
	return s.db.NewIterator(util.BytesPrefix(prefix), nil)
}

// Close implements Store.
func (s *LevelStore) Close() error {
	return s.db.Close()
}
