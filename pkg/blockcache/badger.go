package blockcache

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/fortiblox/chainbridge/pkg/backend"
)

// prefixBlock keys block entries: prefixBlock + height (8 bytes, big-endian).
var prefixBlock = []byte{0x01}

// BadgerConfig configures the badger engine.
type BadgerConfig struct {
	// Path is the database directory.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites ensures writes are synced to disk.
	SyncWrites bool

	// Logger is an optional badger logger. Nil disables badger's logging.
	Logger badger.Logger
}

// BadgerStore implements Store on badger.
type BadgerStore struct {
	db     *badger.DB
	closed atomic.Bool
}

// OpenBadger opens a badger database.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumCompactors(2).
		WithLogger(cfg.Logger)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func blockKey(height uint64) []byte {
	return append(append([]byte{}, prefixBlock...), heightKey(height)...)
}

// Get implements Store.
func (s *BadgerStore) Get(height uint64) (*backend.Block, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(height))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrMiss
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return decodeBlock(data)
}

// Put implements Store.
func (s *BadgerStore) Put(height uint64, blk *backend.Block) error {
	if s.closed.Load() {
		return ErrClosed
	}
	data := encodeBlock(blk)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(blockKey(height), data)
	})
}

// Delete implements Store.
func (s *BadgerStore) Delete(height uint64) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(blockKey(height))
	})
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
