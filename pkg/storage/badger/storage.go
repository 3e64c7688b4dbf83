// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-superkey.
//
// go-superkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package badger stores preference records and sealed key blobs in an
// embedded Badger database. It is the default backend for long running
// processes that want crash safe writes without a directory of small files.
package badger

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/jeremyhahn/go-superkey/pkg/storage"
)

// Config selects where and how the database is opened.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps the whole database in RAM. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every transaction commit.
	SyncWrites bool
}

// Storage implements storage.Backend on top of a Badger database.
type Storage struct {
	mu     sync.RWMutex
	db     *badgerdb.DB
	closed bool
}

// New opens the database described by cfg.
func New(cfg *Config) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("badger storage: config is required")
	}
	var opts badgerdb.Options
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("badger storage: path cannot be empty")
		}
		opts = badgerdb.DefaultOptions(cfg.Path).WithSyncWrites(cfg.SyncWrites)
	}
	opts = opts.WithLogger(nil).WithLoggingLevel(badgerdb.ERROR)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger storage: failed to open database: %w", err)
	}
	return &Storage{db: db}, nil
}

// Get returns a copy of the value stored under key.
func (s *Storage) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}
	if key == "" {
		return nil, storage.ErrInvalidKey
	}
	var value []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger storage: failed to read key %q: %w", key, err)
	}
	return value, nil
}

// Put writes value under key in a single transaction.
func (s *Storage) Put(key string, value []byte, _ *storage.Options) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return storage.ErrClosed
	}
	if key == "" {
		return storage.ErrInvalidKey
	}
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), append([]byte(nil), value...))
	})
	if err != nil {
		return fmt.Errorf("badger storage: failed to write key %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Returns storage.ErrNotFound when it was absent.
func (s *Storage) Delete(key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return storage.ErrClosed
	}
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			return err
		}
		return txn.Delete([]byte(key))
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("badger storage: failed to delete key %q: %w", key, err)
	}
	return nil
}

// List iterates keys only and returns those with prefix, sorted.
func (s *Storage) List(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}
	keys := make([]string, 0)
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger storage: failed to list keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Exists reports whether key is present.
func (s *Storage) Exists(key string) (bool, error) {
	_, err := s.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GarbageCollect runs one value log GC pass. badger.ErrNoRewrite means
// there was nothing to reclaim and is not reported.
func (s *Storage) GarbageCollect(discardRatio float64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return storage.ErrClosed
	}
	err := s.db.RunValueLogGC(discardRatio)
	if err != nil && !errors.Is(err, badgerdb.ErrNoRewrite) {
		return fmt.Errorf("badger storage: value log gc: %w", err)
	}
	return nil
}

// Close closes the database. Calling it twice is safe.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ storage.Backend = (*Storage)(nil)
