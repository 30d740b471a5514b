// Package store implements C3: a strongly-typed, durable store for
// messages, conversations, contacts, groups, shared files, thumbnails,
// settings, the offline queue and acknowledgments. It is backed by
// github.com/syndtr/goleveldb, an embedded key-value engine that keeps
// its files in a single directory (dir/meshlink.db) inside the app data
// directory. "Relational" semantics (filters, unique-key upserts,
// cascading deletes) are layered on top with key prefixes and
// secondary-index entries written atomically in the same leveldb.Batch
// as their primary row — the durable counterpart of the teacher's own
// hand-rolled in-memory relational lookups (pkg/registry/registry.go,
// pkg/peer/peer.go), which use plain maps guarded by a mutex instead of
// an ORM.
package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/meshlink/meshlink/internal/merr"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const schemaVersionKey = "meta:schema_version"

// migration is one step of the linear, additive schema history applied
// at Open. Migrations never remove data; they are idempotent so that
// re-running one (e.g. after a crash mid-migration) is harmless.
type migration struct {
	version int
	apply   func(db *leveldb.DB) error
}

var migrations = []migration{
	{version: 1, apply: func(db *leveldb.DB) error { return nil }}, // baseline schema: no pre-existing rows to migrate
}

// Store is the concrete C3 persistence engine.
type Store struct {
	mu sync.RWMutex
	db *leveldb.DB
}

// Open opens (creating if necessary) the leveldb database directory at
// dir/meshlink.db and runs any pending migrations.
func Open(dir string) (*Store, error) {
	path := filepath.Join(dir, "meshlink.db")
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, merr.Storage("store.Open", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := 0
	if raw, err := s.db.Get([]byte(schemaVersionKey), nil); err == nil {
		fmt.Sscanf(string(raw), "%d", &current)
	} else if err != leveldb.ErrNotFound {
		return merr.Storage("store.migrate", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := m.apply(s.db); err != nil {
			return merr.Storage("store.migrate", fmt.Errorf("migration %d: %w", m.version, err))
		}
		current = m.version
		if err := s.db.Put([]byte(schemaVersionKey), []byte(fmt.Sprintf("%d", current)), nil); err != nil {
			return merr.Storage("store.migrate", err)
		}
	}
	return nil
}

// putJSON marshals v and writes it under key within the given batch,
// which must not be nil.
func putJSON(batch *leveldb.Batch, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	batch.Put([]byte(key), data)
	return nil
}

func (s *Store) write(batch *leveldb.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Write(batch, nil)
}

func (s *Store) getJSON(key string, v interface{}) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, err := s.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) getString(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, err := s.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(raw), true, nil
}

func (s *Store) has(key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Has([]byte(key), nil)
}

// iteratePrefix calls fn for every value whose key has the given
// prefix, in key order. fn returning false stops iteration early.
func (s *Store) iteratePrefix(prefix string, fn func(key, value []byte) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer it.Release()
	for it.Next() {
		if !fn(it.Key(), it.Value()) {
			break
		}
	}
	return it.Error()
}

// Get implements auth.KV for the settings table (see settings.go),
// letting internal/auth persist its envelope/account rows through the
// same store without importing it.
func (s *Store) Get(key string) (string, bool, error) {
	return s.GetSetting(key)
}

// Set implements auth.KV.
func (s *Store) Set(key, value string) error {
	return s.SetSetting(key, value)
}

// Delete implements auth.KV.
func (s *Store) Delete(key string) error {
	return s.DeleteSetting(key)
}
