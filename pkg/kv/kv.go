// Copyright 2025 Wellspring Authors
//
// KV adapter over CometBFT's embedded key-value database.
// Per Wellspring Protocol Section 6: "pool-membership and trust-edge
// caches may be rebuilt from the thought table and are advisory". In this
// module its only user is pkg/checkpoint, which persists fold records
// here; the trust and membership caches are held in memory by their own
// packages. It is never used for the thought table itself (that
// durability guarantee belongs to pkg/store).

package kv

import (
	dbm "github.com/cometbft/cometbft-db"
)

// Store is the minimal key-value contract the advisory caches need.
type Store interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
}

// Adapter wraps a cometbft-db handle and exposes Store.
type Adapter struct {
	db dbm.DB
}

// Open opens (or creates) a goleveldb-backed store at dir/name.
func Open(name, dir string) (*Adapter, error) {
	db, err := dbm.NewDB(name, dbm.GoLevelDBBackend, dir)
	if err != nil {
		return nil, err
	}
	return &Adapter{db: db}, nil
}

// NewAdapter wraps an already-open cometbft-db handle, e.g. an in-memory
// one for tests.
func NewAdapter(db dbm.DB) *Adapter {
	return &Adapter{db: db}
}

func (a *Adapter) Get(key []byte) ([]byte, error) {
	if a.db == nil {
		return nil, nil
	}
	v, err := a.db.Get(key)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (a *Adapter) Set(key, value []byte) error {
	if a.db == nil {
		return nil
	}
	return a.db.SetSync(key, value)
}

func (a *Adapter) Delete(key []byte) error {
	if a.db == nil {
		return nil
	}
	return a.db.DeleteSync(key)
}

func (a *Adapter) Has(key []byte) (bool, error) {
	if a.db == nil {
		return false, nil
	}
	return a.db.Has(key)
}

// Close closes the underlying database.
func (a *Adapter) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// MemStore is an in-process Store used for tests and for single-process
// deployments that don't want an on-disk cache.
type MemStore struct {
	data map[string][]byte
}

// NewMemStore returns an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (m *MemStore) Get(key []byte) ([]byte, error) {
	v, ok := m.data[string(key)]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (m *MemStore) Set(key, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[string(key)] = cp
	return nil
}

func (m *MemStore) Delete(key []byte) error {
	delete(m.data, string(key))
	return nil
}

func (m *MemStore) Has(key []byte) (bool, error) {
	_, ok := m.data[string(key)]
	return ok, nil
}
