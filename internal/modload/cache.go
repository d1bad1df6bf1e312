// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package modload

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Cache stores verified module payloads between loads.
type Cache interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, data []byte) error
}

// BadgerCache is a Cache on an embedded badger database.
type BadgerCache struct {
	db *badger.DB
}

// OpenBadgerCache opens (or creates) a cache under dir. An empty dir keeps
// the cache in memory.
func OpenBadgerCache(dir string) (*BadgerCache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open module cache: %w", err)
	}
	return &BadgerCache{db: db}, nil
}

func (c *BadgerCache) Close() error { return c.db.Close() }

func cacheKey(key string) []byte { return []byte("module:" + key) }

func (c *BadgerCache) Get(key string) ([]byte, bool, error) {
	var out []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (c *BadgerCache) Put(key string, data []byte) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(cacheKey(key), data)
	})
}

// Delete removes a cached payload; a missing key is not an error.
func (c *BadgerCache) Delete(key string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(cacheKey(key))
	})
}
