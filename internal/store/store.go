// Copyright (C) 2026 tigestd Authors.
// All rights reserved. This file is part of tigestd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package store implements the ordered, column-partitioned key-value layer
// described in spec.md §4.1: a key schema and fluent builder (keys.go), a
// bounded range-iterator abstraction (iterator.go), and per-kind handles
// backed by a single embedded LSM database (github.com/dgraph-io/badger).
//
// Badger itself exposes one flat, globally-ordered keyspace rather than
// named column families. We emulate column families by prefixing every key
// with a single, stable per-kind byte before it reaches badger, and by
// stripping that byte back off on read. This keeps each kind's keyspace
// independently ordered (a prefix byte never changes the relative order of
// the bytes that follow it) while needing only one badger.DB handle for the
// whole store, which is what spec.md §4.1 calls "per-kind handles".
package store

import (
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/nhr-fau/tigestd/internal/cclog"
)

// familyID assigns each Kind (plus the synthetic "sources" family) a
// single-byte prefix, numbered in the sorted order of the family names.
// Adding a family whose name sorts before existing ones shifts their
// prefixes, which changes the on-disk layout of an existing database.
var familyID = func() map[string]byte {
	names := make([]string, 0, len(familyNames)+1)
	for _, n := range familyNames {
		names = append(names, n)
	}
	names = append(names, FamilySources)
	sort.Strings(names)

	ids := make(map[string]byte, len(names))
	for i, n := range names {
		ids[n] = byte(i)
	}
	return ids
}()

// Store is the column-partitioned key-value store. It is safe for
// concurrent use by multiple goroutines; Badger itself is internally
// thread-safe and each Family is a thin, stateless view over the shared
// handle.
type Store struct {
	db *badger.DB
}

// Open opens (creating if absent) a badger database rooted at dir. The
// caller owns the returned Store and must call Close when done; there is no
// package-level singleton, per the dependency-injection discipline in
// spec.md §9.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Family returns the handle for the given record kind's column family.
func (s *Store) Family(k Kind) (*Family, error) {
	name, ok := FamilyName(k)
	if !ok {
		return nil, fmt.Errorf("store: unknown record kind %d", k)
	}
	return &Family{db: s.db, prefix: familyID[name], name: name}, nil
}

// Sources returns the handle for the sensor-roster column family
// (`sensor` -> last-seen timestamp, no middle or timestamp key segment).
func (s *Store) Sources() *Family {
	return &Family{db: s.db, prefix: familyID[FamilySources], name: FamilySources}
}

// Family is a per-column-family handle. All keys passed to or returned from
// its methods are the *unprefixed* application-level keys built by
// KeyBuilder; the family prefix is an implementation detail of Store.
type Family struct {
	db     *badger.DB
	prefix byte
	name   string
}

func (f *Family) namespaced(key []byte) []byte {
	out := make([]byte, 0, len(key)+1)
	out = append(out, f.prefix)
	out = append(out, key...)
	return out
}

func (f *Family) strip(key []byte) []byte {
	if len(key) == 0 {
		return key
	}
	return key[1:]
}

// Append is an unconditional put. A later write with the same key overwrites
// the previous value, per the store's uniqueness invariant.
func (f *Family) Append(key, value []byte) error {
	err := f.db.Update(func(txn *badger.Txn) error {
		return txn.Set(f.namespaced(key), value)
	})
	if err != nil {
		return fmt.Errorf("store: append to %s: %w", f.name, err)
	}
	return nil
}

// Delete removes a single key. Deleting an absent key is not an error.
func (f *Family) Delete(key []byte) error {
	err := f.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(f.namespaced(key))
	})
	if err != nil {
		return fmt.Errorf("store: delete from %s: %w", f.name, err)
	}
	return nil
}

// Get fetches the current value of a single key, returning (nil, false) if
// it is absent.
func (f *Family) Get(key []byte) ([]byte, bool, error) {
	var value []byte
	found := false
	err := f.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(f.namespaced(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			value = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("store: get from %s: %w", f.name, err)
	}
	return value, found, nil
}

// Flush forces Badger's in-memory memtable for this database to be
// persisted. Badger flushes per-database, not per-logical-family, so this
// is a durability barrier for the whole store; callers that need only one
// family's durability (the ack controller's rotation trigger) still call it
// because the store has no cheaper per-family primitive.
func (f *Family) Flush() error {
	if err := f.db.Sync(); err != nil {
		return fmt.Errorf("store: flush %s: %w", f.name, err)
	}
	return nil
}

// AllKeys returns a snapshot of every key currently in this family, with the
// family prefix stripped. It is used only by the retention sweeper to
// enumerate sensors, a set bounded by the size of the sensor roster.
func (f *Family) AllKeys() ([][]byte, error) {
	var keys [][]byte
	err := f.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte{f.prefix}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k := it.Item().KeyCopy(nil)
			keys = append(keys, f.strip(k))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: all keys of %s: %w", f.name, err)
	}
	return keys, nil
}

// badgerLogger adapts Badger's internal logging interface onto cclog, so
// LSM-tree compaction/value-log messages flow through the same writers and
// level gate as the rest of the engine.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, v ...interface{})   { cclog.Errorf(f, v...) }
func (badgerLogger) Warningf(f string, v ...interface{}) { cclog.Warnf(f, v...) }
func (badgerLogger) Infof(f string, v ...interface{})    { cclog.Infof(f, v...) }
func (badgerLogger) Debugf(f string, v ...interface{})   { cclog.Debugf(f, v...) }
