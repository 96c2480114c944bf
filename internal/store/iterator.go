// Copyright (C) 2026 tigestd Authors.
// All rights reserved. This file is part of tigestd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"bytes"
	"fmt"
	"iter"

	"github.com/dgraph-io/badger/v4"
)

// Direction selects the order in which RangeIter walks a family's keyspace.
type Direction int

const (
	// Forward walks keys in ascending lexicographic (== chronological,
	// within a fixed prefix) order, over the half-open range [from, to).
	Forward Direction = iota
	// Reverse walks keys in descending order, over the half-open range
	// (to, from], i.e. starting at from (or the greatest key below it) and
	// stopping once a key is <= to.
	Reverse
)

// RangeIter produces a lazy, finite sequence of (key, value) pairs for keys
// lying within [from, to) (Forward) or (to, from] (Reverse). The sequence
// stops — it does not surface an error — the first time a key crosses the
// boundary in the iteration direction, matching spec.md §4.1. Keys yielded
// have the family prefix byte already stripped.
//
// A value-read failure ends the sequence early and silently, since
// range-over-func iterators have no error channel; this is acceptable here
// because RangeIter's only caller, the retention sweeper, already tolerates
// an incomplete sweep (spec.md §4.2: per-key/per-range failures don't abort
// the rest of the sweep).
func (f *Family) RangeIter(from, to []byte, dir Direction) iter.Seq2[[]byte, []byte] {
	return func(yield func([]byte, []byte) bool) {
		txn := f.db.NewTransaction(false)
		defer txn.Discard()

		opts := badger.DefaultIteratorOptions
		opts.Reverse = dir == Reverse
		it := txn.NewIterator(opts)
		defer it.Close()

		start := f.namespaced(from)
		stop := f.namespaced(to)

		for it.Seek(start); it.Valid(); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)

			if dir == Forward {
				if bytes.Compare(key, stop) >= 0 {
					return
				}
			} else {
				if bytes.Compare(key, stop) <= 0 {
					return
				}
			}

			var value []byte
			if err := item.Value(func(val []byte) error {
				value = append([]byte(nil), val...)
				return nil
			}); err != nil {
				return
			}

			if !yield(f.strip(key), value) {
				return
			}
		}
	}
}

// ErrRange wraps a storage-layer failure encountered while composing a range
// scan's boundaries; RangeIter itself never returns it (see its doc
// comment), but helpers that build bounds from caller input (e.g. the query
// layer, out of this CORE's scope) can use it to keep error messages
// consistent.
type ErrRange struct {
	Family string
	Err    error
}

func (e *ErrRange) Error() string {
	return fmt.Sprintf("store: range scan on %s: %v", e.Family, e.Err)
}

func (e *ErrRange) Unwrap() error { return e.Err }
