// Copyright (C) 2026 tigestd Authors.
// All rights reserved. This file is part of tigestd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"bytes"
	"encoding/binary"
	"time"
)

// sep is the single-byte segment separator used throughout the key schema.
const sep = 0x00

// upperSentinel is appended in place of a timestamp when a range's upper
// bound must lexicographically exceed every key of the form `prefix\0...`.
// 0x01 works because no key segment produced by this package ever starts
// with a byte below 0x01 immediately after a 0x00 separator other than
// another 0x00 (which would collapse the segment), so 0x01 sorts after
// every real continuation but before the next prefix byte.
const upperSentinel = 0x01

// KeyBuilder composes compound keys as a fixed sequence of stages: an
// opening segment, an optional middle segment, and a closing stage that is
// either an exact timestamp (for point keys) or a lower/upper bound (for
// range scans). Building the key byte-by-byte at call sites was judged too
// easy to get subtly wrong (wrong separator count, wrong endianness); this
// type is the single place that logic lives.
type KeyBuilder struct {
	buf bytes.Buffer
}

// NewKeyBuilder starts a key with its leading segment (almost always the
// sensor identifier).
func NewKeyBuilder(start string) *KeyBuilder {
	kb := &KeyBuilder{}
	kb.buf.WriteString(start)
	return kb
}

// Mid appends an optional string middle segment (e.g. a log-kind). Calling
// it more than once appends additional segments. Integer middle segments
// (a core ID, the Packet layout's request timestamp) use MidBigEndian.
func (kb *KeyBuilder) Mid(segment string) *KeyBuilder {
	kb.buf.WriteByte(sep)
	kb.buf.WriteString(segment)
	return kb
}

// MidBigEndian appends a middle segment that is itself a big-endian encoded
// integer, such as the Packet layout's request timestamp or the Statistics
// layout's core ID.
func (kb *KeyBuilder) MidBigEndian(v uint64) *KeyBuilder {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	kb.buf.WriteByte(sep)
	kb.buf.Write(b[:])
	return kb
}

// End closes the key with an exact nanosecond timestamp. The result is a
// point key suitable for Append/Delete.
func (kb *KeyBuilder) End(ts time.Time) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(ts.UnixNano()))
	out := append([]byte(nil), kb.buf.Bytes()...)
	out = append(out, sep)
	out = append(out, b[:]...)
	return out
}

// EndNanos is End for a caller already holding a raw nanosecond timestamp,
// including the ack-controller's sentinel -1 value.
func (kb *KeyBuilder) EndNanos(ts int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(ts))
	out := append([]byte(nil), kb.buf.Bytes()...)
	out = append(out, sep)
	out = append(out, b[:]...)
	return out
}

// LowerBound closes the key for use as the inclusive lower bound of a range
// scan. When t is nil the bound is the prefix itself (matching every key
// under it). When t is set, the bound substitutes the nanosecond before the
// requested instant, so that a scan starting at exactly t's value still
// includes keys timestamped at t. RangeIter checks only the upper bound, so
// a key timestamped exactly one nanosecond before t (`prefix\0(t-1)_be`)
// also falls inside the scanned range.
func (kb *KeyBuilder) LowerBound(t *time.Time) []byte {
	out := append([]byte(nil), kb.buf.Bytes()...)
	if t == nil {
		return out
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(t.UnixNano()-1))
	out = append(out, sep)
	out = append(out, b[:]...)
	return out
}

// UpperBound closes the key for use as the exclusive upper bound of a range
// scan. When t is nil the bound uses the 0x01 sentinel so it lexicographically
// exceeds every key of the form `prefix\0...`. When t is set, the bound is
// the exact timestamp, so the scan excludes it (half-open `[from, to)`).
func (kb *KeyBuilder) UpperBound(t *time.Time) []byte {
	out := append([]byte(nil), kb.buf.Bytes()...)
	if t == nil {
		out = append(out, upperSentinel)
		return out
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(t.UnixNano()))
	out = append(out, sep)
	out = append(out, b[:]...)
	return out
}

// Prefix returns the raw bytes built so far, with no separator or timestamp
// appended. Used by the retention sweeper's generic-log prefix scan.
func (kb *KeyBuilder) Prefix() []byte {
	return append([]byte(nil), kb.buf.Bytes()...)
}

// TrailingTimestamp parses the final 8 bytes of a compound key as a
// big-endian nanosecond timestamp. It is used only by the retention
// sweeper, which must inspect generic-log keys (sensor \0 log-kind \0 ts)
// that a single range-delete cannot target because of the log-kind segment
// in the middle.
func TrailingTimestamp(key []byte) (int64, bool) {
	if len(key) < 8 {
		return 0, false
	}
	tail := key[len(key)-8:]
	return int64(binary.BigEndian.Uint64(tail)), true
}

// SplitSegments splits a compound key on its NUL separators. It is a
// convenience for callers (tests, the sweeper) that need to inspect
// individual segments rather than only the trailing timestamp.
func SplitSegments(key []byte) [][]byte {
	return bytes.Split(key, []byte{sep})
}
