// Copyright (C) 2026 tigestd Authors.
// All rights reserved. This file is part of tigestd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ingest

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxRecordBody guards against a malformed or hostile length prefix forcing
// an unbounded allocation.
const maxRecordBody = 16 << 20 // 16 MiB

// DoneMarker is the literal body of the sentinel "channel done" record that
// delimits logical batches and forces an immediate ack, per spec.md §4.3.
const DoneMarker = "channel done"

// DoneTimestamp is the sentinel record's timestamp.
const DoneTimestamp int64 = -1

// RecordEvent is one frame read off a sub-stream: `(timestamp:be8,
// length:fixed32, body:bytes)`. The spec allows either a varint or fixed
// length prefix; this engine always writes a fixed 4-byte length, which is
// simpler to decode defensively and costs at most 3 bytes per record over a
// true varint.
type RecordEvent struct {
	Timestamp int64
	Body      []byte
}

// IsSentinel reports whether e is the "channel done" batch delimiter.
func (e RecordEvent) IsSentinel() bool {
	return e.Timestamp == DoneTimestamp && string(e.Body) == DoneMarker
}

// ReadKindHeader reads the 4-byte little-endian record-kind code that opens
// every sub-stream.
func ReadKindHeader(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("ingest: reading sub-stream kind header: %w", err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// WriteKindHeader writes the 4-byte little-endian record-kind code.
func WriteKindHeader(w io.Writer, kind uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], kind)
	_, err := w.Write(b[:])
	return err
}

// ReadRecord reads one `(timestamp, length, body)` frame.
func ReadRecord(r io.Reader) (RecordEvent, error) {
	var head [12]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return RecordEvent{}, err
	}
	ts := int64(binary.BigEndian.Uint64(head[:8]))
	length := binary.LittleEndian.Uint32(head[8:12])
	if length > maxRecordBody {
		return RecordEvent{}, fmt.Errorf("ingest: record body length %d exceeds limit", length)
	}

	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return RecordEvent{}, fmt.Errorf("ingest: reading record body: %w", err)
		}
	}
	return RecordEvent{Timestamp: ts, Body: body}, nil
}

// WriteRecord writes one `(timestamp, length, body)` frame.
func WriteRecord(w io.Writer, e RecordEvent) error {
	var head [12]byte
	binary.BigEndian.PutUint64(head[:8], uint64(e.Timestamp))
	binary.LittleEndian.PutUint32(head[8:12], uint32(len(e.Body)))
	if _, err := w.Write(head[:]); err != nil {
		return err
	}
	_, err := w.Write(e.Body)
	return err
}

// WriteAck writes the 8-byte big-endian cumulative ack timestamp frame.
func WriteAck(w io.Writer, ts int64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(ts))
	_, err := w.Write(b[:])
	return err
}

// ReadAck reads the 8-byte big-endian cumulative ack timestamp frame.
func ReadAck(r io.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}
