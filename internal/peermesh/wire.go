// Copyright (C) 2026 tigestd Authors.
// All rights reserved. This file is part of tigestd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package peermesh implements the sibling-engine membership protocol from
// spec.md §4.6: a server role and a client role that together form at most
// one surviving connection per peer pair, an initial (peer-set, sensor-
// roster) exchange, gossip of subsequent changes, and persistence of the
// peer set to an on-disk configuration document.
package peermesh

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// Message codes, per spec.md §6.
const (
	CodeUpdatePeerList   uint32 = 0
	CodeUpdateSourceList uint32 = 1
)

const maxPayload = 16 << 20

// WriteMessage writes one framed `{u32_le code; varlen payload}` message.
func WriteMessage(w io.Writer, code uint32, payload []byte) error {
	var head [8]byte
	binary.LittleEndian.PutUint32(head[0:4], code)
	binary.LittleEndian.PutUint32(head[4:8], uint32(len(payload)))
	if _, err := w.Write(head[:]); err != nil {
		return fmt.Errorf("peermesh: writing message header: %w", err)
	}
	_, err := w.Write(payload)
	return err
}

// ReadMessage reads one framed message.
func ReadMessage(r io.Reader) (code uint32, payload []byte, err error) {
	var head [8]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return 0, nil, err
	}
	code = binary.LittleEndian.Uint32(head[0:4])
	length := binary.LittleEndian.Uint32(head[4:8])
	if length > maxPayload {
		return 0, nil, fmt.Errorf("peermesh: message payload length %d exceeds limit", length)
	}
	payload = make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("peermesh: reading message payload: %w", err)
	}
	return code, payload, nil
}

func writeLenPrefixed(buf []byte, s string) []byte {
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(s)))
	buf = append(buf, l[:]...)
	return append(buf, s...)
}

func readLenPrefixed(buf []byte) (s string, rest []byte, err error) {
	if len(buf) < 4 {
		return "", nil, fmt.Errorf("peermesh: truncated length prefix")
	}
	n := binary.LittleEndian.Uint32(buf[:4])
	buf = buf[4:]
	if uint32(len(buf)) < n {
		return "", nil, fmt.Errorf("peermesh: truncated field of length %d", n)
	}
	return string(buf[:n]), buf[n:], nil
}

// EncodePeerSet deterministically serializes a set of PeerInfo: sorted by
// host name, then length-prefixed (host, addr) pairs. Determinism matters
// because the spec calls this "a deterministic binary serialisation of the
// set" — two engines with the same peer set must produce byte-identical
// wire payloads.
func EncodePeerSet(peers []PeerInfo) []byte {
	sorted := append([]PeerInfo(nil), peers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Host < sorted[j].Host })

	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(sorted)))
	buf := append([]byte(nil), count[:]...)
	for _, p := range sorted {
		buf = writeLenPrefixed(buf, p.Host)
		buf = writeLenPrefixed(buf, p.Addr)
	}
	return buf
}

// DecodePeerSet is the inverse of EncodePeerSet.
func DecodePeerSet(payload []byte) ([]PeerInfo, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("peermesh: truncated peer-set count")
	}
	n := binary.LittleEndian.Uint32(payload[:4])
	rest := payload[4:]

	peers := make([]PeerInfo, 0, n)
	for i := uint32(0); i < n; i++ {
		host, r1, err := readLenPrefixed(rest)
		if err != nil {
			return nil, err
		}
		addr, r2, err := readLenPrefixed(r1)
		if err != nil {
			return nil, err
		}
		peers = append(peers, PeerInfo{Host: host, Addr: addr})
		rest = r2
	}
	return peers, nil
}

// EncodeSourceList deterministically serializes a set of sensor names:
// sorted, then length-prefixed strings.
func EncodeSourceList(sensors []string) []byte {
	sorted := append([]string(nil), sensors...)
	sort.Strings(sorted)

	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(sorted)))
	buf := append([]byte(nil), count[:]...)
	for _, s := range sorted {
		buf = writeLenPrefixed(buf, s)
	}
	return buf
}

// DecodeSourceList is the inverse of EncodeSourceList.
func DecodeSourceList(payload []byte) ([]string, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("peermesh: truncated source-list count")
	}
	n := binary.LittleEndian.Uint32(payload[:4])
	rest := payload[4:]

	sensors := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		s, r, err := readLenPrefixed(rest)
		if err != nil {
			return nil, err
		}
		sensors = append(sensors, s)
		rest = r
	}
	return sensors, nil
}
