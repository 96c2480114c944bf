// Copyright (C) 2026 tigestd Authors.
// All rights reserved. This file is part of tigestd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ingest

import "fmt"

// The concrete event schemas are, per spec.md §1, out of this CORE's scope
// beyond the handful of fields that participate in key composition. The
// helpers below define the minimal, length-prefixed envelope this engine
// expects around those fields for the four kinds whose key layout needs
// something from inside the record body; everything after the envelope is
// opaque payload handed straight to the store.

func readLenPrefixed(body []byte) (field string, rest []byte, err error) {
	if len(body) < 1 {
		return "", nil, fmt.Errorf("ingest: envelope truncated before length byte")
	}
	n := int(body[0])
	if len(body) < 1+n {
		return "", nil, fmt.Errorf("ingest: envelope truncated in %d-byte field", n)
	}
	return string(body[1 : 1+n]), body[1+n:], nil
}

func writeLenPrefixed(field string) []byte {
	if len(field) > 255 {
		field = field[:255]
	}
	out := make([]byte, 0, 1+len(field))
	out = append(out, byte(len(field)))
	out = append(out, field...)
	return out
}

// DecodeGenericLog splits a Generic Log record body into its log-kind
// segment (used in the key, per spec.md §3) and the remaining payload.
func DecodeGenericLog(body []byte) (logKind string, payload []byte, err error) {
	return readLenPrefixed(body)
}

// EncodeGenericLog is the inverse of DecodeGenericLog; used by tests and by
// sensors this engine does not itself implement.
func EncodeGenericLog(logKind string, payload []byte) []byte {
	return append(writeLenPrefixed(logKind), payload...)
}

// DecodePacket splits a Packet record body into its packet timestamp (the
// key's trailing `packet-ts(be8)` segment) and the remaining packet payload.
// The frame's own timestamp (RecordEvent.Timestamp) is the request timestamp
// — the key's mid segment — per the original implementation's
// `key_builder.mid_key(timestamp).end_key(packet.packet_timestamp)`.
func DecodePacket(body []byte) (packetTS int64, payload []byte, err error) {
	if len(body) < 8 {
		return 0, nil, fmt.Errorf("ingest: packet envelope shorter than 8 bytes")
	}
	var ts int64
	for _, b := range body[:8] {
		ts = ts<<8 | int64(b)
	}
	return ts, body[8:], nil
}

// EncodePacket is the inverse of DecodePacket.
func EncodePacket(packetTS int64, payload []byte) []byte {
	var b [8]byte
	v := uint64(packetTS)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return append(b[:], payload...)
}

// DecodeStatistics splits a Statistics record body into its core ID (the
// `core-id(be)` key segment) and the remaining payload.
func DecodeStatistics(body []byte) (coreID uint8, payload []byte, err error) {
	if len(body) < 1 {
		return 0, nil, fmt.Errorf("ingest: statistics envelope empty")
	}
	return body[0], body[1:], nil
}

// EncodeStatistics is the inverse of DecodeStatistics.
func EncodeStatistics(coreID uint8, payload []byte) []byte {
	return append([]byte{coreID}, payload...)
}

// DecodeSecurityLog splits a Security Log record body into its security-kind
// segment (the key's leading segment), its sensor field (stored inside the
// value per spec.md §3, and overwritten by the dispatcher before storing),
// and the remaining payload.
func DecodeSecurityLog(body []byte) (securityKind, sensor string, payload []byte, err error) {
	securityKind, rest, err := readLenPrefixed(body)
	if err != nil {
		return "", "", nil, err
	}
	sensor, rest, err = readLenPrefixed(rest)
	if err != nil {
		return "", "", nil, err
	}
	return securityKind, sensor, rest, nil
}

// EncodeSecurityLog is the inverse of DecodeSecurityLog.
func EncodeSecurityLog(securityKind, sensor string, payload []byte) []byte {
	out := writeLenPrefixed(securityKind)
	out = append(out, writeLenPrefixed(sensor)...)
	return append(out, payload...)
}

// RewriteSecurityLogSensor re-encodes a Security Log body with its sensor
// field replaced by the connection-derived sensor name, per spec.md §4.3's
// "the dispatcher rewrites the body to inject the connection-derived sensor
// name before storing".
func RewriteSecurityLogSensor(body []byte, sensor string) ([]byte, string, error) {
	kind, _, payload, err := DecodeSecurityLog(body)
	if err != nil {
		return nil, "", err
	}
	return EncodeSecurityLog(kind, sensor, payload), kind, nil
}
