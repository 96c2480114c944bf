// Copyright (C) 2026 tigestd Authors.
// All rights reserved. This file is part of tigestd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ingest

import (
	"bytes"
	"testing"
	"time"

	"github.com/nhr-fau/tigestd/internal/bus"
	"github.com/nhr-fau/tigestd/internal/store"
)

func openTestDispatcher(t *testing.T, sensor, agent string) (*dispatcher, *store.Store) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return &dispatcher{store: s, bus: bus.New(nil), sensor: sensor, agent: agent}, s
}

// TestComposeKeyLayouts exercises compose()'s per-kind dispatch against the
// key-layout table in spec.md §3.
func TestComposeKeyLayouts(t *testing.T) {
	ts := time.Unix(0, 1700000000000000000)

	t.Run("GenericLog", func(t *testing.T) {
		d, s := openTestDispatcher(t, "sensor-a", "agent-a")
		fam, _ := s.Family(store.KindGenericLog)
		rec := RecordEvent{Timestamp: ts.UnixNano(), Body: EncodeGenericLog("Hello", []byte("log payload"))}

		key, value, err := d.compose(store.KindGenericLog, fam, rec)
		if err != nil {
			t.Fatalf("compose: %v", err)
		}
		wantKey := store.NewKeyBuilder("sensor-a").Mid("Hello").End(ts)
		if !bytes.Equal(key, wantKey) {
			t.Fatalf("got key %x, want %x", key, wantKey)
		}
		gotTS, payload, err := decodeRecordEnvelope(value)
		if err != nil {
			t.Fatalf("decodeRecordEnvelope: %v", err)
		}
		if gotTS != ts.UnixNano() || string(payload) != "log payload" {
			t.Fatalf("got (%d, %q), want (%d, %q)", gotTS, payload, ts.UnixNano(), "log payload")
		}
	})

	t.Run("PeriodicSeries", func(t *testing.T) {
		d, s := openTestDispatcher(t, "sensor-a", "agent-a")
		fam, _ := s.Family(store.KindPeriodicSeries)
		line := []byte("cpu_load value=1 1700000000000000000\n")
		rec := RecordEvent{Timestamp: ts.UnixNano(), Body: line}

		key, value, err := d.compose(store.KindPeriodicSeries, fam, rec)
		if err != nil {
			t.Fatalf("compose: %v", err)
		}
		wantKey := store.NewKeyBuilder("cpu_load").End(ts)
		if !bytes.Equal(key, wantKey) {
			t.Fatalf("got key %x, want %x", key, wantKey)
		}
		if !bytes.Equal(value, line) {
			t.Fatalf("expected the periodic series value to be the raw line-protocol body unchanged")
		}
	})

	t.Run("OperationalLog", func(t *testing.T) {
		d, s := openTestDispatcher(t, "sensor-a", "collector-1")
		fam, _ := s.Family(store.KindOperationalLog)
		rec := RecordEvent{Timestamp: ts.UnixNano(), Body: []byte("oplog payload")}

		key, value, err := d.compose(store.KindOperationalLog, fam, rec)
		if err != nil {
			t.Fatalf("compose: %v", err)
		}
		wantKey := store.NewKeyBuilder("collector-1@sensor-a").End(ts)
		if !bytes.Equal(key, wantKey) {
			t.Fatalf("got key %x, want %x", key, wantKey)
		}
		if string(value) != "oplog payload" {
			t.Fatalf("got value %q, want %q", value, "oplog payload")
		}
	})

	t.Run("Packet", func(t *testing.T) {
		d, s := openTestDispatcher(t, "sensor-a", "agent-a")
		fam, _ := s.Family(store.KindPacket)
		requestTS := time.Unix(0, 1600000000000000000)
		packetTS := int64(1700000000000000000)
		rec := RecordEvent{Timestamp: requestTS.UnixNano(), Body: EncodePacket(packetTS, []byte("raw bytes"))}

		key, value, err := d.compose(store.KindPacket, fam, rec)
		if err != nil {
			t.Fatalf("compose: %v", err)
		}
		wantKey := store.NewKeyBuilder("sensor-a").MidBigEndian(uint64(requestTS.UnixNano())).EndNanos(packetTS)
		if !bytes.Equal(key, wantKey) {
			t.Fatalf("got key %x, want %x", key, wantKey)
		}
		if string(value) != "raw bytes" {
			t.Fatalf("got value %q, want %q", value, "raw bytes")
		}
	})

	t.Run("Statistics", func(t *testing.T) {
		d, s := openTestDispatcher(t, "sensor-a", "agent-a")
		fam, _ := s.Family(store.KindStatistics)
		rec := RecordEvent{Timestamp: ts.UnixNano(), Body: EncodeStatistics(4, []byte("stat payload"))}

		key, value, err := d.compose(store.KindStatistics, fam, rec)
		if err != nil {
			t.Fatalf("compose: %v", err)
		}
		wantKey := store.NewKeyBuilder("sensor-a").MidBigEndian(4).End(ts)
		if !bytes.Equal(key, wantKey) {
			t.Fatalf("got key %x, want %x", key, wantKey)
		}
		gotTS, payload, err := decodeRecordEnvelope(value)
		if err != nil {
			t.Fatalf("decodeRecordEnvelope: %v", err)
		}
		if gotTS != ts.UnixNano() || string(payload) != "stat payload" {
			t.Fatalf("got (%d, %q), want (%d, %q)", gotTS, payload, ts.UnixNano(), "stat payload")
		}
	})

	// SecurityLog's key carries no sensor segment at all (the sensor lives in
	// the value, server-injected), per spec.md §3's table.
	t.Run("SecurityLog", func(t *testing.T) {
		d, s := openTestDispatcher(t, "sensor-a", "agent-a")
		fam, _ := s.Family(store.KindSecurityLog)
		rec := RecordEvent{
			Timestamp: ts.UnixNano(),
			Body:      EncodeSecurityLog("alert", "whatever-the-sensor-sent", []byte("detection")),
		}

		key, value, err := d.compose(store.KindSecurityLog, fam, rec)
		if err != nil {
			t.Fatalf("compose: %v", err)
		}
		wantKey := store.NewKeyBuilder("alert").End(ts)
		if !bytes.Equal(key, wantKey) {
			t.Fatalf("got key %x, want %x", key, wantKey)
		}
		kind, sensor, payload, err := DecodeSecurityLog(value)
		if err != nil {
			t.Fatalf("DecodeSecurityLog: %v", err)
		}
		if kind != "alert" || sensor != "sensor-a" || string(payload) != "detection" {
			t.Fatalf("got (%q, %q, %q), want (%q, %q, %q)", kind, sensor, payload, "alert", "sensor-a", "detection")
		}
	})

	t.Run("NetworkKind", func(t *testing.T) {
		d, s := openTestDispatcher(t, "sensor-a", "agent-a")
		fam, _ := s.Family(store.KindDNS)
		rec := RecordEvent{Timestamp: ts.UnixNano(), Body: []byte("dns payload")}

		key, value, err := d.compose(store.KindDNS, fam, rec)
		if err != nil {
			t.Fatalf("compose: %v", err)
		}
		wantKey := store.NewKeyBuilder("sensor-a").End(ts)
		if !bytes.Equal(key, wantKey) {
			t.Fatalf("got key %x, want %x", key, wantKey)
		}
		if string(value) != "dns payload" {
			t.Fatalf("got value %q, want %q", value, "dns payload")
		}
	})

	t.Run("UnsupportedKind", func(t *testing.T) {
		d, s := openTestDispatcher(t, "sensor-a", "agent-a")
		fam, _ := s.Family(store.KindDNS)
		if _, _, err := d.compose(store.Kind(9999), fam, RecordEvent{Timestamp: ts.UnixNano()}); err == nil {
			t.Fatal("expected an error composing a key for an undefined kind")
		}
	})
}

// TestPacketMultiRequestScoping is spec.md §8's end-to-end scenario 2: packets
// from distinct (sensor, request timestamp) pairs must scope independently
// under the Packet family's `sensor \0 request-ts \0 packet-ts` layout.
func TestPacketMultiRequestScoping(t *testing.T) {
	d, s := openTestDispatcher(t, "unused", "unused")
	fam, err := s.Family(store.KindPacket)
	if err != nil {
		t.Fatalf("Family: %v", err)
	}

	t1 := time.Unix(1000, 0)
	t2 := time.Unix(2000, 0)
	t3 := time.Unix(3000, 0)

	type packet struct {
		sensor    string
		requestTS time.Time
		packetTS  time.Time
	}
	packets := []packet{
		{"src 1", t1, t1}, {"src 1", t1, t2},
		{"src 2", t1, t1}, {"src 2", t1, t3},
		{"src 1", t2, t1}, {"src 1", t2, t3},
	}

	for _, p := range packets {
		d.sensor = p.sensor
		rec := RecordEvent{
			Timestamp: p.requestTS.UnixNano(),
			Body:      EncodePacket(p.packetTS.UnixNano(), []byte("payload")),
		}
		key, value, err := d.compose(store.KindPacket, fam, rec)
		if err != nil {
			t.Fatalf("compose: %v", err)
		}
		if err := fam.Append(key, value); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	scan := func(sensor string, requestTS time.Time) []int64 {
		from := store.NewKeyBuilder(sensor).MidBigEndian(uint64(requestTS.UnixNano())).LowerBound(nil)
		to := store.NewKeyBuilder(sensor).MidBigEndian(uint64(requestTS.UnixNano())).UpperBound(nil)

		var got []int64
		for key := range fam.RangeIter(from, to, store.Forward) {
			ts, ok := store.TrailingTimestamp(key)
			if !ok {
				t.Fatalf("expected a trailing timestamp in %x", key)
			}
			got = append(got, ts)
		}
		return got
	}

	assertSet := func(t *testing.T, got []int64, want ...time.Time) {
		t.Helper()
		if len(got) != len(want) {
			t.Fatalf("got %v, want %v", got, want)
		}
		seen := make(map[int64]bool, len(got))
		for _, ts := range got {
			seen[ts] = true
		}
		for _, w := range want {
			if !seen[w.UnixNano()] {
				t.Fatalf("expected packet_ts %v in result %v", w, got)
			}
		}
	}

	assertSet(t, scan("src 1", t1), t1, t2)
	assertSet(t, scan("src 2", t1), t1, t3)
	assertSet(t, scan("src 1", t2), t1, t3)
}

// TestGenericLogTrailingTimestampPagination is spec.md §8's end-to-end
// scenario 3: a generic-log event's trailing timestamp segment must survive
// compose()+Append() and be recoverable by the retention sweeper's
// TrailingTimestamp parser, letting a query layer page by it.
func TestGenericLogTrailingTimestampPagination(t *testing.T) {
	d, s := openTestDispatcher(t, "einsis", "agent-a")
	fam, err := s.Family(store.KindGenericLog)
	if err != nil {
		t.Fatalf("Family: %v", err)
	}

	ts := time.Unix(0, 1700000000000000000)
	rec := RecordEvent{Timestamp: ts.UnixNano(), Body: EncodeGenericLog("Hello", []byte("event body"))}
	key, value, err := d.compose(store.KindGenericLog, fam, rec)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if err := fam.Append(key, value); err != nil {
		t.Fatalf("Append: %v", err)
	}

	from := store.NewKeyBuilder("einsis").Mid("Hello").LowerBound(nil)
	to := store.NewKeyBuilder("einsis").Mid("Hello").UpperBound(nil)

	var results [][]byte
	for k := range fam.RangeIter(from, to, store.Forward) {
		results = append(results, append([]byte(nil), k...))
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly one result for (sensor=einsis, kind=Hello), got %d", len(results))
	}
	gotTS, ok := store.TrailingTimestamp(results[0])
	if !ok {
		t.Fatalf("expected a trailing timestamp in %x", results[0])
	}
	if gotTS != ts.UnixNano() {
		t.Fatalf("got trailing timestamp %d, want %d", gotTS, ts.UnixNano())
	}
}
