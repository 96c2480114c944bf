// Copyright (C) 2026 tigestd Authors.
// All rights reserved. This file is part of tigestd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFamilyAppendGetDelete(t *testing.T) {
	s := openTestStore(t)
	fam, err := s.Family(KindConnection)
	if err != nil {
		t.Fatalf("Family: %v", err)
	}

	key := NewKeyBuilder("sensor-a").End(time.Unix(1, 0))
	if err := fam.Append(key, []byte("payload")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, ok, err := fam.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || string(got) != "payload" {
		t.Fatalf("expected (payload, true), got (%q, %v)", got, ok)
	}

	if err := fam.Delete(key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, ok, err = fam.Get(key)
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if ok {
		t.Fatal("expected key to be gone after Delete")
	}
}

func TestFamiliesAreIndependentKeyspaces(t *testing.T) {
	s := openTestStore(t)
	a, _ := s.Family(KindConnection)
	b, _ := s.Family(KindOperationalLog)

	key := NewKeyBuilder("same-key").End(time.Unix(1, 0))
	if err := a.Append(key, []byte("from-a")); err != nil {
		t.Fatal(err)
	}

	if _, ok, _ := b.Get(key); ok {
		t.Fatal("expected KindOperationalLog family to not see KindConnection's write")
	}
}

func TestEmptyScanYieldsNothing(t *testing.T) {
	s := openTestStore(t)
	fam, _ := s.Family(KindConnection)

	from := NewKeyBuilder("sensor-a").LowerBound(nil)
	to := NewKeyBuilder("sensor-a").UpperBound(nil)

	count := 0
	for range fam.RangeIter(from, to, Forward) {
		count++
	}
	if count != 0 {
		t.Fatalf("expected 0 results from an empty family, got %d", count)
	}
}

func TestRangeIterRespectsHalfOpenBounds(t *testing.T) {
	s := openTestStore(t)
	fam, _ := s.Family(KindConnection)

	times := []int64{10, 20, 30, 40}
	for _, sec := range times {
		key := NewKeyBuilder("sensor-a").End(time.Unix(sec, 0))
		if err := fam.Append(key, []byte("v")); err != nil {
			t.Fatal(err)
		}
	}

	lower := time.Unix(20, 0)
	upper := time.Unix(40, 0)
	from := NewKeyBuilder("sensor-a").LowerBound(&lower)
	to := NewKeyBuilder("sensor-a").UpperBound(&upper)

	var seen []int64
	for key := range fam.RangeIter(from, to, Forward) {
		ts, ok := TrailingTimestamp(key)
		if !ok {
			t.Fatalf("expected a trailing timestamp in %x", key)
		}
		seen = append(seen, ts/int64(time.Second))
	}

	want := []int64{20, 30}
	if len(seen) != len(want) {
		t.Fatalf("got %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("got %v, want %v", seen, want)
		}
	}
}

func TestSourcesAllKeys(t *testing.T) {
	s := openTestStore(t)
	sources := s.Sources()

	for _, sensor := range []string{"node-1", "node-2"} {
		if err := sources.Append([]byte(sensor), []byte{0, 0, 0, 0, 0, 0, 0, 1}); err != nil {
			t.Fatal(err)
		}
	}

	keys, err := sources.AllKeys()
	if err != nil {
		t.Fatalf("AllKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 sensors, got %d", len(keys))
	}
}
