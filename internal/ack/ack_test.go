// Copyright (C) 2026 tigestd Authors.
// All rights reserved. This file is part of tigestd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ack

import (
	"sync"
	"testing"
)

type fakeSender struct {
	mu      sync.Mutex
	acked   []int64
	flushes int
}

func (f *fakeSender) SendAck(ts int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ts)
	return nil
}

func (f *fakeSender) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return nil
}

func (f *fakeSender) snapshot() ([]int64, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.acked...), f.flushes
}

func TestRotationTrigger(t *testing.T) {
	sender := &fakeSender{}
	c := New(sender)
	defer c.Shutdown()

	for i := int64(1); i < RotationCount; i++ {
		if err := c.Record(i); err != nil {
			t.Fatalf("Record(%d): %v", i, err)
		}
	}
	if acked, _ := sender.snapshot(); len(acked) != 0 {
		t.Fatalf("expected no ack before rotation count, got %v", acked)
	}

	if err := c.Record(RotationCount); err != nil {
		t.Fatalf("Record(%d): %v", RotationCount, err)
	}
	acked, flushes := sender.snapshot()
	if len(acked) != 1 || acked[0] != RotationCount {
		t.Fatalf("expected single ack of %d, got %v", RotationCount, acked)
	}
	if flushes != 1 {
		t.Fatalf("expected one flush on rotation, got %d", flushes)
	}
}

func TestSentinelDoesNotAffectCounter(t *testing.T) {
	sender := &fakeSender{}
	c := New(sender)
	defer c.Shutdown()

	if err := c.Record(100); err != nil {
		t.Fatal(err)
	}
	if err := c.Record(Sentinel); err != nil {
		t.Fatal(err)
	}

	acked, _ := sender.snapshot()
	if len(acked) != 1 || acked[0] != Sentinel {
		t.Fatalf("expected a single sentinel ack, got %v", acked)
	}

	// The rotation counter must be untouched by the sentinel: it should
	// still take RotationCount-1 more records to trigger rotation.
	for i := int64(0); i < RotationCount-2; i++ {
		if err := c.Record(200 + i); err != nil {
			t.Fatal(err)
		}
	}
	acked, _ = sender.snapshot()
	if len(acked) != 1 {
		t.Fatalf("expected rotation to not have fired yet, got %v", acked)
	}
	if err := c.Record(9999); err != nil {
		t.Fatal(err)
	}
	acked, _ = sender.snapshot()
	if len(acked) != 2 {
		t.Fatalf("expected rotation to fire on the %dth non-sentinel record, got %v", RotationCount, acked)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	c := New(&fakeSender{})
	if err := c.Shutdown(); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := c.Shutdown(); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
