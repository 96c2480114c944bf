// Copyright (C) 2026 tigestd Authors.
// All rights reserved. This file is part of tigestd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package roster

import (
	"sync"
	"testing"
	"time"

	"github.com/nhr-fau/tigestd/internal/store"
)

type recordingListener struct {
	mu     sync.Mutex
	events []Event
}

func (l *recordingListener) RosterChanged(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *recordingListener) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func openTestSources(t *testing.T) *store.Family {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s.Sources()
}

func TestConnectedMakesSensorLive(t *testing.T) {
	r := New(openTestSources(t), nil)
	defer r.Close()

	if r.IsLive("node-1") {
		t.Fatal("expected node-1 to not be live before Connected")
	}
	if err := r.Connected("node-1", time.Now(), false); err != nil {
		t.Fatalf("Connected: %v", err)
	}
	if !r.IsLive("node-1") {
		t.Fatal("expected node-1 to be live after Connected")
	}
}

func TestDisconnectedRemovesFromLiveRoster(t *testing.T) {
	r := New(openTestSources(t), nil)
	defer r.Close()

	now := time.Now()
	if err := r.Connected("node-1", now, false); err != nil {
		t.Fatal(err)
	}
	if err := r.Disconnected("node-1", now.Add(time.Second), false); err != nil {
		t.Fatal(err)
	}
	if r.IsLive("node-1") {
		t.Fatal("expected node-1 to no longer be live")
	}
}

func TestReplayConnectionsDoNotAffectLiveRoster(t *testing.T) {
	r := New(openTestSources(t), nil)
	defer r.Close()

	if err := r.Connected("node-1", time.Now(), true); err != nil {
		t.Fatal(err)
	}
	if r.IsLive("node-1") {
		t.Fatal("a replay connection must not appear in the live roster")
	}
}

func TestListenerNotifiedOnlyForNonReplayTransitions(t *testing.T) {
	listener := &recordingListener{}
	r := New(openTestSources(t), listener)
	defer r.Close()

	if err := r.Connected("node-1", time.Now(), true); err != nil {
		t.Fatal(err)
	}
	if err := r.Connected("node-2", time.Now(), false); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(listener.snapshot()) > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	events := listener.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected exactly one event (non-replay only), got %d: %+v", len(events), events)
	}
	if events[0].Sensor != "node-2" || !events[0].Connected {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}
