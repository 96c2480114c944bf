// Copyright (C) 2026 tigestd Authors.
// All rights reserved. This file is part of tigestd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package roster tracks which sensors are currently connected and when each
// sensor was last seen, per spec.md §4.5. It is constructed with an explicit
// store handle (no package-level singleton, per spec.md §9) and notifies an
// injected listener on every non-replay Connected/Disconnected transition so the peer
// mesh can gossip roster changes without this package knowing peers exist.
package roster

import (
	"sync"
	"time"

	"github.com/nhr-fau/tigestd/internal/cclog"
	"github.com/nhr-fau/tigestd/internal/metrics"
	"github.com/nhr-fau/tigestd/internal/store"
)

// Event is a roster transition delivered to a Listener.
type Event struct {
	Sensor    string
	Timestamp time.Time
	Replay    bool
	Connected bool // false means Disconnected
}

// Listener is notified of roster transitions. The peer mesh implements this
// to trigger UpdateSourceList gossip; tests can use a channel-backed stub.
type Listener interface {
	RosterChanged(Event)
}

// eventQueueDepth bounds the roster's internal event channel. A full
// channel logs an error but never blocks ingest, per spec.md §5.
const eventQueueDepth = 100

// RefreshInterval is the period at which every live sensor's last-seen
// timestamp is refreshed in the persistent store, per spec.md §3.
const RefreshInterval = 24 * time.Hour

// Roster is the live sensor map plus last-seen bookkeeping.
type Roster struct {
	mu   sync.RWMutex
	live map[string]bool // sensor -> true if currently connected, non-replay

	sources  *store.Family
	listener Listener

	events chan Event
}

// New constructs a Roster backed by the sources column family and notifying
// listener of every transition. listener may be nil in tests that don't care
// about gossip.
func New(sources *store.Family, listener Listener) *Roster {
	r := &Roster{
		live:     make(map[string]bool),
		sources:  sources,
		listener: listener,
		events:   make(chan Event, eventQueueDepth),
	}
	go r.drainEvents()
	return r
}

func (r *Roster) drainEvents() {
	for ev := range r.events {
		if r.listener != nil {
			r.listener.RosterChanged(ev)
		}
	}
}

func (r *Roster) enqueue(ev Event) {
	select {
	case r.events <- ev:
	default:
		cclog.Errorf("roster: event channel full, dropping %+v", ev)
	}
}

// Connected records a sensor connecting. Non-replay connects are added to
// the live map (observable immediately on return, per the spec's
// "Sensor-roster invariant") and trigger gossip; the persistent last-seen
// entry is updated regardless of replay status.
func (r *Roster) Connected(sensor string, ts time.Time, replay bool) error {
	if !replay {
		r.mu.Lock()
		r.live[sensor] = true
		r.mu.Unlock()
		metrics.LiveSensors.Set(float64(len(r.LiveSensors())))
	}

	if err := r.touch(sensor, ts); err != nil {
		return err
	}

	if !replay {
		r.enqueue(Event{Sensor: sensor, Timestamp: ts, Replay: replay, Connected: true})
	}
	return nil
}

// Disconnected records a sensor disconnecting. Non-replay disconnects are
// removed from the live map and trigger gossip; the persistent last-seen
// entry is updated regardless of replay status.
func (r *Roster) Disconnected(sensor string, ts time.Time, replay bool) error {
	if !replay {
		r.mu.Lock()
		delete(r.live, sensor)
		r.mu.Unlock()
		metrics.LiveSensors.Set(float64(len(r.LiveSensors())))
	}

	if err := r.touch(sensor, ts); err != nil {
		return err
	}

	if !replay {
		r.enqueue(Event{Sensor: sensor, Timestamp: ts, Replay: replay, Connected: false})
	}
	return nil
}

func (r *Roster) touch(sensor string, ts time.Time) error {
	var b [8]byte
	putBigEndian(b[:], uint64(ts.UnixNano()))
	return r.sources.Append([]byte(sensor), b[:])
}

func putBigEndian(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// IsLive reports whether sensor is currently in the live, non-replay roster.
func (r *Roster) IsLive(sensor string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.live[sensor]
}

// LiveSensors returns a snapshot of the live roster's sensor names.
func (r *Roster) LiveSensors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.live))
	for s := range r.live {
		out = append(out, s)
	}
	return out
}

// RefreshAll re-touches every sensor currently in the live roster with the
// given timestamp, implementing the 24h refresh lifecycle rule in spec.md
// §3. Called from a gocron job in cmd/tigestd.
func (r *Roster) RefreshAll(ts time.Time) {
	for _, sensor := range r.LiveSensors() {
		if err := r.touch(sensor, ts); err != nil {
			cclog.Errorf("roster: refreshing %q: %v", sensor, err)
		}
	}
}

// Close stops the internal event-draining goroutine. Call once, after all
// producers (ingest transport) have stopped.
func (r *Roster) Close() {
	close(r.events)
}
