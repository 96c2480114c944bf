// Copyright (C) 2026 tigestd Authors.
// All rights reserved. This file is part of tigestd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package bus implements the in-process direct-stream fan-out described in
// spec.md §4.3: after a successful store write, the dispatcher publishes the
// raw record bytes to any subscriber registered under (sensor, protocol) or
// (all, protocol). Delivery is best-effort — a record that a full subscriber
// cannot take is dropped for that subscriber rather than allowed to slow down
// ingest; a subscriber is removed only by its unsubscribe function.
package bus

import (
	"sync"

	"github.com/nhr-fau/tigestd/internal/cclog"
)

// AllSensors is the wildcard sensor key subscribers use to receive a
// protocol's records regardless of which sensor produced them.
const AllSensors = "all"

// Key identifies a subscription: a sensor name (or AllSensors) paired with a
// protocol name.
type Key struct {
	Sensor   string
	Protocol string
}

// subscriberBuffer is the default bound on how many undelivered records a
// slow subscriber may accumulate; while its buffer is full, further records
// for it are dropped, and it stays subscribed.
const subscriberBuffer = 64

// Bus is the direct-stream subscriber registry. Safe for concurrent use.
type Bus struct {
	mu   sync.RWMutex
	subs map[Key]map[int]chan []byte
	next int

	mirror Mirror // optional external fan-out, e.g. NATS
}

// Mirror is an optional external sink that receives every published record
// alongside the in-process subscribers, e.g. a NATS subject per spec_full's
// domain-stack wiring. It is never required for correctness of the direct-
// stream bus itself.
type Mirror interface {
	Publish(subject string, data []byte) error
}

// New constructs an empty Bus. mirror may be nil.
func New(mirror Mirror) *Bus {
	return &Bus{
		subs:   make(map[Key]map[int]chan []byte),
		mirror: mirror,
	}
}

// Subscribe registers ch to receive records published under key. It returns
// an unsubscribe function the caller must call when done.
func (b *Bus) Subscribe(key Key, buffered int) (<-chan []byte, func()) {
	if buffered <= 0 {
		buffered = subscriberBuffer
	}
	ch := make(chan []byte, buffered)

	b.mu.Lock()
	id := b.next
	b.next++
	if b.subs[key] == nil {
		b.subs[key] = make(map[int]chan []byte)
	}
	b.subs[key][id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if m, ok := b.subs[key]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(b.subs, key)
			}
		}
	}
	return ch, unsubscribe
}

// Publish delivers data to every subscriber registered under (sensor,
// protocol) and (AllSensors, protocol). Happens-after the store write of the
// same record, per spec.md §5's ordering guarantee; callers are expected to
// publish only once that write has completed.
func (b *Bus) Publish(sensor, protocol string, data []byte) {
	b.deliver(Key{Sensor: sensor, Protocol: protocol}, data)
	if sensor != AllSensors {
		b.deliver(Key{Sensor: AllSensors, Protocol: protocol}, data)
	}

	if b.mirror != nil {
		if err := b.mirror.Publish(sensor+"."+protocol, data); err != nil {
			cclog.Warnf("bus: mirror publish failed for %s.%s: %v", sensor, protocol, err)
		}
	}
}

func (b *Bus) deliver(key Key, data []byte) {
	b.mu.RLock()
	subs := b.subs[key]
	chans := make([]chan []byte, 0, len(subs))
	for _, ch := range subs {
		chans = append(chans, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chans {
		select {
		case ch <- data:
		default:
			// A full channel behaves as "closed" for delivery purposes: the
			// record is dropped rather than blocking the ingest path.
		}
	}
}
