// Copyright (C) 2026 tigestd Authors.
// All rights reserved. This file is part of tigestd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"

	"github.com/nhr-fau/tigestd/internal/ack"
	"github.com/nhr-fau/tigestd/internal/bus"
	"github.com/nhr-fau/tigestd/internal/metrics"
	"github.com/nhr-fau/tigestd/internal/store"
)

// dispatcher owns one sub-stream: it reads the record-kind header, then
// loop-reads record events, composing store keys per spec.md §3, writing
// them, publishing to the direct-stream bus, and feeding the ack
// controller. A sub-stream has exactly one writer goroutine, so within it
// store writes and acks are totally ordered, per spec.md §5.
type dispatcher struct {
	store  *store.Store
	bus    *bus.Bus
	sensor string
	agent  string
	connID uuid.UUID
}

// ackSender adapts a quic.Stream plus a column family into ack.Sender,
// serializing writes to the stream behind a mutex so the rotation and
// interval triggers never interleave on the wire, per spec.md §5.
type ackSender struct {
	mu     sync.Mutex
	stream quic.Stream
	family *store.Family
}

func (s *ackSender) SendAck(ts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := WriteAck(s.stream, ts); err != nil {
		return err
	}
	if ts == ack.Sentinel {
		metrics.AcksSent.WithLabelValues("sentinel").Inc()
	} else {
		metrics.AcksSent.WithLabelValues("rotation_or_interval").Inc()
	}
	return nil
}

func (s *ackSender) Flush() error {
	return s.family.Flush()
}

func (d *dispatcher) run(ctx context.Context, stream quic.Stream) error {
	code, err := ReadKindHeader(stream)
	if err != nil {
		return fmt.Errorf("reading kind header: %w", err)
	}
	kind := store.Kind(code)

	family, err := d.store.Family(kind)
	if err != nil {
		return fmt.Errorf("unsupported record kind %d: %w", code, err)
	}

	sender := &ackSender{stream: stream, family: family}
	controller := ack.New(sender)
	defer controller.Shutdown()

	protocol, _ := store.FamilyName(kind)

	for {
		select {
		case <-ctx.Done():
			return controller.Shutdown()
		default:
		}

		rec, err := ReadRecord(stream)
		if err != nil {
			return fmt.Errorf("reading record: %w", err)
		}

		if rec.IsSentinel() {
			if err := controller.Record(DoneTimestamp); err != nil {
				return fmt.Errorf("acking sentinel: %w", err)
			}
			continue
		}

		key, value, err := d.compose(kind, family, rec)
		if err != nil {
			// Deserialisation failures abort only this sub-stream; other
			// sub-streams of the same sensor are unaffected, per spec.md §7.
			return fmt.Errorf("composing key for kind %d: %w", code, err)
		}

		if err := family.Append(key, value); err != nil {
			return fmt.Errorf("storing record: %w", err)
		}
		metrics.RecordsIngested.WithLabelValues(protocol).Inc()

		d.bus.Publish(d.sensor, protocol, value)

		if err := controller.Record(rec.Timestamp); err != nil {
			return fmt.Errorf("acking record: %w", err)
		}
	}
}

// compose builds the store key and (possibly rewritten) value for one
// record event, dispatching on kind per the key-layout table in spec.md §3.
func (d *dispatcher) compose(kind store.Kind, family *store.Family, rec RecordEvent) (key, value []byte, err error) {
	ts := time.Unix(0, rec.Timestamp)

	switch kind {
	case store.KindGenericLog:
		logKind, payload, err := DecodeGenericLog(rec.Body)
		if err != nil {
			return nil, nil, err
		}
		envelope, err := encodeRecordEnvelope(rec.Timestamp, payload)
		if err != nil {
			return nil, nil, err
		}
		key := store.NewKeyBuilder(d.sensor).Mid(logKind).End(ts)
		return key, envelope, nil

	case store.KindPeriodicSeries:
		seriesID, err := seriesIDFromBody(rec.Body)
		if err != nil {
			return nil, nil, err
		}
		key := store.NewKeyBuilder(seriesID).End(ts)
		return key, rec.Body, nil

	case store.KindOperationalLog:
		agentAtSensor := fmt.Sprintf("%s@%s", d.agent, d.sensor)
		key := store.NewKeyBuilder(agentAtSensor).End(ts)
		return key, rec.Body, nil

	case store.KindPacket:
		// The frame's own timestamp is the request timestamp (the mid
		// segment); the packet timestamp carried inside the body is the
		// trailing segment. This mirrors the original implementation's
		// `key_builder.mid_key(timestamp).end_key(packet.packet_timestamp)`
		// (src/ingest.rs) — the frame ts is the request ts, not the body.
		packetTS, payload, err := DecodePacket(rec.Body)
		if err != nil {
			return nil, nil, err
		}
		kb := store.NewKeyBuilder(d.sensor)
		kb.MidBigEndian(uint64(rec.Timestamp))
		key := kb.EndNanos(packetTS)
		return key, payload, nil

	case store.KindStatistics:
		coreID, payload, err := DecodeStatistics(rec.Body)
		if err != nil {
			return nil, nil, err
		}
		envelope, err := encodeRecordEnvelope(rec.Timestamp, payload)
		if err != nil {
			return nil, nil, err
		}
		kb := store.NewKeyBuilder(d.sensor)
		kb.MidBigEndian(uint64(coreID))
		key := kb.End(ts)
		return key, envelope, nil

	case store.KindSecurityLog:
		rewritten, securityKind, err := RewriteSecurityLogSensor(rec.Body, d.sensor)
		if err != nil {
			return nil, nil, err
		}
		key := store.NewKeyBuilder(securityKind).End(ts)
		return key, rewritten, nil

	default:
		if !store.IsNetworkKind(kind) {
			return nil, nil, fmt.Errorf("ingest: kind %d has no defined key layout", kind)
		}
		key := store.NewKeyBuilder(d.sensor).End(ts)
		return key, rec.Body, nil
	}
}

