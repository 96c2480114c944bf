// Copyright (C) 2026 tigestd Authors.
// All rights reserved. This file is part of tigestd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"time"

	"github.com/nhr-fau/tigestd/internal/cclog"
	"github.com/nhr-fau/tigestd/internal/metrics"
)

// epochGraceSeconds is the lower bound used when range-deleting network/
// packet/host column families: the delete range starts at epoch+61s rather
// than the true epoch, which avoids composing a degenerate all-zero key.
// Records in those families timestamped earlier than epoch+61s are
// therefore never removed by the sweeper.
const epochGraceSeconds = 61

// Sweeper periodically deletes records older than its retention policy. It
// holds no mutable state beyond its retention period and list of range-
// deleted kinds, both fixed by NewSweeper, so a single Sweeper can be shared
// across however many scheduled invocations gocron makes.
type Sweeper struct {
	store          *Store
	retentionNanos int64
	networkKinds   []Kind
}

// NewSweeper builds a Sweeper for the given store and retention period.
func NewSweeper(s *Store, retention time.Duration) *Sweeper {
	kinds := make([]Kind, 0, len(familyNames))
	for k := range familyNames {
		if IsNetworkKind(k) || k == KindPacket || k == KindSysmon {
			kinds = append(kinds, k)
		}
	}
	return &Sweeper{
		store:          s,
		retentionNanos: int64(retention),
		networkKinds:   kinds,
	}
}

// Run performs one sweep across every known sensor. Per-key/per-range
// failures are logged and do not abort the sweep; a single sensor or family
// failing never prevents the rest from being swept, per spec.md §4.2.
func (sw *Sweeper) Run(ctx context.Context) {
	now := time.Now().UnixNano()
	cutoff := now - sw.retentionNanos

	sensors, err := sw.listSensors()
	if err != nil {
		cclog.Errorf("retention: listing sensors: %v", err)
		return
	}

	for _, sensor := range sensors {
		select {
		case <-ctx.Done():
			return
		default:
		}

		for _, k := range sw.networkKinds {
			if err := sw.sweepNetworkFamily(k, sensor, cutoff); err != nil {
				cclog.Errorf("retention: sweeping %v for sensor %q: %v", k, sensor, err)
			}
		}

		if err := sw.sweepGenericLog(sensor, cutoff); err != nil {
			cclog.Errorf("retention: sweeping generic log for sensor %q: %v", sensor, err)
		}
	}
}

// listSensors reads the sensor roster family, which is always small (one
// entry per sensor ever seen), to discover which sensors to sweep.
func (sw *Sweeper) listSensors() ([]string, error) {
	keys, err := sw.store.Sources().AllKeys()
	if err != nil {
		return nil, err
	}
	sensors := make([]string, 0, len(keys))
	for _, k := range keys {
		sensors = append(sensors, string(k))
	}
	return sensors, nil
}

// sweepNetworkFamily issues the range-delete described in spec.md §4.2 for
// any family whose key layout is `sensor \0 ts` (or begins that way, as
// Packet's `sensor \0 req_ts \0 pkt_ts` does — a fixed sensor prefix is all
// this delete needs).
func (sw *Sweeper) sweepNetworkFamily(k Kind, sensor string, cutoff int64) error {
	fam, err := sw.store.Family(k)
	if err != nil {
		return err
	}

	lowerTime := time.Unix(epochGraceSeconds, 0)
	upperTime := time.Unix(0, cutoff)
	from := NewKeyBuilder(sensor).LowerBound(&lowerTime)
	to := NewKeyBuilder(sensor).UpperBound(&upperTime)

	var toDelete [][]byte
	for key := range fam.RangeIter(from, to, Forward) {
		toDelete = append(toDelete, append([]byte(nil), key...))
	}

	name, _ := FamilyName(k)
	for _, key := range toDelete {
		if err := fam.Delete(key); err != nil {
			cclog.Errorf("retention: deleting %x from %v: %v", key, k, err)
			continue
		}
		metrics.SweeperDeletions.WithLabelValues(name).Inc()
	}
	return nil
}

// sweepGenericLog handles the one family whose keys carry a log-kind
// segment between sensor and timestamp (`sensor \0 log-kind \0 ts`), which
// means a single range-delete cannot target it: the middle segment varies
// per log-kind and isn't known in advance. Instead we prefix-scan by sensor
// alone and parse the trailing 8 bytes of each key.
func (sw *Sweeper) sweepGenericLog(sensor string, cutoff int64) error {
	fam, err := sw.store.Family(KindGenericLog)
	if err != nil {
		return err
	}

	prefix := NewKeyBuilder(sensor).Prefix()
	upper := append(append([]byte(nil), prefix...), upperSentinel)

	var toDelete [][]byte
	for key := range fam.RangeIter(prefix, upper, Forward) {
		ts, ok := TrailingTimestamp(key)
		if !ok {
			continue
		}
		if ts < cutoff {
			toDelete = append(toDelete, append([]byte(nil), key...))
		}
	}

	for _, key := range toDelete {
		if err := fam.Delete(key); err != nil {
			cclog.Errorf("retention: deleting generic log key %x: %v", key, err)
			continue
		}
		metrics.SweeperDeletions.WithLabelValues("generic_log").Inc()
	}
	return nil
}
