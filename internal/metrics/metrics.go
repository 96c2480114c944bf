// Copyright (C) 2026 tigestd Authors.
// All rights reserved. This file is part of tigestd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics exposes the engine's own operational counters via
// Prometheus, using the same client_golang module the teacher codebase
// imports for its Prometheus data-source integration, here wired the other
// way round: as an exporter rather than a query client.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RecordsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tigestd",
		Name:      "records_ingested_total",
		Help:      "Records appended to the store, by record kind.",
	}, []string{"kind"})

	AcksSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tigestd",
		Name:      "acks_sent_total",
		Help:      "Cumulative acknowledgements sent, by trigger.",
	}, []string{"trigger"}) // "sentinel", or "rotation_or_interval" (the two share one label)

	SweeperDeletions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tigestd",
		Name:      "sweeper_deletions_total",
		Help:      "Keys removed by the retention sweeper, by column family.",
	}, []string{"family"})

	PeerGossipEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tigestd",
		Name:      "peer_gossip_events_total",
		Help:      "Peer-mesh gossip messages processed, by message kind.",
	}, []string{"kind"})

	DuplicateConnectionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tigestd",
		Name:      "peer_duplicate_connections_rejected_total",
		Help:      "Peer connections closed because a connection to the same host already existed.",
	})

	LiveSensors = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tigestd",
		Name:      "live_sensors",
		Help:      "Sensors currently connected to this engine.",
	})
)

// Serve exposes the default Prometheus registry over HTTP at addr until ctx
// is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics: serving %s: %w", addr, err)
		}
		return nil
	}
}
