// Copyright (C) 2026 tigestd Authors.
// All rights reserved. This file is part of tigestd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/gops/agent"
	"github.com/nats-io/nats.go"

	"github.com/nhr-fau/tigestd/internal/bus"
	"github.com/nhr-fau/tigestd/internal/cclog"
	"github.com/nhr-fau/tigestd/internal/config"
	"github.com/nhr-fau/tigestd/internal/ingest"
	"github.com/nhr-fau/tigestd/internal/metrics"
	"github.com/nhr-fau/tigestd/internal/peermesh"
	"github.com/nhr-fau/tigestd/internal/roster"
	"github.com/nhr-fau/tigestd/internal/store"
)

func main() {
	var flagConfigFile string
	var flagGops bool
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Engine configuration `file`")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.Parse()

	cfg, err := config.Load(flagConfigFile)
	if err != nil {
		cclog.Abortf("loading configuration: %s", err.Error())
	}

	if flagGops || cfg.GopsAddr != "" {
		if err := agent.Listen(agent.Options{Addr: cfg.GopsAddr}); err != nil {
			cclog.Abortf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	retention, err := cfg.RetentionDuration()
	if err != nil {
		cclog.Abortf("parsing retention duration: %s", err.Error())
	}

	st, err := store.Open(cfg.StoreDir)
	if err != nil {
		cclog.Abortf("opening store at %s: %s", cfg.StoreDir, err.Error())
	}
	defer st.Close()

	var mirror bus.Mirror
	if cfg.NatsURL != "" {
		nc, err := nats.Connect(cfg.NatsURL)
		if err != nil {
			cclog.Abortf("connecting to nats at %s: %s", cfg.NatsURL, err.Error())
		}
		defer nc.Close()
		mirror = &natsMirror{conn: nc, prefix: cfg.NatsSubjectPrefix}
	}
	directBus := bus.New(mirror)

	peers, err := peermesh.LoadPeerSet(cfg.PeerDocument)
	if err != nil {
		cclog.Abortf("loading peer document %s: %s", cfg.PeerDocument, err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	peerTLS, err := loadMeshTLS(cfg)
	if err != nil {
		cclog.Abortf("loading peer-mesh TLS material: %s", err.Error())
	}
	mesh := peermesh.NewMesh(peers, peerTLS, nil, cfg.PeerAddr)

	sensorRoster := roster.New(st.Sources(), mesh)
	defer sensorRoster.Close()

	engine := ingest.NewEngine(st, sensorRoster, directBus)

	sensorTLS, err := loadSensorTLS(cfg)
	if err != nil {
		cclog.Abortf("loading sensor TLS material: %s", err.Error())
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := engine.Serve(ctx, cfg.Addr, sensorTLS, nil); err != nil {
			cclog.Errorf("ingest engine stopped: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mesh.Serve(ctx, cfg.PeerAddr, peerTLS, nil); err != nil {
			cclog.Errorf("peer mesh stopped: %v", err)
		}
	}()
	mesh.Start(ctx)

	if cfg.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				cclog.Errorf("metrics server stopped: %v", err)
			}
		}()
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		cclog.Abortf("creating scheduler: %s", err.Error())
	}

	if retention > 0 {
		sweeper := store.NewSweeper(st, retention)
		if _, err := sched.NewJob(
			gocron.CronJob(cfg.SweepCron(), false),
			gocron.NewTask(func() { sweeper.Run(ctx) }),
		); err != nil {
			cclog.Abortf("registering retention sweep job: %s", err.Error())
		}
	}

	// The roster-refresh lifecycle (spec.md §3: "refreshed every 24h") is
	// independent of retention being enabled, so it is registered
	// unconditionally.
	if _, err := sched.NewJob(
		gocron.DurationJob(roster.RefreshInterval),
		gocron.NewTask(func() { sensorRoster.RefreshAll(time.Now()) }),
	); err != nil {
		cclog.Abortf("registering roster refresh job: %s", err.Error())
	}

	sched.Start()
	defer sched.Shutdown()

	cclog.Infof("tigestd running: sensors on %s, peers on %s", cfg.Addr, cfg.PeerAddr)

	<-sigs
	cclog.Info("shutdown signal received, stopping")
	cancel()
	_ = engine.Close()
	_ = mesh.Close()
	wg.Wait()
	cclog.Info("graceful shutdown complete")
}

// natsMirror adapts a *nats.Conn to bus.Mirror.
type natsMirror struct {
	conn   *nats.Conn
	prefix string
}

func (m *natsMirror) Publish(subject string, data []byte) error {
	return m.conn.Publish(m.prefix+subject, data)
}

func loadSensorTLS(cfg *config.Config) (*tls.Config, error) {
	return loadMTLS(cfg.CertFile, cfg.KeyFile, cfg.ClientCAFile)
}

func loadMeshTLS(cfg *config.Config) (*tls.Config, error) {
	return loadMTLS(cfg.CertFile, cfg.KeyFile, cfg.ClientCAFile)
}

func loadMTLS(certFile, keyFile, caFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("loading key pair: %w", err)
	}

	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("reading client CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates parsed from %s", caFile)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS13,
	}, nil
}
