// Copyright (C) 2026 tigestd Authors.
// All rights reserved. This file is part of tigestd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ingest implements the sensor-facing half of the engine: the
// mutually-authenticated transport (transport.go), per-sub-stream record
// dispatch and key composition (dispatcher.go), and the small wire-level
// helpers the two share (frame.go, envelope.go).
//
// Sensors connect over QUIC: one mTLS connection per sensor, one bidirectional
// stream per record kind within that connection. QUIC's native multiplexed,
// ordered, reliable streams are exactly the "datagram-based reliable
// transport" with per-kind sub-streams spec.md §6 describes, so the engine
// asks nothing more of the wire than what quic-go already gives it.
package ingest

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	"golang.org/x/sync/errgroup"

	"github.com/nhr-fau/tigestd/internal/bus"
	"github.com/nhr-fau/tigestd/internal/cclog"
	"github.com/nhr-fau/tigestd/internal/roster"
	"github.com/nhr-fau/tigestd/internal/store"
)

// MinVersion and MaxVersion bound the sensor protocol versions this engine
// accepts, per spec.md §6 (`>=0.15.0,<0.16.0`).
const (
	MinVersion = "0.15.0"
	MaxVersion = "0.16.0" // exclusive upper bound
)

// replayToken is the substring that, when present anywhere in a connecting
// agent's name, classifies the connection as a replay (see the Open
// Question preserved from spec.md §9: this is a deliberate substring test,
// not an exact-token match).
const replayToken = "reproduce"

// settleDelay is the fixed pause before closing a connection during
// shutdown, per spec.md §5.
const settleDelay = 250 * time.Millisecond

// Engine wires the ingest transport to the store, sensor roster, and
// direct-stream bus. There is no package-level singleton: every dependency
// is a constructor parameter, per spec.md §9.
type Engine struct {
	Store  *store.Store
	Roster *roster.Roster
	Bus    *bus.Bus

	listener *quic.Listener
}

// NewEngine constructs an Engine. Callers must call Serve to begin accepting
// sensor connections.
func NewEngine(st *store.Store, r *roster.Roster, b *bus.Bus) *Engine {
	return &Engine{Store: st, Roster: r, Bus: b}
}

// tlsConfigForSensors builds the mutual-TLS listener configuration. Loading
// the actual certificate/CA material is transport configuration glue and is
// explicitly out of this CORE's scope (spec.md §1); callers pass in an
// already-populated tls.Config and this function only asserts the one
// property the spec requires of it: client certificates must be verified.
func tlsConfigForSensors(base *tls.Config) *tls.Config {
	cfg := base.Clone()
	cfg.ClientAuth = tls.RequireAndVerifyClientCert
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{"tigest-ingest"}
	}
	return cfg
}

// Serve accepts sensor connections on addr until ctx is cancelled. Each
// connection runs in its own goroutine, per spec.md §5.
func (e *Engine) Serve(ctx context.Context, addr string, tlsConf *tls.Config, quicConf *quic.Config) error {
	ln, err := quic.ListenAddr(addr, tlsConfigForSensors(tlsConf), quicConf)
	if err != nil {
		return fmt.Errorf("ingest: listen on %s: %w", addr, err)
	}
	e.listener = ln
	cclog.Infof("ingest: listening for sensors on %s", addr)

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			cclog.Warnf("ingest: accept failed: %v", err)
			continue
		}
		go e.handleConnection(ctx, conn)
	}
}

// Close stops accepting new sensor connections.
func (e *Engine) Close() error {
	if e.listener == nil {
		return nil
	}
	return e.listener.Close()
}

func (e *Engine) handleConnection(ctx context.Context, conn quic.Connection) {
	connID := uuid.New()
	log := func(format string, v ...interface{}) {
		cclog.Infof("ingest[%s]: "+format, append([]interface{}{connID}, v...)...)
	}

	agent, sensor, err := deriveIdentity(conn)
	if err != nil {
		log("identity derivation failed: %v", err)
		conn.CloseWithError(0, "bad certificate")
		return
	}

	if err := e.handshake(ctx, conn); err != nil {
		log("version handshake failed: %v", err)
		conn.CloseWithError(1, err.Error())
		return
	}

	replay := strings.Contains(agent, replayToken)
	now := time.Now()
	if err := e.Roster.Connected(sensor, now, replay); err != nil {
		log("roster connect failed: %v", err)
	}
	log("sensor %q (agent %q, replay=%v) connected", sensor, agent, replay)

	defer func() {
		if err := e.Roster.Disconnected(sensor, time.Now(), replay); err != nil {
			log("roster disconnect failed: %v", err)
		}
		log("sensor %q disconnected", sensor)
	}()

	group, gctx := errgroup.WithContext(ctx)
	for {
		stream, err := conn.AcceptStream(gctx)
		if err != nil {
			break
		}
		group.Go(func() error {
			d := &dispatcher{
				store:  e.Store,
				bus:    e.Bus,
				sensor: sensor,
				agent:  agent,
				connID: connID,
			}
			if err := d.run(gctx, stream); err != nil {
				log("sub-stream dispatch ended: %v", err)
			}
			return nil
		})
	}
	_ = group.Wait()

	select {
	case <-ctx.Done():
		time.Sleep(settleDelay)
		conn.CloseWithError(0, "")
	default:
	}
}

// handshake performs the version exchange: the sensor sends its version as
// a length-prefixed UTF-8 string on a dedicated control stream, and the
// engine accepts or closes with the offending version string as the
// close-reason, per spec.md §7.
func (e *Engine) handshake(ctx context.Context, conn quic.Connection) error {
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return fmt.Errorf("accepting handshake stream: %w", err)
	}
	defer stream.Close()

	var lenBuf [2]byte
	if _, err := readFull(stream, lenBuf[:]); err != nil {
		return fmt.Errorf("reading version length: %w", err)
	}
	n := int(lenBuf[0])<<8 | int(lenBuf[1])
	verBuf := make([]byte, n)
	if _, err := readFull(stream, verBuf); err != nil {
		return fmt.Errorf("reading version: %w", err)
	}
	version := string(verBuf)

	if !versionAccepted(version, MinVersion, MaxVersion) {
		return fmt.Errorf("%s", version)
	}

	_, err = stream.Write([]byte{1})
	return err
}

func readFull(s quic.Stream, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := s.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// versionAccepted implements the half-open semver range check
// `>=min,<max` used by the sensor version handshake.
func versionAccepted(version, min, max string) bool {
	return compareSemver(version, min) >= 0 && compareSemver(version, max) < 0
}

func compareSemver(a, b string) int {
	pa, pb := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < 3; i++ {
		va, vb := part(pa, i), part(pb, i)
		if va != vb {
			if va < vb {
				return -1
			}
			return 1
		}
	}
	return 0
}

func part(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	n := 0
	for _, c := range parts[i] {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// deriveIdentity reads the agent and sensor names out of the peer
// certificate's subject, per spec.md §6: the sensor identifier is the
// certificate's canonical name (CN); the agent name is drawn from the same
// certificate and classified for the "reproduce" replay token by the
// caller.
func deriveIdentity(conn quic.Connection) (agent, sensor string, err error) {
	state := conn.ConnectionState().TLS
	if len(state.PeerCertificates) == 0 {
		return "", "", fmt.Errorf("ingest: no peer certificate presented")
	}
	cert := state.PeerCertificates[0]
	cn := cert.Subject.CommonName
	if cn == "" {
		return "", "", fmt.Errorf("ingest: peer certificate has no CommonName")
	}

	// Convention: a sensor's CN is either "sensor" (agent == sensor) or
	// "agent@sensor", matching the Operational Log key layout's own
	// "agent@sensor" segment.
	if at := strings.IndexByte(cn, '@'); at >= 0 {
		return cn[:at], cn[at+1:], nil
	}
	return cn, cn, nil
}
