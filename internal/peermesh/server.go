// Copyright (C) 2026 tigestd Authors.
// All rights reserved. This file is part of tigestd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package peermesh

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/quic-go/quic-go"

	"github.com/nhr-fau/tigestd/internal/cclog"
	"github.com/nhr-fau/tigestd/internal/metrics"
)

// Serve accepts sibling-engine connections on addr until ctx is cancelled.
// Each accepted connection is resolved against Mesh's existing connection
// set by remote host name before the initial exchange begins, per spec.md
// §4.6: at most one surviving connection per peer pair.
func (m *Mesh) Serve(ctx context.Context, addr string, tlsConf *tls.Config, quicConf *quic.Config) error {
	cfg := tlsConf.Clone()
	cfg.ClientAuth = tls.RequireAndVerifyClientCert
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{"tigest-mesh"}
	}

	ln, err := quic.ListenAddr(addr, cfg, quicConf)
	if err != nil {
		return fmt.Errorf("peermesh: listen on %s: %w", addr, err)
	}
	m.listener = ln
	cclog.Infof("peermesh: listening for peers on %s", addr)

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			cclog.Warnf("peermesh: accept failed: %v", err)
			continue
		}
		go m.acceptConnection(ctx, conn)
	}
}

func (m *Mesh) acceptConnection(ctx context.Context, conn quic.Connection) {
	host, err := remoteHost(conn)
	if err != nil {
		cclog.Warnf("peermesh: rejecting connection, no usable peer certificate: %v", err)
		conn.CloseWithError(0, "bad certificate")
		return
	}

	if !m.claimConnection(host, conn) {
		cclog.Infof("peermesh: closing duplicate connection from %q", host)
		metrics.DuplicateConnectionsRejected.Inc()
		conn.CloseWithError(2, "exist connection close")
		return
	}
	defer m.releaseConnection(host)

	// Server reads the peer's opening exchange first, then sends its own, so
	// that two simultaneously-dialing peers don't deadlock waiting on each
	// other's write, per spec.md §4.6.
	if err := m.serverExchange(ctx, conn); err != nil {
		cclog.Warnf("peermesh: exchange with %q failed: %v", host, err)
		conn.CloseWithError(1, err.Error())
		return
	}

	m.runSession(ctx, host, conn)
}

func (m *Mesh) serverExchange(ctx context.Context, conn quic.Connection) error {
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return fmt.Errorf("accepting exchange stream: %w", err)
	}
	defer stream.Close()

	// Server reads the peer's opening (peer-set, sensor-roster) pair first,
	// folding it into our own state, then sends our own pair, per spec.md
	// §4.6's deadlock-avoiding ordering.
	_, payload, err := ReadMessage(stream)
	if err != nil {
		return fmt.Errorf("reading peer's opening peer-set: %w", err)
	}
	peers, err := DecodePeerSet(payload)
	if err != nil {
		return fmt.Errorf("decoding peer's opening peer-set: %w", err)
	}
	m.learnPeers(peers)

	_, payload, err = ReadMessage(stream)
	if err != nil {
		return fmt.Errorf("reading peer's opening sensor roster: %w", err)
	}
	sensors, err := DecodeSourceList(payload)
	if err != nil {
		return fmt.Errorf("decoding peer's opening sensor roster: %w", err)
	}
	m.learnSensors(sensors)

	if err := WriteMessage(stream, CodeUpdatePeerList, EncodePeerSet(m.peers.Snapshot())); err != nil {
		return fmt.Errorf("sending peer-set: %w", err)
	}
	if err := WriteMessage(stream, CodeUpdateSourceList, EncodeSourceList(m.sensors())); err != nil {
		return fmt.Errorf("sending sensor roster: %w", err)
	}
	return nil
}

func remoteHost(conn quic.Connection) (string, error) {
	state := conn.ConnectionState().TLS
	if len(state.PeerCertificates) == 0 {
		return "", fmt.Errorf("peermesh: no peer certificate presented")
	}
	cn := state.PeerCertificates[0].Subject.CommonName
	if cn == "" {
		return "", fmt.Errorf("peermesh: peer certificate has no CommonName")
	}
	return cn, nil
}
