// Copyright (C) 2026 tigestd Authors.
// All rights reserved. This file is part of tigestd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package peermesh

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/nhr-fau/tigestd/internal/cclog"
	"github.com/nhr-fau/tigestd/internal/metrics"
)

// dialRetryInterval is the fixed backoff between dial attempts to a peer
// that is reachable in principle but transiently unavailable, per spec.md
// §4.6.
const dialRetryInterval = 5 * time.Second

// dial connects to peer and keeps the session alive until ctx is cancelled
// or a non-transient error occurs, at which point it gives up on that peer.
// The peer stays in the peer set and keeps being gossiped, but learnPeers
// dials only peers it newly adds, so a later peer-set update naming it does
// not dial it again.
func (m *Mesh) dial(ctx context.Context, p PeerInfo, tlsConf *tls.Config, quicConf *quic.Config) {
	cfg := tlsConf.Clone()
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{"tigest-mesh"}
	}

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := quic.DialAddr(ctx, p.Addr, cfg, quicConf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !isTransientDialErr(err) {
				cclog.Warnf("peermesh: abandoning dial to %q (%s): %v", p.Host, p.Addr, err)
				return
			}
			cclog.Infof("peermesh: dial to %q failed, retrying in %s: %v", p.Host, dialRetryInterval, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(dialRetryInterval):
			}
			continue
		}

		if !m.claimConnection(p.Host, conn) {
			cclog.Infof("peermesh: already connected to %q, dropping outbound dial", p.Host)
			metrics.DuplicateConnectionsRejected.Inc()
			conn.CloseWithError(2, "exist connection close")
			return
		}

		if err := m.clientExchange(ctx, conn); err != nil {
			m.releaseConnection(p.Host)
			cclog.Warnf("peermesh: exchange with %q failed: %v", p.Host, err)
			conn.CloseWithError(1, err.Error())
			select {
			case <-ctx.Done():
				return
			case <-time.After(dialRetryInterval):
			}
			continue
		}

		m.runSession(ctx, p.Host, conn)
		m.releaseConnection(p.Host)

		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(dialRetryInterval):
		}
	}
}

func (m *Mesh) clientExchange(ctx context.Context, conn quic.Connection) error {
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("opening exchange stream: %w", err)
	}
	defer stream.Close()

	// Client sends its own (peer-set, sensor-roster) pair first, then reads
	// the peer's reply pair, the mirror image of serverExchange, per
	// spec.md §4.6.
	if err := WriteMessage(stream, CodeUpdatePeerList, EncodePeerSet(m.peers.Snapshot())); err != nil {
		return fmt.Errorf("sending peer-set: %w", err)
	}
	if err := WriteMessage(stream, CodeUpdateSourceList, EncodeSourceList(m.sensors())); err != nil {
		return fmt.Errorf("sending sensor roster: %w", err)
	}

	_, payload, err := ReadMessage(stream)
	if err != nil {
		return fmt.Errorf("reading peer's peer-set: %w", err)
	}
	peers, err := DecodePeerSet(payload)
	if err != nil {
		return fmt.Errorf("decoding peer's peer-set: %w", err)
	}
	m.learnPeers(peers)

	_, payload, err = ReadMessage(stream)
	if err != nil {
		return fmt.Errorf("reading peer's sensor roster: %w", err)
	}
	sensors, err := DecodeSourceList(payload)
	if err != nil {
		return fmt.Errorf("decoding peer's sensor roster: %w", err)
	}
	m.learnSensors(sensors)
	return nil
}

// isTransientDialErr reports whether err is worth retrying: a connection
// that was closed, reset, or timed out rather than a permanent
// configuration problem (bad certificate, unresolvable address), per
// spec.md §4.6's retry policy.
func isTransientDialErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) {
		return true
	}
	var idleErr *quic.IdleTimeoutError
	if errors.As(err, &idleErr) {
		return true
	}
	var resetErr *quic.StreamError
	if errors.As(err, &resetErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
