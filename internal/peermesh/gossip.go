// Copyright (C) 2026 tigestd Authors.
// All rights reserved. This file is part of tigestd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package peermesh

import (
	"context"
	"crypto/tls"
	"net"
	"sync"

	"github.com/quic-go/quic-go"

	"github.com/nhr-fau/tigestd/internal/cclog"
	"github.com/nhr-fau/tigestd/internal/metrics"
	"github.com/nhr-fau/tigestd/internal/roster"
)

// Mesh coordinates the server and client roles of the peer protocol: the
// live peer set, the active connection table used for duplicate-connection
// resolution, and the local sensor roster it gossips to siblings. There is
// no package-level singleton; every Mesh is explicitly constructed and
// wired by its caller, per spec.md §9.
type Mesh struct {
	peers *PeerSet

	mu       sync.Mutex
	active   map[string]quic.Connection
	live     map[string]bool // sensor names known to this engine or learned from peers
	tlsConf  *tls.Config
	quicCfg  *quic.Config
	selfHost string // this engine's own listen IP, excluded from gossiped peers

	listener *quic.Listener
}

// NewMesh constructs a Mesh from a previously loaded PeerSet. selfAddr is this
// engine's own peer-listen address (host:port); a gossiped peer whose address
// resolves to the same host is never dialled, per spec.md §4.6's "excluding
// any with this host's own IP".
func NewMesh(peers *PeerSet, tlsConf *tls.Config, quicCfg *quic.Config, selfAddr string) *Mesh {
	return &Mesh{
		peers:    peers,
		active:   make(map[string]quic.Connection),
		live:     make(map[string]bool),
		tlsConf:  tlsConf,
		quicCfg:  quicCfg,
		selfHost: hostOf(selfAddr),
	}
}

// hostOf extracts the host portion of an addr (host:port), tolerating a bare
// host with no port.
func hostOf(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// Start dials every currently known peer; those dials stop when ctx is
// cancelled. Peers learned later via gossip are dialled by learnPeers under
// context.Background(), so cancelling ctx does not stop those dials.
func (m *Mesh) Start(ctx context.Context) {
	for _, p := range m.peers.Snapshot() {
		go m.dial(ctx, p, m.tlsConf, m.quicCfg)
	}
}

// Close stops accepting new peer connections.
func (m *Mesh) Close() error {
	if m.listener == nil {
		return nil
	}
	return m.listener.Close()
}

// claimConnection registers host as actively connected, resolving
// simultaneous connect races by rejecting the second connection to reach
// here, per spec.md §4.6.
func (m *Mesh) claimConnection(host string, conn quic.Connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.active[host]; exists {
		return false
	}
	m.active[host] = conn
	return true
}

func (m *Mesh) releaseConnection(host string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, host)
}

func (m *Mesh) sensors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.live))
	for s := range m.live {
		out = append(out, s)
	}
	return out
}

// runSession keeps a peer connection open for gossip messages until it
// closes or ctx is cancelled.
func (m *Mesh) runSession(ctx context.Context, host string, conn quic.Connection) {
	defer conn.CloseWithError(0, "")
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go m.handleGossipStream(host, stream)
	}
}

func (m *Mesh) handleGossipStream(host string, stream quic.Stream) {
	defer stream.Close()
	code, payload, err := ReadMessage(stream)
	if err != nil {
		cclog.Warnf("peermesh: reading gossip message from %q: %v", host, err)
		return
	}

	switch code {
	case CodeUpdatePeerList:
		peers, err := DecodePeerSet(payload)
		if err != nil {
			cclog.Warnf("peermesh: decoding peer-list gossip from %q: %v", host, err)
			return
		}
		metrics.PeerGossipEvents.WithLabelValues("peer_list").Inc()
		m.learnPeers(peers)
	case CodeUpdateSourceList:
		sensors, err := DecodeSourceList(payload)
		if err != nil {
			cclog.Warnf("peermesh: decoding source-list gossip from %q: %v", host, err)
			return
		}
		metrics.PeerGossipEvents.WithLabelValues("source_list").Inc()
		m.learnSensors(sensors)
	default:
		cclog.Warnf("peermesh: unknown gossip message code %d from %q", code, host)
	}
}

// learnPeers folds a peer set learned from a sibling into our own,
// persisting newly discovered peers and kicking off a dial to each, per
// spec.md §4.6's transitive-gossip requirement.
func (m *Mesh) learnPeers(peers []PeerInfo) {
	for _, p := range peers {
		if m.selfHost != "" && hostOf(p.Addr) == m.selfHost {
			continue
		}
		added, err := m.peers.Add(p)
		if err != nil {
			// The in-memory set is already updated; only the document write
			// failed, so the new peer is still dialled and broadcast.
			cclog.Errorf("peermesh: persisting learned peer %q: %v", p.Host, err)
		}
		if added {
			cclog.Infof("peermesh: learned new peer %q (%s)", p.Host, p.Addr)
			go m.dial(context.Background(), p, m.tlsConf, m.quicCfg)
			m.broadcastPeerList()
		}
	}
}

func (m *Mesh) learnSensors(sensors []string) {
	m.mu.Lock()
	changed := false
	for _, s := range sensors {
		if !m.live[s] {
			m.live[s] = true
			changed = true
		}
	}
	m.mu.Unlock()
	if changed {
		m.broadcastSourceList()
	}
}

// RosterChanged implements roster.Listener: a local sensor connect/disconnect
// event is folded into the gossiped roster and broadcast to every connected
// peer, per spec.md §4.6.
func (m *Mesh) RosterChanged(ev roster.Event) {
	m.mu.Lock()
	if ev.Connected {
		m.live[ev.Sensor] = true
	} else {
		delete(m.live, ev.Sensor)
	}
	m.mu.Unlock()
	m.broadcastSourceList()
}

func (m *Mesh) broadcastPeerList() {
	m.broadcast(CodeUpdatePeerList, EncodePeerSet(m.peers.Snapshot()))
}

func (m *Mesh) broadcastSourceList() {
	m.broadcast(CodeUpdateSourceList, EncodeSourceList(m.sensors()))
}

func (m *Mesh) broadcast(code uint32, payload []byte) {
	m.mu.Lock()
	conns := make([]quic.Connection, 0, len(m.active))
	for _, c := range m.active {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		conn := c
		go func() {
			stream, err := conn.OpenStreamSync(context.Background())
			if err != nil {
				return
			}
			defer stream.Close()
			if err := WriteMessage(stream, code, payload); err != nil {
				cclog.Warnf("peermesh: gossip broadcast failed: %v", err)
			}
		}()
	}
}
