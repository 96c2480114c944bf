// Copyright (C) 2026 tigestd Authors.
// All rights reserved. This file is part of tigestd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package peermesh

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// PeerInfo identifies a sibling engine: its certificate-derived host name
// (used for duplicate-connection resolution) and its dial address.
type PeerInfo struct {
	Host string `toml:"host"`
	Addr string `toml:"addr"`
}

// peerDocument is the on-disk shape of the configuration document (spec.md
// §6): an editable TOML document containing the peer list. Other engine
// knobs live in the separate JSON configuration (internal/config); every
// write of this document rewrites it with the peer list only.
type peerDocument struct {
	Peers []PeerInfo `toml:"peer"`
}

// PeerSet is the in-memory peer set, guarded by a single read-write mutex
// per spec.md §5, plus its on-disk mirror. Peer-set persistence equals the
// in-memory set at every quiescent point (spec.md §3's invariant): every
// mutating method re-serializes and writes the whole set before returning.
type PeerSet struct {
	mu       sync.RWMutex
	peers    map[string]PeerInfo // keyed by Host
	document string              // path to the configuration document
}

// LoadPeerSet reads the configuration document at path and returns the
// PeerSet it describes. An absent document yields an empty PeerSet; no file
// is created until a later Add or Remove changes the set.
func LoadPeerSet(path string) (*PeerSet, error) {
	ps := &PeerSet{peers: make(map[string]PeerInfo), document: path}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ps, nil
		}
		return nil, fmt.Errorf("peermesh: reading configuration document %s: %w", path, err)
	}

	var doc peerDocument
	if _, err := toml.Decode(string(raw), &doc); err != nil {
		return nil, fmt.Errorf("peermesh: parsing configuration document %s: %w", path, err)
	}
	for _, p := range doc.Peers {
		ps.peers[p.Host] = p
	}
	return ps, nil
}

// Snapshot returns a copy of the current peer set.
func (ps *PeerSet) Snapshot() []PeerInfo {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make([]PeerInfo, 0, len(ps.peers))
	for _, p := range ps.peers {
		out = append(out, p)
	}
	return out
}

// Has reports whether host is already a known peer.
func (ps *PeerSet) Has(host string) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	_, ok := ps.peers[host]
	return ok
}

// Add inserts a peer if not already present, persists the updated set, and
// reports whether it was newly added. Per spec.md §9's open question, the
// document write is not transactional with the in-memory update: a crash
// between the two leaves the file briefly stale. We narrow that window with
// a write-then-rename swap via a temporary file in the same directory,
// which is as close to atomic as a plain filesystem gets without an
// external transaction log.
func (ps *PeerSet) Add(p PeerInfo) (added bool, err error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, ok := ps.peers[p.Host]; ok {
		return false, nil
	}
	ps.peers[p.Host] = p

	if err := ps.persistLocked(); err != nil {
		return true, err
	}
	return true, nil
}

// Remove deletes a peer (used for external configuration edits applied at
// runtime) and persists the updated set.
func (ps *PeerSet) Remove(host string) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, ok := ps.peers[host]; !ok {
		return nil
	}
	delete(ps.peers, host)
	return ps.persistLocked()
}

func (ps *PeerSet) persistLocked() error {
	doc := peerDocument{Peers: make([]PeerInfo, 0, len(ps.peers))}
	for _, p := range ps.peers {
		doc.Peers = append(doc.Peers, p)
	}

	dir := filepath.Dir(ps.document)
	tmp, err := os.CreateTemp(dir, ".peers-*.toml.tmp")
	if err != nil {
		return fmt.Errorf("peermesh: creating temp configuration file: %w", err)
	}
	tmpPath := tmp.Name()

	enc := toml.NewEncoder(tmp)
	if err := enc.Encode(doc); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("peermesh: encoding configuration document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("peermesh: closing temp configuration file: %w", err)
	}
	if err := os.Rename(tmpPath, ps.document); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("peermesh: swapping in configuration document: %w", err)
	}
	return nil
}
