// Copyright (C) 2026 tigestd Authors.
// All rights reserved. This file is part of tigestd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package peermesh

import (
	"bytes"
	"testing"
)

func TestPeerSetRoundTrip(t *testing.T) {
	peers := []PeerInfo{
		{Host: "b", Addr: "10.0.0.2:9000"},
		{Host: "a", Addr: "10.0.0.1:9000"},
	}

	encoded := EncodePeerSet(peers)
	decoded, err := DecodePeerSet(encoded)
	if err != nil {
		t.Fatalf("DecodePeerSet: %v", err)
	}
	if len(decoded) != 2 || decoded[0].Host != "a" || decoded[1].Host != "b" {
		t.Fatalf("expected peers sorted by host, got %+v", decoded)
	}
}

func TestEncodePeerSetIsDeterministic(t *testing.T) {
	peers1 := []PeerInfo{{Host: "b", Addr: "x"}, {Host: "a", Addr: "y"}}
	peers2 := []PeerInfo{{Host: "a", Addr: "y"}, {Host: "b", Addr: "x"}}

	if !bytes.Equal(EncodePeerSet(peers1), EncodePeerSet(peers2)) {
		t.Fatal("expected encoding to be independent of input order")
	}
}

func TestSourceListRoundTrip(t *testing.T) {
	sensors := []string{"node-2", "node-1"}
	encoded := EncodeSourceList(sensors)
	decoded, err := DecodeSourceList(encoded)
	if err != nil {
		t.Fatalf("DecodeSourceList: %v", err)
	}
	if len(decoded) != 2 || decoded[0] != "node-1" || decoded[1] != "node-2" {
		t.Fatalf("expected sorted sensors, got %v", decoded)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := EncodeSourceList([]string{"a", "b"})

	if err := WriteMessage(&buf, CodeUpdateSourceList, payload); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	code, got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if code != CodeUpdateSourceList {
		t.Fatalf("got code %d, want %d", code, CodeUpdateSourceList)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got payload %x, want %x", got, payload)
	}
}

func TestDecodePeerSetRejectsTruncatedPayload(t *testing.T) {
	if _, err := DecodePeerSet([]byte{0, 0}); err == nil {
		t.Fatal("expected an error decoding a truncated peer-set payload")
	}
}
