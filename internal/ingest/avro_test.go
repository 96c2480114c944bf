// Copyright (C) 2026 tigestd Authors.
// All rights reserved. This file is part of tigestd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ingest

import "testing"

func TestRecordEnvelopeRoundTrip(t *testing.T) {
	blob, err := encodeRecordEnvelope(1700000000000000000, []byte("generic log payload"))
	if err != nil {
		t.Fatalf("encodeRecordEnvelope: %v", err)
	}

	ts, payload, err := decodeRecordEnvelope(blob)
	if err != nil {
		t.Fatalf("decodeRecordEnvelope: %v", err)
	}
	if ts != 1700000000000000000 || string(payload) != "generic log payload" {
		t.Fatalf("got (%d, %q), want (%d, %q)", ts, payload, 1700000000000000000, "generic log payload")
	}
}

func TestRecordEnvelopeRoundTripEmptyPayload(t *testing.T) {
	blob, err := encodeRecordEnvelope(0, nil)
	if err != nil {
		t.Fatalf("encodeRecordEnvelope: %v", err)
	}

	ts, payload, err := decodeRecordEnvelope(blob)
	if err != nil {
		t.Fatalf("decodeRecordEnvelope: %v", err)
	}
	if ts != 0 || len(payload) != 0 {
		t.Fatalf("got (%d, %q), want (0, \"\")", ts, payload)
	}
}
