// Copyright (C) 2026 tigestd Authors.
// All rights reserved. This file is part of tigestd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ingest

import (
	"fmt"
	"sync"

	"github.com/linkedin/goavro/v2"
)

// recordEnvelopeSchema wraps a raw record body with its original
// timestamp before the store keeps it as an opaque value, the same
// checkpoint-before-opaque-bytes discipline the teacher applies to its own
// metric checkpoints, grounded on linkedin/goavro/v2 rather than hand-rolled
// framing.
const recordEnvelopeSchema = `{
	"type": "record",
	"name": "RecordEnvelope",
	"fields": [
		{"name": "timestamp", "type": "long"},
		{"name": "payload", "type": "bytes"}
	]
}`

var (
	envelopeCodecOnce sync.Once
	envelopeCodec     *goavro.Codec
	envelopeCodecErr  error
)

func getEnvelopeCodec() (*goavro.Codec, error) {
	envelopeCodecOnce.Do(func() {
		envelopeCodec, envelopeCodecErr = goavro.NewCodec(recordEnvelopeSchema)
	})
	return envelopeCodec, envelopeCodecErr
}

// encodeRecordEnvelope Avro-encodes (timestamp, payload) as the store's
// value for Generic Log and Statistics families, per SPEC_FULL.md's domain
// stack: these two families get a stable schema'd encoding rather than raw
// passthrough bytes.
func encodeRecordEnvelope(ts int64, payload []byte) ([]byte, error) {
	codec, err := getEnvelopeCodec()
	if err != nil {
		return nil, fmt.Errorf("ingest: compiling record envelope schema: %w", err)
	}
	native := map[string]interface{}{
		"timestamp": ts,
		"payload":   payload,
	}
	return codec.BinaryFromNative(nil, native)
}

// decodeRecordEnvelope is the inverse of encodeRecordEnvelope.
func decodeRecordEnvelope(blob []byte) (ts int64, payload []byte, err error) {
	codec, err := getEnvelopeCodec()
	if err != nil {
		return 0, nil, fmt.Errorf("ingest: compiling record envelope schema: %w", err)
	}
	native, _, err := codec.NativeFromBinary(blob)
	if err != nil {
		return 0, nil, fmt.Errorf("ingest: decoding record envelope: %w", err)
	}
	rec, ok := native.(map[string]interface{})
	if !ok {
		return 0, nil, fmt.Errorf("ingest: record envelope decoded to unexpected type %T", native)
	}
	ts, _ = rec["timestamp"].(int64)
	payload, _ = rec["payload"].([]byte)
	return ts, payload, nil
}
