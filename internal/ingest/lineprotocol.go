// Copyright (C) 2026 tigestd Authors.
// All rights reserved. This file is part of tigestd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ingest

import (
	"fmt"

	"github.com/influxdata/line-protocol/v2/lineprotocol"
)

// seriesIDFromBody extracts the series-id key segment (spec.md §3's
// "Periodic time series" layout) from a record body carried as a single
// InfluxDB line-protocol line, the same wire format the teacher codebase
// uses for its own metric ingestion. The measurement name is the series id;
// the whole body (unparsed) is stored as the value, since the store never
// introspects values beyond what key composition needs.
func seriesIDFromBody(body []byte) (string, error) {
	dec := lineprotocol.NewDecoderWithBytes(body)
	if !dec.Next() {
		if err := dec.Err(); err != nil {
			return "", fmt.Errorf("ingest: decoding periodic series line: %w", err)
		}
		return "", fmt.Errorf("ingest: periodic series body has no line-protocol line")
	}
	measurement, err := dec.Measurement()
	if err != nil {
		return "", fmt.Errorf("ingest: reading series measurement: %w", err)
	}
	if len(measurement) == 0 {
		return "", fmt.Errorf("ingest: empty series measurement")
	}
	return string(measurement), nil
}
