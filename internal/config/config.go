// Copyright (C) 2026 tigestd Authors.
// All rights reserved. This file is part of tigestd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates the engine's JSON configuration
// document against an embedded JSON Schema, the same validate-before-use
// discipline the teacher codebase applies to its own config and job-meta
// documents.
package config

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*
var schemaFiles embed.FS

func loadSchema(s string) (io.ReadCloser, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	return schemaFiles.Open(u.Path)
}

func init() {
	jsonschema.Loaders["embedFS"] = loadSchema
}

// Config is the engine's top-level configuration document.
type Config struct {
	Addr         string `json:"addr"`
	PeerAddr     string `json:"peerAddr"`
	StoreDir     string `json:"storeDir"`
	PeerDocument string `json:"peerDocument"`

	CertFile     string `json:"certFile"`
	KeyFile      string `json:"keyFile"`
	ClientCAFile string `json:"clientCAFile"`

	Retention     string `json:"retention"`
	SweepSchedule string `json:"sweepSchedule"`

	NatsURL           string `json:"natsURL"`
	NatsSubjectPrefix string `json:"natsSubjectPrefix"`

	MetricsAddr string `json:"metricsAddr"`
	GopsAddr    string `json:"gopsAddr"`
}

// RetentionDuration parses Retention, defaulting to zero (disabled) when
// unset.
func (c *Config) RetentionDuration() (time.Duration, error) {
	if c.Retention == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Retention)
}

// defaultSweepSchedule is used when the configuration document leaves
// sweepSchedule empty: once an hour, on the hour.
const defaultSweepSchedule = "0 * * * *"

// SweepCron returns the cron expression the retention sweep should run on,
// per spec.md §4.2's "every sweep_interval (config-driven)", falling back to
// an hourly schedule when the document doesn't set one.
func (c *Config) SweepCron() string {
	if c.SweepSchedule == "" {
		return defaultSweepSchedule
	}
	return c.SweepSchedule
}

// Load reads, schema-validates, and decodes the configuration document at
// path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := validate(raw); err != nil {
		return nil, fmt.Errorf("config: %s failed schema validation: %w", path, err)
	}

	var c Config
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return &c, nil
}

func validate(raw json.RawMessage) error {
	sch, err := jsonschema.Compile("embedFS://schemas/engine.schema.json")
	if err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decoding instance: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("%#v", err)
	}
	return nil
}
