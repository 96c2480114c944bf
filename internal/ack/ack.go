// Copyright (C) 2026 tigestd Authors.
// All rights reserved. This file is part of tigestd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ack implements the cumulative-ack state machine described in
// spec.md §4.4: a small (count, last_ts, interval_deadline) machine with two
// triggers (after 1024 writes, or after 60s idle with a pending write) that
// emits an 8-byte big-endian "all records with timestamp <= T are durable"
// frame on its Sender.
package ack

import (
	"sync"
	"sync/atomic"
	"time"
)

// RotationCount is the number of writes after which the rotation trigger
// fires.
const RotationCount = 1024

// IdleInterval is how long the interval trigger waits after the last ack
// before firing, provided at least one record is unacked.
const IdleInterval = 60 * time.Second

// Sentinel is the timestamp value of the "channel done" record, which
// forces an immediate ack without affecting the rotation counter.
const Sentinel int64 = -1

// Sender is the narrow interface the controller needs from the transport:
// write an 8-byte big-endian ack timestamp, and flush the column family the
// stream is writing into. Its own send-stream handle must serialize
// concurrent writers (spec.md §5): rotation-trigger and interval-trigger
// emissions must never interleave on the wire.
type Sender interface {
	SendAck(ts int64) error
	Flush() error
}

// Controller is one sub-stream's ack state machine. It is not safe for
// concurrent Record calls from multiple goroutines (a sub-stream has exactly
// one writer, per spec.md §5's ordering guarantee), but Shutdown may be
// called concurrently with Record.
type Controller struct {
	sender Sender

	count   atomic.Int64
	lastTS  atomic.Int64
	mu      sync.Mutex // guards sender I/O so rotation and interval never interleave
	timer   *time.Timer
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// New constructs a Controller for one sub-stream, writing acks through
// sender. The interval timer starts immediately; it is reset on every
// rotation-trigger ack.
func New(sender Sender) *Controller {
	c := &Controller{
		sender: sender,
		timer:  time.NewTimer(IdleInterval),
		done:   make(chan struct{}),
	}
	go c.intervalLoop()
	return c
}

func (c *Controller) intervalLoop() {
	for {
		select {
		case <-c.timer.C:
			if c.count.Load() > 0 {
				ts := c.lastTS.Load()
				c.mu.Lock()
				err := c.sender.SendAck(ts)
				c.mu.Unlock()
				if err == nil {
					c.count.Store(0)
				}
			}
			c.timer.Reset(IdleInterval)
		case <-c.done:
			return
		}
	}
}

// Record processes one incoming record's timestamp. The sentinel value
// (-1, the "channel done" marker) forces an immediate ack without touching
// the rotation counter. Otherwise the record counts toward the rotation
// trigger: on the 1024th write since the last rotation ack, an ack of ts is
// emitted, the counter resets, and the family is flushed.
func (c *Controller) Record(ts int64) error {
	if ts == Sentinel {
		c.mu.Lock()
		err := c.sender.SendAck(Sentinel)
		c.mu.Unlock()
		return err
	}

	c.lastTS.Store(ts)
	n := c.count.Add(1)
	if n < RotationCount {
		return nil
	}

	c.mu.Lock()
	err := c.sender.SendAck(ts)
	if err == nil {
		err = c.sender.Flush()
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.count.Store(0)
	c.resetInterval()
	return nil
}

func (c *Controller) resetInterval() {
	if !c.timer.Stop() {
		select {
		case <-c.timer.C:
		default:
		}
	}
	c.timer.Reset(IdleInterval)
}

// Shutdown stops the interval goroutine and performs the final flush
// required by spec.md §5's shutdown sequence. It is idempotent.
func (c *Controller) Shutdown() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	c.timer.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sender.Flush()
}
