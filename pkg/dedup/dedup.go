// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package dedup implements the CoAP Mark-and-Sweep deduplicator: a
// (peer, message-id) cache of the last ACK/response sent, evicted on a
// ticker, following the same ticker-driven cleanup shape as the
// rate limiter and health checker.
package dedup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/edgecoap/coap/pkg/message"
)

// Key identifies one inbound confirmable/non-confirmable message.
type Key struct {
	Peer string
	MID  uint16
}

type entry struct {
	cached    *message.Message
	insertedAt time.Time
}

// Dedup suppresses duplicate inbound CON/NON messages by caching the
// response or ACK already sent for a given (peer, message-id).
type Dedup struct {
	mu       sync.Mutex
	entries  map[Key]*entry
	lifetime time.Duration
	logger   *slog.Logger
}

// New creates a Dedup whose entries are evicted once they are older
// than lifetime (normally exchangeLifetime). Call Run to start the
// periodic sweep.
func New(lifetime time.Duration, logger *slog.Logger) *Dedup {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dedup{
		entries:  make(map[Key]*entry),
		lifetime: lifetime,
		logger:   logger,
	}
}

// Check looks up (peer, mid). If an entry exists and is still within
// lifetime, the cached message is returned with duplicate=true and the
// caller must resend it instead of delivering to the matcher.
func (d *Dedup) Check(peer string, mid uint16) (cached *message.Message, duplicate bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[Key{Peer: peer, MID: mid}]
	if !ok {
		return nil, false
	}
	if time.Since(e.insertedAt) > d.lifetime {
		return nil, false
	}
	return e.cached, true
}

// Store records the response or ACK sent for (peer, mid) so a later
// duplicate of the same message can be answered without redelivery.
func (d *Dedup) Store(peer string, mid uint16, cached *message.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[Key{Peer: peer, MID: mid}] = &entry{cached: cached, insertedAt: time.Now()}
}

// Run sweeps expired entries every markAndSweepInterval until ctx is
// cancelled, mirroring SessionManager.Cleanup's ticker loop.
func (d *Dedup) Run(ctx context.Context, markAndSweepInterval time.Duration) {
	ticker := time.NewTicker(markAndSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweep()
		}
	}
}

func (d *Dedup) sweep() {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	var evicted int
	for k, e := range d.entries {
		if now.Sub(e.insertedAt) > d.lifetime {
			delete(d.entries, k)
			evicted++
		}
	}
	if evicted > 0 {
		d.logger.Debug("dedup sweep evicted entries", slog.Int("count", evicted))
	}
}

// Count returns the number of cached entries, mainly for tests.
func (d *Dedup) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
