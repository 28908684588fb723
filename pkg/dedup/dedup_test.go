// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/edgecoap/coap/pkg/message"
)

func TestCheckStoreRoundTrip(t *testing.T) {
	d := New(time.Minute, nil)

	if _, dup := d.Check("peer1", 1); dup {
		t.Fatal("expected no entry before Store")
	}

	resp := message.New(message.ACK, message.Content, 1, nil)
	d.Store("peer1", 1, resp)

	cached, dup := d.Check("peer1", 1)
	if !dup {
		t.Fatal("expected a duplicate hit after Store")
	}
	if cached != resp {
		t.Error("expected the cached message to be the same one that was stored")
	}
}

func TestCheckExpiresAfterLifetime(t *testing.T) {
	d := New(time.Millisecond, nil)
	d.Store("peer1", 1, message.New(message.ACK, message.Content, 1, nil))
	time.Sleep(5 * time.Millisecond)

	if _, dup := d.Check("peer1", 1); dup {
		t.Error("expected the entry to have expired")
	}
}

func TestRunSweepsExpiredEntries(t *testing.T) {
	d := New(time.Millisecond, nil)
	d.Store("peer1", 1, message.New(message.ACK, message.Content, 1, nil))

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx, time.Millisecond)
	defer cancel()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if d.Count() == 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Error("expected the sweep to evict the expired entry")
}
