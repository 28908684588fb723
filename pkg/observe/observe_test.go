// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"errors"
	"testing"
	"time"

	"github.com/edgecoap/coap/pkg/message"
)

func notification(seq uint32) *message.Message {
	m := message.New(message.NON, message.Content, 1, []byte{0x01})
	m.Options.Add(message.NewUintOption(message.Observe, seq))
	return m
}

func TestDeliverAcceptsIncreasingSequence(t *testing.T) {
	r := New([]byte{0x01}, "coap://example.org/temp", Config{}, nil, nil)

	if !r.Deliver(notification(1)) {
		t.Fatal("expected the first notification to be accepted")
	}
	if !r.Deliver(notification(2)) {
		t.Fatal("expected a strictly increasing sequence number to be accepted")
	}
}

func TestDeliverRejectsStaleSequence(t *testing.T) {
	r := New([]byte{0x01}, "coap://example.org/temp", Config{}, nil, nil)
	r.Deliver(notification(5))
	if r.Deliver(notification(3)) {
		t.Error("expected a lower sequence number to be rejected as stale")
	}
}

func TestDeliverEndsRelationWithoutObserveOption(t *testing.T) {
	r := New([]byte{0x01}, "coap://example.org/temp", Config{}, nil, nil)
	plain := message.New(message.ACK, message.Content, 1, []byte{0x01})
	if r.Deliver(plain) {
		t.Error("expected a response without Observe to be rejected")
	}
	select {
	case _, open := <-r.Notifications():
		if open {
			t.Error("expected the notifications channel to be closed")
		}
	default:
		t.Error("expected the notifications channel to report closed")
	}
}

func TestReregistersAfterQuietCount(t *testing.T) {
	reregistered := make(chan struct{}, 1)
	r := New([]byte{0x01}, "coap://example.org/temp", Config{
		NotificationCheckIntervalCount:     2,
		NotificationReregistrationBackoff: time.Millisecond,
	}, func() error {
		reregistered <- struct{}{}
		return nil
	}, nil)

	r.Deliver(notification(1))
	r.Tick()
	r.Tick()

	select {
	case <-reregistered:
	case <-time.After(time.Second):
		t.Fatal("expected a reregistration after the feed went quiet")
	}
}

func TestCancelStopsReregistration(t *testing.T) {
	called := false
	r := New([]byte{0x01}, "coap://example.org/temp", Config{
		NotificationCheckIntervalCount:     1,
		NotificationReregistrationBackoff: 5 * time.Millisecond,
	}, func() error {
		called = true
		return errors.New("should never run")
	}, nil)

	r.Deliver(notification(1))
	r.Tick()
	r.Cancel()

	time.Sleep(20 * time.Millisecond)
	if called {
		t.Error("expected Cancel to suppress a pending reregistration")
	}
}

func TestManagerAddRemove(t *testing.T) {
	m := NewManager(Config{}, nil)
	r := New([]byte{0x01}, "coap://example.org/temp", Config{}, nil, nil)
	m.Add("key", r)
	m.Remove("key")
}
