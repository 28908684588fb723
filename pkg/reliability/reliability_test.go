// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package reliability

import (
	"sync/atomic"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		AckTimeout:      5 * time.Millisecond,
		AckRandomFactor: 1.5,
		AckTimeoutScale: 2,
		MaxRetransmit:   2,
	}
}

func TestStartSendsFirstAttempt(t *testing.T) {
	var attempts atomic.Int32
	r := New(testConfig(), func(attempt int) error {
		attempts.Add(1)
		return nil
	}, nil)

	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if attempts.Load() != 1 {
		t.Errorf("attempts = %d, want 1", attempts.Load())
	}
	state, _ := r.Stats()
	if state != StateRetransmitting {
		t.Errorf("state = %v, want retransmitting", state)
	}
}

func TestAckStopsRetransmission(t *testing.T) {
	var attempts atomic.Int32
	r := New(testConfig(), func(attempt int) error {
		attempts.Add(1)
		return nil
	}, nil)
	r.Start()
	r.Ack()

	time.Sleep(30 * time.Millisecond)
	state, _ := r.Stats()
	if state != StateAcknowledged {
		t.Errorf("state = %v, want acknowledged", state)
	}
	if attempts.Load() != 1 {
		t.Errorf("attempts after Ack = %d, want 1 (no further retransmits)", attempts.Load())
	}
}

func TestTimeoutAfterMaxRetransmit(t *testing.T) {
	var attempts atomic.Int32
	timedOut := make(chan struct{})
	r := New(testConfig(), func(attempt int) error {
		attempts.Add(1)
		return nil
	}, func() {
		close(timedOut)
	})
	r.Start()

	select {
	case <-timedOut:
	case <-time.After(time.Second):
		t.Fatal("expected onTimeout to fire")
	}

	state, attemptCount := r.Stats()
	if state != StateTimedOut {
		t.Errorf("state = %v, want timed_out", state)
	}
	if attemptCount != 2 {
		t.Errorf("attempts = %d, want 2 (MaxRetransmit)", attemptCount)
	}
}

func TestCancelIsIdempotentAfterAck(t *testing.T) {
	r := New(testConfig(), func(attempt int) error { return nil }, nil)
	r.Start()
	r.Ack()
	r.Cancel()

	state, _ := r.Stats()
	if state != StateAcknowledged {
		t.Errorf("state = %v, want acknowledged (Cancel after Ack must be a no-op)", state)
	}
}

func TestOnStateChangeFires(t *testing.T) {
	changes := make(chan State, 4)
	r := New(testConfig(), func(attempt int) error { return nil }, nil)
	r.OnStateChange(func(from, to State) {
		changes <- to
	})
	r.Start()
	r.Ack()

	select {
	case to := <-changes:
		if to != StateRetransmitting {
			t.Errorf("first transition = %v, want retransmitting", to)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a state change notification")
	}
}
